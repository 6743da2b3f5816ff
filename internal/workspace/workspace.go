// Package workspace manages pooled git clones, handing callers a ready
// working copy bound to one exclusively-held directory.
package workspace

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/mergewell/backport-bot/internal/dirpool"
	"github.com/mergewell/backport-bot/internal/git"
	"github.com/mergewell/backport-bot/internal/scm"
)

// Manager checks out a repository clone, runs fn against it, and returns the
// directory to the pool when fn completes.
type Manager interface {
	WithWorkspace(ctx context.Context, sess scm.Session, owner, repo string, fn func(git.Service) error) error
	Clean(expiration time.Duration)
}

// CloneManager is the pool-backed Manager. Clones are reused across calls;
// the pool guarantees no two callers share a working copy at once.
type CloneManager struct {
	pool *dirpool.Pool
	log  *slog.Logger

	// newGit builds the git service for a working directory. Overridable so
	// tests can substitute a fake.
	newGit func(host, token, dir string) git.Service
}

// NewCloneManager returns a CloneManager drawing directories from pool.
func NewCloneManager(pool *dirpool.Pool, log *slog.Logger) *CloneManager {
	return &CloneManager{
		pool: pool,
		log:  log,
		newGit: func(host, token, dir string) git.Service {
			return git.NewRunner(host, token, dir)
		},
	}
}

var _ Manager = (*CloneManager)(nil)

func (m *CloneManager) WithWorkspace(ctx context.Context, sess scm.Session, owner, repo string, fn func(git.Service) error) error {
	held := m.pool.Take(sess.Host(), owner, repo)
	defer held.Release()

	g, err := m.prepareClone(ctx, sess, owner, repo, held.Dir())
	if err != nil {
		return err
	}

	return fn(g)
}

// Clean removes stale unused clone directories.
func (m *CloneManager) Clean(expiration time.Duration) {
	m.pool.Clean(expiration)
}

// StartReaper periodically cleans clone directories that have gone unused
// longer than expiration, until ctx is canceled.
func (m *CloneManager) StartReaper(ctx context.Context, interval, expiration time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.Clean(expiration)
			}
		}
	}()
}

func (m *CloneManager) prepareClone(ctx context.Context, sess scm.Session, owner, repo, dir string) (git.Service, error) {
	url := fmt.Sprintf("https://x-access-token@%s/%s/%s", sess.Host(), owner, repo)
	g := m.newGit(sess.Host(), sess.Token(), dir)

	if _, err := os.Stat(filepath.Join(dir, ".git")); err == nil {
		m.log.Info("reusing cloned repo", "host", sess.Host(), "owner", owner, "repo", repo, "dir", dir)
		// Prune tags deleted on the remote; stale tags poison version lookups.
		if _, err := g.Run(ctx, "fetch", "--prune", "origin", "+refs/tags/*:refs/tags/*"); err != nil {
			// A broken working copy is cheaper to replace than to repair.
			m.log.Warn("fetch failed, recloning", "dir", dir, "error", err)
			if err := os.RemoveAll(dir); err != nil {
				return nil, fmt.Errorf("remove corrupt clone dir %q: %w", dir, err)
			}
			if err := m.freshClone(ctx, g, url, dir); err != nil {
				return nil, err
			}
		}
	} else {
		m.log.Info("cloning repo", "host", sess.Host(), "owner", owner, "repo", repo, "dir", dir)
		if err := m.freshClone(ctx, g, url, dir); err != nil {
			return nil, err
		}
	}

	if _, err := g.Run(ctx, "fetch", "--tags"); err != nil {
		return nil, fmt.Errorf("fetch tags: %w", err)
	}
	if err := g.Clean(ctx); err != nil {
		return nil, fmt.Errorf("clean working copy: %w", err)
	}

	return g, nil
}

func (m *CloneManager) freshClone(ctx context.Context, g git.Service, url, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create clone dir %q: %w", dir, err)
	}
	if _, err := g.Run(ctx, "clone", url, "."); err != nil {
		return fmt.Errorf("clone: %w", err)
	}
	return nil
}
