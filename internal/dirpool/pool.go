// Package dirpool hands out exclusively-held, numbered working directories
// for git clones, one bucket per (host, owner, repo). The pool's exclusivity
// guarantee is the only thing preventing two concurrent operations from
// trampling the same working tree.
package dirpool

import (
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"
)

// Pool tracks directory slots under a root directory. Directories are created
// lazily by whoever checks them out; the pool itself only does bookkeeping.
type Pool struct {
	rootDir string
	log     *slog.Logger

	mu      sync.Mutex
	buckets map[string]*bucket
}

// bucket holds the unused entries for one repository. Entries currently
// checked out are structurally absent from unused, so the reaper can never
// touch them.
type bucket struct {
	nextNew int
	unused  []entry
}

type entry struct {
	id       int
	lastUsed time.Time
}

// HeldDir is an exclusive claim on one pool directory. The holder owns the
// path until Release is called; Release is idempotent.
type HeldDir struct {
	id       int
	repoRoot string
	dir      string
	pool     *Pool

	once sync.Once
}

// New returns a Pool rooted at rootDir.
func New(rootDir string, log *slog.Logger) *Pool {
	return &Pool{
		rootDir: rootDir,
		log:     log,
		buckets: make(map[string]*bucket),
	}
}

// Take checks out a directory for the given repository, reusing the most
// recently returned slot or allocating the next numeric id. No I/O happens
// here; the directory may not exist yet.
func (p *Pool) Take(host, owner, repo string) *HeldDir {
	repoRoot := filepath.Join(p.rootDir, host, owner, repo)

	p.mu.Lock()
	b, ok := p.buckets[repoRoot]
	if !ok {
		b = &bucket{}
		p.buckets[repoRoot] = b
	}
	id := b.takeID()
	p.mu.Unlock()

	return &HeldDir{
		id:       id,
		repoRoot: repoRoot,
		dir:      filepath.Join(repoRoot, strconv.Itoa(id)),
		pool:     p,
	}
}

// Clean deletes every unused directory whose last use predates now-expiration.
// Held directories are never touched regardless of age. Deletion failures are
// logged and skipped; housekeeping is best effort.
func (p *Pool) Clean(expiration time.Duration) {
	cutoff := time.Now().Add(-expiration)

	type doomed struct {
		repoRoot string
		id       int
	}
	var remove []doomed

	p.mu.Lock()
	for repoRoot, b := range p.buckets {
		kept := b.unused[:0]
		for _, e := range b.unused {
			if e.lastUsed.Before(cutoff) {
				remove = append(remove, doomed{repoRoot: repoRoot, id: e.id})
			} else {
				kept = append(kept, e)
			}
		}
		b.unused = kept
	}
	p.mu.Unlock()

	for _, d := range remove {
		dir := filepath.Join(d.repoRoot, strconv.Itoa(d.id))
		if err := os.RemoveAll(dir); err != nil {
			if p.log != nil {
				p.log.Warn("failed to remove expired clone directory", "dir", dir, "error", err)
			}
			continue
		}
		if p.log != nil {
			p.log.Info("removed expired clone directory", "dir", dir)
		}
	}
}

func (p *Pool) returnDir(id int, repoRoot string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	b, ok := p.buckets[repoRoot]
	if !ok {
		b = &bucket{}
		p.buckets[repoRoot] = b
	}
	b.returnID(id)
}

func (b *bucket) takeID() int {
	if n := len(b.unused); n > 0 {
		e := b.unused[n-1]
		b.unused = b.unused[:n-1]
		return e.id
	}
	b.nextNew++
	return b.nextNew
}

func (b *bucket) returnID(id int) {
	b.unused = append(b.unused, entry{id: id, lastUsed: time.Now()})
}

// Dir returns the absolute path of the held directory.
func (h *HeldDir) Dir() string {
	return h.dir
}

// Release returns the directory to the pool. Safe to call more than once and
// safe to defer alongside panicking callers.
func (h *HeldDir) Release() {
	h.once.Do(func() {
		h.pool.returnDir(h.id, h.repoRoot)
	})
}
