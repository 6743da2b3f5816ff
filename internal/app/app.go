// Package app wires configuration, the platform session factory, and the
// clone pool into a runner that dispatches pull request events.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mergewell/backport-bot/internal/backport"
	"github.com/mergewell/backport-bot/internal/dirpool"
	"github.com/mergewell/backport-bot/internal/event"
	"github.com/mergewell/backport-bot/internal/forcepush"
	"github.com/mergewell/backport-bot/internal/labels"
	"github.com/mergewell/backport-bot/internal/notify"
	"github.com/mergewell/backport-bot/internal/scm"
	"github.com/mergewell/backport-bot/internal/workspace"
)

// Runner dispatches decoded pull request events to the backport engine and
// the force-push reconciler.
type Runner struct {
	cfg        Config
	log        *slog.Logger
	sessions   scm.Factory
	workspaces *workspace.CloneManager
	engine     *backport.Engine
	reconciler *forcepush.Reconciler
}

// NewRunner builds a Runner from configuration. The session factory is a
// parameter so tests can substitute a fake.
func NewRunner(cfg Config, sessions scm.Factory, log *slog.Logger) *Runner {
	pool := dirpool.New(cfg.CloneRootDir, log)
	workspaces := workspace.NewCloneManager(pool, log)

	var notifier notify.Notifier = notify.NewNoopNotifier()
	if cfg.NotifyWebhookURL != "" {
		notifier = notify.NewWebhookNotifier(cfg.NotifyWebhookURL)
	}

	return &Runner{
		cfg:        cfg,
		log:        log,
		sessions:   sessions,
		workspaces: workspaces,
		engine:     backport.NewEngine(workspaces, notifier, cfg.NotifyChannel, log),
		reconciler: forcepush.NewReconciler(workspaces, log),
	}
}

// Start launches the clone directory reaper. It returns immediately; the
// reaper stops when ctx is canceled.
func (r *Runner) Start(ctx context.Context) {
	r.workspaces.StartReaper(ctx, r.cfg.ReaperInterval, r.cfg.CloneExpiration)
}

// HandleEvent routes one pull request event. Merge-closes trigger one
// backport per target label; head-rewriting synchronizes trigger force-push
// reconciliation. Everything else is ignored.
func (r *Runner) HandleEvent(ctx context.Context, payload event.PullRequestPayload) error {
	switch {
	case payload.IsMerge():
		return r.handleMerge(ctx, payload)
	case payload.IsForcePush():
		return r.handleForcePush(ctx, payload)
	default:
		r.log.Debug("ignoring event",
			"action", string(payload.Action),
			"owner", payload.Repository.Owner, "repo", payload.Repository.Name,
			"pr", payload.PullRequest.Number)
		return nil
	}
}

func (r *Runner) handleMerge(ctx context.Context, payload event.PullRequestPayload) error {
	targets, err := labels.CollectTargets(payload.Labels, r.cfg.LabelPrefix)
	if err != nil {
		return fmt.Errorf("collect backport targets: %w", err)
	}
	if len(targets) == 0 {
		r.log.Debug("merged PR has no backport labels", "pr", payload.PullRequest.Number)
		return nil
	}
	if err := labels.ValidateTargets(targets); err != nil {
		return err
	}

	sess, err := r.sessions.New(ctx, r.cfg.GitHubToken)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}

	owner := payload.Repository.Owner
	repo := payload.Repository.Name

	// The webhook payload omits reviews; re-fetch for the full picture.
	pr, err := sess.GetPullRequest(ctx, owner, repo, payload.PullRequest.Number)
	if err != nil {
		return err
	}

	var errs []error
	for _, branch := range labels.Branches(targets) {
		req := backport.Request{
			Owner:               owner,
			Repo:                repo,
			PullRequest:         pr,
			TargetBranch:        branch,
			ReleaseBranchPrefix: r.cfg.ReleaseBranchPrefix,
		}
		if err := r.engine.Process(ctx, sess, req); err != nil {
			errs = append(errs, fmt.Errorf("backport to %s: %w", branch, err))
		}
	}
	return errors.Join(errs...)
}

func (r *Runner) handleForcePush(ctx context.Context, payload event.PullRequestPayload) error {
	sess, err := r.sessions.New(ctx, r.cfg.GitHubToken)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}

	ev := forcepush.Event{
		Owner:           payload.Repository.Owner,
		Repo:            payload.Repository.Name,
		PullRequest:     payload.PullRequest,
		Before:          payload.Before,
		After:           payload.After,
		ReapplyStatuses: r.cfg.ReapplyStatuses,
	}
	return r.reconciler.Process(ctx, sess, ev)
}
