// Package forcepush reacts to force-pushed pull request branches: it
// compares the diff before and after the push, reports the outcome on the
// pull request, and restores a commit-dismissed approval when the change
// is identical.
package forcepush

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mergewell/backport-bot/internal/diffs"
	"github.com/mergewell/backport-bot/internal/git"
	"github.com/mergewell/backport-bot/internal/scm"
	"github.com/mergewell/backport-bot/internal/workspace"
)

// statusReappliedNote is appended to the description of every status the
// reconciler copies onto the new commit.
const statusReappliedNote = "(reapplied by backport-bot)"

// Event describes one force-push of a pull request branch.
type Event struct {
	Owner       string
	Repo        string
	PullRequest scm.PullRequest
	Before      string
	After       string

	// ReapplyStatuses lists the status contexts that may be copied from the
	// before commit to the after commit when the diff is unchanged.
	ReapplyStatuses []string
}

// Reconciler computes and reports force-push outcomes.
type Reconciler struct {
	workspaces workspace.Manager
	log        *slog.Logger
}

func NewReconciler(workspaces workspace.Manager, log *slog.Logger) *Reconciler {
	return &Reconciler{workspaces: workspaces, log: log}
}

// Process computes the diff-of-diffs for the event and reconciles the pull
// request accordingly. A diff computation failure is reported on the pull
// request, not returned.
func (r *Reconciler) Process(ctx context.Context, sess scm.Session, ev Event) error {
	d, err := r.ComputeDiffs(ctx, sess, ev)
	return r.Reconcile(ctx, sess, ev, d, err)
}

// ComputeDiffs produces the before and after diffs of the pull request
// branch against its base, each taken from the commit where the branch
// forked. The before sha is usually unreachable after the push, so it is
// pinned with a temporary remote branch for the duration of the fetch.
func (r *Reconciler) ComputeDiffs(ctx context.Context, sess scm.Session, ev Event) (*diffs.DiffOfDiffs, error) {
	var result *diffs.DiffOfDiffs

	err := r.workspaces.WithWorkspace(ctx, sess, ev.Owner, ev.Repo, func(g git.Service) error {
		base := ev.PullRequest.Base.Ref

		// find_base_branch_commit needs the local base branch current.
		if err := g.CheckoutBranch(ctx, base, "origin/"+base); err != nil {
			return err
		}

		tempBranch := fmt.Sprintf("backport-bot-%s-%s", ev.PullRequest.Head.Ref, ev.Before)
		if err := sess.CreateBranch(ctx, ev.Owner, ev.Repo, tempBranch, ev.Before); err != nil {
			return err
		}
		if _, err := g.Run(ctx, "fetch"); err != nil {
			return err
		}
		if err := sess.DeleteBranch(ctx, ev.Owner, ev.Repo, tempBranch); err != nil {
			return err
		}

		beforeBase, err := g.FindBaseBranchCommit(ctx, ev.Before, base)
		if err != nil {
			return err
		}
		afterBase, err := g.FindBaseBranchCommit(ctx, ev.After, base)
		if err != nil {
			return err
		}

		beforeDiff, err := g.Diff(ctx, beforeBase, ev.Before, "-w")
		if err != nil {
			return err
		}
		afterDiff, err := g.Diff(ctx, afterBase, ev.After, "-w")
		if err != nil {
			return err
		}

		result = diffs.New(beforeDiff, afterDiff)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Reconcile posts the outcome of a force-push on the pull request. diffErr
// marks a failed diff computation; d is ignored in that case.
//
// Every force-push yields exactly one outcome comment. When the diff is
// unchanged, eligible statuses are then reapplied and, if the most recent
// review dismissal was caused by the pushed-over commit, the original
// approval is restored.
func (r *Reconciler) Reconcile(ctx context.Context, sess scm.Session, ev Event, d *diffs.DiffOfDiffs, diffErr error) error {
	comment := fmt.Sprintf("Force-push detected: before: %s, after: %s: ",
		scm.ShortHash(ev.Before), scm.ShortHash(ev.After))

	identical := false
	switch {
	case diffErr != nil:
		comment += "Unable to calculate diff."
		r.log.Error("failed to calculate force-push diff",
			"owner", ev.Owner, "repo", ev.Repo, "pr", ev.PullRequest.Number, "error", diffErr)
	case d.AreEqual():
		comment += "Identical diff post-rebase."
		identical = true
	default:
		comment += "Diff changed post-rebase."
		if files := d.DifferentPatchFiles(); len(files) > 0 {
			comment += "\n\nChanged files:\n"
			for _, file := range files {
				comment += fmt.Sprintf("* %s\n", file)
			}
		}
	}

	if err := sess.Comment(ctx, ev.Owner, ev.Repo, ev.PullRequest.Number, comment); err != nil {
		return fmt.Errorf("post force-push comment: %w", err)
	}

	if !identical {
		return nil
	}
	r.reapplyStatuses(ctx, sess, ev)
	return r.maybeReapprove(ctx, sess, ev)
}

// maybeReapprove restores the most recently dismissed approval when that
// dismissal was caused by the commit the push replaced. Manual dismissals
// and dismissals for other commits are left alone. Only a failed approval
// call is an error; everything that merely disqualifies reapproval is not.
func (r *Reconciler) maybeReapprove(ctx context.Context, sess scm.Session, ev Event) error {
	number := ev.PullRequest.Number

	timeline, err := sess.GetTimeline(ctx, ev.Owner, ev.Repo, number)
	if err != nil {
		r.log.Error("failed to fetch timeline", "pr", number, "error", err)
		return nil
	}

	var dismissal *scm.DismissedReview
	for i := len(timeline) - 1; i >= 0; i-- {
		if timeline[i].IsReviewDismissal() {
			dismissal = timeline[i].DismissedReview
			break
		}
	}
	if dismissal == nil {
		return nil
	}

	// A manual dismissal carries no commit id and never qualifies.
	if dismissal.State != "approved" || dismissal.DismissalCommitID != ev.Before {
		return nil
	}

	reviews, err := sess.GetReviews(ctx, ev.Owner, ev.Repo, number)
	if err != nil {
		r.log.Error("failed to fetch reviews", "pr", number, "error", err)
		return nil
	}

	credit := ""
	for _, review := range reviews {
		if review.ID == dismissal.ReviewID {
			credit = reviewerCredit(review)
			break
		}
	}
	if credit == "" {
		r.log.Info("dismissed review not found, skipping reapproval",
			"pr", number, "review_id", dismissal.ReviewID)
		return nil
	}

	r.log.Info("reapproving after identical force-push",
		"owner", ev.Owner, "repo", ev.Repo, "pr", number, "review_id", dismissal.ReviewID)

	msg := fmt.Sprintf("Reapproved based on review by %s", credit)
	if err := sess.ApprovePullRequest(ctx, ev.Owner, ev.Repo, number, ev.After, msg); err != nil {
		return fmt.Errorf("reapprove pull request: %w", err)
	}
	return nil
}

func reviewerCredit(review scm.Review) string {
	switch {
	case review.User.Login != "" && review.HTMLURL != "":
		return fmt.Sprintf("[%s](%s)", review.User.Login, review.HTMLURL)
	case review.User.Login != "":
		return fmt.Sprintf("%s (review #%d)", review.User.Login, review.ID)
	default:
		return fmt.Sprintf("Unknown user (review #%d)", review.ID)
	}
}

// reapplyStatuses copies eligible statuses from the before commit to the
// after commit. Only the newest status per context counts; failures are
// logged, never fatal.
func (r *Reconciler) reapplyStatuses(ctx context.Context, sess scm.Session, ev Event) {
	if len(ev.ReapplyStatuses) == 0 {
		return
	}

	eligible := make(map[string]bool, len(ev.ReapplyStatuses))
	for _, context := range ev.ReapplyStatuses {
		eligible[context] = true
	}

	statuses, err := sess.GetStatuses(ctx, ev.Owner, ev.Repo, ev.Before)
	if err != nil {
		r.log.Error("failed to fetch statuses", "ref", ev.Before, "error", err)
		return
	}

	seen := make(map[string]bool)
	for _, status := range statuses {
		if status.Context == "" || seen[status.Context] {
			continue
		}
		seen[status.Context] = true

		if !eligible[status.Context] {
			continue
		}

		reapplied := status
		if reapplied.Description != "" {
			reapplied.Description += " " + statusReappliedNote
		} else {
			reapplied.Description = statusReappliedNote
		}

		if err := sess.CreateStatus(ctx, ev.Owner, ev.Repo, ev.After, reapplied); err != nil {
			r.log.Error("failed to reapply status",
				"ref", ev.After, "context", status.Context, "error", err)
		}
	}
}
