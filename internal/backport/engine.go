// Package backport cherry-picks merged pull requests onto release branches
// and opens the corresponding pull request, escalating whitespace tolerance
// when the pick conflicts.
package backport

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mergewell/backport-bot/internal/git"
	"github.com/mergewell/backport-bot/internal/notify"
	"github.com/mergewell/backport-bot/internal/scm"
	"github.com/mergewell/backport-bot/internal/workspace"
)

// FailureLabel marks the original pull request when a backport cannot be
// completed automatically.
const FailureLabel = "failed-backport"

// whitespaceMode is the escalation ladder for conflicting cherry-picks.
type whitespaceMode int

const (
	modeStrict whitespaceMode = iota
	modeIgnoreSpaceChange
	modeIgnoreAllSpace
	modeGiveUp
)

// flag returns the value for git's -X strategy option, empty for strict.
func (m whitespaceMode) flag() string {
	switch m {
	case modeIgnoreSpaceChange:
		return "ignore-space-change"
	case modeIgnoreAllSpace:
		return "ignore-all-space"
	default:
		return ""
	}
}

// Request describes one backport of a merged pull request to one target
// branch.
type Request struct {
	Owner               string
	Repo                string
	PullRequest         scm.PullRequest
	TargetBranch        string
	ReleaseBranchPrefix string
}

// Engine performs backports against pooled clones and reports outcomes to
// the pull request and the notification channel.
type Engine struct {
	workspaces workspace.Manager
	notifier   notify.Notifier
	channel    string
	log        *slog.Logger
}

// NewEngine returns an Engine. channel is the notification recipient for
// failure reports; pass an empty channel with a noop notifier to disable.
func NewEngine(workspaces workspace.Manager, notifier notify.Notifier, channel string, log *slog.Logger) *Engine {
	return &Engine{
		workspaces: workspaces,
		notifier:   notifier,
		channel:    channel,
		log:        log,
	}
}

// Process runs the backport and, on failure, reports it on the original pull
// request and the notification channel. Errors encountered while reporting
// are returned; a handled backport failure is not.
func (e *Engine) Process(ctx context.Context, sess scm.Session, req Request) error {
	newPR, err := e.Backport(ctx, sess, req)
	if err != nil {
		return e.reportFailure(ctx, sess, req, err)
	}

	e.log.Info("backport complete",
		"owner", req.Owner, "repo", req.Repo,
		"source_pr", req.PullRequest.Number, "new_pr", newPR.Number,
		"target", req.TargetBranch)
	return nil
}

// Backport cherry-picks the request's merge commit onto the target branch,
// pushes the result, and opens the new pull request.
func (e *Engine) Backport(ctx context.Context, sess scm.Session, req Request) (scm.PullRequest, error) {
	pr := &req.PullRequest

	if !pr.Merged {
		return scm.PullRequest{}, fmt.Errorf("pull request #%d is not yet merged", pr.Number)
	}
	if pr.MergeCommitSHA == "" {
		return scm.PullRequest{}, fmt.Errorf("pull request #%d has no merge commit", pr.Number)
	}

	branchName := BranchName(pr.Head.Ref, req.TargetBranch)

	var newPR scm.PullRequest
	err := e.workspaces.WithWorkspace(ctx, sess, req.Owner, req.Repo, func(g git.Service) error {
		exists, err := g.HasRemoteBranch(ctx, branchName)
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("backport branch already exists on origin: %q", branchName)
		}

		title, body, mode, err := e.cherryPick(ctx, g, req, branchName)
		if err != nil {
			return err
		}

		if _, err := g.Run(ctx, "push", "origin", "HEAD:"+branchName); err != nil {
			return err
		}

		newPR, err = sess.CreatePullRequest(ctx, req.Owner, req.Repo, title, body, branchName, req.TargetBranch)
		if err != nil {
			return err
		}

		// Assignees are copied as-is; the author is never force-added.
		var assignees []string
		for _, u := range pr.Assignees {
			assignees = append(assignees, u.Login)
		}
		if err := sess.Assign(ctx, req.Owner, req.Repo, newPR.Number, assignees); err != nil {
			return err
		}

		var reviewers []string
		for _, u := range pr.AllReviewers() {
			if u.Login == pr.User.Login {
				continue
			}
			reviewers = append(reviewers, u.Login)
		}
		if err := sess.RequestReview(ctx, req.Owner, req.Repo, newPR.Number, reviewers); err != nil {
			return err
		}

		if mode != modeStrict {
			msg := fmt.Sprintf("Cherry-pick required option `%s`. Please verify correctness.", mode.flag())
			if err := sess.Comment(ctx, req.Owner, req.Repo, newPR.Number, msg); err != nil {
				e.log.Error("failed to post whitespace warning", "pr", newPR.Number, "error", err)
			}
		}

		return nil
	})
	if err != nil {
		return scm.PullRequest{}, err
	}

	return newPR, nil
}

// cherryPick applies the merge commit onto a fresh branch off the target,
// escalating whitespace tolerance until the pick applies or the ladder is
// exhausted. On success it amends the commit message to the derived backport
// description and returns the mode that succeeded.
func (e *Engine) cherryPick(ctx context.Context, g git.Service, req Request, branchName string) (string, string, whitespaceMode, error) {
	pr := &req.PullRequest
	commit := pr.MergeCommitSHA

	if err := g.CheckoutBranch(ctx, branchName, "origin/"+req.TargetBranch); err != nil {
		return "", "", modeGiveUp, err
	}

	name, email, err := g.GetCommitAuthor(ctx, commit)
	if err != nil {
		return "", "", modeGiveUp, err
	}
	userOpts := []string{"-c", "user.email=" + email, "-c", "user.name=" + name}

	mode := modeStrict
	for {
		err = e.applyPick(ctx, g, commit, mode, userOpts)
		if err == nil {
			break
		}

		e.log.Info("cherry-pick failed, escalating whitespace tolerance",
			"commit", commit, "mode", mode.flag(), "error", err)
		mode++
		if mode == modeGiveUp {
			return "", "", modeGiveUp, err
		}
	}

	origTitle, origBody, err := g.GetCommitDesc(ctx, commit)
	if err != nil {
		return "", "", modeGiveUp, err
	}

	title, body := MergeDescription(origTitle, origBody, commit, pr.Number, req.TargetBranch, pr.Base.Ref, req.ReleaseBranchPrefix)

	amendArgs := append(append([]string{}, userOpts...), "commit", "--amend", "-F", "-")
	if _, err := g.RunWithStdin(ctx, title+"\n\n"+body, amendArgs...); err != nil {
		return "", "", modeGiveUp, err
	}

	return title, body, mode, nil
}

func (e *Engine) applyPick(ctx context.Context, g git.Service, commit string, mode whitespaceMode, userOpts []string) error {
	// Each attempt starts from a pristine tree; a failed pick leaves
	// conflict markers behind.
	if _, err := g.Run(ctx, "reset", "--hard"); err != nil {
		return err
	}

	args := []string{"-c", "merge.renameLimit=999999"}
	args = append(args, userOpts...)
	args = append(args, "cherry-pick", "--allow-empty")
	if flag := mode.flag(); flag != "" {
		args = append(args, "-X", flag)
	}
	args = append(args, commit)

	_, err := g.Run(ctx, args...)
	return err
}

func (e *Engine) reportFailure(ctx context.Context, sess scm.Session, req Request, cause error) error {
	pr := &req.PullRequest

	msg := fmt.Sprintf("Error backporting PR from %s to %s", pr.Head.Ref, req.TargetBranch)
	e.log.Error("backport failed",
		"owner", req.Owner, "repo", req.Repo,
		"source_pr", pr.Number, "target", req.TargetBranch, "error", cause)

	attachment := notify.NewAttachment(cause.Error()).
		Title(fmt.Sprintf("Source PR: #%d: %q", pr.Number, pr.Title)).
		TitleLink(pr.HTMLURL).
		Color("danger").
		Build()
	if err := e.notifier.Send(ctx, e.channel, msg, []notify.Attachment{attachment}); err != nil {
		e.log.Error("failed to send backport failure notification", "error", err)
	}

	comment := fmt.Sprintf("%s\n\n<details>\n<summary>Error details</summary>\n\n```\n%s\n```\n</details>",
		msg, strings.TrimSpace(cause.Error()))
	if err := sess.Comment(ctx, req.Owner, req.Repo, pr.Number, comment); err != nil {
		return fmt.Errorf("post backport failure comment: %w", err)
	}

	if err := sess.AddLabels(ctx, req.Owner, req.Repo, pr.Number, []string{FailureLabel}); err != nil {
		return fmt.Errorf("add %s label: %w", FailureLabel, err)
	}

	return nil
}
