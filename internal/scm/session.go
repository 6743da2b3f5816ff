package scm

import (
	"context"
	"errors"
)

// Session exposes the platform operations required by the backport engine
// and the force-push reconciler, bound to one authenticated identity.
type Session interface {
	// Host is the platform hostname used when building clone URLs.
	Host() string
	// Token returns the access token for git credential prompts. It must
	// never appear on a command line.
	Token() string

	GetPullRequest(ctx context.Context, owner, repo string, number int) (PullRequest, error)
	CreatePullRequest(ctx context.Context, owner, repo, title, body, head, base string) (PullRequest, error)
	Comment(ctx context.Context, owner, repo string, number int, body string) error
	Assign(ctx context.Context, owner, repo string, number int, assignees []string) error
	RequestReview(ctx context.Context, owner, repo string, number int, logins []string) error
	AddLabels(ctx context.Context, owner, repo string, number int, labels []string) error
	ApprovePullRequest(ctx context.Context, owner, repo string, number int, commitHash, body string) error
	GetReviews(ctx context.Context, owner, repo string, number int) ([]Review, error)
	GetTimeline(ctx context.Context, owner, repo string, number int) ([]TimelineEvent, error)
	CreateBranch(ctx context.Context, owner, repo, branch, sha string) error
	DeleteBranch(ctx context.Context, owner, repo, branch string) error
	GetStatuses(ctx context.Context, owner, repo, ref string) ([]Status, error)
	CreateStatus(ctx context.Context, owner, repo, ref string, status Status) error
}

// Factory builds concrete sessions (e.g. REST-backed) for event handlers.
type Factory interface {
	New(ctx context.Context, token string) (Session, error)
}

// retryableError marks an error that may succeed if the operation is retried.
type retryableError struct {
	err error
}

func (e *retryableError) Error() string {
	if e == nil || e.err == nil {
		return ""
	}
	return e.err.Error()
}

func (e *retryableError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.err
}

// IsRetryable reports whether the supplied error resulted from a retryable
// platform API failure (for example, a transient network problem or
// rate-limited request).
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var target *retryableError
	return errors.As(err, &target)
}
