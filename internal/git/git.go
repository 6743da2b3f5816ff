package git

import "context"

// Service exposes the git operations needed by the backport engine and the
// force-push reconciler. Implementations shell out to the system git binary;
// tests substitute in-memory fakes.
type Service interface {
	Dir() string
	Run(ctx context.Context, args ...string) (string, error)
	RunWithStdin(ctx context.Context, stdin string, args ...string) (string, error)
	CurrentBranch(ctx context.Context) (string, error)
	CurrentCommit(ctx context.Context) (string, error)
	HasBranch(ctx context.Context, branch string) (bool, error)
	HasRemoteBranch(ctx context.Context, branch string) (bool, error)
	DoesBranchContain(ctx context.Context, ref, branch string) (bool, error)
	FindBaseBranchCommit(ctx context.Context, leafRef, baseBranch string) (string, error)
	Clean(ctx context.Context) error
	CheckoutBranch(ctx context.Context, name, sourceRef string) error
	Diff(ctx context.Context, base, head, whitespaceFlag string) (string, error)
	GetCommitDesc(ctx context.Context, commit string) (title, body string, err error)
	GetCommitAuthor(ctx context.Context, commit string) (name, email string, err error)
}
