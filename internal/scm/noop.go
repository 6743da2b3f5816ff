package scm

import (
	"context"
	"fmt"
)

// NewNoopFactory returns a Factory that builds noop sessions.
func NewNoopFactory() Factory {
	return noopFactory{}
}

type noopFactory struct{}

func (noopFactory) New(ctx context.Context, token string) (Session, error) {
	return noopSession{}, nil
}

type noopSession struct{}

func (noopSession) Host() string {
	return "github.com"
}

func (noopSession) Token() string {
	return ""
}

func (noopSession) GetPullRequest(ctx context.Context, owner, repo string, number int) (PullRequest, error) {
	return PullRequest{}, fmt.Errorf("noop session not implemented")
}

func (noopSession) CreatePullRequest(ctx context.Context, owner, repo, title, body, head, base string) (PullRequest, error) {
	return PullRequest{}, fmt.Errorf("noop session not implemented")
}

func (noopSession) Comment(ctx context.Context, owner, repo string, number int, body string) error {
	return fmt.Errorf("noop session not implemented")
}

func (noopSession) Assign(ctx context.Context, owner, repo string, number int, assignees []string) error {
	return fmt.Errorf("noop session not implemented")
}

func (noopSession) RequestReview(ctx context.Context, owner, repo string, number int, logins []string) error {
	return fmt.Errorf("noop session not implemented")
}

func (noopSession) AddLabels(ctx context.Context, owner, repo string, number int, labels []string) error {
	return fmt.Errorf("noop session not implemented")
}

func (noopSession) ApprovePullRequest(ctx context.Context, owner, repo string, number int, commitHash, body string) error {
	return fmt.Errorf("noop session not implemented")
}

func (noopSession) GetReviews(ctx context.Context, owner, repo string, number int) ([]Review, error) {
	return nil, fmt.Errorf("noop session not implemented")
}

func (noopSession) GetTimeline(ctx context.Context, owner, repo string, number int) ([]TimelineEvent, error) {
	return nil, fmt.Errorf("noop session not implemented")
}

func (noopSession) CreateBranch(ctx context.Context, owner, repo, branch, sha string) error {
	return fmt.Errorf("noop session not implemented")
}

func (noopSession) DeleteBranch(ctx context.Context, owner, repo, branch string) error {
	return fmt.Errorf("noop session not implemented")
}

func (noopSession) GetStatuses(ctx context.Context, owner, repo, ref string) ([]Status, error) {
	return nil, fmt.Errorf("noop session not implemented")
}

func (noopSession) CreateStatus(ctx context.Context, owner, repo, ref string, status Status) error {
	return fmt.Errorf("noop session not implemented")
}
