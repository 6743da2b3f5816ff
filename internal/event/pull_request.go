// Package event decodes pull_request webhook payloads into the shapes the
// automation acts on.
package event

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/go-github/v55/github"

	"github.com/mergewell/backport-bot/internal/scm"
)

// Action enumerates pull_request actions the bot cares about.
type Action string

const (
	ActionClosed      Action = "closed"
	ActionLabeled     Action = "labeled"
	ActionSynchronize Action = "synchronize"
)

// Repository identifies where the event originated.
type Repository struct {
	Owner string
	Name  string
}

// PullRequestPayload is the decoded subset of a pull_request event.
type PullRequestPayload struct {
	Action      Action
	Repository  Repository
	PullRequest scm.PullRequest
	Labels      []string
	LabelName   string

	// Before and After are only populated on synchronize events.
	Before string
	After  string
}

// IsMerge reports whether the event is the merge-close of a pull request,
// which triggers backports.
func (p PullRequestPayload) IsMerge() bool {
	return p.Action == ActionClosed && p.PullRequest.Merged
}

// IsForcePush reports whether the event is a synchronize that rewrote the
// branch head, which triggers force-push reconciliation.
func (p PullRequestPayload) IsForcePush() bool {
	return p.Action == ActionSynchronize && p.Before != "" && p.After != "" && p.Before != p.After
}

// ParsePullRequestEvent decodes a pull_request event payload from r.
func ParsePullRequestEvent(r io.Reader) (PullRequestPayload, error) {
	var raw github.PullRequestEvent

	dec := json.NewDecoder(r)
	if err := dec.Decode(&raw); err != nil {
		return PullRequestPayload{}, fmt.Errorf("decode pull_request event: %w", err)
	}

	payload := PullRequestPayload{
		Action: Action(strings.ToLower(strings.TrimSpace(raw.GetAction()))),
		Repository: Repository{
			Owner: strings.TrimSpace(raw.GetRepo().GetOwner().GetLogin()),
			Name:  strings.TrimSpace(raw.GetRepo().GetName()),
		},
		PullRequest: convertPullRequest(raw.GetPullRequest()),
		Before:      strings.TrimSpace(raw.GetBefore()),
		After:       strings.TrimSpace(raw.GetAfter()),
	}

	for _, l := range raw.GetPullRequest().Labels {
		if name := strings.TrimSpace(l.GetName()); name != "" {
			payload.Labels = append(payload.Labels, name)
		}
	}

	if raw.Label != nil {
		payload.LabelName = strings.TrimSpace(raw.Label.GetName())
	}

	return payload, nil
}

// ParsePullRequestEventFile reads the event JSON from disk.
func ParsePullRequestEventFile(path string) (PullRequestPayload, error) {
	f, err := os.Open(path)
	if err != nil {
		return PullRequestPayload{}, fmt.Errorf("open event file: %w", err)
	}
	defer f.Close()

	return ParsePullRequestEvent(f)
}

func convertPullRequest(pr *github.PullRequest) scm.PullRequest {
	result := scm.PullRequest{
		Number:         pr.GetNumber(),
		Title:          pr.GetTitle(),
		Body:           pr.GetBody(),
		HTMLURL:        pr.GetHTMLURL(),
		User:           scm.User{Login: pr.GetUser().GetLogin()},
		Merged:         pr.GetMerged(),
		MergeCommitSHA: strings.TrimSpace(pr.GetMergeCommitSHA()),
	}

	if head := pr.GetHead(); head != nil {
		result.Head = scm.BranchRef{Ref: head.GetRef(), SHA: head.GetSHA()}
	}
	if base := pr.GetBase(); base != nil {
		result.Base = scm.BranchRef{Ref: base.GetRef(), SHA: base.GetSHA()}
	}

	for _, u := range pr.Assignees {
		if login := u.GetLogin(); login != "" {
			result.Assignees = append(result.Assignees, scm.User{Login: login})
		}
	}
	for _, u := range pr.RequestedReviewers {
		if login := u.GetLogin(); login != "" {
			result.RequestedReviewers = append(result.RequestedReviewers, scm.User{Login: login})
		}
	}

	return result
}
