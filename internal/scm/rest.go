package scm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"

	github "github.com/google/go-github/v55/github"
	"golang.org/x/oauth2"
)

const defaultUserAgent = "backport-bot"

// NewRESTFactory returns a session factory backed by the go-github REST
// client. When base and upload URLs are provided, the factory targets a
// GitHub Enterprise instance.
func NewRESTFactory(baseURL, uploadURL string) Factory {
	return &restFactory{
		userAgent: defaultUserAgent,
		baseURL:   strings.TrimSpace(baseURL),
		uploadURL: strings.TrimSpace(uploadURL),
	}
}

type restFactory struct {
	userAgent string
	baseURL   string
	uploadURL string
}

type restSession struct {
	client *github.Client
	host   string
	token  string
}

func (f *restFactory) New(ctx context.Context, token string) (Session, error) {
	if token == "" {
		return nil, fmt.Errorf("access token is required")
	}

	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	tc := oauth2.NewClient(ctx, ts)

	if f.baseURL == "" && f.uploadURL != "" {
		return nil, fmt.Errorf("upload url cannot be set without base url")
	}

	host := "github.com"
	var client *github.Client
	if f.baseURL != "" {
		baseURLNormalized, err := normalizeAPIURL(f.baseURL)
		if err != nil {
			return nil, fmt.Errorf("parse base url: %w", err)
		}

		if f.uploadURL == "" {
			return nil, fmt.Errorf("upload url must be provided when base url is set")
		}
		uploadURLNormalized, err := normalizeAPIURL(f.uploadURL)
		if err != nil {
			return nil, fmt.Errorf("parse upload url: %w", err)
		}

		client, err = github.NewClient(tc).WithEnterpriseURLs(baseURLNormalized, uploadURLNormalized)
		if err != nil {
			return nil, fmt.Errorf("construct enterprise client: %w", err)
		}

		if parsed, err := url.Parse(baseURLNormalized); err == nil && parsed.Host != "" {
			host = parsed.Host
		}
	} else {
		client = github.NewClient(tc)
	}

	if f.userAgent != "" {
		client.UserAgent = f.userAgent
	}

	return &restSession{client: client, host: host, token: token}, nil
}

func normalizeAPIURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("url cannot be empty")
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return "", err
	}

	if parsed.Scheme == "" {
		return "", fmt.Errorf("url must include scheme (e.g. https://)")
	}

	if parsed.Host == "" {
		return "", fmt.Errorf("url must include host")
	}

	if parsed.Path == "" {
		parsed.Path = "/"
	} else if !strings.HasSuffix(parsed.Path, "/") {
		parsed.Path += "/"
	}

	parsed.RawQuery = ""
	parsed.Fragment = ""

	return parsed.String(), nil
}

func (s *restSession) Host() string {
	return s.host
}

func (s *restSession) Token() string {
	return s.token
}

func (s *restSession) GetPullRequest(ctx context.Context, owner, repo string, number int) (PullRequest, error) {
	pr, _, err := s.client.PullRequests.Get(ctx, owner, repo, number)
	if err != nil {
		err = classifyAPIError(err)
		return PullRequest{}, fmt.Errorf("get pull request: %w", err)
	}

	result := convertPullRequest(pr)

	reviews, err := s.GetReviews(ctx, owner, repo, number)
	if err != nil {
		return PullRequest{}, err
	}
	result.Reviews = reviews

	return result, nil
}

func convertPullRequest(pr *github.PullRequest) PullRequest {
	result := PullRequest{
		Number:         pr.GetNumber(),
		Title:          pr.GetTitle(),
		Body:           pr.GetBody(),
		HTMLURL:        pr.GetHTMLURL(),
		User:           User{Login: pr.GetUser().GetLogin()},
		Merged:         pr.GetMerged(),
		MergeCommitSHA: pr.GetMergeCommitSHA(),
	}

	if head := pr.GetHead(); head != nil {
		result.Head = BranchRef{Ref: head.GetRef(), SHA: head.GetSHA()}
	}
	if base := pr.GetBase(); base != nil {
		result.Base = BranchRef{Ref: base.GetRef(), SHA: base.GetSHA()}
	}

	for _, user := range pr.Assignees {
		if login := user.GetLogin(); login != "" {
			result.Assignees = append(result.Assignees, User{Login: login})
		}
	}
	for _, user := range pr.RequestedReviewers {
		if login := user.GetLogin(); login != "" {
			result.RequestedReviewers = append(result.RequestedReviewers, User{Login: login})
		}
	}

	return result
}

func (s *restSession) CreatePullRequest(ctx context.Context, owner, repo, title, body, head, base string) (PullRequest, error) {
	pr, _, err := s.client.PullRequests.Create(ctx, owner, repo, &github.NewPullRequest{
		Title: github.String(title),
		Body:  github.String(body),
		Head:  github.String(head),
		Base:  github.String(base),
	})
	if err != nil {
		err = classifyAPIError(err)
		return PullRequest{}, fmt.Errorf("create pull request: %w", err)
	}
	return convertPullRequest(pr), nil
}

func (s *restSession) Comment(ctx context.Context, owner, repo string, number int, body string) error {
	comment := &github.IssueComment{Body: github.String(body)}
	if _, _, err := s.client.Issues.CreateComment(ctx, owner, repo, number, comment); err != nil {
		err = classifyAPIError(err)
		return fmt.Errorf("create comment: %w", err)
	}
	return nil
}

func (s *restSession) Assign(ctx context.Context, owner, repo string, number int, assignees []string) error {
	if len(assignees) == 0 {
		return nil
	}
	if _, _, err := s.client.Issues.AddAssignees(ctx, owner, repo, number, assignees); err != nil {
		err = classifyAPIError(err)
		return fmt.Errorf("add assignees: %w", err)
	}
	return nil
}

func (s *restSession) RequestReview(ctx context.Context, owner, repo string, number int, logins []string) error {
	if len(logins) == 0 {
		return nil
	}
	_, _, err := s.client.PullRequests.RequestReviewers(ctx, owner, repo, number, github.ReviewersRequest{Reviewers: logins})
	if err != nil {
		err = classifyAPIError(err)
		return fmt.Errorf("request reviewers: %w", err)
	}
	return nil
}

func (s *restSession) AddLabels(ctx context.Context, owner, repo string, number int, labels []string) error {
	if len(labels) == 0 {
		return nil
	}
	if _, _, err := s.client.Issues.AddLabelsToIssue(ctx, owner, repo, number, labels); err != nil {
		err = classifyAPIError(err)
		return fmt.Errorf("add labels: %w", err)
	}
	return nil
}

func (s *restSession) ApprovePullRequest(ctx context.Context, owner, repo string, number int, commitHash, body string) error {
	review := &github.PullRequestReviewRequest{
		CommitID: github.String(commitHash),
		Body:     github.String(body),
		Event:    github.String("APPROVE"),
	}
	if _, _, err := s.client.PullRequests.CreateReview(ctx, owner, repo, number, review); err != nil {
		err = classifyAPIError(err)
		return fmt.Errorf("approve pull request: %w", err)
	}
	return nil
}

func (s *restSession) GetReviews(ctx context.Context, owner, repo string, number int) ([]Review, error) {
	opts := &github.ListOptions{PerPage: 100}
	var results []Review

	for {
		reviews, resp, err := s.client.PullRequests.ListReviews(ctx, owner, repo, number, opts)
		if err != nil {
			err = classifyAPIError(err)
			return nil, fmt.Errorf("list reviews: %w", err)
		}

		for _, review := range reviews {
			if review == nil {
				continue
			}
			results = append(results, Review{
				ID:       review.GetID(),
				User:     User{Login: review.GetUser().GetLogin()},
				State:    review.GetState(),
				Body:     review.GetBody(),
				HTMLURL:  review.GetHTMLURL(),
				CommitID: review.GetCommitID(),
			})
		}

		if resp == nil || resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	return results, nil
}

// GetTimeline lists the issue events for the pull request, oldest first. The
// events endpoint is the one that carries dismissal metadata (state, review
// id, dismissal commit) for review_dismissed entries.
func (s *restSession) GetTimeline(ctx context.Context, owner, repo string, number int) ([]TimelineEvent, error) {
	opts := &github.ListOptions{PerPage: 100}
	var results []TimelineEvent

	for {
		events, resp, err := s.client.Issues.ListIssueEvents(ctx, owner, repo, number, opts)
		if err != nil {
			err = classifyAPIError(err)
			return nil, fmt.Errorf("list issue events: %w", err)
		}

		for _, event := range events {
			if event == nil {
				continue
			}
			converted := TimelineEvent{Event: event.GetEvent()}
			if dismissed := event.GetDismissedReview(); dismissed != nil {
				converted.DismissedReview = &DismissedReview{
					State:             dismissed.GetState(),
					ReviewID:          dismissed.GetReviewID(),
					DismissalMessage:  dismissed.GetDismissalMessage(),
					DismissalCommitID: dismissed.GetDismissalCommitID(),
				}
			}
			results = append(results, converted)
		}

		if resp == nil || resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	return results, nil
}

func (s *restSession) CreateBranch(ctx context.Context, owner, repo, branch, sha string) error {
	ref := &github.Reference{
		Ref:    github.String(fmt.Sprintf("refs/heads/%s", branch)),
		Object: &github.GitObject{SHA: github.String(sha)},
	}
	if _, _, err := s.client.Git.CreateRef(ctx, owner, repo, ref); err != nil {
		err = classifyAPIError(err)
		return fmt.Errorf("create ref %s: %w", branch, err)
	}
	return nil
}

func (s *restSession) DeleteBranch(ctx context.Context, owner, repo, branch string) error {
	if _, err := s.client.Git.DeleteRef(ctx, owner, repo, fmt.Sprintf("refs/heads/%s", branch)); err != nil {
		err = classifyAPIError(err)
		return fmt.Errorf("delete ref %s: %w", branch, err)
	}
	return nil
}

func (s *restSession) GetStatuses(ctx context.Context, owner, repo, ref string) ([]Status, error) {
	opts := &github.ListOptions{PerPage: 100}
	var results []Status

	for {
		statuses, resp, err := s.client.Repositories.ListStatuses(ctx, owner, repo, ref, opts)
		if err != nil {
			err = classifyAPIError(err)
			return nil, fmt.Errorf("list statuses: %w", err)
		}

		for _, status := range statuses {
			if status == nil {
				continue
			}
			results = append(results, Status{
				State:       status.GetState(),
				Context:     status.GetContext(),
				Description: status.GetDescription(),
				TargetURL:   status.GetTargetURL(),
			})
		}

		if resp == nil || resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	return results, nil
}

func (s *restSession) CreateStatus(ctx context.Context, owner, repo, ref string, status Status) error {
	repoStatus := &github.RepoStatus{
		State:   github.String(status.State),
		Context: github.String(status.Context),
	}
	if status.Description != "" {
		repoStatus.Description = github.String(status.Description)
	}
	if status.TargetURL != "" {
		repoStatus.TargetURL = github.String(status.TargetURL)
	}
	if _, _, err := s.client.Repositories.CreateStatus(ctx, owner, repo, ref, repoStatus); err != nil {
		err = classifyAPIError(err)
		return fmt.Errorf("create status: %w", err)
	}
	return nil
}

func classifyAPIError(err error) error {
	if err == nil {
		return nil
	}
	if isRetryableAPIError(err) {
		return &retryableError{err: err}
	}
	return err
}

func isRetryableAPIError(err error) bool {
	if err == nil {
		return false
	}

	var rateLimitErr *github.RateLimitError
	if errors.As(err, &rateLimitErr) {
		return true
	}

	var abuseErr *github.AbuseRateLimitError
	if errors.As(err, &abuseErr) {
		return true
	}

	var acceptedErr *github.AcceptedError
	if errors.As(err, &acceptedErr) {
		return true
	}

	var respErr *github.ErrorResponse
	if errors.As(err, &respErr) {
		if respErr.Response != nil {
			code := respErr.Response.StatusCode
			if code == http.StatusTooManyRequests || (code >= 500 && code <= 599) {
				return true
			}
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return true
		}
	}

	return false
}
