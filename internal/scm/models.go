package scm

// User identifies a platform account.
type User struct {
	Login string
}

// BranchRef is one side of a pull request.
type BranchRef struct {
	Ref string
	SHA string
}

// PullRequest carries the fields of a pull request that the automation acts
// on. Reviews are included so callers can derive the full reviewer set
// without another round trip.
type PullRequest struct {
	Number             int
	Title              string
	Body               string
	HTMLURL            string
	User               User
	Merged             bool
	MergeCommitSHA     string
	Head               BranchRef
	Base               BranchRef
	Assignees          []User
	RequestedReviewers []User
	Reviews            []Review
}

// AllReviewers returns the union of requested reviewers and users who have
// already reviewed, without duplicates, in encounter order.
func (pr *PullRequest) AllReviewers() []User {
	seen := make(map[string]bool)
	var reviewers []User
	add := func(u User) {
		if u.Login == "" || seen[u.Login] {
			return
		}
		seen[u.Login] = true
		reviewers = append(reviewers, u)
	}
	for _, u := range pr.RequestedReviewers {
		add(u)
	}
	for _, r := range pr.Reviews {
		add(r.User)
	}
	return reviewers
}

// Review is a submitted pull request review.
type Review struct {
	ID       int64
	User     User
	State    string
	Body     string
	HTMLURL  string
	CommitID string
}

// TimelineEvent is one entry from a pull request's issue timeline. Only the
// fields relevant to review dismissal tracking are carried.
type TimelineEvent struct {
	Event           string
	DismissedReview *DismissedReview
}

// IsReviewDismissal reports whether this event dismissed a review.
func (e *TimelineEvent) IsReviewDismissal() bool {
	return e.Event == "review_dismissed" && e.DismissedReview != nil
}

// DismissedReview describes the review a dismissal event removed. A
// dismissal triggered by a new commit carries the commit id; a manual
// dismissal carries a message instead.
type DismissedReview struct {
	State             string
	ReviewID          int64
	DismissalMessage  string
	DismissalCommitID string
}

// Status is a commit status.
type Status struct {
	State       string
	Context     string
	Description string
	TargetURL   string
}

// ShortHash abbreviates a commit sha to its customary seven characters.
func ShortHash(sha string) string {
	if len(sha) <= 7 {
		return sha
	}
	return sha[:7]
}
