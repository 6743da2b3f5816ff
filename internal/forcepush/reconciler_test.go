package forcepush_test

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/mergewell/backport-bot/internal/diffs"
	"github.com/mergewell/backport-bot/internal/forcepush"
	"github.com/mergewell/backport-bot/internal/git"
	"github.com/mergewell/backport-bot/internal/scm"
)

const (
	beforeSHA = "1111111aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	afterSHA  = "2222222bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
)

type approval struct {
	commit string
	body   string
}

type fakeSession struct {
	scm.Session

	comments        []string
	timeline        []scm.TimelineEvent
	reviews         []scm.Review
	approvals       []approval
	approveErr      error
	statuses        []scm.Status
	createdStatuses map[string][]scm.Status
	createdBranches []string
	deletedBranches []string
}

func newFakeSession() *fakeSession {
	return &fakeSession{createdStatuses: map[string][]scm.Status{}}
}

func (s *fakeSession) Host() string  { return "github.com" }
func (s *fakeSession) Token() string { return "secret" }

func (s *fakeSession) Comment(ctx context.Context, owner, repo string, number int, body string) error {
	s.comments = append(s.comments, body)
	return nil
}

func (s *fakeSession) GetTimeline(ctx context.Context, owner, repo string, number int) ([]scm.TimelineEvent, error) {
	return s.timeline, nil
}

func (s *fakeSession) GetReviews(ctx context.Context, owner, repo string, number int) ([]scm.Review, error) {
	return s.reviews, nil
}

func (s *fakeSession) ApprovePullRequest(ctx context.Context, owner, repo string, number int, commitHash, body string) error {
	if s.approveErr != nil {
		return s.approveErr
	}
	s.approvals = append(s.approvals, approval{commit: commitHash, body: body})
	return nil
}

func (s *fakeSession) GetStatuses(ctx context.Context, owner, repo, ref string) ([]scm.Status, error) {
	return s.statuses, nil
}

func (s *fakeSession) CreateStatus(ctx context.Context, owner, repo, ref string, status scm.Status) error {
	s.createdStatuses[ref] = append(s.createdStatuses[ref], status)
	return nil
}

func (s *fakeSession) CreateBranch(ctx context.Context, owner, repo, branch, sha string) error {
	s.createdBranches = append(s.createdBranches, branch+"@"+sha)
	return nil
}

func (s *fakeSession) DeleteBranch(ctx context.Context, owner, repo, branch string) error {
	s.deletedBranches = append(s.deletedBranches, branch)
	return nil
}

type fakeGit struct {
	commands    []string
	checkouts   []string
	baseCommits map[string]string
	diffs       map[string]string
}

var _ git.Service = (*fakeGit)(nil)

func (f *fakeGit) Dir() string { return "/fake" }
func (f *fakeGit) Run(ctx context.Context, args ...string) (string, error) {
	f.commands = append(f.commands, strings.Join(args, " "))
	return "", nil
}
func (f *fakeGit) RunWithStdin(ctx context.Context, stdin string, args ...string) (string, error) {
	return f.Run(ctx, args...)
}
func (f *fakeGit) CurrentBranch(ctx context.Context) (string, error) { return "", nil }
func (f *fakeGit) CurrentCommit(ctx context.Context) (string, error) { return "", nil }
func (f *fakeGit) HasBranch(ctx context.Context, branch string) (bool, error) {
	return false, nil
}
func (f *fakeGit) HasRemoteBranch(ctx context.Context, branch string) (bool, error) {
	return false, nil
}
func (f *fakeGit) DoesBranchContain(ctx context.Context, ref, branch string) (bool, error) {
	return false, nil
}
func (f *fakeGit) FindBaseBranchCommit(ctx context.Context, leafRef, baseBranch string) (string, error) {
	return f.baseCommits[leafRef], nil
}
func (f *fakeGit) Clean(ctx context.Context) error { return nil }
func (f *fakeGit) CheckoutBranch(ctx context.Context, name, sourceRef string) error {
	f.checkouts = append(f.checkouts, name+" "+sourceRef)
	return nil
}
func (f *fakeGit) Diff(ctx context.Context, base, head, whitespaceFlag string) (string, error) {
	return f.diffs[base+".."+head], nil
}
func (f *fakeGit) GetCommitDesc(ctx context.Context, commit string) (string, string, error) {
	return "", "", nil
}
func (f *fakeGit) GetCommitAuthor(ctx context.Context, commit string) (string, string, error) {
	return "", "", nil
}

type fakeManager struct {
	git *fakeGit
}

func (m *fakeManager) WithWorkspace(ctx context.Context, sess scm.Session, owner, repo string, fn func(git.Service) error) error {
	return fn(m.git)
}

func (m *fakeManager) Clean(expiration time.Duration) {}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

const diffA = `diff --git a/file.txt b/file.txt
index 1111111..2222222 100644
--- a/file.txt
+++ b/file.txt
@@ -1,2 +1,2 @@
 context
-old line
+new line
`

const diffB = `diff --git a/file.txt b/file.txt
index 1111111..3333333 100644
--- a/file.txt
+++ b/file.txt
@@ -1,2 +1,2 @@
 context
-old line
+different line
`

var _ = Describe("Reconciler", func() {
	var (
		sess       *fakeSession
		reconciler *forcepush.Reconciler
		ev         forcepush.Event
		prefix     string
	)

	BeforeEach(func() {
		sess = newFakeSession()
		reconciler = forcepush.NewReconciler(nil, testLogger())
		ev = forcepush.Event{
			Owner:       "some-org",
			Repo:        "some-repo",
			PullRequest: scm.PullRequest{Number: 7, Head: scm.BranchRef{Ref: "my-feature"}, Base: scm.BranchRef{Ref: "master"}},
			Before:      beforeSHA,
			After:       afterSHA,
		}
		prefix = fmt.Sprintf("Force-push detected: before: %s, after: %s: ", beforeSHA[:7], afterSHA[:7])
	})

	Describe("diff computation failure", func() {
		It("reports the failure regardless of content", func() {
			err := reconciler.Reconcile(context.Background(), sess, ev, nil, fmt.Errorf("boom"))
			Expect(err).NotTo(HaveOccurred())

			Expect(sess.comments).To(ConsistOf(prefix + "Unable to calculate diff."))
			Expect(sess.approvals).To(BeEmpty())
		})
	})

	Describe("changed diff", func() {
		It("reports the change and lists differing files", func() {
			d := diffs.New(diffA, diffB)
			err := reconciler.Reconcile(context.Background(), sess, ev, d, nil)
			Expect(err).NotTo(HaveOccurred())

			Expect(sess.comments).To(HaveLen(1))
			Expect(sess.comments[0]).To(Equal(
				prefix + "Diff changed post-rebase.\n\nChanged files:\n* file.txt\n"))
			Expect(sess.approvals).To(BeEmpty())
		})

		It("omits the file list when no file can be named", func() {
			d := diffs.New("not a diff", "also not a diff")
			err := reconciler.Reconcile(context.Background(), sess, ev, d, nil)
			Expect(err).NotTo(HaveOccurred())

			Expect(sess.comments).To(ConsistOf(prefix + "Diff changed post-rebase."))
		})
	})

	Describe("identical diff", func() {
		var d *diffs.DiffOfDiffs

		BeforeEach(func() {
			d = diffs.New(diffA, diffA)
		})

		It("comments when there is no dismissal to restore", func() {
			err := reconciler.Reconcile(context.Background(), sess, ev, d, nil)
			Expect(err).NotTo(HaveOccurred())

			Expect(sess.comments).To(ConsistOf(prefix + "Identical diff post-rebase."))
			Expect(sess.approvals).To(BeEmpty())
		})

		It("reapproves when the latest dismissal matches the replaced commit", func() {
			sess.timeline = []scm.TimelineEvent{
				{Event: "commented"},
				{Event: "review_dismissed", DismissedReview: &scm.DismissedReview{
					State: "approved", ReviewID: 55, DismissalCommitID: beforeSHA,
				}},
			}
			sess.reviews = []scm.Review{
				{ID: 55, User: scm.User{Login: "reviewer"}, State: "DISMISSED",
					HTMLURL: "https://example.com/review/55", CommitID: beforeSHA},
			}

			err := reconciler.Reconcile(context.Background(), sess, ev, d, nil)
			Expect(err).NotTo(HaveOccurred())

			// The outcome comment always lands, reapproval or not.
			Expect(sess.comments).To(ConsistOf(prefix + "Identical diff post-rebase."))

			Expect(sess.approvals).To(HaveLen(1))
			Expect(sess.approvals[0].commit).To(Equal(afterSHA))
			Expect(sess.approvals[0].body).To(Equal(
				"Reapproved based on review by [reviewer](https://example.com/review/55)"))
		})

		It("propagates a failed reapproval after commenting", func() {
			sess.timeline = []scm.TimelineEvent{
				{Event: "review_dismissed", DismissedReview: &scm.DismissedReview{
					State: "approved", ReviewID: 55, DismissalCommitID: beforeSHA,
				}},
			}
			sess.reviews = []scm.Review{
				{ID: 55, User: scm.User{Login: "reviewer"},
					HTMLURL: "https://example.com/review/55"},
			}
			sess.approveErr = fmt.Errorf("approval rejected")

			err := reconciler.Reconcile(context.Background(), sess, ev, d, nil)
			Expect(err).To(MatchError(ContainSubstring("approval rejected")))

			Expect(sess.comments).To(ConsistOf(prefix + "Identical diff post-rebase."))
			Expect(sess.approvals).To(BeEmpty())
		})

		It("never reapproves a manual dismissal", func() {
			sess.timeline = []scm.TimelineEvent{
				{Event: "review_dismissed", DismissedReview: &scm.DismissedReview{
					State: "approved", ReviewID: 55, DismissalMessage: "changed my mind",
				}},
			}
			sess.reviews = []scm.Review{
				{ID: 55, User: scm.User{Login: "reviewer"}},
			}

			err := reconciler.Reconcile(context.Background(), sess, ev, d, nil)
			Expect(err).NotTo(HaveOccurred())

			Expect(sess.approvals).To(BeEmpty())
			Expect(sess.comments).To(ConsistOf(prefix + "Identical diff post-rebase."))
		})

		It("ignores a dismissal for an unrelated commit", func() {
			sess.timeline = []scm.TimelineEvent{
				{Event: "review_dismissed", DismissedReview: &scm.DismissedReview{
					State: "approved", ReviewID: 55, DismissalCommitID: "deadbeef",
				}},
			}

			err := reconciler.Reconcile(context.Background(), sess, ev, d, nil)
			Expect(err).NotTo(HaveOccurred())

			Expect(sess.approvals).To(BeEmpty())
			Expect(sess.comments).To(HaveLen(1))
		})

		It("only considers the most recent dismissal", func() {
			sess.timeline = []scm.TimelineEvent{
				{Event: "review_dismissed", DismissedReview: &scm.DismissedReview{
					State: "approved", ReviewID: 55, DismissalCommitID: beforeSHA,
				}},
				{Event: "review_dismissed", DismissedReview: &scm.DismissedReview{
					State: "approved", ReviewID: 56, DismissalMessage: "manual",
				}},
			}
			sess.reviews = []scm.Review{
				{ID: 55, User: scm.User{Login: "reviewer"}},
			}

			err := reconciler.Reconcile(context.Background(), sess, ev, d, nil)
			Expect(err).NotTo(HaveOccurred())

			Expect(sess.approvals).To(BeEmpty())
		})

		It("reapplies eligible statuses to the new commit", func() {
			ev.ReapplyStatuses = []string{"ci/slow-suite"}
			sess.statuses = []scm.Status{
				{State: "success", Context: "ci/slow-suite", Description: "42 passed"},
				{State: "failure", Context: "ci/slow-suite", Description: "stale run"},
				{State: "success", Context: "ci/lint"},
			}

			err := reconciler.Reconcile(context.Background(), sess, ev, d, nil)
			Expect(err).NotTo(HaveOccurred())

			created := sess.createdStatuses[afterSHA]
			Expect(created).To(HaveLen(1))
			Expect(created[0].Context).To(Equal("ci/slow-suite"))
			Expect(created[0].State).To(Equal("success"))
			Expect(created[0].Description).To(Equal("42 passed (reapplied by backport-bot)"))
		})

		It("does not touch statuses when the diff changed", func() {
			ev.ReapplyStatuses = []string{"ci/slow-suite"}
			sess.statuses = []scm.Status{
				{State: "success", Context: "ci/slow-suite"},
			}

			err := reconciler.Reconcile(context.Background(), sess, ev, diffs.New(diffA, diffB), nil)
			Expect(err).NotTo(HaveOccurred())

			Expect(sess.createdStatuses).To(BeEmpty())
		})
	})

	Describe("ComputeDiffs", func() {
		It("pins the before sha with a temporary branch and diffs both sides", func() {
			g := &fakeGit{
				baseCommits: map[string]string{beforeSHA: "base1", afterSHA: "base2"},
				diffs: map[string]string{
					"base1.." + beforeSHA: diffA,
					"base2.." + afterSHA:  diffA,
				},
			}
			reconciler = forcepush.NewReconciler(&fakeManager{git: g}, testLogger())

			d, err := reconciler.ComputeDiffs(context.Background(), sess, ev)
			Expect(err).NotTo(HaveOccurred())
			Expect(d.AreEqual()).To(BeTrue())

			Expect(g.checkouts).To(ConsistOf("master origin/master"))
			Expect(g.commands).To(ContainElement("fetch"))

			tempBranch := "backport-bot-my-feature-" + beforeSHA
			Expect(sess.createdBranches).To(ConsistOf(tempBranch + "@" + beforeSHA))
			Expect(sess.deletedBranches).To(ConsistOf(tempBranch))
		})
	})
})
