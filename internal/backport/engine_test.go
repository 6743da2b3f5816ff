package backport_test

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/mergewell/backport-bot/internal/backport"
	"github.com/mergewell/backport-bot/internal/git"
	"github.com/mergewell/backport-bot/internal/notify"
	"github.com/mergewell/backport-bot/internal/scm"
)

type fakeGit struct {
	commands       []string
	remoteBranches map[string]bool
	failPicks      int
	pickAttempts   int
	authorName     string
	authorEmail    string
	commitTitle    string
	commitBody     string
	amendedMessage string
	checkouts      []string
}

var _ git.Service = (*fakeGit)(nil)

func (f *fakeGit) Dir() string { return "/fake" }

func (f *fakeGit) Run(ctx context.Context, args ...string) (string, error) {
	cmd := strings.Join(args, " ")
	f.commands = append(f.commands, cmd)
	if strings.Contains(cmd, "cherry-pick") {
		f.pickAttempts++
		if f.pickAttempts <= f.failPicks {
			return "", &git.ProcessError{Args: args, ExitCode: 1, Output: "error: could not apply " + args[len(args)-1]}
		}
	}
	return "", nil
}

func (f *fakeGit) RunWithStdin(ctx context.Context, stdin string, args ...string) (string, error) {
	f.commands = append(f.commands, strings.Join(args, " "))
	if strings.Contains(strings.Join(args, " "), "--amend") {
		f.amendedMessage = stdin
	}
	return "", nil
}

func (f *fakeGit) CurrentBranch(ctx context.Context) (string, error) { return "", nil }
func (f *fakeGit) CurrentCommit(ctx context.Context) (string, error) { return "", nil }
func (f *fakeGit) HasBranch(ctx context.Context, branch string) (bool, error) {
	return false, nil
}
func (f *fakeGit) HasRemoteBranch(ctx context.Context, branch string) (bool, error) {
	return f.remoteBranches[branch], nil
}
func (f *fakeGit) DoesBranchContain(ctx context.Context, ref, branch string) (bool, error) {
	return false, nil
}
func (f *fakeGit) FindBaseBranchCommit(ctx context.Context, leafRef, baseBranch string) (string, error) {
	return "", nil
}
func (f *fakeGit) Clean(ctx context.Context) error { return nil }
func (f *fakeGit) CheckoutBranch(ctx context.Context, name, sourceRef string) error {
	f.checkouts = append(f.checkouts, name+" "+sourceRef)
	return nil
}
func (f *fakeGit) Diff(ctx context.Context, base, head, whitespaceFlag string) (string, error) {
	return "", nil
}
func (f *fakeGit) GetCommitDesc(ctx context.Context, commit string) (string, string, error) {
	return f.commitTitle, f.commitBody, nil
}
func (f *fakeGit) GetCommitAuthor(ctx context.Context, commit string) (string, string, error) {
	return f.authorName, f.authorEmail, nil
}

type fakeManager struct {
	git *fakeGit
}

func (m *fakeManager) WithWorkspace(ctx context.Context, sess scm.Session, owner, repo string, fn func(git.Service) error) error {
	return fn(m.git)
}

func (m *fakeManager) Clean(expiration time.Duration) {}

type createdPR struct {
	title, body, head, base string
}

type fakeSession struct {
	scm.Session

	created        []createdPR
	nextPRNumber   int
	comments       map[int][]string
	assigned       map[int][]string
	reviewRequests map[int][]string
	labels         map[int][]string
}

func newFakeSession() *fakeSession {
	return &fakeSession{
		nextPRNumber:   100,
		comments:       map[int][]string{},
		assigned:       map[int][]string{},
		reviewRequests: map[int][]string{},
		labels:         map[int][]string{},
	}
}

func (s *fakeSession) Host() string  { return "github.com" }
func (s *fakeSession) Token() string { return "secret" }

func (s *fakeSession) CreatePullRequest(ctx context.Context, owner, repo, title, body, head, base string) (scm.PullRequest, error) {
	s.created = append(s.created, createdPR{title: title, body: body, head: head, base: base})
	return scm.PullRequest{Number: s.nextPRNumber, Title: title, Head: scm.BranchRef{Ref: head}, Base: scm.BranchRef{Ref: base}}, nil
}

func (s *fakeSession) Comment(ctx context.Context, owner, repo string, number int, body string) error {
	s.comments[number] = append(s.comments[number], body)
	return nil
}

func (s *fakeSession) Assign(ctx context.Context, owner, repo string, number int, assignees []string) error {
	s.assigned[number] = append(s.assigned[number], assignees...)
	return nil
}

func (s *fakeSession) RequestReview(ctx context.Context, owner, repo string, number int, logins []string) error {
	s.reviewRequests[number] = append(s.reviewRequests[number], logins...)
	return nil
}

func (s *fakeSession) AddLabels(ctx context.Context, owner, repo string, number int, labels []string) error {
	s.labels[number] = append(s.labels[number], labels...)
	return nil
}

type sentMessage struct {
	recipient   string
	text        string
	attachments []notify.Attachment
}

type fakeNotifier struct {
	sent []sentMessage
}

func (n *fakeNotifier) Send(ctx context.Context, recipient, text string, attachments []notify.Attachment) error {
	n.sent = append(n.sent, sentMessage{recipient: recipient, text: text, attachments: attachments})
	return nil
}

var _ = Describe("Engine", func() {
	var (
		g        *fakeGit
		sess     *fakeSession
		notifier *fakeNotifier
		engine   *backport.Engine
		req      backport.Request
	)

	BeforeEach(func() {
		g = &fakeGit{
			remoteBranches: map[string]bool{},
			authorName:     "Jo Dev",
			authorEmail:    "jo@example.com",
			commitTitle:    "Add feature (#42)",
			commitBody:     "some details",
		}
		sess = newFakeSession()
		notifier = &fakeNotifier{}
		log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
		engine = backport.NewEngine(&fakeManager{git: g}, notifier, "#backports", log)

		req = backport.Request{
			Owner: "some-org",
			Repo:  "some-repo",
			PullRequest: scm.PullRequest{
				Number:         42,
				Title:          "Add feature (#42)",
				HTMLURL:        "https://example.com/pr/42",
				User:           scm.User{Login: "author"},
				Merged:         true,
				MergeCommitSHA: "abcdef1234567890",
				Head:           scm.BranchRef{Ref: "my-feature"},
				Base:           scm.BranchRef{Ref: "master"},
				Assignees:      []scm.User{{Login: "assignee1"}},
				RequestedReviewers: []scm.User{
					{Login: "reviewer1"},
				},
				Reviews: []scm.Review{
					{User: scm.User{Login: "reviewer2"}, State: "APPROVED"},
					{User: scm.User{Login: "author"}, State: "COMMENTED"},
				},
			},
			TargetBranch:        "release/1.0",
			ReleaseBranchPrefix: "release/",
		}
	})

	Describe("a clean cherry-pick", func() {
		It("opens a backport PR without a whitespace warning", func() {
			Expect(engine.Process(context.Background(), sess, req)).To(Succeed())

			Expect(sess.created).To(HaveLen(1))
			pr := sess.created[0]
			Expect(pr.title).To(Equal("master->1.0: Add feature"))
			Expect(pr.body).To(Equal("some details\n\n(cherry-picked from abcdef1234567890, PR #42)"))
			Expect(pr.head).To(Equal("my-feature-1.0"))
			Expect(pr.base).To(Equal("release/1.0"))

			Expect(g.checkouts).To(ConsistOf("my-feature-1.0 origin/release/1.0"))
			Expect(g.commands).To(ContainElement("push origin HEAD:my-feature-1.0"))
			Expect(g.amendedMessage).To(HavePrefix("master->1.0: Add feature\n\n"))

			// No comments anywhere: no warning, no failure.
			Expect(sess.comments).To(BeEmpty())
			Expect(notifier.sent).To(BeEmpty())
		})

		It("propagates assignees and reviewers without the author", func() {
			Expect(engine.Process(context.Background(), sess, req)).To(Succeed())

			Expect(sess.assigned[100]).To(Equal([]string{"assignee1"}))
			Expect(sess.reviewRequests[100]).To(Equal([]string{"reviewer1", "reviewer2"}))
		})

		It("sets the commit author on the pick and the amend", func() {
			Expect(engine.Process(context.Background(), sess, req)).To(Succeed())

			var pick string
			for _, cmd := range g.commands {
				if strings.Contains(cmd, "cherry-pick") {
					pick = cmd
				}
			}
			Expect(pick).To(ContainSubstring("-c user.email=jo@example.com -c user.name=Jo Dev"))
			Expect(pick).To(ContainSubstring("-c merge.renameLimit=999999"))
			Expect(pick).To(ContainSubstring("cherry-pick --allow-empty abcdef1234567890"))
		})
	})

	Describe("whitespace escalation", func() {
		It("retries with ignore-space-change and warns on the new PR", func() {
			g.failPicks = 1

			Expect(engine.Process(context.Background(), sess, req)).To(Succeed())

			Expect(sess.created).To(HaveLen(1))
			Expect(sess.comments[100]).To(ConsistOf(
				"Cherry-pick required option `ignore-space-change`. Please verify correctness."))

			var picks []string
			for _, cmd := range g.commands {
				if strings.Contains(cmd, "cherry-pick") {
					picks = append(picks, cmd)
				}
			}
			Expect(picks).To(HaveLen(2))
			Expect(picks[0]).NotTo(ContainSubstring("-X"))
			Expect(picks[1]).To(ContainSubstring("-X ignore-space-change"))
		})

		It("falls back to ignore-all-space as the last resort", func() {
			g.failPicks = 2

			Expect(engine.Process(context.Background(), sess, req)).To(Succeed())

			Expect(sess.comments[100]).To(ConsistOf(
				"Cherry-pick required option `ignore-all-space`. Please verify correctness."))
		})
	})

	Describe("total failure", func() {
		It("comments and labels the original PR instead of opening one", func() {
			g.failPicks = 3

			Expect(engine.Process(context.Background(), sess, req)).To(Succeed())

			Expect(sess.created).To(BeEmpty())

			Expect(sess.comments[42]).To(HaveLen(1))
			comment := sess.comments[42][0]
			Expect(comment).To(HavePrefix("Error backporting PR from my-feature to release/1.0"))
			Expect(comment).To(ContainSubstring("<details>"))
			Expect(comment).To(ContainSubstring("could not apply"))

			Expect(sess.labels[42]).To(ConsistOf("failed-backport"))

			Expect(notifier.sent).To(HaveLen(1))
			Expect(notifier.sent[0].recipient).To(Equal("#backports"))
			Expect(notifier.sent[0].attachments).To(HaveLen(1))
			Expect(notifier.sent[0].attachments[0].Color).To(Equal("danger"))
		})

		It("resets the tree before every attempt", func() {
			g.failPicks = 3

			Expect(engine.Process(context.Background(), sess, req)).To(Succeed())

			var resets int
			for _, cmd := range g.commands {
				if cmd == "reset --hard" {
					resets++
				}
			}
			Expect(resets).To(Equal(3))
		})
	})

	Describe("preconditions", func() {
		It("rejects an unmerged pull request", func() {
			req.PullRequest.Merged = false

			Expect(engine.Process(context.Background(), sess, req)).To(Succeed())
			Expect(sess.created).To(BeEmpty())
			Expect(sess.comments[42][0]).To(ContainSubstring("not yet merged"))
			Expect(sess.labels[42]).To(ConsistOf("failed-backport"))
		})

		It("rejects a pull request without a merge commit", func() {
			req.PullRequest.MergeCommitSHA = ""

			Expect(engine.Process(context.Background(), sess, req)).To(Succeed())
			Expect(sess.created).To(BeEmpty())
			Expect(sess.comments[42][0]).To(ContainSubstring("no merge commit"))
		})

		It("refuses to clobber an existing remote branch", func() {
			g.remoteBranches["my-feature-1.0"] = true

			Expect(engine.Process(context.Background(), sess, req)).To(Succeed())
			Expect(sess.created).To(BeEmpty())
			Expect(sess.comments[42][0]).To(ContainSubstring("already exists on origin"))
		})
	})
})
