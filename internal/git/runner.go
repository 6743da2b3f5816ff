package git

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// askPassHelper is the credential-prompt helper binary expected to live next
// to the main executable. See cmd/backport-askpass.
const askPassHelper = "backport-askpass"

// Runner invokes the git binary with the working directory fixed at
// construction. One Runner is bound to exactly one working copy; exclusivity
// of that directory is the caller's responsibility (see internal/dirpool).
type Runner struct {
	// Git is the git binary to execute. Defaults to "git" when empty.
	Git string

	// AskPass overrides the credential helper path. When empty, the helper is
	// resolved next to the current executable.
	AskPass string

	host  string
	token string
	dir   string
}

// NewRunner returns a Runner for the given remote host and access token,
// operating in dir. The token is only ever handed to git via the askpass
// environment contract, never as a command-line argument.
func NewRunner(host, token, dir string) *Runner {
	return &Runner{host: host, token: token, dir: dir}
}

var _ Service = (*Runner)(nil)

// Dir returns the working directory this runner is bound to.
func (r *Runner) Dir() string {
	return r.dir
}

// Run executes git with the given arguments and returns its trimmed output.
func (r *Runner) Run(ctx context.Context, args ...string) (string, error) {
	return r.doRun(ctx, "", false, args)
}

// RunWithStdin is Run with the given string piped to git's stdin.
func (r *Runner) RunWithStdin(ctx context.Context, stdin string, args ...string) (string, error) {
	return r.doRun(ctx, stdin, true, args)
}

// CurrentBranch returns the abbreviated name of the checked-out branch.
func (r *Runner) CurrentBranch(ctx context.Context) (string, error) {
	return r.Run(ctx, "rev-parse", "--abbrev-ref", "HEAD")
}

// CurrentCommit returns the sha of HEAD.
func (r *Runner) CurrentCommit(ctx context.Context) (string, error) {
	return r.Run(ctx, "rev-parse", "HEAD")
}

// HasBranch reports whether a local branch with the given name exists.
func (r *Runner) HasBranch(ctx context.Context, branch string) (bool, error) {
	output, err := r.Run(ctx, "branch")
	if err != nil {
		return false, err
	}
	return branchesOutputContains(output, branch), nil
}

// HasRemoteBranch reports whether the remote has a branch with the exact
// given name.
func (r *Runner) HasRemoteBranch(ctx context.Context, branch string) (bool, error) {
	output, err := r.Run(ctx, "ls-remote", "--heads")
	if err != nil {
		return false, err
	}
	suffix := fmt.Sprintf("refs/heads/%s", branch)
	for _, line := range strings.Split(output, "\n") {
		if strings.HasSuffix(line, suffix) {
			return true, nil
		}
	}
	return false, nil
}

// DoesBranchContain reports whether branch contains ref in its history.
func (r *Runner) DoesBranchContain(ctx context.Context, ref, branch string) (bool, error) {
	output, err := r.Run(ctx, "branch", "--contains", ref)
	if err != nil {
		return false, err
	}
	return branchesOutputContains(output, branch), nil
}

// branchesOutputContains matches a branch name against `git branch` output.
// The current branch is printed with a "* " prefix, and other entries are
// aligned with two leading spaces when any asterisk is present.
func branchesOutputContains(output, branch string) bool {
	for _, line := range strings.Split(output, "\n") {
		if line == branch {
			return true
		}
		if len(line) > 2 && line[2:] == branch {
			return true
		}
	}
	return false
}

// FindBaseBranchCommit finds the commit at which leafRef forked from
// baseBranch. The fork-point lookup depends on reflog state that is often
// missing in fresh clones, so any failure falls back to a plain merge-base.
func (r *Runner) FindBaseBranchCommit(ctx context.Context, leafRef, baseBranch string) (string, error) {
	base, err := r.Run(ctx, "merge-base", "--fork-point", baseBranch, leafRef)
	if err == nil {
		return base, nil
	}
	return r.Run(ctx, "merge-base", baseBranch, leafRef)
}

// Clean discards all local modifications and untracked files.
func (r *Runner) Clean(ctx context.Context) error {
	if _, err := r.Run(ctx, "reset", "--hard"); err != nil {
		return err
	}
	if _, err := r.Run(ctx, "clean", "-fdx"); err != nil {
		return err
	}
	return nil
}

// CheckoutBranch force-creates or resets a local branch named name pointing
// at sourceRef. sourceRef may be a commit hash or an origin/branch ref.
func (r *Runner) CheckoutBranch(ctx context.Context, name, sourceRef string) error {
	_, err := r.Run(ctx, "checkout", "-B", name, sourceRef)
	return err
}

// Diff returns the diff between base and head. A non-empty whitespaceFlag
// (e.g. "-w") is appended to the git invocation.
func (r *Runner) Diff(ctx context.Context, base, head, whitespaceFlag string) (string, error) {
	args := []string{"diff", base, head}
	if whitespaceFlag != "" {
		args = append(args, whitespaceFlag)
	}
	return r.Run(ctx, args...)
}

// GetCommitDesc returns the commit's title (first message line) and body
// (remaining lines after skipping leading blanks).
func (r *Runner) GetCommitDesc(ctx context.Context, commit string) (string, string, error) {
	message, err := r.Run(ctx, "log", "-1", "--pretty=%B", commit)
	if err != nil {
		return "", "", err
	}

	lines := strings.Split(message, "\n")
	title := lines[0]

	rest := lines[1:]
	for len(rest) > 0 && strings.TrimSpace(rest[0]) == "" {
		rest = rest[1:]
	}

	return title, strings.Join(rest, "\n"), nil
}

// GetCommitAuthor returns the commit's author name and email.
func (r *Runner) GetCommitAuthor(ctx context.Context, commit string) (string, string, error) {
	message, err := r.Run(ctx, "log", "-1", "--pretty=%an\n%ae", commit)
	if err != nil {
		return "", "", err
	}

	lines := strings.SplitN(message, "\n", 2)
	name := lines[0]
	email := ""
	if len(lines) > 1 {
		email = strings.TrimSpace(lines[1])
	}
	return name, email, nil
}

func (r *Runner) gitBinary() string {
	if r.Git == "" {
		return "git"
	}
	return r.Git
}

func (r *Runner) askPassPath() string {
	if r.AskPass != "" {
		return r.AskPass
	}
	exe, err := os.Executable()
	if err != nil {
		return askPassHelper
	}
	return filepath.Join(filepath.Dir(exe), askPassHelper)
}

func (r *Runner) doRun(ctx context.Context, stdin string, hasStdin bool, args []string) (string, error) {
	cmd := exec.Command(r.gitBinary(), args...)
	cmd.Dir = r.dir
	setProcessGroup(cmd)

	if hasStdin {
		cmd.Stdin = strings.NewReader(stdin)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	// The token travels only through the askpass contract. GIT_CHERRY_PICK_HELP
	// is the only way to silence the conflict advice git prints on stderr.
	cmd.Env = append(os.Environ(),
		"GIT_ASKPASS="+r.askPassPath(),
		"GIT_CHERRY_PICK_HELP=",
		"BACKPORT_HOST="+r.host,
		"BACKPORT_PASS="+r.token,
	)

	if err := cmd.Start(); err != nil {
		return "", &ProcessError{Args: args, Output: stderr.String(), ExitCode: -1, Err: err}
	}

	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()

	var waitErr error
	select {
	case <-ctx.Done():
		terminateProcessGroup(cmd)
		<-done
		return "", ctx.Err()
	case waitErr = <-done:
	}

	output := stdout.String()
	if waitErr != nil && stderr.Len() > 0 {
		output += stderr.String()
	}
	output = filterAdvisoryLines(output)

	if waitErr != nil {
		code := -1
		if exitErr, ok := waitErr.(*exec.ExitError); ok {
			code = exitErr.ExitCode()
		}
		return "", &ProcessError{Args: args, Output: output, ExitCode: code, Err: waitErr}
	}

	return strings.TrimSpace(output), nil
}

// filterAdvisoryLines drops progress chatter that git writes for terminals
// and that no configuration option can suppress.
func filterAdvisoryLines(output string) string {
	lines := strings.Split(output, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if strings.Contains(line, "Performing inexact rename detection: ") {
			continue
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, "\n")
}

// ProcessError wraps a nonzero git exit, carrying the captured output.
type ProcessError struct {
	Args     []string
	Output   string
	ExitCode int
	Err      error
}

func (e *ProcessError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("git %s (exit code %d): %v\n%s", strings.Join(e.Args, " "), e.ExitCode, e.Err, e.Output)
}

func (e *ProcessError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}
