// Package labels derives backport target branches from pull request labels.
package labels

import (
	"errors"
	"fmt"
	"strings"
)

// Target is a release branch requested through a backport label.
type Target struct {
	LabelName string
	Branch    string
}

var errEmptyPrefix = errors.New("label prefix cannot be empty")

// CollectTargets scans label names for the given prefix and returns the
// requested branches, deduplicated, in first-seen order.
func CollectTargets(labelNames []string, prefix string) ([]Target, error) {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return nil, errEmptyPrefix
	}

	seen := make(map[string]struct{})
	var targets []Target
	for _, name := range labelNames {
		branch := branchFromLabel(name, prefix)
		if branch == "" {
			continue
		}
		if _, dup := seen[branch]; dup {
			continue
		}
		seen[branch] = struct{}{}
		targets = append(targets, Target{LabelName: name, Branch: branch})
	}
	return targets, nil
}

// branchFromLabel returns the normalized branch named by the label, or empty
// when the label does not match the prefix or names nothing usable.
func branchFromLabel(labelName, prefix string) string {
	labelName = strings.TrimSpace(labelName)
	if !strings.HasPrefix(strings.ToLower(labelName), strings.ToLower(prefix)) {
		return ""
	}
	return NormalizeBranch(labelName[len(prefix):])
}

// ValidateTargets rejects branch names that could smuggle git arguments or
// path traversal.
func ValidateTargets(targets []Target) error {
	for _, t := range targets {
		if err := validateBranchName(t.Branch); err != nil {
			return fmt.Errorf("invalid branch %q from label %q: %w", t.Branch, t.LabelName, err)
		}
	}
	return nil
}

func validateBranchName(branch string) error {
	switch {
	case branch == "":
		return errors.New("branch cannot be empty")
	case strings.ContainsAny(branch, " \t\n\r"):
		return errors.New("branch cannot contain whitespace")
	case strings.Contains(branch, ".."):
		return errors.New("branch cannot contain '..'")
	case strings.ContainsAny(branch, "~^:?*[]@{\\"):
		return errors.New("branch contains forbidden git characters")
	}
	return nil
}

// Branches returns the branch names of the targets, in order.
func Branches(targets []Target) []string {
	branches := make([]string, 0, len(targets))
	for _, t := range targets {
		branches = append(branches, t.Branch)
	}
	return branches
}

// NormalizeBranch trims whitespace and slashes and strips a refs/heads/
// prefix. Returns empty when nothing usable remains.
func NormalizeBranch(branch string) string {
	branch = strings.Trim(strings.TrimSpace(branch), "/")

	const refsHeads = "refs/heads/"
	if len(branch) >= len(refsHeads) && strings.EqualFold(branch[:len(refsHeads)], refsHeads) {
		branch = branch[len(refsHeads):]
	}
	return strings.TrimSpace(branch)
}
