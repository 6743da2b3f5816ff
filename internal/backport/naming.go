package backport

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	// Trailing "(#123)" markers appended by squash merges, possibly stacked.
	prNumberSuffixRE = regexp.MustCompile(`(\s*\(#\d+\))+$`)
	// "base->target: " prefixes left by earlier backports, possibly stacked.
	mergePrefixRE = regexp.MustCompile(`^([^:]+->[^:]+: )+`)
	// Conventional commit subject: type, optional scope, optional breaking mark.
	conventionalRE = regexp.MustCompile(`^([A-Za-z]+)(\([^()]+\))?(!)?: (.+)$`)
	// Everything up to and including the last slash.
	lastSegmentRE = regexp.MustCompile(`.*/`)
)

// BranchName derives the name of the branch the backport is pushed to, from
// the leaf names of the source head and the target branch.
func BranchName(headRef, targetBranch string) string {
	return fmt.Sprintf("%s-%s",
		lastSegmentRE.ReplaceAllString(headRef, ""),
		lastSegmentRE.ReplaceAllString(targetBranch, ""))
}

// MergeDescription derives the title and body for a backport pull request
// from the original commit description.
//
// The title strips trailing PR-number markers and any previous backport
// prefixes, then re-prefixes with "{base}->{target}: ". A conventional
// commit prefix on the subject is preserved in front. The release branch
// prefix is stripped from both branch names to keep titles short.
func MergeDescription(origTitle, origBody, commitHash string, prNumber int, targetBranch, origBaseBranch, releaseBranchPrefix string) (string, string) {
	title := prNumberSuffixRE.ReplaceAllString(origTitle, "")
	title = mergePrefixRE.ReplaceAllString(title, "")

	var prefix string
	if m := conventionalRE.FindStringSubmatch(title); m != nil {
		prefix = m[1] + m[2] + m[3] + ": "
		title = m[4]
	}

	if releaseBranchPrefix != "" {
		targetBranch = strings.TrimPrefix(targetBranch, releaseBranchPrefix)
		origBaseBranch = strings.TrimPrefix(origBaseBranch, releaseBranchPrefix)
	}

	newTitle := fmt.Sprintf("%s%s->%s: %s", prefix, origBaseBranch, targetBranch, title)

	body := origBody
	if body != "" {
		body += "\n\n"
	}
	body += fmt.Sprintf("(cherry-picked from %s, PR #%d)", commitHash, prNumber)

	return newTitle, body
}
