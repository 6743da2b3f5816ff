// Package diffs compares two unified diffs for semantic equality, ignoring
// metadata such as index lines and hunk headers that shift whenever the base
// commit moves.
package diffs

import (
	"github.com/waigani/diffparser"
)

// DiffOfDiffs holds two parsed diffs for comparison. Construction never
// fails; inputs that do not parse fall back to raw string comparison.
type DiffOfDiffs struct {
	raw0 string
	raw1 string

	parsed0 *diffparser.Diff
	parsed1 *diffparser.Diff
}

// New parses both diff texts. Parse failures are tolerated and recorded as
// nil so the comparison can degrade to exact string equality.
func New(diff0, diff1 string) *DiffOfDiffs {
	return &DiffOfDiffs{
		raw0:    diff0,
		raw1:    diff1,
		parsed0: parseOrNil(diff0),
		parsed1: parseOrNil(diff1),
	}
}

func parseOrNil(text string) *diffparser.Diff {
	parsed, err := diffparser.Parse(text)
	if err != nil {
		return nil
	}
	return parsed
}

// AreEqual reports whether the two diffs describe the same change. When
// either side failed to parse or parsed to an empty file set, only exact
// string equality counts.
func (d *DiffOfDiffs) AreEqual() bool {
	if d.parsed0 == nil || d.parsed1 == nil {
		return d.raw0 == d.raw1
	}
	if len(d.parsed0.Files) == 0 || len(d.parsed1.Files) == 0 {
		return d.raw0 == d.raw1
	}
	return filesEqual(d.parsed0.Files, d.parsed1.Files)
}

// DifferentPatchFiles returns the paths of files whose patches differ
// between the two diffs, in diff order. Returns nil when either side failed
// to parse.
func (d *DiffOfDiffs) DifferentPatchFiles() []string {
	if d.parsed0 == nil || d.parsed1 == nil {
		return nil
	}

	files0 := d.parsed0.Files
	files1 := d.parsed1.Files

	max := len(files0)
	if len(files1) > max {
		max = len(files1)
	}

	var different []string
	for i := 0; i < max; i++ {
		switch {
		case i >= len(files0):
			different = append(different, fileName(files1[i]))
		case i >= len(files1):
			different = append(different, fileName(files0[i]))
		case !fileEqual(files0[i], files1[i]):
			different = append(different, fileName(files0[i]))
		}
	}
	return different
}

func fileName(f *diffparser.DiffFile) string {
	if f.Mode == diffparser.DELETED {
		return f.OrigName
	}
	return f.NewName
}

func filesEqual(files0, files1 []*diffparser.DiffFile) bool {
	if len(files0) != len(files1) {
		return false
	}
	for i := range files0 {
		if !fileEqual(files0[i], files1[i]) {
			return false
		}
	}
	return true
}

// fileEqual compares two file patches positionally on hunk count and per-line
// (mode, content). File names and modes are metadata a rebase may rewrite and
// do not participate; names only matter for DifferentPatchFiles output.
func fileEqual(f0, f1 *diffparser.DiffFile) bool {
	if len(f0.Hunks) != len(f1.Hunks) {
		return false
	}
	for i := range f0.Hunks {
		if !hunkEqual(f0.Hunks[i], f1.Hunks[i]) {
			return false
		}
	}
	return true
}

func hunkEqual(h0, h1 *diffparser.DiffHunk) bool {
	lines0 := h0.WholeRange.Lines
	lines1 := h1.WholeRange.Lines
	if len(lines0) != len(lines1) {
		return false
	}
	for i := range lines0 {
		if lines0[i].Mode != lines1[i].Mode || lines0[i].Content != lines1[i].Content {
			return false
		}
	}
	return true
}
