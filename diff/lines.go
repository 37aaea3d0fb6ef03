package diff

import (
	"iter"
	"slices"

	"github.com/shipitai/reviewbot/vcs"
)

// LineInfo is one physical line of a parsed patch.
//
// LineNumber is the new-file number for additions and context lines and the
// old-file number for deletions. The no-newline marker carries no number and
// its Content is the marker text prefixed with a newline.
type LineInfo struct {
	LineNumber int
	IsAddition bool
	IsDeletion bool
	NoNewline  bool
	Content    string
	FilePath   string
}

// IsContext reports whether the line is an unchanged context line.
func (l LineInfo) IsContext() bool {
	return !l.IsAddition && !l.IsDeletion && !l.NoNewline
}

// Lines yields the lines of fc's patch in hunk order. The sequence is a pure
// function of fc and can be ranged over any number of times.
func Lines(fc vcs.FileChange) iter.Seq[LineInfo] {
	return func(yield func(LineInfo) bool) {
		for _, h := range ParseHunks(fc.Patch) {
			for _, l := range h.Lines {
				if !yield(toLineInfo(l, fc.Filename)) {
					return
				}
			}
		}
	}
}

// ParseDiffLines returns every line of fc's patch in hunk order.
func ParseDiffLines(fc vcs.FileChange) []LineInfo {
	return slices.Collect(Lines(fc))
}

func toLineInfo(l HunkLine, path string) LineInfo {
	info := LineInfo{FilePath: path, Content: l.Content}

	switch l.Kind {
	case KindAddition:
		info.IsAddition = true
		info.LineNumber = l.NewNumber
	case KindDeletion:
		info.IsDeletion = true
		info.LineNumber = l.OldNumber
	case KindNoNewline:
		info.NoNewline = true
		info.Content = "\n" + l.Content
	default:
		info.LineNumber = l.NewNumber
		if info.LineNumber <= 0 {
			info.LineNumber = l.OldNumber
		}
	}

	return info
}

// additions yields only the added lines of fc.
func additions(fc vcs.FileChange) iter.Seq[LineInfo] {
	return func(yield func(LineInfo) bool) {
		for l := range Lines(fc) {
			if l.IsAddition && !yield(l) {
				return
			}
		}
	}
}
