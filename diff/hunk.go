// Package diff parses unified diffs into addressable lines, reconciles
// reviewer-proposed line numbers with the new file, and renders change sets
// as text for a language model.
package diff

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// NoNewlineMarker is the annotation git emits after a final line without a
// trailing newline.
const NoNewlineMarker = `\ No newline at end of file`

// hunkHeaderRegex matches unified diff hunk headers like "@@ -10,5 +15,7 @@"
var hunkHeaderRegex = regexp.MustCompile(`^@@ -(\d+)(?:,(\d+))? \+(\d+)(?:,(\d+))? @@`)

// LineKind classifies a line inside a hunk.
type LineKind int

const (
	KindContext LineKind = iota
	KindAddition
	KindDeletion
	KindNoNewline
)

// Symbol returns the diff marker for the kind, or "" for annotations.
func (k LineKind) Symbol() string {
	switch k {
	case KindAddition:
		return "+"
	case KindDeletion:
		return "-"
	case KindContext:
		return " "
	default:
		return ""
	}
}

// HunkLine is one line of a hunk. OldNumber is zero for additions and
// NewNumber is zero for deletions; both are zero for the no-newline marker.
type HunkLine struct {
	Kind      LineKind
	OldNumber int
	NewNumber int
	Content   string
}

// Hunk is a contiguous block of a unified diff sharing one @@ header.
type Hunk struct {
	OldStart int
	OldLines int
	NewStart int
	NewLines int
	Lines    []HunkLine
}

// Header renders the normalized hunk header.
func (h Hunk) Header() string {
	return fmt.Sprintf("@@ -%d,%d +%d,%d @@", h.OldStart, h.OldLines, h.NewStart, h.NewLines)
}

// ParseHunks parses the hunks of a single-file patch. Anything before the
// first hunk header (file headers, index lines) is ignored, as is anything
// after a hunk has consumed all the lines its header announced.
func ParseHunks(patch string) []Hunk {
	if patch == "" {
		return nil
	}

	var hunks []Hunk
	cur := -1
	var oldLine, newLine, oldLeft, newLeft int

	for _, raw := range strings.Split(strings.TrimSuffix(patch, "\n"), "\n") {
		line := strings.TrimSuffix(raw, "\r")

		if m := hunkHeaderRegex.FindStringSubmatch(line); m != nil {
			h := Hunk{
				OldStart: atoi(m[1], 0),
				OldLines: atoi(m[2], 1),
				NewStart: atoi(m[3], 0),
				NewLines: atoi(m[4], 1),
			}
			hunks = append(hunks, h)
			cur = len(hunks) - 1
			oldLine, newLine = h.OldStart, h.NewStart
			oldLeft, newLeft = h.OldLines, h.NewLines
			continue
		}

		if cur < 0 {
			continue
		}

		if strings.HasPrefix(line, `\`) {
			hunks[cur].Lines = append(hunks[cur].Lines, HunkLine{Kind: KindNoNewline, Content: line})
			continue
		}

		if oldLeft <= 0 && newLeft <= 0 {
			continue
		}

		switch {
		case strings.HasPrefix(line, "+"):
			hunks[cur].Lines = append(hunks[cur].Lines, HunkLine{
				Kind:      KindAddition,
				NewNumber: newLine,
				Content:   line[1:],
			})
			newLine++
			newLeft--
		case strings.HasPrefix(line, "-"):
			hunks[cur].Lines = append(hunks[cur].Lines, HunkLine{
				Kind:      KindDeletion,
				OldNumber: oldLine,
				Content:   line[1:],
			})
			oldLine++
			oldLeft--
		case strings.HasPrefix(line, " ") || line == "":
			content := line
			if content != "" {
				content = content[1:]
			}
			hunks[cur].Lines = append(hunks[cur].Lines, HunkLine{
				Kind:      KindContext,
				OldNumber: oldLine,
				NewNumber: newLine,
				Content:   content,
			})
			oldLine++
			newLine++
			oldLeft--
			newLeft--
		}
	}

	return hunks
}

func atoi(s string, fallback int) int {
	if s == "" {
		return fallback
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return fallback
	}
	return n
}
