package diff

import (
	"strconv"
	"strings"

	"github.com/shipitai/reviewbot/vcs"
)

// Format selects how change sets are rendered for the model.
type Format string

const (
	// FormatRaw emits patches verbatim. Cheapest in tokens.
	FormatRaw Format = "raw"
	// FormatAIFriendly inlines line numbers so the model can address lines.
	FormatAIFriendly Format = "ai-friendly"
)

const (
	// FileSeparator separates files in formatted output.
	FileSeparator = "\n\n" + "==================================================" + "\n\n"
	// HunkSeparator separates hunks of one file in ai-friendly output.
	HunkSeparator = "\n-----\n"

	fileLabel = "文件: "
)

// FormatDiffs renders changes as one text blob. Unknown modes render
// ai-friendly output. includeDeletedFiles only affects ai-friendly output.
func FormatDiffs(changes []vcs.FileChange, mode Format, includeDeletedFiles bool) string {
	if mode == FormatRaw {
		return formatRaw(changes)
	}
	return formatAIFriendly(changes, includeDeletedFiles)
}

func formatRaw(changes []vcs.FileChange) string {
	sections := make([]string, 0, len(changes))
	for _, c := range changes {
		sections = append(sections, fileLabel+c.Filename+"\n"+c.Patch)
	}
	return strings.Join(sections, FileSeparator)
}

func formatAIFriendly(changes []vcs.FileChange, includeDeletedFiles bool) string {
	var sections []string

	for _, c := range changes {
		if c.Patch == "" {
			continue
		}
		if c.Status == vcs.StatusRemoved && !includeDeletedFiles {
			continue
		}

		hunks := ParseHunks(c.Patch)
		rendered := make([]string, 0, len(hunks))
		for _, h := range hunks {
			rendered = append(rendered, formatHunk(h, c.Filename))
		}
		sections = append(sections, fileLabel+c.Filename+"\n"+strings.Join(rendered, HunkSeparator))
	}

	return strings.Join(sections, FileSeparator)
}

func formatHunk(h Hunk, path string) string {
	var b strings.Builder
	b.WriteString(h.Header())

	for _, l := range h.Lines {
		info := toLineInfo(l, path)
		b.WriteString("\n")
		if info.NoNewline {
			b.WriteString(info.Content)
			continue
		}
		b.WriteString(l.Kind.Symbol())
		b.WriteString(" (")
		b.WriteString(strconv.Itoa(info.LineNumber))
		b.WriteString(") ")
		b.WriteString(info.Content)
	}

	return b.String()
}
