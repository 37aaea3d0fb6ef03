package diff

import (
	"strings"
	"testing"

	"github.com/shipitai/reviewbot/vcs"
)

func TestFormatDiffs_AIFriendly(t *testing.T) {
	changes := []vcs.FileChange{
		{Filename: "main.go", Status: vcs.StatusModified, Patch: "@@ -1,2 +1,3 @@\n line1\n+added\n line2"},
	}

	got := FormatDiffs(changes, FormatAIFriendly, false)
	want := "文件: main.go\n" +
		"@@ -1,2 +1,3 @@\n" +
		"  (1) line1\n" +
		"+ (2) added\n" +
		"  (3) line2"
	if got != want {
		t.Errorf("FormatDiffs() =\n%s\nwant:\n%s", got, want)
	}
}

func TestFormatDiffs_AIFriendlyHunksAndMarkers(t *testing.T) {
	changes := []vcs.FileChange{
		{Filename: "a.txt", Patch: "@@ -1 +1 @@\n-a\n+b\n\\ No newline at end of file"},
		{Filename: "b.txt", Patch: "@@ -1,1 +1,2 @@\n x\n+y\n@@ -10,1 +11,1 @@\n-p\n+q"},
	}

	got := FormatDiffs(changes, FormatAIFriendly, false)
	want := "文件: a.txt\n" +
		"@@ -1,1 +1,1 @@\n" +
		"- (1) a\n" +
		"+ (1) b\n" +
		"\n" + NoNewlineMarker +
		FileSeparator +
		"文件: b.txt\n" +
		"@@ -1,1 +1,2 @@\n" +
		"  (1) x\n" +
		"+ (2) y" +
		HunkSeparator +
		"@@ -10,1 +11,1 @@\n" +
		"- (10) p\n" +
		"+ (11) q"
	if got != want {
		t.Errorf("FormatDiffs() =\n%q\nwant:\n%q", got, want)
	}
}

func TestFormatDiffs_Skips(t *testing.T) {
	changes := []vcs.FileChange{
		{Filename: "removed.go", Status: vcs.StatusRemoved, Patch: "@@ -1 +0,0 @@\n-gone"},
		{Filename: "binary.png", Status: vcs.StatusModified},
		{Filename: "kept.go", Status: vcs.StatusAdded, Patch: "@@ -0,0 +1 @@\n+new"},
	}

	tests := []struct {
		name           string
		includeDeleted bool
		contains       []string
		excludes       []string
	}{
		{
			name:     "deleted files excluded by default",
			contains: []string{"文件: kept.go"},
			excludes: []string{"removed.go", "binary.png"},
		},
		{
			name:           "deleted files included on request",
			includeDeleted: true,
			contains:       []string{"文件: removed.go", "- (1) gone", "文件: kept.go"},
			excludes:       []string{"binary.png"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FormatDiffs(changes, FormatAIFriendly, tt.includeDeleted)
			for _, s := range tt.contains {
				if !strings.Contains(got, s) {
					t.Errorf("output missing %q:\n%s", s, got)
				}
			}
			for _, s := range tt.excludes {
				if strings.Contains(got, s) {
					t.Errorf("output should not contain %q:\n%s", s, got)
				}
			}
		})
	}
}

func TestFormatDiffs_Raw(t *testing.T) {
	changes := []vcs.FileChange{
		{Filename: "a.go", Patch: "@@ -1 +1 @@\n-x\n+y"},
		{Filename: "b.go", Status: vcs.StatusRemoved, Patch: "@@ -1 +0,0 @@\n-z"},
	}

	got := FormatDiffs(changes, FormatRaw, false)
	want := "文件: a.go\n@@ -1 +1 @@\n-x\n+y" + FileSeparator + "文件: b.go\n@@ -1 +0,0 @@\n-z"
	if got != want {
		t.Errorf("FormatDiffs(raw) = %q, want %q", got, want)
	}
}

func TestFormatDiffs_Empty(t *testing.T) {
	for _, mode := range []Format{FormatRaw, FormatAIFriendly} {
		if got := FormatDiffs(nil, mode, true); got != "" {
			t.Errorf("FormatDiffs(nil, %s) = %q, want empty", mode, got)
		}
	}
}

func TestFormatDiffs_UnknownModeIsAIFriendly(t *testing.T) {
	changes := []vcs.FileChange{{Filename: "a.go", Patch: "@@ -1 +1 @@\n-x\n+y"}}
	if FormatDiffs(changes, "fancy", false) != FormatDiffs(changes, FormatAIFriendly, false) {
		t.Error("unknown mode should render ai-friendly output")
	}
}
