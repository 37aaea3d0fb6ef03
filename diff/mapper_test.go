package diff

import (
	"reflect"
	"testing"

	"github.com/shipitai/reviewbot/vcs"
)

// modified has a deletion and an addition sharing number 2 and 5.
var modified = vcs.FileChange{
	Filename: "main.go",
	Status:   vcs.StatusModified,
	Patch: "@@ -1,5 +1,5 @@\n" +
		" package main\n" +
		"-func old() {}\n" +
		"+func newFunc() {}\n" +
		" \n" +
		" var a = 1\n" +
		"-var b = 2\n" +
		"+var b = 3",
}

// deletionOnly removes two lines and adds nothing.
var deletionOnly = vcs.FileChange{
	Filename: "gone.go",
	Status:   vcs.StatusModified,
	Patch:    "@@ -5,4 +5,2 @@\n a\n-b\n-c\n d",
}

func TestMapDiffLineToActualLine(t *testing.T) {
	added := vcs.FileChange{Patch: "@@ -10,2 +10,3 @@\n ctx\n+added\n ctx2"}

	tests := []struct {
		name  string
		fc    vcs.FileChange
		line  int
		valid bool
	}{
		{"addition", added, 11, true},
		{"context", added, 10, true},
		{"trailing context", added, 12, true},
		{"not in diff", added, 50, false},
		{"first match is a deletion", modified, 2, false},
		{"deletion only", deletionOnly, 7, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MapDiffLineToActualLine(tt.fc, tt.line)
			if got.IsValid != tt.valid {
				t.Errorf("IsValid = %v, want %v", got.IsValid, tt.valid)
			}
			if got.OriginalLine != tt.line || got.ActualLine != tt.line {
				t.Errorf("got %+v, lines should pass through unchanged", got)
			}
		})
	}
}

func TestMapDiffLineToActualLine_Idempotent(t *testing.T) {
	fc := vcs.FileChange{Patch: "@@ -1,3 +1,4 @@\n a\n+b\n-c\n+d\n e"}
	for line := 0; line <= 6; line++ {
		first := MapDiffLineToActualLine(fc, line)
		if !first.IsValid {
			continue
		}
		second := MapDiffLineToActualLine(fc, first.ActualLine)
		if !second.IsValid || second.ActualLine != first.ActualLine {
			t.Errorf("line %d: remap of %+v gave %+v", line, first, second)
		}
	}
}

func TestFindNearestValidLine(t *testing.T) {
	fc := vcs.FileChange{Patch: "@@ -18,3 +18,4 @@\n a\n b\n+c\n d"}

	tests := []struct {
		name   string
		target int
		max    int
		want   int
		valid  bool
	}{
		{"exact", 20, 5, 20, true},
		{"at max distance", 15, 5, 20, true},
		{"beyond max distance", 14, 5, 14, false},
		{"after", 24, 5, 20, true},
		{"zero distance only exact", 21, 0, 21, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FindNearestValidLine(fc, tt.target, tt.max)
			if got.IsValid != tt.valid || got.ActualLine != tt.want {
				t.Errorf("FindNearestValidLine(%d, %d) = %+v, want line %d valid %v", tt.target, tt.max, got, tt.want, tt.valid)
			}
			if got.OriginalLine != tt.target {
				t.Errorf("OriginalLine = %d, want %d", got.OriginalLine, tt.target)
			}
		})
	}
}

func TestFindNearestValidLine_TieGoesToFirst(t *testing.T) {
	fc := vcs.FileChange{Patch: "@@ -10,5 +10,5 @@\n+a\n b\n c\n d\n+e\n-x\n-y"}
	got := FindNearestValidLine(fc, 12, 5)
	if !got.IsValid || got.ActualLine != 10 {
		t.Errorf("got %+v, want line 10", got)
	}
}

func TestFindNearestValidLine_NoAdditions(t *testing.T) {
	got := FindNearestValidLine(deletionOnly, 6, 100)
	if got.IsValid {
		t.Errorf("got %+v, want invalid", got)
	}
}

func TestFindLineByContent(t *testing.T) {
	fc := vcs.FileChange{Patch: "@@ -1,2 +1,5 @@\n" +
		" package main\n" +
		"+var cache = map[string]int{}\n" +
		"+\n" +
		"+func Lookup(key string) int { return cache[key] }\n" +
		" // end"}

	t.Run("keyword match", func(t *testing.T) {
		got := FindLineByContent(fc, "The Lookup function ignores missing keys", 40, DefaultMatchOptions())
		if !got.IsValid || got.ActualLine != 4 {
			t.Errorf("got %+v, want line 4", got)
		}
	})

	t.Run("first matching addition wins", func(t *testing.T) {
		got := FindLineByContent(fc, "cache grows without bound", 40, DefaultMatchOptions())
		if !got.IsValid || got.ActualLine != 2 {
			t.Errorf("got %+v, want line 2", got)
		}
	})

	t.Run("falls back to nearest", func(t *testing.T) {
		got := FindLineByContent(fc, "zzz qqq", 6, DefaultMatchOptions())
		if !got.IsValid || got.ActualLine != 4 {
			t.Errorf("got %+v, want line 4", got)
		}
	})

	t.Run("no match and too far", func(t *testing.T) {
		got := FindLineByContent(fc, "zzz qqq", 40, DefaultMatchOptions())
		if got.IsValid {
			t.Errorf("got %+v, want invalid", got)
		}
	})
}

func TestExtractKeywords(t *testing.T) {
	tests := []struct {
		name    string
		comment string
		limit   int
		want    []string
	}{
		{"drops stop words and short words", "The error, and THIS handling!!", 3, []string{"error", "handling"}},
		{"limit", "alpha beta gamma delta", 2, []string{"alpha", "beta"}},
		{"dedupes", "retry retry Retry backoff", 3, []string{"retry", "backoff"}},
		{"keeps identifiers", "rename user_id to userID", 3, []string{"rename", "user_id", "userid"}},
		{"empty", "", 3, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExtractKeywords(tt.comment, tt.limit, DefaultStopWords)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ExtractKeywords(%q) = %v, want %v", tt.comment, got, tt.want)
			}
		})
	}
}

func TestValidateAndCorrectLineNumbers(t *testing.T) {
	comments := []vcs.LineComment{
		{File: "main.go", Line: 4, Comment: "unused variable"},
		{File: "main.go", Line: 2, Comment: "rename this function"},
		{File: "gone.go", Line: 7, Comment: "why remove c"},
		{File: "unknown.go", Line: 1, Comment: "not in the diff"},
	}
	files := []vcs.FileChange{modified, deletionOnly}

	got := ValidateAndCorrectLineNumbers(comments, files, MatchOptions{
		EnableSmartMatching: true,
		MaxDistance:         5,
	})

	if len(got) != 2 {
		t.Fatalf("got %d comments, want 2: %+v", len(got), got)
	}

	if got[0].Line != 4 || got[0].Corrected {
		t.Errorf("context comment: got %+v, want line 4 uncorrected", got[0])
	}
	// Line 2 first resolves to the deletion; the nearest addition is also line 2.
	if got[1].Line != 2 || got[1].OriginalLine != 2 || got[1].Corrected {
		t.Errorf("deletion comment: got %+v, want line 2", got[1])
	}
}

func TestValidateAndCorrectLineNumbers_NeverTargetsDeletions(t *testing.T) {
	var comments []vcs.LineComment
	for line := 0; line <= 10; line++ {
		comments = append(comments,
			vcs.LineComment{File: "main.go", Line: line, Comment: "x"},
			vcs.LineComment{File: "gone.go", Line: line, Comment: "x"},
		)
	}
	files := []vcs.FileChange{modified, deletionOnly}

	for _, c := range ValidateAndCorrectLineNumbers(comments, files, DefaultMatchOptions()) {
		fc := modified
		if c.File == deletionOnly.Filename {
			fc = deletionOnly
		}
		addressable := false
		for l := range Lines(fc) {
			if l.LineNumber == c.Line && !l.IsDeletion && !l.NoNewline {
				addressable = true
				break
			}
		}
		if !addressable {
			t.Errorf("%s:%d is not an addition or context line", c.File, c.Line)
		}
	}
}

func TestValidateAndCorrectLineNumbers_SmartMatchingDisabled(t *testing.T) {
	comments := []vcs.LineComment{{File: "main.go", Line: 2, Comment: "rename"}}
	got := ValidateAndCorrectLineNumbers(comments, []vcs.FileChange{modified}, MatchOptions{})
	if len(got) != 0 {
		t.Errorf("got %+v, want nothing", got)
	}
}

func TestValidateAndCorrectLineNumbers_Corrected(t *testing.T) {
	fc := vcs.FileChange{Filename: "a.go", Patch: "@@ -1,2 +1,3 @@\n a\n+b\n c"}
	comments := []vcs.LineComment{{File: "a.go", Line: 6, Comment: "zzz"}}

	got := ValidateAndCorrectLineNumbers(comments, []vcs.FileChange{fc}, DefaultMatchOptions())
	if len(got) != 1 {
		t.Fatalf("got %+v", got)
	}
	if got[0].Line != 2 || got[0].OriginalLine != 6 || !got[0].Corrected {
		t.Errorf("got %+v, want 6 corrected to 2", got[0])
	}
}
