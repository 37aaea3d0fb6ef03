package diff

import (
	"testing"

	"github.com/shipitai/reviewbot/vcs"
)

func TestParseDiffLines(t *testing.T) {
	type want struct {
		line int
		kind LineKind
	}

	tests := []struct {
		name  string
		patch string
		want  []want
	}{
		{
			name: "simple addition",
			patch: `@@ -10,3 +10,5 @@ func main() {
 	fmt.Println("existing")
+	fmt.Println("new line 1")
+	fmt.Println("new line 2")
 	fmt.Println("also existing")
 }`,
			want: []want{
				{10, KindContext}, {11, KindAddition}, {12, KindAddition}, {13, KindContext}, {14, KindContext},
			},
		},
		{
			name: "deletion only",
			patch: `@@ -10,4 +10,2 @@ func main() {
 	fmt.Println("keep")
-	fmt.Println("remove 1")
-	fmt.Println("remove 2")
 	fmt.Println("also keep")`,
			want: []want{
				{10, KindContext}, {11, KindDeletion}, {12, KindDeletion}, {11, KindContext},
			},
		},
		{
			name: "new file",
			patch: `@@ -0,0 +1,3 @@
+package new
+
+func New() {}`,
			want: []want{
				{1, KindAddition}, {2, KindAddition}, {3, KindAddition},
			},
		},
		{
			name: "file headers are skipped",
			patch: `diff --git a/main.go b/main.go
--- a/main.go
+++ b/main.go
@@ -1 +1 @@
-old
+new`,
			want: []want{
				{1, KindDeletion}, {1, KindAddition},
			},
		},
		{
			name: "no newline markers",
			patch: `@@ -1 +1 @@
-old
\ No newline at end of file
+new
\ No newline at end of file`,
			want: []want{
				{1, KindDeletion}, {0, KindNoNewline}, {1, KindAddition}, {0, KindNoNewline},
			},
		},
		{
			name: "lines past the announced counts are ignored",
			patch: `@@ -1,1 +1,1 @@
-a
+b
diff --git a/other.go b/other.go
+not part of this hunk`,
			want: []want{
				{1, KindDeletion}, {1, KindAddition},
			},
		},
		{
			name:  "empty patch",
			patch: "",
			want:  nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseDiffLines(vcs.FileChange{Filename: "main.go", Patch: tt.patch})
			if len(got) != len(tt.want) {
				t.Fatalf("got %d lines, want %d: %+v", len(got), len(tt.want), got)
			}
			for i, w := range tt.want {
				g := got[i]
				if g.LineNumber != w.line {
					t.Errorf("line %d: LineNumber = %d, want %d", i, g.LineNumber, w.line)
				}
				if kindOf(g) != w.kind {
					t.Errorf("line %d: kind = %v, want %v", i, kindOf(g), w.kind)
				}
				if g.FilePath != "main.go" {
					t.Errorf("line %d: FilePath = %q", i, g.FilePath)
				}
			}
		})
	}
}

func TestParseDiffLines_NoNewlineContent(t *testing.T) {
	lines := ParseDiffLines(vcs.FileChange{Patch: "@@ -1 +1 @@\n-a\n+b\n\\ No newline at end of file"})
	last := lines[len(lines)-1]
	if !last.NoNewline {
		t.Fatalf("last line should be the no-newline marker: %+v", last)
	}
	if last.Content != "\n"+NoNewlineMarker {
		t.Errorf("Content = %q", last.Content)
	}
	if last.IsAddition || last.IsDeletion {
		t.Error("marker must be neither addition nor deletion")
	}
}

func TestParseDiffLines_AdditionsFollowHunkArithmetic(t *testing.T) {
	patch := `@@ -5,3 +5,4 @@ package main
 import "fmt"
+import "os"
-import "io"
+import "io/fs"
 func main() {
@@ -20,2 +21,3 @@ func main() {
 	fmt.Println("end")
+	os.Exit(0)
 }`

	for _, h := range ParseHunks(patch) {
		offset := 0
		for _, l := range h.Lines {
			switch l.Kind {
			case KindAddition:
				if l.NewNumber != h.NewStart+offset {
					t.Errorf("addition %q at %d, want %d", l.Content, l.NewNumber, h.NewStart+offset)
				}
				offset++
			case KindContext:
				offset++
			}
		}
	}

	var got []int
	for l := range Lines(vcs.FileChange{Patch: patch}) {
		if l.IsAddition {
			got = append(got, l.LineNumber)
		}
	}
	want := []int{6, 7, 22}
	if len(got) != len(want) {
		t.Fatalf("additions = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("additions = %v, want %v", got, want)
			break
		}
	}
}

func TestParseHunks_Header(t *testing.T) {
	hunks := ParseHunks("@@ -3 +4,2 @@ section\n-x\n+y\n+z")
	if len(hunks) != 1 {
		t.Fatalf("got %d hunks", len(hunks))
	}
	if got := hunks[0].Header(); got != "@@ -3,1 +4,2 @@" {
		t.Errorf("Header() = %q", got)
	}
}

func TestLines_StopsEarly(t *testing.T) {
	count := 0
	for range Lines(vcs.FileChange{Patch: "@@ -0,0 +1,3 @@\n+a\n+b\n+c"}) {
		count++
		if count == 2 {
			break
		}
	}
	if count != 2 {
		t.Errorf("count = %d, want 2", count)
	}
}

func kindOf(l LineInfo) LineKind {
	switch {
	case l.IsAddition:
		return KindAddition
	case l.IsDeletion:
		return KindDeletion
	case l.NoNewline:
		return KindNoNewline
	default:
		return KindContext
	}
}
