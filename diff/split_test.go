package diff

import (
	"testing"

	"github.com/shipitai/reviewbot/vcs"
)

func TestSplitUnifiedDiff(t *testing.T) {
	input := `diff --git a/main.go b/main.go
index 83db48f..bf269f4 100644
--- a/main.go
+++ b/main.go
@@ -1,3 +1,4 @@
 package main
+import "fmt"
-// old
+// new
 func main() {}
diff --git a/new.go b/new.go
new file mode 100644
index 0000000..e69de29
--- /dev/null
+++ b/new.go
@@ -0,0 +1,2 @@
+package main
+var x = 1
diff --git a/old.go b/old.go
deleted file mode 100644
index e69de29..0000000
--- a/old.go
+++ /dev/null
@@ -1 +0,0 @@
-package main
diff --git a/from.go b/to.go
similarity index 90%
rename from from.go
rename to to.go
--- a/from.go
+++ b/to.go
@@ -1 +1 @@
-package a
+package b
`

	got := SplitUnifiedDiff(input)

	want := []struct {
		filename  string
		previous  string
		status    string
		additions int
		deletions int
	}{
		{"main.go", "", vcs.StatusModified, 2, 1},
		{"new.go", "", vcs.StatusAdded, 2, 0},
		{"old.go", "", vcs.StatusRemoved, 0, 1},
		{"to.go", "from.go", vcs.StatusRenamed, 1, 1},
	}

	if len(got) != len(want) {
		t.Fatalf("got %d files, want %d: %+v", len(got), len(want), got)
	}

	for i, w := range want {
		g := got[i]
		if g.Filename != w.filename {
			t.Errorf("[%d] Filename = %q, want %q", i, g.Filename, w.filename)
		}
		if g.PreviousFilename != w.previous {
			t.Errorf("[%d] PreviousFilename = %q, want %q", i, g.PreviousFilename, w.previous)
		}
		if g.Status != w.status {
			t.Errorf("[%d] Status = %q, want %q", i, g.Status, w.status)
		}
		if g.Additions != w.additions || g.Deletions != w.deletions {
			t.Errorf("[%d] +%d -%d, want +%d -%d", i, g.Additions, g.Deletions, w.additions, w.deletions)
		}
		if g.Changes != g.Additions+g.Deletions {
			t.Errorf("[%d] Changes = %d", i, g.Changes)
		}
	}

	if got[0].Patch != "@@ -1,3 +1,4 @@\n package main\n+import \"fmt\"\n-// old\n+// new\n func main() {}" {
		t.Errorf("patch = %q", got[0].Patch)
	}

	// Split patches parse like platform patches.
	var added []int
	for l := range Lines(got[0]) {
		if l.IsAddition {
			added = append(added, l.LineNumber)
		}
	}
	if len(added) != 2 || added[0] != 2 || added[1] != 3 {
		t.Errorf("additions = %v, want [2 3]", added)
	}
}

func TestSplitUnifiedDiff_Empty(t *testing.T) {
	if got := SplitUnifiedDiff(""); got != nil {
		t.Errorf("got %+v, want nil", got)
	}
	if got := SplitUnifiedDiff("not a diff\n"); len(got) != 0 {
		t.Errorf("got %+v, want nothing", got)
	}
}
