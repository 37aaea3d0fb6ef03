package diff

import (
	"strings"

	"github.com/shipitai/reviewbot/vcs"
)

// SplitUnifiedDiff splits the output of `git diff` into per-file changes.
// Each patch starts at the file's first hunk header.
func SplitUnifiedDiff(text string) []vcs.FileChange {
	if text == "" {
		return nil
	}

	var files []vcs.FileChange
	var current *vcs.FileChange
	var patch strings.Builder

	flush := func() {
		if current == nil {
			return
		}
		current.Patch = strings.TrimSuffix(patch.String(), "\n")
		current.Changes = current.Additions + current.Deletions
		files = append(files, *current)
		patch.Reset()
	}

	inHunk := false
	for _, line := range strings.Split(strings.TrimSuffix(text, "\n"), "\n") {
		if strings.HasPrefix(line, "diff --git ") {
			flush()
			current = &vcs.FileChange{Status: vcs.StatusModified}
			// "diff --git a/path b/path"
			parts := strings.Split(line, " ")
			if len(parts) >= 4 {
				current.PreviousFilename = strings.TrimPrefix(parts[2], "a/")
				current.Filename = strings.TrimPrefix(parts[3], "b/")
			}
			inHunk = false
			continue
		}
		if current == nil {
			continue
		}

		if !inHunk {
			switch {
			case strings.HasPrefix(line, "new file mode"):
				current.Status = vcs.StatusAdded
			case strings.HasPrefix(line, "deleted file mode"):
				current.Status = vcs.StatusRemoved
			case strings.HasPrefix(line, "rename from "):
				current.Status = vcs.StatusRenamed
				current.PreviousFilename = strings.TrimPrefix(line, "rename from ")
			case strings.HasPrefix(line, "rename to "):
				current.Filename = strings.TrimPrefix(line, "rename to ")
			case strings.HasPrefix(line, "+++ b/"):
				current.Filename = strings.TrimPrefix(line, "+++ b/")
			case strings.HasPrefix(line, "+++ /dev/null"):
				// Removed files keep their old path.
				current.Filename = current.PreviousFilename
			}
			if !strings.HasPrefix(line, "@@") {
				continue
			}
			inHunk = true
		}

		switch {
		case strings.HasPrefix(line, "+"):
			current.Additions++
		case strings.HasPrefix(line, "-"):
			current.Deletions++
		}
		patch.WriteString(line)
		patch.WriteString("\n")
	}
	flush()

	for i := range files {
		if files[i].Status != vcs.StatusRenamed && files[i].PreviousFilename == files[i].Filename {
			files[i].PreviousFilename = ""
		}
	}

	return files
}
