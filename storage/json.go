package storage

import (
	"encoding/json"

	"github.com/shipitai/reviewbot/vcs"
)

// CommitsToJSON converts a commit snapshot to a JSON string for storage.
func CommitsToJSON(commits []vcs.Commit) string {
	if len(commits) == 0 {
		return "[]"
	}
	b, _ := json.Marshal(commits)
	return string(b)
}

// CommitsFromJSON parses a JSON string into a commit snapshot.
func CommitsFromJSON(s string) []vcs.Commit {
	if s == "" || s == "null" {
		return nil
	}
	var commits []vcs.Commit
	if err := json.Unmarshal([]byte(s), &commits); err != nil {
		return nil
	}
	return commits
}
