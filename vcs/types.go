// Package vcs defines the Git hosting types and the client capability
// interface shared by the GitHub and GitLab implementations.
package vcs

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Platform identifies a Git hosting provider.
type Platform string

const (
	PlatformGitHub Platform = "github"
	PlatformGitLab Platform = "gitlab"
)

// File statuses. Host-specific values are normalized to one of these.
const (
	StatusAdded    = "added"
	StatusModified = "modified"
	StatusRemoved  = "removed"
	StatusRenamed  = "renamed"
)

// FileChange is one file's diff in a changeset.
type FileChange struct {
	// Filename is the path in the new tree, or the old path if removed.
	Filename         string `json:"filename"`
	PreviousFilename string `json:"previous_filename,omitempty"`
	Status           string `json:"status"`
	Additions        int    `json:"additions"`
	Deletions        int    `json:"deletions"`
	Changes          int    `json:"changes"`
	// Patch is the unified diff for this file. Empty for binary or huge files.
	Patch string `json:"patch,omitempty"`
}

// Commit is a single commit as reported by the host.
type Commit struct {
	ID        string    `json:"id"`
	Message   string    `json:"message"`
	Author    string    `json:"author"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// Title returns the first line of the commit message.
func (c Commit) Title() string {
	title, _, _ := strings.Cut(c.Message, "\n")
	return strings.TrimSpace(title)
}

// PullRequestInfo describes a pull request (GitHub) or merge request (GitLab).
type PullRequestInfo struct {
	Number       int
	Title        string
	Author       string
	URL          string
	SourceBranch string
	TargetBranch string
	HeadSHA      string
	IsDraft      bool
	Files        []FileChange
	// Commits are ordered oldest first.
	Commits []Commit
}

// PushInfo describes the state reached by a push.
type PushInfo struct {
	Author  string
	Branch  string
	URL     string
	Files   []FileChange
	Commits []Commit
}

// LineComment is a review comment anchored to a file and new-file line.
type LineComment struct {
	File    string `json:"file"`
	Line    int    `json:"line"`
	Comment string `json:"comment"`
}

// Client is the set of Git host operations the review pipeline consumes.
// GetContentAsText returns an empty string and no error when the file does
// not exist at ref.
type Client interface {
	Platform() Platform
	GetPullRequestInfo(ctx context.Context, owner, repo string, number int) (*PullRequestInfo, error)
	GetPushInfo(ctx context.Context, owner, repo, commitSHA string) (*PushInfo, error)
	GetCommitFiles(ctx context.Context, owner, repo string, shas []string) ([]FileChange, error)
	GetContentAsText(ctx context.Context, owner, repo, path, ref string) (string, error)
	CreatePullRequestComment(ctx context.Context, owner, repo string, number int, body string) error
	CreatePullRequestLineComments(ctx context.Context, owner, repo string, number int, comments []LineComment) error
	CreateCommitComment(ctx context.Context, owner, repo, sha, body string) error
}

// TotalChanges sums additions and deletions across files.
func TotalChanges(files []FileChange) (additions, deletions int) {
	for _, f := range files {
		additions += f.Additions
		deletions += f.Deletions
	}
	return additions, deletions
}

// MergeFileChanges folds per-commit file lists into one list keyed by
// filename. Patches of a file touched by several commits are concatenated in
// commit order; the status of the latest commit wins.
func MergeFileChanges(perCommit ...[]FileChange) []FileChange {
	var merged []FileChange
	index := make(map[string]int)

	for _, files := range perCommit {
		for _, f := range files {
			i, ok := index[f.Filename]
			if !ok {
				index[f.Filename] = len(merged)
				merged = append(merged, f)
				continue
			}
			existing := &merged[i]
			existing.Status = f.Status
			existing.Additions += f.Additions
			existing.Deletions += f.Deletions
			existing.Changes += f.Changes
			switch {
			case existing.Patch == "":
				existing.Patch = f.Patch
			case f.Patch != "":
				existing.Patch = strings.TrimSuffix(existing.Patch, "\n") + "\n" + f.Patch
			}
		}
	}

	return merged
}

// SplitProjectPath splits "group/sub/repo" into owner "group/sub" and repo "repo".
func SplitProjectPath(path string) (owner, repo string, err error) {
	path = strings.Trim(path, "/")
	i := strings.LastIndex(path, "/")
	if i <= 0 || i == len(path)-1 {
		return "", "", fmt.Errorf("invalid project path %q: expected owner/repo", path)
	}
	return path[:i], path[i+1:], nil
}
