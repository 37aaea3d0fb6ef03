package storage

import (
	"time"

	"github.com/shipitai/reviewbot/vcs"
)

// ReviewRecord is one review pass over a merge request.
type ReviewRecord struct {
	ID           int64     `json:"id"`
	LastCommitID string    `json:"last_commit_id"`
	CreatedAt    time.Time `json:"created_at"`
	LLMResult    string    `json:"llm_result"`
}

// MergeRequestReview is the stored history of a pull/merge request. Records
// are append-only and ordered oldest first.
type MergeRequestReview struct {
	ID           int64          `json:"id"`
	Identifier   string         `json:"identifier"`
	Platform     vcs.Platform   `json:"platform"`
	Project      string         `json:"project"`
	Number       int            `json:"number"`
	Title        string         `json:"title"`
	Author       string         `json:"author"`
	URL          string         `json:"url"`
	SourceBranch string         `json:"source_branch"`
	TargetBranch string         `json:"target_branch"`
	Additions    int            `json:"additions"`
	Deletions    int            `json:"deletions"`
	Commits      []vcs.Commit   `json:"commits"`
	Records      []ReviewRecord `json:"records"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// LastRecord returns the most recent review pass, or nil.
func (m *MergeRequestReview) LastRecord() *ReviewRecord {
	if len(m.Records) == 0 {
		return nil
	}
	return &m.Records[len(m.Records)-1]
}

// LastCommitID returns the head commit of the most recent review pass, or "".
func (m *MergeRequestReview) LastCommitID() string {
	if r := m.LastRecord(); r != nil {
		return r.LastCommitID
	}
	return ""
}

// PushReview is the stored review of a single push.
type PushReview struct {
	ID         int64        `json:"id"`
	Identifier string       `json:"identifier"`
	Platform   vcs.Platform `json:"platform"`
	Project    string       `json:"project"`
	Branch     string       `json:"branch"`
	Author     string       `json:"author"`
	URL        string       `json:"url"`
	CommitID   string       `json:"commit_id"`
	Commits    []vcs.Commit `json:"commits"`
	Additions  int          `json:"additions"`
	Deletions  int          `json:"deletions"`
	Overview   string       `json:"overview"`
	LLMResult  string       `json:"llm_result"`
	CreatedAt  time.Time    `json:"created_at"`
}
