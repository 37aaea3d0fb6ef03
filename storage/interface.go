// Package storage defines the persistence interface for review history.
package storage

import (
	"context"
	"errors"
)

// ErrConflict is returned when a write loses a race: the identifier already
// exists, or the aggregate moved past the expected last commit.
var ErrConflict = errors.New("storage: conflicting concurrent update")

// Storage defines the interface for review history backends.
// Implementations must be safe for concurrent use by multiple goroutines.
// Getters return nil, nil when nothing matches.
type Storage interface {
	// Merge request operations
	GetMergeRequestReview(ctx context.Context, identifier string) (*MergeRequestReview, error)
	FindMergeRequestReview(ctx context.Context, project, sourceBranch, targetBranch string) (*MergeRequestReview, error)
	CreateMergeRequestReview(ctx context.Context, review *MergeRequestReview) error
	// AppendReviewRecord refreshes the snapshot fields of review (title,
	// additions, deletions, commits) and appends record, provided the stored
	// aggregate's last record still has expectedLastCommitID. Otherwise it
	// returns ErrConflict and writes nothing. On success record is appended
	// to review.Records.
	AppendReviewRecord(ctx context.Context, review *MergeRequestReview, expectedLastCommitID string, record ReviewRecord) error

	// Push operations
	CreatePushReview(ctx context.Context, review *PushReview) error
	GetPushReview(ctx context.Context, identifier string) (*PushReview, error)

	Close() error
}
