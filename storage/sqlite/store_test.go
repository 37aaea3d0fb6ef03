package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shipitai/reviewbot/storage"
	"github.com/shipitai/reviewbot/vcs"
)

func makeMergeRequest(identifier string) *storage.MergeRequestReview {
	return &storage.MergeRequestReview{
		Identifier:   identifier,
		Platform:     vcs.PlatformGitHub,
		Project:      "octo/app",
		Number:       7,
		Title:        "Add cache",
		Author:       "alice",
		URL:          "https://github.com/octo/app/pull/7",
		SourceBranch: "feature/cache",
		TargetBranch: "main",
		Additions:    10,
		Deletions:    2,
		Commits: []vcs.Commit{
			{ID: "a1", Message: "add cache", Author: "alice", Timestamp: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)},
			{ID: "b2", Message: "fix test", Author: "alice"},
		},
		Records: []storage.ReviewRecord{{LastCommitID: "b2", LLMResult: "a.go:1 first"}},
	}
}

func TestStore_CreateAndGetMergeRequestReview(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	mr := makeMergeRequest("github-com-octo-app-pull-7")
	require.NoError(t, s.CreateMergeRequestReview(ctx, mr))
	assert.NotZero(t, mr.ID)
	assert.NotZero(t, mr.Records[0].ID)

	got, err := s.GetMergeRequestReview(ctx, mr.Identifier)
	require.NoError(t, err)
	require.NotNil(t, got)

	assert.Equal(t, vcs.PlatformGitHub, got.Platform)
	assert.Equal(t, "Add cache", got.Title)
	assert.Equal(t, 10, got.Additions)
	require.Len(t, got.Commits, 2)
	assert.Equal(t, "a1", got.Commits[0].ID)
	assert.True(t, got.Commits[0].Timestamp.Equal(mr.Commits[0].Timestamp))
	require.Len(t, got.Records, 1)
	assert.Equal(t, "b2", got.LastCommitID())
	assert.Equal(t, "a.go:1 first", got.Records[0].LLMResult)
	assert.False(t, got.CreatedAt.IsZero())
}

func TestStore_GetMergeRequestReview_NotFound(t *testing.T) {
	s := setupTestStore(t)

	got, err := s.GetMergeRequestReview(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestStore_CreateMergeRequestReview_DuplicateIdentifier(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateMergeRequestReview(ctx, makeMergeRequest("dup")))
	err := s.CreateMergeRequestReview(ctx, makeMergeRequest("dup"))
	assert.ErrorIs(t, err, storage.ErrConflict)
}

func TestStore_AppendReviewRecord(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	mr := makeMergeRequest("mr")
	require.NoError(t, s.CreateMergeRequestReview(ctx, mr))

	mr.Title = "Add cache layer"
	mr.Commits = append(mr.Commits, vcs.Commit{ID: "c3", Message: "tune ttl"})
	require.NoError(t, s.AppendReviewRecord(ctx, mr, "b2", storage.ReviewRecord{LastCommitID: "c3", LLMResult: "second"}))
	assert.Len(t, mr.Records, 2)

	got, err := s.GetMergeRequestReview(ctx, "mr")
	require.NoError(t, err)
	require.Len(t, got.Records, 2)
	assert.Equal(t, "b2", got.Records[0].LastCommitID)
	assert.Equal(t, "c3", got.Records[1].LastCommitID)
	assert.Equal(t, "c3", got.LastCommitID())
	assert.Equal(t, "Add cache layer", got.Title)
	assert.Len(t, got.Commits, 3)
}

func TestStore_AppendReviewRecord_StaleExpectation(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	mr := makeMergeRequest("mr")
	require.NoError(t, s.CreateMergeRequestReview(ctx, mr))
	require.NoError(t, s.AppendReviewRecord(ctx, mr, "b2", storage.ReviewRecord{LastCommitID: "c3"}))

	// A second worker that read the aggregate before the first append.
	stale := makeMergeRequest("mr")
	err := s.AppendReviewRecord(ctx, stale, "b2", storage.ReviewRecord{LastCommitID: "c3"})
	assert.ErrorIs(t, err, storage.ErrConflict)
	assert.Len(t, stale.Records, 1)

	got, err := s.GetMergeRequestReview(ctx, "mr")
	require.NoError(t, err)
	assert.Len(t, got.Records, 2)
}

func TestStore_FindMergeRequestReview(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	first := makeMergeRequest("first")
	require.NoError(t, s.CreateMergeRequestReview(ctx, first))
	second := makeMergeRequest("second")
	second.Number = 8
	require.NoError(t, s.CreateMergeRequestReview(ctx, second))

	got, err := s.FindMergeRequestReview(ctx, "octo/app", "feature/cache", "main")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "second", got.Identifier)

	got, err = s.FindMergeRequestReview(ctx, "octo/app", "feature/cache", "develop")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestStore_PushReview(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	push := &storage.PushReview{
		Identifier: "github-com-octo-app-commit-abc",
		Platform:   vcs.PlatformGitHub,
		Project:    "octo/app",
		Branch:     "main",
		Author:     "bob",
		CommitID:   "abc",
		Commits:    []vcs.Commit{{ID: "abc", Message: "ship"}},
		Additions:  3,
		Overview:   "looks fine",
		LLMResult:  "x.go:2 typo",
	}
	require.NoError(t, s.CreatePushReview(ctx, push))
	assert.NotZero(t, push.ID)

	got, err := s.GetPushReview(ctx, push.Identifier)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "abc", got.CommitID)
	assert.Equal(t, "looks fine", got.Overview)
	assert.Equal(t, []vcs.Commit{{ID: "abc", Message: "ship"}}, got.Commits)

	err = s.CreatePushReview(ctx, push)
	assert.ErrorIs(t, err, storage.ErrConflict)

	missing, err := s.GetPushReview(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}
