package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shipitai/reviewbot/storage"
	"github.com/shipitai/reviewbot/vcs"
)

// timeLayout keeps timestamps sortable as TEXT.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store implements storage.Storage on SQLite.
type Store struct {
	db *DB
}

// Compile-time interface satisfaction check.
var _ storage.Storage = (*Store)(nil)

// New wraps an open DB.
func New(db *DB) *Store {
	return &Store{db: db}
}

// Open opens the database at path and applies migrations.
func Open(path string) (*Store, error) {
	db, err := NewDB(path)
	if err != nil {
		return nil, err
	}
	if err := RunMigrations(db.Writer); err != nil {
		db.Close()
		return nil, err
	}
	return New(db), nil
}

// Close closes the underlying connections.
func (s *Store) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

const selectMergeRequest = `
	SELECT id, identifier, platform, project, number, title, author, url,
	       source_branch, target_branch, additions, deletions, commits, created_at, updated_at
	FROM merge_request_reviews
`

// GetMergeRequestReview returns the aggregate with the given identifier.
func (s *Store) GetMergeRequestReview(ctx context.Context, identifier string) (*storage.MergeRequestReview, error) {
	row := s.db.Reader.QueryRowContext(ctx, selectMergeRequest+` WHERE identifier = ?`, identifier)
	return s.loadMergeRequest(ctx, row)
}

// FindMergeRequestReview returns the most recent aggregate for a branch pair.
func (s *Store) FindMergeRequestReview(ctx context.Context, project, sourceBranch, targetBranch string) (*storage.MergeRequestReview, error) {
	row := s.db.Reader.QueryRowContext(ctx,
		selectMergeRequest+` WHERE project = ? AND source_branch = ? AND target_branch = ? ORDER BY created_at DESC, id DESC LIMIT 1`,
		project, sourceBranch, targetBranch)
	return s.loadMergeRequest(ctx, row)
}

func (s *Store) loadMergeRequest(ctx context.Context, row scanner) (*storage.MergeRequestReview, error) {
	review, err := scanMergeRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get merge request review: %w", err)
	}

	records, err := s.listRecords(ctx, review.ID)
	if err != nil {
		return nil, err
	}
	review.Records = records

	return review, nil
}

func (s *Store) listRecords(ctx context.Context, reviewID int64) ([]storage.ReviewRecord, error) {
	const query = `
		SELECT id, last_commit_id, llm_result, created_at
		FROM review_records
		WHERE review_id = ?
		ORDER BY id
	`

	rows, err := s.db.Reader.QueryContext(ctx, query, reviewID)
	if err != nil {
		return nil, fmt.Errorf("query review records for %d: %w", reviewID, err)
	}
	defer rows.Close()

	var records []storage.ReviewRecord
	for rows.Next() {
		var r storage.ReviewRecord
		var createdAt string
		if err := rows.Scan(&r.ID, &r.LastCommitID, &r.LLMResult, &createdAt); err != nil {
			return nil, fmt.Errorf("scan review record: %w", err)
		}
		if r.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("parse record created_at: %w", err)
		}
		records = append(records, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate review records: %w", err)
	}

	return records, nil
}

// CreateMergeRequestReview inserts a new aggregate and its initial records.
// A duplicate identifier yields storage.ErrConflict.
func (s *Store) CreateMergeRequestReview(ctx context.Context, review *storage.MergeRequestReview) error {
	tx, err := s.db.Writer.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	const query = `
		INSERT INTO merge_request_reviews (identifier, platform, project, number, title, author, url,
			source_branch, target_branch, additions, deletions, commits, last_commit_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := tx.ExecContext(ctx, query,
		review.Identifier, string(review.Platform), review.Project, review.Number,
		review.Title, review.Author, review.URL, review.SourceBranch, review.TargetBranch,
		review.Additions, review.Deletions, storage.CommitsToJSON(review.Commits),
		review.LastCommitID(), formatTime(now), formatTime(now),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("create merge request review %s: %w", review.Identifier, storage.ErrConflict)
		}
		return fmt.Errorf("create merge request review %s: %w", review.Identifier, err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("read merge request review id: %w", err)
	}

	for i := range review.Records {
		if err := insertRecord(ctx, tx, id, &review.Records[i], now); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit merge request review: %w", err)
	}

	review.ID = id
	review.CreatedAt = now
	review.UpdatedAt = now
	return nil
}

// AppendReviewRecord appends a review pass if the stored last commit still
// matches expectedLastCommitID, otherwise it returns storage.ErrConflict.
func (s *Store) AppendReviewRecord(ctx context.Context, review *storage.MergeRequestReview, expectedLastCommitID string, record storage.ReviewRecord) error {
	tx, err := s.db.Writer.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	const update = `
		UPDATE merge_request_reviews
		SET title = ?, additions = ?, deletions = ?, commits = ?, last_commit_id = ?, updated_at = ?
		WHERE identifier = ? AND last_commit_id = ?
	`

	result, err := tx.ExecContext(ctx, update,
		review.Title, review.Additions, review.Deletions, storage.CommitsToJSON(review.Commits),
		record.LastCommitID, formatTime(now), review.Identifier, expectedLastCommitID,
	)
	if err != nil {
		return fmt.Errorf("update merge request review %s: %w", review.Identifier, err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("append review record to %s: %w", review.Identifier, storage.ErrConflict)
	}

	var id int64
	if err := tx.QueryRowContext(ctx, `SELECT id FROM merge_request_reviews WHERE identifier = ?`, review.Identifier).Scan(&id); err != nil {
		return fmt.Errorf("read merge request review id: %w", err)
	}

	if err := insertRecord(ctx, tx, id, &record, now); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit review record: %w", err)
	}

	review.ID = id
	review.UpdatedAt = now
	review.Records = append(review.Records, record)
	return nil
}

func insertRecord(ctx context.Context, tx *sql.Tx, reviewID int64, record *storage.ReviewRecord, now time.Time) error {
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}

	const query = `INSERT INTO review_records (review_id, last_commit_id, llm_result, created_at) VALUES (?, ?, ?, ?)`

	result, err := tx.ExecContext(ctx, query, reviewID, record.LastCommitID, record.LLMResult, formatTime(record.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert review record: %w", err)
	}

	record.ID, err = result.LastInsertId()
	if err != nil {
		return fmt.Errorf("read review record id: %w", err)
	}
	return nil
}

// CreatePushReview inserts a push review. A duplicate identifier yields
// storage.ErrConflict.
func (s *Store) CreatePushReview(ctx context.Context, review *storage.PushReview) error {
	if review.CreatedAt.IsZero() {
		review.CreatedAt = time.Now().UTC()
	}

	const query = `
		INSERT INTO push_reviews (identifier, platform, project, branch, author, url, commit_id,
			commits, additions, deletions, overview, llm_result, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := s.db.Writer.ExecContext(ctx, query,
		review.Identifier, string(review.Platform), review.Project, review.Branch,
		review.Author, review.URL, review.CommitID, storage.CommitsToJSON(review.Commits),
		review.Additions, review.Deletions, review.Overview, review.LLMResult,
		formatTime(review.CreatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("create push review %s: %w", review.Identifier, storage.ErrConflict)
		}
		return fmt.Errorf("create push review %s: %w", review.Identifier, err)
	}

	review.ID, err = result.LastInsertId()
	if err != nil {
		return fmt.Errorf("read push review id: %w", err)
	}
	return nil
}

// GetPushReview returns the push review with the given identifier.
func (s *Store) GetPushReview(ctx context.Context, identifier string) (*storage.PushReview, error) {
	const query = `
		SELECT id, identifier, platform, project, branch, author, url, commit_id,
		       commits, additions, deletions, overview, llm_result, created_at
		FROM push_reviews
		WHERE identifier = ?
	`

	var review storage.PushReview
	var platform, commitsJSON, createdAt string

	err := s.db.Reader.QueryRowContext(ctx, query, identifier).Scan(
		&review.ID, &review.Identifier, &platform, &review.Project, &review.Branch,
		&review.Author, &review.URL, &review.CommitID, &commitsJSON,
		&review.Additions, &review.Deletions, &review.Overview, &review.LLMResult, &createdAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get push review %s: %w", identifier, err)
	}

	review.Platform = vcs.Platform(platform)
	review.Commits = storage.CommitsFromJSON(commitsJSON)
	if review.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}

	return &review, nil
}

func scanMergeRequest(s scanner) (*storage.MergeRequestReview, error) {
	var review storage.MergeRequestReview
	var platform, commitsJSON, createdAt, updatedAt string

	err := s.Scan(
		&review.ID, &review.Identifier, &platform, &review.Project, &review.Number,
		&review.Title, &review.Author, &review.URL, &review.SourceBranch, &review.TargetBranch,
		&review.Additions, &review.Deletions, &commitsJSON, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	review.Platform = vcs.Platform(platform)
	review.Commits = storage.CommitsFromJSON(commitsJSON)

	if review.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if review.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}

	return &review, nil
}

func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint")
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	formats := []string{
		timeLayout,
		time.RFC3339Nano,
		"2006-01-02 15:04:05",
	}

	for _, format := range formats {
		if t, err := time.Parse(format, s); err == nil {
			return t, nil
		}
	}

	return time.Time{}, fmt.Errorf("unrecognized time format: %s", s)
}
