// Package postgres provides a PostgreSQL implementation of the storage interface.
// This is intended for self-hosted deployments.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/shipitai/reviewbot/storage"
	"github.com/shipitai/reviewbot/vcs"
)

// uniqueViolation is the SQLSTATE for unique constraint failures.
const uniqueViolation = "23505"

// PostgreSQL provides storage operations using PostgreSQL.
type PostgreSQL struct {
	db *sql.DB
}

// New creates a new PostgreSQL storage instance.
func New(db *sql.DB) *PostgreSQL {
	return &PostgreSQL{db: db}
}

// NewFromDSN creates a new PostgreSQL storage instance from a connection string.
func NewFromDSN(dsn string) (*PostgreSQL, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Test the connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return &PostgreSQL{db: db}, nil
}

// Close closes the database connection.
func (p *PostgreSQL) Close() error {
	return p.db.Close()
}

// Migrate creates the required database tables.
func (p *PostgreSQL) Migrate(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS merge_request_reviews (
			id BIGSERIAL PRIMARY KEY,
			identifier TEXT NOT NULL UNIQUE,
			platform TEXT NOT NULL,
			project TEXT NOT NULL,
			number INTEGER NOT NULL,
			title TEXT NOT NULL DEFAULT '',
			author TEXT NOT NULL DEFAULT '',
			url TEXT NOT NULL DEFAULT '',
			source_branch TEXT NOT NULL,
			target_branch TEXT NOT NULL,
			additions INTEGER NOT NULL DEFAULT 0,
			deletions INTEGER NOT NULL DEFAULT 0,
			commits JSONB NOT NULL DEFAULT '[]',
			last_commit_id TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_mr_reviews_branches
			ON merge_request_reviews(project, source_branch, target_branch);

		CREATE TABLE IF NOT EXISTS review_records (
			id BIGSERIAL PRIMARY KEY,
			review_id BIGINT NOT NULL REFERENCES merge_request_reviews(id) ON DELETE CASCADE,
			last_commit_id TEXT NOT NULL,
			llm_result TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_review_records_review ON review_records(review_id);

		CREATE TABLE IF NOT EXISTS push_reviews (
			id BIGSERIAL PRIMARY KEY,
			identifier TEXT NOT NULL UNIQUE,
			platform TEXT NOT NULL,
			project TEXT NOT NULL,
			branch TEXT NOT NULL,
			author TEXT NOT NULL DEFAULT '',
			url TEXT NOT NULL DEFAULT '',
			commit_id TEXT NOT NULL,
			commits JSONB NOT NULL DEFAULT '[]',
			additions INTEGER NOT NULL DEFAULT 0,
			deletions INTEGER NOT NULL DEFAULT 0,
			overview TEXT NOT NULL DEFAULT '',
			llm_result TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
	`

	_, err := p.db.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	return nil
}

const selectMergeRequest = `
	SELECT id, identifier, platform, project, number, title, author, url,
	       source_branch, target_branch, additions, deletions, commits, created_at, updated_at
	FROM merge_request_reviews
`

// GetMergeRequestReview retrieves a merge request review with its records.
func (p *PostgreSQL) GetMergeRequestReview(ctx context.Context, identifier string) (*storage.MergeRequestReview, error) {
	return p.queryMergeRequest(ctx, selectMergeRequest+` WHERE identifier = $1`, identifier)
}

// FindMergeRequestReview retrieves the most recent review for a branch pair.
func (p *PostgreSQL) FindMergeRequestReview(ctx context.Context, project, sourceBranch, targetBranch string) (*storage.MergeRequestReview, error) {
	return p.queryMergeRequest(ctx,
		selectMergeRequest+` WHERE project = $1 AND source_branch = $2 AND target_branch = $3 ORDER BY created_at DESC, id DESC LIMIT 1`,
		project, sourceBranch, targetBranch)
}

func (p *PostgreSQL) queryMergeRequest(ctx context.Context, query string, args ...any) (*storage.MergeRequestReview, error) {
	var review storage.MergeRequestReview
	var platform, commitsJSON string

	err := p.db.QueryRowContext(ctx, query, args...).Scan(
		&review.ID,
		&review.Identifier,
		&platform,
		&review.Project,
		&review.Number,
		&review.Title,
		&review.Author,
		&review.URL,
		&review.SourceBranch,
		&review.TargetBranch,
		&review.Additions,
		&review.Deletions,
		&commitsJSON,
		&review.CreatedAt,
		&review.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get merge request review: %w", err)
	}

	review.Platform = vcs.Platform(platform)
	review.Commits = storage.CommitsFromJSON(commitsJSON)

	records, err := p.listRecords(ctx, review.ID)
	if err != nil {
		return nil, err
	}
	review.Records = records

	return &review, nil
}

func (p *PostgreSQL) listRecords(ctx context.Context, reviewID int64) ([]storage.ReviewRecord, error) {
	query := `
		SELECT id, last_commit_id, llm_result, created_at
		FROM review_records
		WHERE review_id = $1
		ORDER BY id ASC
	`

	rows, err := p.db.QueryContext(ctx, query, reviewID)
	if err != nil {
		return nil, fmt.Errorf("failed to list review records: %w", err)
	}
	defer rows.Close()

	var records []storage.ReviewRecord
	for rows.Next() {
		var r storage.ReviewRecord
		if err := rows.Scan(&r.ID, &r.LastCommitID, &r.LLMResult, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan review record: %w", err)
		}
		records = append(records, r)
	}

	return records, rows.Err()
}

// CreateMergeRequestReview stores a new aggregate together with its initial
// records. A duplicate identifier yields storage.ErrConflict.
func (p *PostgreSQL) CreateMergeRequestReview(ctx context.Context, review *storage.MergeRequestReview) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	query := `
		INSERT INTO merge_request_reviews (identifier, platform, project, number, title, author, url,
			source_branch, target_branch, additions, deletions, commits, last_commit_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $14)
		RETURNING id
	`

	err = tx.QueryRowContext(ctx, query,
		review.Identifier,
		string(review.Platform),
		review.Project,
		review.Number,
		review.Title,
		review.Author,
		review.URL,
		review.SourceBranch,
		review.TargetBranch,
		review.Additions,
		review.Deletions,
		storage.CommitsToJSON(review.Commits),
		review.LastCommitID(),
		now,
	).Scan(&review.ID)
	if isUniqueViolation(err) {
		return fmt.Errorf("failed to create merge request review %s: %w", review.Identifier, storage.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("failed to create merge request review: %w", err)
	}

	for i := range review.Records {
		if err := insertRecord(ctx, tx, review.ID, &review.Records[i], now); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit merge request review: %w", err)
	}

	review.CreatedAt = now
	review.UpdatedAt = now
	return nil
}

// AppendReviewRecord appends a review pass if the stored last commit still
// matches expectedLastCommitID.
func (p *PostgreSQL) AppendReviewRecord(ctx context.Context, review *storage.MergeRequestReview, expectedLastCommitID string, record storage.ReviewRecord) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	query := `
		UPDATE merge_request_reviews
		SET title = $1, additions = $2, deletions = $3, commits = $4, last_commit_id = $5, updated_at = $6
		WHERE identifier = $7 AND last_commit_id = $8
		RETURNING id
	`

	var id int64
	err = tx.QueryRowContext(ctx, query,
		review.Title,
		review.Additions,
		review.Deletions,
		storage.CommitsToJSON(review.Commits),
		record.LastCommitID,
		now,
		review.Identifier,
		expectedLastCommitID,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("failed to append review record to %s: %w", review.Identifier, storage.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("failed to update merge request review: %w", err)
	}

	if err := insertRecord(ctx, tx, id, &record, now); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit review record: %w", err)
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

	query := `
		INSERT INTO review_records (review_id, last_commit_id, llm_result, created_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`

	err := tx.QueryRowContext(ctx, query, reviewID, record.LastCommitID, record.LLMResult, record.CreatedAt).Scan(&record.ID)
	if err != nil {
		return fmt.Errorf("failed to store review record: %w", err)
	}
	return nil
}

// CreatePushReview stores a push review. A duplicate identifier yields
// storage.ErrConflict.
func (p *PostgreSQL) CreatePushReview(ctx context.Context, review *storage.PushReview) error {
	if review.CreatedAt.IsZero() {
		review.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO push_reviews (identifier, platform, project, branch, author, url, commit_id,
			commits, additions, deletions, overview, llm_result, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id
	`

	err := p.db.QueryRowContext(ctx, query,
		review.Identifier,
		string(review.Platform),
		review.Project,
		review.Branch,
		review.Author,
		review.URL,
		review.CommitID,
		storage.CommitsToJSON(review.Commits),
		review.Additions,
		review.Deletions,
		review.Overview,
		review.LLMResult,
		review.CreatedAt,
	).Scan(&review.ID)
	if isUniqueViolation(err) {
		return fmt.Errorf("failed to store push review %s: %w", review.Identifier, storage.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("failed to store push review: %w", err)
	}

	return nil
}

// GetPushReview retrieves a push review.
func (p *PostgreSQL) GetPushReview(ctx context.Context, identifier string) (*storage.PushReview, error) {
	query := `
		SELECT id, identifier, platform, project, branch, author, url, commit_id,
		       commits, additions, deletions, overview, llm_result, created_at
		FROM push_reviews
		WHERE identifier = $1
	`

	var review storage.PushReview
	var platform, commitsJSON string

	err := p.db.QueryRowContext(ctx, query, identifier).Scan(
		&review.ID,
		&review.Identifier,
		&platform,
		&review.Project,
		&review.Branch,
		&review.Author,
		&review.URL,
		&review.CommitID,
		&commitsJSON,
		&review.Additions,
		&review.Deletions,
		&review.Overview,
		&review.LLMResult,
		&review.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get push review: %w", err)
	}

	review.Platform = vcs.Platform(platform)
	review.Commits = storage.CommitsFromJSON(commitsJSON)

	return &review, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

// Verify PostgreSQL implements Storage at compile time.
var _ storage.Storage = (*PostgreSQL)(nil)
