package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	log  logrus.FieldLogger
	path string
	db   *sql.DB
}

// Ensure SQLiteStore implements Store.
var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite store.
func NewSQLiteStore(log logrus.FieldLogger, path string) Store {
	return &SQLiteStore{
		log:  log.WithField("component", "store"),
		path: path,
	}
}

// Start opens the database connection.
func (s *SQLiteStore) Start(ctx context.Context) error {
	s.log.WithField("path", s.path).Info("Opening SQLite database")

	db, err := sql.Open("sqlite3", s.path+"?_journal_mode=WAL")
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}

	// Test connection.
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("pinging database: %w", err)
	}

	s.db = db

	return nil
}

// Stop closes the database connection.
func (s *SQLiteStore) Stop() error {
	if s.db != nil {
		return s.db.Close()
	}

	return nil
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	s.log.Info("Running database migrations")

	migrations := []string{
		`CREATE TABLE IF NOT EXISTS snapshots (
			id TEXT PRIMARY KEY,
			resource TEXT NOT NULL,
			quota_limit INTEGER NOT NULL,
			remaining INTEGER NOT NULL,
			used INTEGER NOT NULL,
			reset_at TIMESTAMP NOT NULL,
			observed_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_snapshots_resource_observed
			ON snapshots(resource, observed_at)`,
		`CREATE INDEX IF NOT EXISTS idx_snapshots_observed ON snapshots(observed_at)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.ExecContext(ctx, migration); err != nil {
			return fmt.Errorf("running migration: %w", err)
		}
	}

	return nil
}

// RecordSnapshot inserts one quota observation. A missing ID or observation
// time is filled in.
func (s *SQLiteStore) RecordSnapshot(ctx context.Context, record *SnapshotRecord) error {
	if record.ID == "" {
		record.ID = uuid.New().String()
	}

	if record.ObservedAt.IsZero() {
		record.ObservedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO snapshots (id, resource, quota_limit, remaining, used, reset_at, observed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		record.ID,
		record.Resource,
		record.Limit,
		record.Remaining,
		record.Used,
		record.ResetAt.UTC(),
		record.ObservedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("inserting snapshot: %w", err)
	}

	return nil
}

// LatestSnapshot returns the most recent observation for a resource, or nil
// when none has been recorded.
func (s *SQLiteStore) LatestSnapshot(ctx context.Context, resource string) (*SnapshotRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, resource, quota_limit, remaining, used, reset_at, observed_at
		FROM snapshots
		WHERE resource = ?
		ORDER BY observed_at DESC
		LIMIT 1`,
		resource,
	)

	record, err := scanSnapshot(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("querying latest snapshot: %w", err)
	}

	return record, nil
}

// ListSnapshots returns observations newest first.
func (s *SQLiteStore) ListSnapshots(ctx context.Context, opts ListOpts) ([]*SnapshotRecord, error) {
	query := `
		SELECT id, resource, quota_limit, remaining, used, reset_at, observed_at
		FROM snapshots`

	var (
		conditions []string
		args       []any
	)

	if opts.Resource != "" {
		conditions = append(conditions, "resource = ?")
		args = append(args, opts.Resource)
	}

	if opts.Since != nil {
		conditions = append(conditions, "observed_at >= ?")
		args = append(args, opts.Since.UTC())
	}

	for i, cond := range conditions {
		if i == 0 {
			query += " WHERE " + cond
		} else {
			query += " AND " + cond
		}
	}

	query += " ORDER BY observed_at DESC"

	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}

	query += " LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying snapshots: %w", err)
	}

	defer rows.Close()

	var records []*SnapshotRecord

	for rows.Next() {
		record, err := scanSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning snapshot: %w", err)
		}

		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating snapshots: %w", err)
	}

	return records, nil
}

// DeleteSnapshotsBefore removes observations older than cutoff and returns
// the number deleted.
func (s *SQLiteStore) DeleteSnapshotsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM snapshots WHERE observed_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("deleting snapshots: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("counting deleted snapshots: %w", err)
	}

	return deleted, nil
}

// scanner abstracts sql.Row and sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// scanSnapshot reads one snapshot row.
func scanSnapshot(row scanner) (*SnapshotRecord, error) {
	var record SnapshotRecord

	if err := row.Scan(
		&record.ID,
		&record.Resource,
		&record.Limit,
		&record.Remaining,
		&record.Used,
		&record.ResetAt,
		&record.ObservedAt,
	); err != nil {
		return nil, err
	}

	return &record, nil
}
