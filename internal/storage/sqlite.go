package storage

import (
	"context"
	"database/sql"

	_ "github.com/mattn/go-sqlite3"

	"github.com/shohag/chatrelay/internal/models"
)

const defaultAttemptLimit = 100

type SQLiteJournal struct {
	db *sql.DB
}

func NewSQLite(path string) (*SQLiteJournal, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	return &SQLiteJournal{db: db}, nil
}

func (s *SQLiteJournal) Migrate(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS attempts (
			id TEXT PRIMARY KEY,
			endpoint_id TEXT NOT NULL,
			operation TEXT NOT NULL,
			status_code INTEGER NOT NULL DEFAULT 0,
			latency_ms INTEGER NOT NULL DEFAULT 0,
			error TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_attempts_endpoint ON attempts(endpoint_id, created_at)`,
	}

	for _, q := range queries {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteJournal) Close() error {
	return s.db.Close()
}

func (s *SQLiteJournal) CreateAttempt(ctx context.Context, a *models.Attempt) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO attempts (id, endpoint_id, operation, status_code, latency_ms, error, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.EndpointID, a.Operation, a.StatusCode, a.LatencyMs, a.Error, a.CreatedAt,
	)
	return err
}

// ListAttempts returns the newest attempts for an endpoint first.
func (s *SQLiteJournal) ListAttempts(ctx context.Context, endpointID string, limit int) ([]models.Attempt, error) {
	if limit <= 0 {
		limit = defaultAttemptLimit
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, endpoint_id, operation, status_code, latency_ms, error, created_at
		 FROM attempts WHERE endpoint_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`,
		endpointID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	attempts := []models.Attempt{}
	for rows.Next() {
		var a models.Attempt
		if err := rows.Scan(&a.ID, &a.EndpointID, &a.Operation, &a.StatusCode, &a.LatencyMs, &a.Error, &a.CreatedAt); err != nil {
			return nil, err
		}
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}
