package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ashureev/honeypot/internal/domain"
	"github.com/ashureev/honeypot/internal/shared"
)

const (
	maxWriteRetries = 3
	baseRetryDelay  = 100 * time.Millisecond
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS reports (
		report_id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		status TEXT NOT NULL,
		error TEXT,
		payload TEXT,
		created_at INTEGER NOT NULL,
		completed_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_reports_session ON reports(session_id, completed_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// RecordReport writes a ledger entry.
// Retries with exponential backoff when SQLite reports a lock conflict.
func (s *SQLiteStore) RecordReport(ctx context.Context, rec domain.ReportRecord) error {
	if rec.ID == "" {
		return errors.New("record report: empty report id")
	}

	var err error
	for i := 0; i < maxWriteRetries; i++ {
		err = s.recordReportOnce(ctx, rec)
		if err == nil {
			return nil
		}
		if !shared.IsSQLiteConflictError(err) || i == maxWriteRetries-1 {
			break
		}

		delay := baseRetryDelay * time.Duration(1<<i) // 100ms, 200ms
		slog.Debug("RecordReport hit a lock conflict, retrying",
			"report_id", rec.ID,
			"attempt", i+1,
			"delay", delay)
		select {
		case <-ctx.Done():
			return fmt.Errorf("record report %s: %w", rec.ID, ctx.Err())
		case <-time.After(delay):
		}
	}
	return fmt.Errorf("record report %s: %w", rec.ID, err)
}

func (s *SQLiteStore) recordReportOnce(ctx context.Context, rec domain.ReportRecord) error {
	query := `
		INSERT INTO reports (report_id, session_id, status, error, payload, created_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(report_id) DO UPDATE SET
			status = excluded.status,
			error = excluded.error,
			payload = COALESCE(excluded.payload, reports.payload),
			completed_at = excluded.completed_at`

	var errText, payload interface{}
	if rec.Error != "" {
		errText = rec.Error
	}
	if len(rec.Payload) > 0 {
		payload = string(rec.Payload)
	}

	_, err := s.db.ExecContext(ctx, query,
		rec.ID, rec.SessionID, string(rec.Status), errText, payload,
		rec.CreatedAt.UnixMilli(), rec.CompletedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert report: %w", err)
	}
	return nil
}

// GetReport retrieves the latest report for a session.
// Returns nil, nil when the session has no report.
func (s *SQLiteStore) GetReport(ctx context.Context, sessionID string) (*domain.ReportRecord, error) {
	query := `
		SELECT report_id, session_id, status, error, payload, created_at, completed_at
		FROM reports WHERE session_id = ?
		ORDER BY completed_at DESC, rowid DESC LIMIT 1`

	rec, err := scanReport(s.db.QueryRowContext(ctx, query, sessionID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// ListReports retrieves every report for a session, newest first.
func (s *SQLiteStore) ListReports(ctx context.Context, sessionID string) ([]domain.ReportRecord, error) {
	query := `
		SELECT report_id, session_id, status, error, payload, created_at, completed_at
		FROM reports WHERE session_id = ?
		ORDER BY completed_at DESC, rowid DESC`

	rows, err := s.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query reports: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []domain.ReportRecord
	for rows.Next() {
		rec, err := scanReport(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reports: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReport(row rowScanner) (domain.ReportRecord, error) {
	var (
		rec                    domain.ReportRecord
		status                 string
		errText, payload       sql.NullString
		createdAt, completedAt int64
	)
	err := row.Scan(&rec.ID, &rec.SessionID, &status, &errText, &payload, &createdAt, &completedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return rec, err
	}
	if err != nil {
		return rec, fmt.Errorf("scan report row: %w", err)
	}

	rec.Status = domain.ReportStatus(status)
	rec.Error = errText.String
	if payload.Valid {
		rec.Payload = []byte(payload.String)
	}
	rec.CreatedAt = time.UnixMilli(createdAt)
	rec.CompletedAt = time.UnixMilli(completedAt)
	return rec, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

var _ Repository = (*SQLiteStore)(nil)
