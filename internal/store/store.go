// Package store persists the report ledger.
package store

import (
	"context"

	"github.com/ashureev/honeypot/internal/domain"
)

// Repository defines the interface for persisting report outcomes.
type Repository interface {
	// RecordReport inserts or replaces the ledger entry for rec.ID.
	RecordReport(ctx context.Context, rec domain.ReportRecord) error

	// GetReport returns the most recent report for a session, or nil if none.
	GetReport(ctx context.Context, sessionID string) (*domain.ReportRecord, error)

	// ListReports returns every report for a session, newest first.
	ListReports(ctx context.Context, sessionID string) ([]domain.ReportRecord, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
