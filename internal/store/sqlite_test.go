package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/honeypot/internal/domain"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "data", "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRecordAndGetReport(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	got, err := s.GetReport(ctx, "sess-1")
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, s.RecordReport(ctx, domain.ReportRecord{
		ID:          "r1",
		SessionID:   "sess-1",
		Status:      domain.ReportFailed,
		Error:       "status 502",
		Payload:     []byte(`{"sessionId":"sess-1"}`),
		CreatedAt:   base,
		CompletedAt: base.Add(time.Second),
	}))
	require.NoError(t, s.RecordReport(ctx, domain.ReportRecord{
		ID:          "r2",
		SessionID:   "sess-1",
		Status:      domain.ReportDelivered,
		CreatedAt:   base.Add(time.Minute),
		CompletedAt: base.Add(time.Minute + time.Second),
	}))

	got, err = s.GetReport(ctx, "sess-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "r2", got.ID)
	assert.Equal(t, domain.ReportDelivered, got.Status)
	assert.Empty(t, got.Error)
	assert.True(t, got.CompletedAt.Equal(base.Add(time.Minute+time.Second)))

	all, err := s.ListReports(ctx, "sess-1")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "r1", all[1].ID)
	assert.Equal(t, "status 502", all[1].Error)
	assert.JSONEq(t, `{"sessionId":"sess-1"}`, string(all[1].Payload))
}

func TestRecordReportUpsertsByID(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	rec := domain.ReportRecord{
		ID:          "r1",
		SessionID:   "sess-2",
		Status:      domain.ReportFailed,
		Error:       "timeout",
		Payload:     []byte(`{}`),
		CreatedAt:   now,
		CompletedAt: now,
	}
	require.NoError(t, s.RecordReport(ctx, rec))

	rec.Status = domain.ReportDelivered
	rec.Error = ""
	rec.Payload = nil
	require.NoError(t, s.RecordReport(ctx, rec))

	all, err := s.ListReports(ctx, "sess-2")
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, domain.ReportDelivered, all[0].Status)
	assert.Empty(t, all[0].Error)
	assert.Equal(t, `{}`, string(all[0].Payload), "payload is kept when the update has none")
}

func TestRecordReportRejectsEmptyID(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	require.Error(t, s.RecordReport(context.Background(), domain.ReportRecord{SessionID: "x"}))
}

func TestPingAndClose(t *testing.T) {
	t.Parallel()

	s, err := NewSQLite(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	require.NoError(t, s.Ping(context.Background()))
	require.NoError(t, s.Close())
	assert.Error(t, s.Ping(context.Background()))
}
