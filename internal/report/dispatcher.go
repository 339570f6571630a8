package report

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/ashureev/honeypot/internal/domain"
)

// ErrDispatcherClosed is returned by Send after Close.
var ErrDispatcherClosed = errors.New("report dispatcher closed")

var errQueueFull = errors.New("report queue full")

const ledgerWriteTimeout = 5 * time.Second

// Ledger persists report outcomes.
type Ledger interface {
	RecordReport(ctx context.Context, rec domain.ReportRecord) error
}

// ResultHook observes every finished report.
type ResultHook func(rec domain.ReportRecord)

// DispatcherConfig controls worker and queue sizing.
type DispatcherConfig struct {
	Workers   int
	QueueSize int
	Timeout   time.Duration
}

// Dispatcher delivers reports off the request path. Each report gets one
// attempt bounded by Timeout; failures are recorded, never retried.
type Dispatcher struct {
	reporter Reporter
	ledger   Ledger
	timeout  time.Duration
	hook     ResultHook
	logger   *slog.Logger

	queue chan job
	wg    sync.WaitGroup

	mu     sync.RWMutex
	closed bool

	delivered atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64
}

type job struct {
	id        string
	createdAt time.Time
	summary   Summary
}

// NewDispatcher starts cfg.Workers workers. ledger and hook may be nil.
func NewDispatcher(reporter Reporter, ledger Ledger, cfg DispatcherConfig, hook ResultHook, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 100
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}

	d := &Dispatcher{
		reporter: reporter,
		ledger:   ledger,
		timeout:  cfg.Timeout,
		hook:     hook,
		logger:   logger,
		queue:    make(chan job, cfg.QueueSize),
	}
	for i := 0; i < cfg.Workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
	return d
}

// Dispatch enqueues summary without blocking and returns the report id.
// A full queue or a closed dispatcher records the report as dropped.
func (d *Dispatcher) Dispatch(summary Summary) string {
	j := job{id: uuid.NewString(), createdAt: time.Now(), summary: summary}

	var cause error
	d.mu.RLock()
	if d.closed {
		cause = ErrDispatcherClosed
	} else {
		select {
		case d.queue <- j:
		default:
			cause = errQueueFull
		}
	}
	d.mu.RUnlock()

	// The ledger write can be slow; it must not hold off Close.
	if cause != nil {
		d.finish(j, domain.ReportDropped, cause)
	}
	return j.id
}

// Send delivers summary synchronously and returns the ledger record.
func (d *Dispatcher) Send(ctx context.Context, summary Summary) (domain.ReportRecord, error) {
	d.mu.RLock()
	closed := d.closed
	d.mu.RUnlock()

	j := job{id: uuid.NewString(), createdAt: time.Now(), summary: summary}
	if closed {
		return d.finish(j, domain.ReportDropped, ErrDispatcherClosed), ErrDispatcherClosed
	}

	err := d.deliver(ctx, j.summary)
	if err != nil {
		return d.finish(j, domain.ReportFailed, err), err
	}
	return d.finish(j, domain.ReportDelivered, nil), nil
}

// Close stops accepting reports and waits for queued ones, or for ctx.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("drain report queue: %w", ctx.Err())
	}
}

// Stats returns delivery counters.
func (d *Dispatcher) Stats() (delivered, failed, dropped int64) {
	return d.delivered.Load(), d.failed.Load(), d.dropped.Load()
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for j := range d.queue {
		if err := d.deliver(context.Background(), j.summary); err != nil {
			d.finish(j, domain.ReportFailed, err)
			continue
		}
		d.finish(j, domain.ReportDelivered, nil)
	}
}

func (d *Dispatcher) deliver(ctx context.Context, summary Summary) error {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	return d.reporter.Report(ctx, summary.SessionID, summary)
}

func (d *Dispatcher) finish(j job, status domain.ReportStatus, cause error) domain.ReportRecord {
	rec := domain.ReportRecord{
		ID:          j.id,
		SessionID:   j.summary.SessionID,
		Status:      status,
		CreatedAt:   j.createdAt,
		CompletedAt: time.Now(),
	}
	if cause != nil {
		rec.Error = cause.Error()
	}
	if payload, err := json.Marshal(j.summary); err == nil {
		rec.Payload = payload
	}

	switch status {
	case domain.ReportDelivered:
		d.delivered.Add(1)
		d.logger.Info("Report delivered", "report_id", rec.ID, "session_id", rec.SessionID)
	case domain.ReportFailed:
		d.failed.Add(1)
		d.logger.Error("Report delivery failed", "report_id", rec.ID, "session_id", rec.SessionID, "error", cause)
	case domain.ReportDropped:
		d.dropped.Add(1)
		d.logger.Warn("Report dropped", "report_id", rec.ID, "session_id", rec.SessionID, "error", cause)
	}

	if d.ledger != nil {
		ctx, cancel := context.WithTimeout(context.Background(), ledgerWriteTimeout)
		if err := d.ledger.RecordReport(ctx, rec); err != nil {
			d.logger.Warn("failed to record report", "report_id", rec.ID, "session_id", rec.SessionID, "error", err)
		}
		cancel()
	}
	if d.hook != nil {
		d.hook(rec)
	}
	return rec
}
