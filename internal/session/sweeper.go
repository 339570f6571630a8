package session

import (
	"context"
	"log/slog"
	"time"
)

// DefaultSweepInterval is used when StartSweeper is given a non-positive interval.
const DefaultSweepInterval = 5 * time.Minute

// EvictCallback is called for every session removed by the sweeper.
type EvictCallback func(sessionID string)

// StartSweeper runs a background goroutine that periodically removes idle
// sessions from store. It stops when ctx is cancelled; the returned channel
// is closed once the goroutine has exited.
func StartSweeper(ctx context.Context, store *Store, interval, maxIdle time.Duration, onEvict EvictCallback) <-chan struct{} {
	done := make(chan struct{})
	if maxIdle <= 0 {
		close(done)
		return done
	}
	if interval <= 0 {
		interval = DefaultSweepInterval
	}

	ticker := time.NewTicker(interval)
	go func() {
		defer close(done)
		defer ticker.Stop()
		slog.Info("Session sweeper started", "interval", interval, "max_idle", maxIdle)

		for {
			select {
			case <-ticker.C:
				sweepOnce(store, maxIdle, onEvict)
			case <-ctx.Done():
				slog.Info("Session sweeper shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
	return done
}

func sweepOnce(store *Store, maxIdle time.Duration, onEvict EvictCallback) {
	evicted := store.SweepIdle(maxIdle)
	if len(evicted) == 0 {
		return
	}

	for _, id := range evicted {
		if onEvict != nil {
			onEvict(id)
		}
	}
	slog.Info("Session sweeper removed idle sessions", "count", len(evicted), "remaining", store.Len())
}
