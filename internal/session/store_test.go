package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ashureev/honeypot/internal/domain"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestInvalidIDs(t *testing.T) {
	t.Parallel()

	s := NewStore()
	for _, id := range []string{"", "   ", strings.Repeat("x", MaxIDLength+1)} {
		_, err := s.GetOrCreate(id)
		assert.ErrorIs(t, err, ErrInvalidID)

		_, _, err = s.Lookup(id)
		assert.ErrorIs(t, err, ErrInvalidID)

		_, err = s.MarkReportedIfFirst(id)
		assert.ErrorIs(t, err, ErrInvalidID)

		_, err = s.Delete(id)
		assert.ErrorIs(t, err, ErrInvalidID)
	}
	assert.Equal(t, 0, s.Len(), "invalid ids must not create sessions")
}

func TestGetOrCreateConcurrentCreatesOnce(t *testing.T) {
	t.Parallel()

	var ticks atomic.Int64
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := NewStore(WithClock(func() time.Time {
		return base.Add(time.Duration(ticks.Add(1)) * time.Second)
	}))

	const n = 64
	started := make([]time.Time, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sess, err := s.GetOrCreate("race")
			if err != nil {
				t.Errorf("GetOrCreate: %v", err)
				return
			}
			started[i] = sess.StartedAt
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, s.Len())
	for i := 1; i < n; i++ {
		assert.Equal(t, started[0], started[i], "all callers must observe the same session")
	}
}

func TestNewSessionDefaults(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	s := NewStore(WithClock(clock.Now))

	sess, err := s.GetOrCreate("s1")
	require.NoError(t, err)
	assert.Equal(t, "s1", sess.ID)
	assert.Equal(t, domain.StateUnconfirmed, sess.State)
	assert.True(t, sess.Evidence.IsEmpty())
	assert.NotNil(t, sess.Messages)
	assert.False(t, sess.Reported)
	assert.Equal(t, clock.Now(), sess.StartedAt)
}

func TestLookupDoesNotCreate(t *testing.T) {
	t.Parallel()

	s := NewStore()
	_, ok, err := s.Lookup("missing")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 0, s.Len())
}

func TestAppendMessageConcurrent(t *testing.T) {
	t.Parallel()

	s := NewStore()
	const n = 100
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = s.AppendMessage("chat", domain.RoleScammer, fmt.Sprintf("msg %d", i))
		}(i)
	}
	wg.Wait()

	sess, ok, err := s.Lookup("chat")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, n, sess.TurnCount())
}

func TestReturnedSessionIsACopy(t *testing.T) {
	t.Parallel()

	s := NewStore()
	sess, err := s.AppendMessage("s1", domain.RoleScammer, "hello")
	require.NoError(t, err)
	sess.Messages[0].Text = "tampered"
	sess.Messages = append(sess.Messages, domain.Message{Text: "extra"})

	fresh, _, err := s.Lookup("s1")
	require.NoError(t, err)
	require.Len(t, fresh.Messages, 1)
	assert.Equal(t, "hello", fresh.Messages[0].Text)
}

func TestSeedHistoryOnlyOnEmptyLog(t *testing.T) {
	t.Parallel()

	s := NewStore()
	history := []domain.Message{
		{Role: domain.RoleScammer, Text: "your account is blocked"},
		{Role: domain.RoleAgent, Text: "oh no, what do I do?"},
	}

	sess, seeded, err := s.SeedHistory("s1", history)
	require.NoError(t, err)
	assert.True(t, seeded)
	assert.Equal(t, 2, sess.TurnCount())
	assert.False(t, sess.Messages[0].Timestamp.IsZero())

	sess, seeded, err = s.SeedHistory("s1", history)
	require.NoError(t, err)
	assert.False(t, seeded)
	assert.Equal(t, 2, sess.TurnCount())
}

func TestMarkConfirmedIsMonotonic(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	s := NewStore(WithClock(clock.Now))
	_, err := s.GetOrCreate("s1")
	require.NoError(t, err)

	clock.Advance(10 * time.Second)
	sess, changed, err := s.MarkConfirmed("s1", "bank_fraud: asks for OTP")
	require.NoError(t, err)
	assert.True(t, changed)
	assert.True(t, sess.Confirmed())
	firstConfirmed := sess.ConfirmedAt

	clock.Advance(10 * time.Second)
	sess, changed, err = s.MarkConfirmed("s1", "other notes")
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, firstConfirmed, sess.ConfirmedAt)
	assert.Equal(t, "bank_fraud: asks for OTP", sess.Notes)
}

func TestUpdateEvidenceAccumulates(t *testing.T) {
	t.Parallel()

	s := NewStore()
	_, err := s.UpdateEvidence("s1", domain.Evidence{PhoneNumbers: []string{"9876543210"}})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = s.UpdateEvidence("s1", domain.Evidence{UPIHandles: []string{fmt.Sprintf("u%02d@ybl", i)}})
		}(i)
	}
	wg.Wait()

	sess, err := s.UpdateEvidence("s1", domain.Evidence{PhoneNumbers: []string{"9876543210"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"9876543210"}, sess.Evidence.PhoneNumbers)
	assert.Len(t, sess.Evidence.UPIHandles, 20)
}

func TestAddKeywords(t *testing.T) {
	t.Parallel()

	s := NewStore()
	_, err := s.AddKeywords("s1", []string{"urgent", "otp"})
	require.NoError(t, err)
	sess, err := s.AddKeywords("s1", []string{"otp", "kyc", ""})
	require.NoError(t, err)
	assert.Equal(t, []string{"kyc", "otp", "urgent"}, sess.Keywords)
}

func TestMetrics(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	s := NewStore(WithClock(clock.Now))
	_, err := s.AppendMessage("s1", domain.RoleScammer, "hi")
	require.NoError(t, err)

	clock.Advance(5 * time.Second)
	_, _, err = s.MarkConfirmed("s1", "")
	require.NoError(t, err)

	clock.Advance(40 * time.Second)
	m, err := s.Metrics("s1")
	require.NoError(t, err)
	assert.Equal(t, int64(45), m.ElapsedSeconds)
	assert.Equal(t, 1, m.TurnCount)
	assert.Equal(t, domain.StateConfirmed, m.DetectionState)
	require.NotNil(t, m.TimeToDetectionSeconds)
	assert.Equal(t, int64(5), *m.TimeToDetectionSeconds)
}

func TestMarkReportedIfFirstExactlyOnce(t *testing.T) {
	t.Parallel()

	s := NewStore()
	const n = 100
	var (
		wins atomic.Int32
		wg   sync.WaitGroup
	)
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			won, err := s.MarkReportedIfFirst("s1")
			if err == nil && won {
				wins.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	sess, _, err := s.Lookup("s1")
	require.NoError(t, err)
	assert.True(t, sess.Reported)
}

func TestDeleteStartsFresh(t *testing.T) {
	t.Parallel()

	s := NewStore()
	_, err := s.AppendMessage("s1", domain.RoleScammer, "hi")
	require.NoError(t, err)
	_, err = s.MarkReportedIfFirst("s1")
	require.NoError(t, err)

	deleted, err := s.Delete("s1")
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = s.Delete("s1")
	require.NoError(t, err)
	assert.False(t, deleted)

	sess, err := s.GetOrCreate("s1")
	require.NoError(t, err)
	assert.Equal(t, 0, sess.TurnCount())
	assert.False(t, sess.Reported)
}

func TestSweepIdle(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	s := NewStore(WithClock(clock.Now))
	_, _ = s.GetOrCreate("old-a")
	_, _ = s.GetOrCreate("old-b")
	clock.Advance(20 * time.Minute)
	_, _ = s.GetOrCreate("fresh")

	assert.Empty(t, s.SweepIdle(0))

	evicted := s.SweepIdle(10 * time.Minute)
	assert.Equal(t, []string{"old-a", "old-b"}, evicted)
	assert.Equal(t, 1, s.Len())
}

func TestStartSweeperStopsOnCancel(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	clock := newFakeClock()
	s := NewStore(WithClock(clock.Now))
	_, _ = s.GetOrCreate("idle")
	clock.Advance(time.Hour)

	evicted := make(chan string, 1)
	ctx, cancel := context.WithCancel(context.Background())
	done := StartSweeper(ctx, s, 10*time.Millisecond, time.Minute, func(id string) {
		select {
		case evicted <- id:
		default:
		}
	})

	select {
	case id := <-evicted:
		assert.Equal(t, "idle", id)
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper did not evict idle session")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper did not stop")
	}
	assert.Equal(t, 0, s.Len())
}

func TestValidateID(t *testing.T) {
	t.Parallel()

	require.NoError(t, ValidateID("abc"))
	err := ValidateID("")
	assert.True(t, errors.Is(err, ErrInvalidID))
}
