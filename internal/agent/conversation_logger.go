package agent

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode"

	"gopkg.in/natefinch/lumberjack.v2"
)

// ConversationLogEvent is one NDJSON line in the conversation log.
type ConversationLogEvent struct {
	Timestamp  string         `json:"ts"`
	SessionID  string         `json:"session_id"`
	Channel    string         `json:"channel"`
	Direction  string         `json:"direction"`
	EventType  string         `json:"event_type"`
	Sender     string         `json:"sender,omitempty"`
	ContentRaw string         `json:"content_raw,omitempty"`
	Content    string         `json:"content,omitempty"`
	Meta       map[string]any `json:"meta,omitempty"`
}

// ConversationLogger records conversation events without blocking callers.
type ConversationLogger interface {
	Log(event ConversationLogEvent)
	Close() error
}

// ConversationLogConfig configures the conversation logger.
type ConversationLogConfig struct {
	Enabled   bool
	Dir       string
	QueueSize int
	// GlobalFile, when set, receives every event through a rotating writer.
	GlobalFile string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

type noopConversationLogger struct{}

func (noopConversationLogger) Log(ConversationLogEvent) {}
func (noopConversationLogger) Close() error             { return nil }

// NoopConversationLogger returns a logger that discards everything.
func NoopConversationLogger() ConversationLogger {
	return noopConversationLogger{}
}

type asyncConversationLogger struct {
	dir     string
	global  io.WriteCloser
	queue   chan ConversationLogEvent
	done    chan struct{}
	logger  *slog.Logger
	dropped atomic.Int64

	closeOnce sync.Once
	mu        sync.RWMutex
	closed    bool
}

// NewConversationLogger starts an asynchronous NDJSON writer with one file
// per session under cfg.Dir. A disabled config yields a no-op logger.
func NewConversationLogger(cfg ConversationLogConfig, logger *slog.Logger) (ConversationLogger, error) {
	if !cfg.Enabled {
		return noopConversationLogger{}, nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Dir == "" {
		return nil, errors.New("conversation log dir is required")
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create conversation log dir: %w", err)
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}

	l := &asyncConversationLogger{
		dir:    cfg.Dir,
		queue:  make(chan ConversationLogEvent, cfg.QueueSize),
		done:   make(chan struct{}),
		logger: logger,
	}
	if cfg.GlobalFile != "" {
		l.global = &lumberjack.Logger{
			Filename:   cfg.GlobalFile,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   true,
		}
	}

	go l.run()
	return l, nil
}

// Log enqueues event. When the queue is full the event is dropped.
func (l *asyncConversationLogger) Log(event ConversationLogEvent) {
	if event.Timestamp == "" {
		event.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}
	if event.Content == "" && event.ContentRaw != "" {
		event.Content = cleanForReadability(event.ContentRaw)
	}

	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return
	}
	select {
	case l.queue <- event:
	default:
		if n := l.dropped.Add(1); n == 1 || n%100 == 0 {
			l.logger.Warn("conversation log queue full, dropping events", "dropped", n)
		}
	}
}

// Close flushes queued events and stops the writer.
func (l *asyncConversationLogger) Close() error {
	var err error
	l.closeOnce.Do(func() {
		l.mu.Lock()
		l.closed = true
		close(l.queue)
		l.mu.Unlock()

		<-l.done
		if l.global != nil {
			err = l.global.Close()
		}
	})
	return err
}

func (l *asyncConversationLogger) run() {
	defer close(l.done)
	for event := range l.queue {
		line, err := json.Marshal(event)
		if err != nil {
			l.logger.Warn("failed to marshal conversation event", "error", err)
			continue
		}
		line = append(line, '\n')

		if err := l.appendSessionLine(event.SessionID, line); err != nil {
			l.logger.Warn("failed to write conversation log", "error", err, "session_id", event.SessionID)
		}
		if l.global != nil {
			if _, err := l.global.Write(line); err != nil {
				l.logger.Warn("failed to write global conversation log", "error", err)
			}
		}
	}
}

func (l *asyncConversationLogger) appendSessionLine(sessionID string, line []byte) error {
	path := filepath.Join(l.dir, sessionFileName(sessionID))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	if _, err := f.Write(line); err != nil {
		_ = f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}

const maxSessionFileStem = 128

// sessionFileName maps an arbitrary session id onto a safe file name.
func sessionFileName(sessionID string) string {
	stem := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, sessionID)
	if len(stem) > maxSessionFileStem {
		stem = stem[:maxSessionFileStem]
	}
	if stem == "" {
		stem = "_"
	}
	return stem + ".ndjson"
}

var ansiEscape = regexp.MustCompile(`\x1b\[[0-9;?]*[ -/]*[@-~]`)

// cleanForReadability strips terminal escapes, invisible and control
// characters and collapses runs of whitespace.
func cleanForReadability(s string) string {
	s = ansiEscape.ReplaceAllString(s, "")
	s = strings.Map(func(r rune) rune {
		switch {
		case r == '\n' || r == '\t':
			return ' '
		case unicode.IsControl(r), unicode.Is(unicode.Cf, r):
			return -1
		default:
			return r
		}
	}, s)
	return strings.Join(strings.Fields(s), " ")
}
