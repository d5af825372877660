// Package logger keeps a bounded, thread-safe feed of relay activity: one
// entry per submission outcome, newest first. It backs /api/logs and is
// separate from the process log, which goes through zap.
package logger

import (
	"sync"
	"time"
)

// Level values used by the feed.
const (
	LevelInfo    = "info"
	LevelWarning = "warning"
	LevelError   = "error"
)

// Entry is a single activity record.
type Entry struct {
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
	RequestID string    `json:"requestId,omitempty"`
	Op        string    `json:"op,omitempty"`
	Address   string    `json:"address,omitempty"`
	TxHash    string    `json:"transactionId,omitempty"`
	Kind      string    `json:"kind,omitempty"`
	Text      string    `json:"text"`
}

// Logger is a ring of the most recent entries.
type Logger struct {
	mu      sync.RWMutex
	entries []Entry
	maxSize int
}

// New creates a feed holding at most maxSize entries.
func New(maxSize int) *Logger {
	if maxSize <= 0 {
		maxSize = 100
	}
	return &Logger{
		entries: make([]Entry, 0, maxSize),
		maxSize: maxSize,
	}
}

// Record appends e, stamping it when Timestamp is zero.
func (l *Logger) Record(e Entry) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	if e.Level == "" {
		e.Level = LevelInfo
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries = append(l.entries, e)
	if len(l.entries) > l.maxSize {
		l.entries = l.entries[len(l.entries)-l.maxSize:]
	}
}

// Log adds a plain text entry.
func (l *Logger) Log(level, text string) {
	l.Record(Entry{Level: level, Text: text})
}

func (l *Logger) Info(text string) {
	l.Log(LevelInfo, text)
}

func (l *Logger) Warning(text string) {
	l.Log(LevelWarning, text)
}

func (l *Logger) Error(text string) {
	l.Log(LevelError, text)
}

// GetRecent returns the most recent n entries (newest first)
func (l *Logger) GetRecent(n int) []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if n <= 0 || n > len(l.entries) {
		n = len(l.entries)
	}

	result := make([]Entry, n)
	for i := 0; i < n; i++ {
		result[i] = l.entries[len(l.entries)-1-i]
	}
	return result
}

// GetAll returns all entries (newest first)
func (l *Logger) GetAll() []Entry {
	return l.GetRecent(0)
}
