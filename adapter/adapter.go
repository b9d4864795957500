// Package adapter defines the notification boundary for streaming sessions.
//
// Adapters publish a session's terminal outcome (finished, stopped, failed)
// to downstream systems. The runner owns adapter lifecycle; users provide
// configuration only.
package adapter

import (
	"context"
	"time"
)

// EventTypeSessionEnded is the event_type of every SessionEvent.
const EventTypeSessionEnded = "session_ended"

// Session outcomes.
const (
	OutcomeFinished = "finished"
	OutcomeStopped  = "stopped"
	OutcomeFailed   = "failed"
)

// DefaultBackoff is the delay before the first retry; it doubles per attempt.
const DefaultBackoff = 500 * time.Millisecond

// SessionEvent is the payload published when a session ends.
type SessionEvent struct {
	EventType      string   `json:"event_type"` // always "session_ended"
	SessionID      string   `json:"session_id"`
	Port           string   `json:"port"`
	Outcome        string   `json:"outcome"` // finished, stopped, failed
	Error          string   `json:"error,omitempty"`
	Files          []string `json:"files"`
	CurrentIndex   int      `json:"current_index"`
	FileProgress   float64  `json:"file_progress"`
	FilesCompleted int      `json:"files_completed"`
	Timestamp      string   `json:"timestamp"` // RFC 3339
	DurationMs     int64    `json:"duration_ms"`
}

// Adapter publishes session events to a downstream system.
type Adapter interface {
	// Publish sends a session event to the downstream system.
	// Must respect context cancellation and deadlines.
	Publish(ctx context.Context, event *SessionEvent) error

	// Close releases adapter resources.
	Close() error
}

// Backoff returns the wait before retry attempt n (n >= 1).
func Backoff(base time.Duration, n int) time.Duration {
	if base <= 0 {
		base = DefaultBackoff
	}
	if n < 1 {
		return 0
	}
	return time.Duration(1<<uint(n-1)) * base
}

// Wait sleeps for d or until ctx is done.
func Wait(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
