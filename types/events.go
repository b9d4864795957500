package types

import "time"

// EventType discriminates runner events.
type EventType string

// Event types emitted by the runner, in the order a caller may observe them.
const (
	EventTypeStatus        EventType = "status"
	EventTypeProgress      EventType = "progress"
	EventTypeFileCompleted EventType = "file_completed"
	EventTypeFinished      EventType = "finished"
	EventTypeError         EventType = "error"
)

// IsTerminal returns true if the event ends a session.
// Exactly one terminal event is emitted per started session.
func (e EventType) IsTerminal() bool {
	return e == EventTypeFinished || e == EventTypeError
}

// IsDroppable returns true if a slow consumer may lose the event.
// Intermediate progress is dropped first, status lines second.
func (e EventType) IsDroppable() bool {
	return e == EventTypeProgress || e == EventTypeStatus
}

// IsCritical returns true for events a consumer must always receive:
// file completions and the terminal event.
func (e EventType) IsCritical() bool {
	return e == EventTypeFileCompleted || e.IsTerminal()
}

// Event is one entry of the runner's event stream.
type Event struct {
	// Type is the event discriminator.
	Type EventType `json:"type"`
	// Seq is the per-session sequence number, starting at 1.
	Seq int64 `json:"seq"`
	// Ts is the emission time.
	Ts time.Time `json:"ts"`
	// Text is the human-readable message (status, progress and finished events).
	Text string `json:"text,omitempty"`
	// FileIndex is the playlist index (progress and file_completed events).
	FileIndex int `json:"file_index"`
	// Fraction is in-file progress in [0,1] (progress events).
	Fraction float64 `json:"fraction,omitempty"`
	// Detail describes the failure (error events).
	Detail string `json:"detail,omitempty"`
	// Err is the underlying failure (error events). Not serialized.
	Err error `json:"-"`
}
