package stream

import "fmt"

// State is the per-file streaming state.
type State int

// Streaming states. A file moves NotStarted -> Streaming and ends in one of
// Completed, Aborted or Failed.
const (
	NotStarted State = iota
	Streaming
	Completed
	Aborted
	Failed
)

func (s State) String() string {
	switch s {
	case NotStarted:
		return "not_started"
	case Streaming:
		return "streaming"
	case Completed:
		return "completed"
	case Aborted:
		return "aborted"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// IsTerminal reports whether the state ends a pass.
func (s State) IsTerminal() bool {
	return s == Completed || s == Aborted || s == Failed
}

// Result is the outcome of streaming one file.
type Result struct {
	// State is the terminal state.
	State State
	// Sent is the number of commands fully processed, counted from the
	// start of the file (a resumed pass includes the skipped prefix).
	Sent int
	// Total is the number of commands in the file.
	Total int
	// Next is the index of the first unsent command. Only meaningful when
	// Resumable is true.
	Next int
	// Resumable is true if a failed pass can continue at Next after the
	// link is re-established without replaying any command.
	Resumable bool
	// Rejected counts commands the controller answered with an error.
	Rejected int
	// Err is the failure cause for Failed, nil otherwise.
	Err error
}

// Progress returns Sent/Total in [0,1]. An empty file is complete.
func (r Result) Progress() float64 {
	if r.Total == 0 {
		if r.State == Completed {
			return 1
		}
		return 0
	}
	p := float64(r.Sent) / float64(r.Total)
	if p > 1 {
		return 1
	}
	return p
}
