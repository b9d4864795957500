package link

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Sentinel errors for link failure classification.
// Use errors.Is(err, ErrXxx) for typed assertions.
var (
	// ErrPortUnavailable indicates the device cannot be opened or is already held.
	ErrPortUnavailable = errors.New("port unavailable")

	// ErrTimeout indicates no acknowledgment arrived within the read deadline.
	ErrTimeout = errors.New("acknowledgment timeout")

	// ErrCommandRejected indicates the firmware answered with an error line.
	// This is not a link failure.
	ErrCommandRejected = errors.New("command rejected")

	// ErrLinkDropped indicates an I/O failure on the underlying port.
	ErrLinkDropped = errors.New("link dropped")

	// ErrNotConnected indicates an operation on a link that is not connected.
	ErrNotConnected = errors.New("not connected")
)

// Error wraps an underlying error with link classification.
// It preserves the original error in the chain for inspection via errors.As.
type Error struct {
	// Kind is the sentinel error for classification (e.g., ErrTimeout).
	Kind error
	// Op is the operation that failed (e.g., "connect", "send", "status").
	Op string
	// Port is the serial device name.
	Port string
	// Command is the command text involved, if any.
	Command string
	// Code is the firmware error code for ErrCommandRejected (-1 if unparsed).
	Code int
	// Err is the underlying error, if any.
	Err error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	if e.Port != "" {
		b.WriteString(" ")
		b.WriteString(e.Port)
	}
	b.WriteString(": ")
	b.WriteString(e.Kind.Error())
	if e.Command != "" {
		fmt.Fprintf(&b, " (%q)", e.Command)
	}
	if errors.Is(e.Kind, ErrCommandRejected) && e.Code >= 0 {
		fmt.Fprintf(&b, ": error:%d", e.Code)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

// Unwrap returns the underlying error for errors.Is/As chain traversal.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether the error matches the target sentinel.
func (e *Error) Is(target error) bool {
	return errors.Is(e.Kind, target)
}

// RejectionCode returns the firmware error code carried by err.
func RejectionCode(err error) (int, bool) {
	var linkErr *Error
	if errors.As(err, &linkErr) && errors.Is(linkErr.Kind, ErrCommandRejected) {
		return linkErr.Code, true
	}
	return 0, false
}

// parseErrorCode extracts N from "error:N". Returns -1 if absent.
func parseErrorCode(line string) int {
	_, rest, ok := strings.Cut(line, ":")
	if !ok {
		return -1
	}
	code, err := strconv.Atoi(strings.TrimSpace(rest))
	if err != nil {
		return -1
	}
	return code
}
