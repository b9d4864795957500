package link

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"time"
)

// errReadTimeout is returned by readLine when no complete line arrived in time.
var errReadTimeout = errors.New("read deadline exceeded")

// lineReader assembles newline-terminated lines from a Port whose reads
// return early (zero bytes) when idle.
type lineReader struct {
	port    Port
	pending []byte
	chunk   [256]byte
}

func newLineReader(p Port) *lineReader {
	return &lineReader{port: p}
}

// readLine returns the next line with the terminator and trailing '\r'
// removed. Zero-byte and io.EOF reads are idle ticks; any other read error
// is returned as is.
func (r *lineReader) readLine(deadline time.Time) (string, error) {
	for {
		if i := bytes.IndexByte(r.pending, '\n'); i >= 0 {
			line := string(r.pending[:i])
			r.pending = r.pending[i+1:]
			return strings.TrimRight(line, "\r"), nil
		}
		if !time.Now().Before(deadline) {
			return "", errReadTimeout
		}

		n, err := r.port.Read(r.chunk[:])
		if n > 0 {
			r.pending = append(r.pending, r.chunk[:n]...)
		}
		if err != nil && !errors.Is(err, io.EOF) {
			return "", err
		}
	}
}

// reset drops partially received input.
func (r *lineReader) reset() {
	r.pending = r.pending[:0]
}
