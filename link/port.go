package link

import (
	"io"
	"time"

	"github.com/pithecene-io/gstream/types"
)

// Port is the byte transport under a Link.
// This abstraction allows for different implementations:
//   - Native serial (using github.com/tarm/serial)
//   - Scripted fake controller (link/linktest)
type Port interface {
	io.ReadWriteCloser

	// Flush discards buffered input and output.
	Flush() error
}

// Opener opens the port described by cfg. Reads on the returned port must
// return within readTimeout when no data is available.
type Opener func(cfg types.ConnectionConfig, readTimeout time.Duration) (Port, error)
