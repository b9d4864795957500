package link

import (
	"fmt"
	"time"

	"github.com/tarm/serial"

	"github.com/pithecene-io/gstream/types"
)

// OpenSerial opens a native serial port with tarm/serial.
// A read that times out returns zero bytes.
func OpenSerial(cfg types.ConnectionConfig, readTimeout time.Duration) (Port, error) {
	port, err := serial.OpenPort(&serial.Config{
		Name:        cfg.PortName,
		Baud:        cfg.BaudRate,
		ReadTimeout: readTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", cfg.PortName, err)
	}
	return port, nil
}

// Verify the tarm port satisfies Port.
var _ Port = (*serial.Port)(nil)
