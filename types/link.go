package types

import (
	"errors"
	"fmt"
)

// Connection defaults. GRBL 1.1 ships with a 15 block planner buffer.
const (
	DefaultBaudRate            = 115200
	DefaultMaxInFlightCommands = 15
)

// ConnectionConfig identifies the controller and its flow-control tuning.
// It is immutable for the lifetime of a run; changing the port means
// building a new link.
type ConnectionConfig struct {
	// PortName is the serial device (e.g. "/dev/ttyUSB0", "COM3").
	PortName string `json:"port" yaml:"port"`
	// BaudRate is the line speed.
	BaudRate int `json:"baud_rate" yaml:"baud_rate"`
	// MaxInFlightCommands is the known planner capacity of the firmware.
	MaxInFlightCommands int `json:"max_in_flight" yaml:"max_in_flight"`
	// ReadyThreshold is the number of free planner slots that must be
	// exceeded before more work is sent. Zero means MaxInFlightCommands/2.
	ReadyThreshold int `json:"ready_threshold" yaml:"ready_threshold"`
}

// Validate checks the configuration.
func (c ConnectionConfig) Validate() error {
	if c.PortName == "" {
		return errors.New("port name is required")
	}
	if c.BaudRate <= 0 {
		return fmt.Errorf("baud rate must be > 0, got %d", c.BaudRate)
	}
	if c.MaxInFlightCommands < 0 {
		return fmt.Errorf("max in-flight commands must be >= 0, got %d", c.MaxInFlightCommands)
	}
	if c.ReadyThreshold < 0 {
		return fmt.Errorf("ready threshold must be >= 0, got %d", c.ReadyThreshold)
	}
	return nil
}

// Threshold returns the effective free-slot threshold.
func (c ConnectionConfig) Threshold() int {
	if c.ReadyThreshold > 0 {
		return c.ReadyThreshold
	}
	capacity := c.MaxInFlightCommands
	if capacity <= 0 {
		capacity = DefaultMaxInFlightCommands
	}
	return capacity / 2
}

// LinkState is the controller link lifecycle state.
type LinkState int

// Link states.
const (
	LinkDisconnected LinkState = iota
	LinkConnecting
	LinkIdle
	LinkStreaming
	LinkReconnecting
	LinkFailed
)

func (s LinkState) String() string {
	switch s {
	case LinkDisconnected:
		return "disconnected"
	case LinkConnecting:
		return "connecting"
	case LinkIdle:
		return "idle"
	case LinkStreaming:
		return "streaming"
	case LinkReconnecting:
		return "reconnecting"
	case LinkFailed:
		return "failed"
	default:
		return fmt.Sprintf("link_state(%d)", int(s))
	}
}
