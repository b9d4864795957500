package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/pithecene-io/gstream/checkpoint"
	"github.com/pithecene-io/gstream/log"
	"github.com/pithecene-io/gstream/types"
)

// DefaultPath is the config file read when --config is not given.
const DefaultPath = "gstream.yaml"

// Config represents a gstream.yaml configuration file.
// All values are optional and act as defaults for gstream flags.
// CLI flags always override config values.
type Config struct {
	Port           string           `yaml:"port"`
	BaudRate       int              `yaml:"baud_rate"`
	MaxInFlight    int              `yaml:"max_in_flight"`
	ReadyThreshold int              `yaml:"ready_threshold"`
	Loop           bool             `yaml:"loop"`
	Preamble       string           `yaml:"preamble"`
	LogLevel       string           `yaml:"log_level"`
	Checkpoint     CheckpointConfig `yaml:"checkpoint"`
	Streamer       StreamerConfig   `yaml:"streamer"`
	Reconnect      ReconnectConfig  `yaml:"reconnect"`
	Adapter        AdapterConfig    `yaml:"adapter"`
}

// CheckpointConfig selects where progress is persisted.
type CheckpointConfig struct {
	Backend     string `yaml:"backend"`
	Path        string `yaml:"path"`
	Region      string `yaml:"region"`
	Endpoint    string `yaml:"endpoint"`
	S3PathStyle bool   `yaml:"s3_path_style"`
}

// StreamerConfig tunes flow control and acknowledgment handling.
type StreamerConfig struct {
	PollInterval  Duration `yaml:"poll_interval"`
	ProgressEvery int      `yaml:"progress_every"`
	AckTimeout    Duration `yaml:"ack_timeout"`
	StatusTimeout Duration `yaml:"status_timeout"`
	MaxRetries    *int     `yaml:"max_retries,omitempty"`
	SettleDelay   Duration `yaml:"settle_delay"`
	AwaitAll      bool     `yaml:"await_all"`
}

// ReconnectConfig bounds recovery from a dropped link.
type ReconnectConfig struct {
	Attempts int      `yaml:"attempts"`
	Delay    Duration `yaml:"delay"`
}

// AdapterConfig holds session notification settings.
type AdapterConfig struct {
	Type    string            `yaml:"type"`
	URL     string            `yaml:"url"`
	Channel string            `yaml:"channel,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty"`
	Timeout Duration          `yaml:"timeout,omitempty"`
	Retries *int              `yaml:"retries,omitempty"`

	// Redis only.
	LatestKey string   `yaml:"latest_key,omitempty"`
	LatestTTL Duration `yaml:"latest_ttl,omitempty"`
}

// Duration wraps time.Duration for YAML string parsing (e.g. "2s", "100ms").
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string like "10s" or "5m30s".
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

// Connection returns the connection settings with defaults applied.
func (c *Config) Connection() types.ConnectionConfig {
	conn := types.ConnectionConfig{
		PortName:            c.Port,
		BaudRate:            c.BaudRate,
		MaxInFlightCommands: c.MaxInFlight,
		ReadyThreshold:      c.ReadyThreshold,
	}
	if conn.BaudRate == 0 {
		conn.BaudRate = types.DefaultBaudRate
	}
	if conn.MaxInFlightCommands == 0 {
		conn.MaxInFlightCommands = types.DefaultMaxInFlightCommands
	}
	return conn
}

// CheckpointStore returns the checkpoint backend settings.
func (c *Config) CheckpointStore() checkpoint.Config {
	return checkpoint.Config{
		Backend:      c.Checkpoint.Backend,
		Path:         c.Checkpoint.Path,
		Region:       c.Checkpoint.Region,
		Endpoint:     c.Checkpoint.Endpoint,
		UsePathStyle: c.Checkpoint.S3PathStyle,
	}
}

// Validate checks values that cannot be caught by YAML decoding.
func (c *Config) Validate() error {
	var errs []error
	if c.BaudRate < 0 {
		errs = append(errs, fmt.Errorf("baud_rate must be >= 0, got %d", c.BaudRate))
	}
	if c.MaxInFlight < 0 {
		errs = append(errs, fmt.Errorf("max_in_flight must be >= 0, got %d", c.MaxInFlight))
	}
	if c.ReadyThreshold < 0 {
		errs = append(errs, fmt.Errorf("ready_threshold must be >= 0, got %d", c.ReadyThreshold))
	}
	if c.Streamer.ProgressEvery < 0 {
		errs = append(errs, fmt.Errorf("streamer.progress_every must be >= 0, got %d", c.Streamer.ProgressEvery))
	}
	if c.Streamer.MaxRetries != nil && *c.Streamer.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("streamer.max_retries must be >= 0, got %d", *c.Streamer.MaxRetries))
	}
	if c.Reconnect.Attempts < 0 {
		errs = append(errs, fmt.Errorf("reconnect.attempts must be >= 0, got %d", c.Reconnect.Attempts))
	}
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log_level: %w", err))
	}
	switch c.Checkpoint.Backend {
	case "", checkpoint.BackendFile, checkpoint.BackendLode, checkpoint.BackendS3, checkpoint.BackendMemory:
	default:
		errs = append(errs, fmt.Errorf("checkpoint.backend %q is not one of file, lode, s3, memory", c.Checkpoint.Backend))
	}
	if c.Adapter.LatestTTL.Duration < 0 {
		errs = append(errs, fmt.Errorf("adapter.latest_ttl must be >= 0, got %v", c.Adapter.LatestTTL.Duration))
	}
	switch c.Adapter.Type {
	case "", "webhook", "redis":
	default:
		errs = append(errs, fmt.Errorf("adapter.type %q is not one of webhook, redis", c.Adapter.Type))
	}
	return errors.Join(errs...)
}
