// Package cmd provides CLI commands for the gstream binary.
package cmd

import (
	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/gstream/adapter/webhook"
	"github.com/pithecene-io/gstream/link"
	"github.com/pithecene-io/gstream/runner"
	"github.com/pithecene-io/gstream/stream"
	"github.com/pithecene-io/gstream/types"
)

// Shared output flags.
var (
	// FormatFlag selects output format: json, table, yaml.
	FormatFlag = &cli.StringFlag{
		Name:    "format",
		Aliases: []string{"f"},
		Usage:   "Output format: json, table, yaml",
	}

	// NoColorFlag disables colored output.
	NoColorFlag = &cli.BoolFlag{
		Name:  "no-color",
		Usage: "Disable colored output",
	}

	// TUIFlag enables the Bubble Tea progress view.
	TUIFlag = &cli.BoolFlag{
		Name:  "tui",
		Usage: "Show the interactive progress view (run, continue only)",
	}

	// ConfigFlag points at a gstream.yaml file.
	ConfigFlag = &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "Path to config file (default ./gstream.yaml if present)",
	}
)

// OutputFlags returns the shared flags for commands that render results.
func OutputFlags() []cli.Flag {
	return []cli.Flag{
		FormatFlag,
		NoColorFlag,
	}
}

// checkpointFlags select the progress store.
func checkpointFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  "checkpoint-backend",
			Usage: "Checkpoint backend: file, lode, s3, memory",
			Value: "file",
		},
		&cli.StringFlag{
			Name:  "checkpoint-path",
			Usage: "Checkpoint location (file: JSON file, lode: directory, s3: bucket/prefix)",
		},
		&cli.StringFlag{
			Name:  "checkpoint-region",
			Usage: "AWS region for the s3 backend (optional, uses default chain)",
		},
		&cli.StringFlag{
			Name:  "checkpoint-endpoint",
			Usage: "Custom S3 endpoint (MinIO, R2)",
		},
		&cli.BoolFlag{
			Name:  "checkpoint-s3-path-style",
			Usage: "Use path-style S3 addressing",
		},
	}
}

// SessionFlags returns the flags shared by run and continue.
func SessionFlags() []cli.Flag {
	flags := []cli.Flag{
		ConfigFlag,
		FormatFlag,
		NoColorFlag,
		TUIFlag,
		&cli.BoolFlag{
			Name:  "quiet",
			Usage: "Suppress event and summary output",
		},
		&cli.StringFlag{
			Name:  "log-file",
			Usage: "Write JSON logs to this file instead of stderr",
		},
		&cli.StringFlag{
			Name:  "log-level",
			Usage: "Log verbosity: debug, info, warn or error",
			Value: "info",
		},
		// Connection
		&cli.StringFlag{
			Name:    "port",
			Aliases: []string{"p"},
			Usage:   "Serial port of the controller (env PORT via config)",
		},
		&cli.IntFlag{
			Name:  "baud",
			Usage: "Baud rate",
			Value: types.DefaultBaudRate,
		},
		&cli.IntFlag{
			Name:  "max-in-flight",
			Usage: "Planner buffer capacity of the firmware",
			Value: types.DefaultMaxInFlightCommands,
		},
		&cli.IntFlag{
			Name:  "ready-threshold",
			Usage: "Free planner slots required before sending (0 = half the capacity)",
		},
		// Playlist
		&cli.BoolFlag{
			Name:  "loop",
			Usage: "Restart the playlist after the last file",
		},
		&cli.StringFlag{
			Name:  "preamble",
			Usage: "G-code file streamed once after connecting (e.g. homing)",
		},
		// Streaming
		&cli.DurationFlag{
			Name:  "poll-interval",
			Usage: "Pause between buffer status polls while the controller is busy",
			Value: stream.DefaultPollInterval,
		},
		&cli.IntFlag{
			Name:  "progress-every",
			Usage: "Commands between progress events",
			Value: stream.DefaultProgressEvery,
		},
		&cli.DurationFlag{
			Name:  "ack-timeout",
			Usage: "Wait for ok/error after a blocking command",
			Value: link.DefaultAckTimeout,
		},
		&cli.DurationFlag{
			Name:  "status-timeout",
			Usage: "Wait for a status report",
			Value: link.DefaultStatusTimeout,
		},
		&cli.DurationFlag{
			Name:  "settle-delay",
			Usage: "Pause after waking the controller",
			Value: link.DefaultSettleDelay,
		},
		&cli.IntFlag{
			Name:  "max-retries",
			Usage: "Resends of a timed out or rejected command",
			Value: stream.DefaultMaxRetries,
		},
		&cli.BoolFlag{
			Name:  "await-all",
			Usage: "Wait for an acknowledgment after every command",
		},
		// Reconnect
		&cli.IntFlag{
			Name:  "reconnect-attempts",
			Usage: "Reopen attempts after the link drops",
			Value: runner.DefaultReconnectAttempts,
		},
		&cli.DurationFlag{
			Name:  "reconnect-delay",
			Usage: "Pause between reopen attempts",
			Value: runner.DefaultReconnectDelay,
		},
		// Adapter
		&cli.StringFlag{
			Name:  "adapter",
			Usage: "Session notification adapter: webhook or redis",
		},
		&cli.StringFlag{
			Name:  "adapter-url",
			Usage: "Webhook endpoint or redis:// URL",
		},
		&cli.StringFlag{
			Name:  "adapter-channel",
			Usage: "Redis pub/sub channel",
		},
		&cli.StringFlag{
			Name:  "adapter-latest-key",
			Usage: "Redis key that keeps the last session event",
		},
		&cli.DurationFlag{
			Name:  "adapter-latest-ttl",
			Usage: "Expiry for --adapter-latest-key (0 keeps it)",
		},
		&cli.StringSliceFlag{
			Name:  "adapter-header",
			Usage: "Webhook header as key=value (repeatable)",
		},
		&cli.DurationFlag{
			Name:  "adapter-timeout",
			Usage: "Per-attempt notification timeout",
			Value: webhook.DefaultTimeout,
		},
		&cli.IntFlag{
			Name:  "adapter-retries",
			Usage: "Notification retries",
			Value: webhook.DefaultRetries,
		},
	}
	return append(flags, checkpointFlags()...)
}
