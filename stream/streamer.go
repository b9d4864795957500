// Package stream drives a G-code command sequence through a controller link.
//
// Every command waits for a readiness probe. Blocking commands (motion and
// homing) are sent and acknowledged before the next one goes out; other
// commands are written without waiting and the following probe guards
// against overrun. A stop request (context cancellation) is honored between
// commands: the command on the wire is always allowed to finish.
package stream

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pithecene-io/gstream/gcode"
	"github.com/pithecene-io/gstream/link"
	"github.com/pithecene-io/gstream/log"
	"github.com/pithecene-io/gstream/metrics"
)

// Defaults.
const (
	DefaultPollInterval  = 100 * time.Millisecond
	DefaultProgressEvery = 100
	DefaultMaxRetries    = 3
)

// Controller is the link surface the streamer needs. *link.Link implements it.
type Controller interface {
	Connected() bool
	Connect(ctx context.Context) error
	Ready(ctx context.Context) (bool, error)
	SendCommand(ctx context.Context, text string) (link.Ack, error)
	Write(ctx context.Context, text string) error
	Idle()
	Close() error
}

var _ Controller = (*link.Link)(nil)

// Options tunes a Streamer. Zero values select defaults.
type Options struct {
	// PollInterval is the pause between readiness probes that report not ready.
	PollInterval time.Duration
	// ProgressEvery is the number of commands between progress callbacks.
	ProgressEvery int
	// MaxRetries bounds resends of a command after a timeout or rejection.
	MaxRetries int
	// AwaitAll acknowledges every command, not just blocking ones.
	AwaitAll bool
	// Sleep waits for d or until ctx is done. Defaults to link.SleepContext.
	Sleep func(ctx context.Context, d time.Duration) error
	// Logger receives streaming diagnostics. May be nil.
	Logger *log.Logger
	// Collector counts commands and polls. May be nil.
	Collector *metrics.Collector
	// OnProgress is called every ProgressEvery commands and once at the end
	// of a completed pass, on the streaming goroutine.
	OnProgress func(sent, total int)
	// OnRejected is called for each command the controller rejects.
	OnRejected func(cmd gcode.Command, code int)
}

func (o Options) withDefaults() Options {
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.ProgressEvery <= 0 {
		o.ProgressEvery = DefaultProgressEvery
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	} else if o.MaxRetries == 0 {
		o.MaxRetries = DefaultMaxRetries
	}
	if o.Sleep == nil {
		o.Sleep = link.SleepContext
	}
	return o
}

// Streamer runs files through a Controller. It holds no per-file state and
// may be reused for consecutive files, but not concurrently on one link.
type Streamer struct {
	opts   Options
	logger *log.Logger
}

// New creates a Streamer.
func New(opts Options) *Streamer {
	opts = opts.withDefaults()
	return &Streamer{
		opts:   opts,
		logger: opts.Logger.With("stream"),
	}
}

// pass is the mutable state of one Stream call.
type pass struct {
	src    *gcode.Source
	result Result
}

// Stream sends src's commands from index start onward. It connects ctrl if
// needed. Cancelling ctx requests a stop: the command currently on the wire
// completes, no further command is sent, and the result is Aborted.
func (s *Streamer) Stream(ctx context.Context, ctrl Controller, src *gcode.Source, start int) Result {
	total := src.Len()
	if start < 0 || start > total {
		start = 0
	}
	p := &pass{src: src, result: Result{State: Streaming, Sent: start, Total: total}}

	if !ctrl.Connected() {
		if err := ctrl.Connect(ctx); err != nil {
			if ctx.Err() != nil {
				return p.abort()
			}
			// Nothing was written on this pass.
			return s.fail(ctrl, p, start, true, err)
		}
	}

	s.logger.Info("streaming file", map[string]any{
		"path":  src.Path(),
		"total": total,
		"start": start,
	})

	for i := start; i < total; i++ {
		cmd := src.At(i)

		// Stop requests are honored between commands only.
		if ctx.Err() != nil {
			return p.abort()
		}
		if err := s.awaitReady(ctx, ctrl); err != nil {
			if ctx.Err() != nil {
				return p.abort()
			}
			// The probe failed before command i was written.
			return s.fail(ctrl, p, i, true, err)
		}

		if err := s.send(ctx, ctrl, p, cmd); err != nil {
			return s.fail(ctrl, p, 0, false, err)
		}
		p.result.Sent = i + 1

		if p.result.Sent%s.opts.ProgressEvery == 0 && s.opts.OnProgress != nil {
			s.opts.OnProgress(p.result.Sent, total)
		}
	}

	ctrl.Idle()
	p.result.State = Completed
	if s.opts.OnProgress != nil && total%s.opts.ProgressEvery != 0 {
		s.opts.OnProgress(total, total)
	}
	s.logger.Info("file completed", map[string]any{
		"path":     src.Path(),
		"total":    total,
		"rejected": p.result.Rejected,
	})
	return p.result
}

// awaitReady polls until the controller reports room for more work.
func (s *Streamer) awaitReady(ctx context.Context, ctrl Controller) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		ready, err := ctrl.Ready(ctx)
		s.opts.Collector.IncStatusPoll(ready && err == nil)
		if err != nil {
			return err
		}
		if ready {
			return nil
		}
		if err := s.opts.Sleep(ctx, s.opts.PollInterval); err != nil {
			return err
		}
	}
}

// send writes one command and, when it must be confirmed, waits for its
// acknowledgment. The write and acknowledgment are detached from ctx so a
// stop never leaves a command half-processed. A non-nil return is fatal to
// the pass; rejections are absorbed here.
func (s *Streamer) send(ctx context.Context, ctrl Controller, p *pass, cmd gcode.Command) error {
	wire := context.WithoutCancel(ctx)

	if !cmd.Blocking && !s.opts.AwaitAll {
		if err := ctrl.Write(wire, cmd.Text); err != nil {
			return err
		}
		s.opts.Collector.IncCommandSent()
		return nil
	}

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			s.opts.Collector.IncCommandRetry()
		}
		_, err := ctrl.SendCommand(wire, cmd.Text)
		s.opts.Collector.IncCommandSent()
		if err == nil {
			s.opts.Collector.IncCommandAcked()
			return nil
		}

		// No resends once a stop was requested.
		canRetry := attempt < s.opts.MaxRetries && ctx.Err() == nil

		switch {
		case errors.Is(err, link.ErrCommandRejected):
			code, _ := link.RejectionCode(err)
			s.opts.Collector.IncCommandRejected()
			if cmd.Blocking && canRetry {
				s.logger.Warn("blocking command rejected, resending", map[string]any{
					"command": cmd.Text,
					"line":    cmd.Line,
					"code":    code,
					"attempt": attempt + 1,
				})
				continue
			}
			p.result.Rejected++
			s.logger.Warn("command rejected, continuing", map[string]any{
				"command": cmd.Text,
				"line":    cmd.Line,
				"code":    code,
			})
			if s.opts.OnRejected != nil {
				s.opts.OnRejected(cmd, code)
			}
			return nil

		case errors.Is(err, link.ErrTimeout):
			s.opts.Collector.IncAckTimeout()
			if ctx.Err() != nil {
				// Stopped while waiting: the command was written, count it.
				return nil
			}
			if canRetry {
				s.logger.Warn("acknowledgment timeout, resending", map[string]any{
					"command": cmd.Text,
					"line":    cmd.Line,
					"attempt": attempt + 1,
				})
				continue
			}
			return fmt.Errorf("line %d %q: no acknowledgment after %d attempts: %w",
				cmd.Line, cmd.Text, attempt+1, err)

		default:
			return err
		}
	}
}

func (p *pass) abort() Result {
	p.result.State = Aborted
	return p.result
}

// fail closes the controller and records a Failed result.
func (s *Streamer) fail(ctrl Controller, p *pass, next int, resumable bool, err error) Result {
	p.result.State = Failed
	p.result.Err = err
	p.result.Resumable = resumable
	if resumable {
		p.result.Next = next
	}
	if closeErr := ctrl.Close(); closeErr != nil {
		s.logger.Warn("close after failure", map[string]any{"error": closeErr.Error()})
	}
	s.logger.Error("streaming failed", map[string]any{
		"path":      p.src.Path(),
		"sent":      p.result.Sent,
		"total":     p.result.Total,
		"resumable": resumable,
		"error":     err.Error(),
	})
	return p.result
}
