// Package link implements the serial client for GRBL-class controllers.
//
// A Link owns one serial port. It performs the wake handshake, polls the
// controller's buffer status, writes commands and classifies replies
// ("ok", "error:N", status reports). A Link is driven by a single worker
// goroutine; State may be read from any goroutine.
package link

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pithecene-io/gstream/log"
	"github.com/pithecene-io/gstream/types"
)

// Default timings.
const (
	DefaultReadTimeout   = 100 * time.Millisecond
	DefaultAckTimeout    = 30 * time.Second
	DefaultStatusTimeout = time.Second
	DefaultSettleDelay   = 2 * time.Second
	DefaultWakeToken     = "\r\n\r\n"
)

// statusRequest is the realtime status query byte.
const statusRequest = "?"

// Options tunes a Link. Zero values select defaults.
type Options struct {
	// ReadTimeout bounds a single port read.
	ReadTimeout time.Duration
	// AckTimeout bounds the wait for "ok"/"error" after a command.
	AckTimeout time.Duration
	// StatusTimeout bounds the wait for a status report.
	StatusTimeout time.Duration
	// SettleDelay is the pause after the wake token while the firmware boots.
	SettleDelay time.Duration
	// WakeToken is written on connect to reset the firmware's line parser.
	WakeToken string
	// Opener opens the port. Defaults to OpenSerial.
	Opener Opener
	// Sleep waits for d or until ctx is done. Defaults to a timer wait.
	Sleep func(ctx context.Context, d time.Duration) error
	// Logger receives link diagnostics. May be nil.
	Logger *log.Logger
	// OnStateChange observes state transitions. It runs on the caller's
	// goroutine and must not call back into the Link.
	OnStateChange func(from, to types.LinkState)
}

func (o Options) withDefaults() Options {
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = DefaultReadTimeout
	}
	if o.AckTimeout <= 0 {
		o.AckTimeout = DefaultAckTimeout
	}
	if o.StatusTimeout <= 0 {
		o.StatusTimeout = DefaultStatusTimeout
	}
	if o.SettleDelay < 0 {
		o.SettleDelay = 0
	} else if o.SettleDelay == 0 {
		o.SettleDelay = DefaultSettleDelay
	}
	if o.WakeToken == "" {
		o.WakeToken = DefaultWakeToken
	}
	if o.Opener == nil {
		o.Opener = OpenSerial
	}
	if o.Sleep == nil {
		o.Sleep = SleepContext
	}
	return o
}

// Ack is a successful command acknowledgment.
type Ack struct {
	// Command is the acknowledged command text.
	Command string
	// Elapsed is the time from write to "ok".
	Elapsed time.Duration
	// Skipped counts unrelated lines read while waiting.
	Skipped int
}

// Link is a connection to one controller.
type Link struct {
	cfg    types.ConnectionConfig
	opts   Options
	logger *log.Logger

	mu      sync.Mutex // guards port I/O and the fields below
	port    Port
	reader  *lineReader
	release func()
	last    BufferInfo

	// unanswered counts fire-and-forget writes whose "ok" or "error" has
	// not been read yet. Their replies are consumed before a later reply
	// is attributed to a command.
	unanswered int

	state atomic.Int32
}

// New creates a disconnected Link. The config is validated but no port is opened.
func New(cfg types.ConnectionConfig, opts Options) (*Link, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid connection config: %w", err)
	}
	opts = opts.withDefaults()
	return &Link{
		cfg:    cfg,
		opts:   opts,
		logger: opts.Logger.With("link"),
	}, nil
}

// Config returns the connection config.
func (l *Link) Config() types.ConnectionConfig { return l.cfg }

// State returns the current link state.
func (l *Link) State() types.LinkState {
	return types.LinkState(l.state.Load())
}

func (l *Link) setState(to types.LinkState) {
	from := types.LinkState(l.state.Swap(int32(to)))
	if from == to {
		return
	}
	l.logger.Debug("link state", map[string]any{
		"from": from.String(),
		"to":   to.String(),
	})
	if l.opts.OnStateChange != nil {
		l.opts.OnStateChange(from, to)
	}
}

// Connected reports whether the port is open and the handshake completed.
func (l *Link) Connected() bool {
	switch l.State() {
	case types.LinkIdle, types.LinkStreaming:
		return true
	default:
		return false
	}
}

// Connect opens the port and performs the wake sequence: write the wake
// token, wait the settle interval, then discard the boot banner.
// Fails with ErrPortUnavailable if the device cannot be opened or is held.
func (l *Link) Connect(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.port != nil {
		return nil
	}
	l.setState(types.LinkConnecting)
	if err := l.open(ctx); err != nil {
		l.setState(types.LinkFailed)
		return err
	}
	l.setState(types.LinkIdle)
	return nil
}

// open runs the claim, open and wake steps. Caller holds mu.
func (l *Link) open(ctx context.Context) error {
	release, err := claimPort(l.cfg.PortName)
	if err != nil {
		return &Error{Kind: ErrPortUnavailable, Op: "connect", Port: l.cfg.PortName, Code: -1, Err: err}
	}

	port, err := l.opts.Opener(l.cfg, l.opts.ReadTimeout)
	if err != nil {
		release()
		return &Error{Kind: ErrPortUnavailable, Op: "connect", Port: l.cfg.PortName, Code: -1, Err: err}
	}
	l.port = port
	l.reader = newLineReader(port)
	l.release = release

	if _, err := port.Write([]byte(l.opts.WakeToken)); err != nil {
		l.closePort()
		return l.dropped("wake", "", err)
	}
	if err := l.opts.Sleep(ctx, l.opts.SettleDelay); err != nil {
		l.closePort()
		return err
	}
	if err := port.Flush(); err != nil {
		l.closePort()
		return l.dropped("wake", "", err)
	}
	l.reader.reset()

	l.logger.Info("controller connected", map[string]any{
		"settle": l.opts.SettleDelay.String(),
	})
	return nil
}

// QueryBufferStatus flushes pending input, requests a status report and
// parses the reply. A missing or malformed reply yields a not-ready
// BufferInfo without error; only I/O failures are errors.
func (l *Link) QueryBufferStatus(ctx context.Context) (BufferInfo, error) {
	if err := ctx.Err(); err != nil {
		return BufferInfo{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.port == nil {
		return BufferInfo{}, l.notConnected("status")
	}
	// Pending input may hold replies to earlier writes; those must be
	// counted, not flushed.
	if l.unanswered == 0 {
		if err := l.port.Flush(); err != nil {
			return BufferInfo{}, l.failIO("status", "", err)
		}
		l.reader.reset()
	}
	if _, err := l.port.Write([]byte(statusRequest)); err != nil {
		return BufferInfo{}, l.failIO("status", "", err)
	}

	deadline := time.Now().Add(l.opts.StatusTimeout)
	var line string
	for {
		var err error
		line, err = l.reader.readLine(deadline)
		if err != nil {
			if errors.Is(err, errReadTimeout) {
				l.last = BufferInfo{}
				return l.last, nil
			}
			return BufferInfo{}, l.failIO("status", "", err)
		}
		if !l.answerEarlier(line) {
			break
		}
	}

	l.last = ParseStatus(line)
	if !l.last.Valid {
		l.logger.Debug("ignoring non-status reply", map[string]any{"line": line})
	}
	return l.last, nil
}

// LastStatus returns the most recent BufferInfo.
func (l *Link) LastStatus() BufferInfo {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.last
}

// IsReadyForMore reports readiness from the latest BufferInfo against the
// configured threshold.
func (l *Link) IsReadyForMore() bool {
	return l.LastStatus().ReadyForMore(l.cfg.Threshold())
}

// Ready probes the controller and reports whether it can accept more work.
func (l *Link) Ready(ctx context.Context) (bool, error) {
	if _, err := l.QueryBufferStatus(ctx); err != nil {
		return false, err
	}
	return l.IsReadyForMore(), nil
}

// SendCommand writes text and waits for its acknowledgment. An "error"
// reply is returned as ErrCommandRejected; no reply within AckTimeout is
// ErrTimeout. Once the command is written the wait is bounded by
// AckTimeout and is not interrupted by ctx, so a line is never abandoned
// half-acknowledged.
func (l *Link) SendCommand(ctx context.Context, text string) (Ack, error) {
	if err := ctx.Err(); err != nil {
		return Ack{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.write("send", text); err != nil {
		return Ack{}, err
	}

	start := time.Now()
	deadline := start.Add(l.opts.AckTimeout)
	skipped := 0
	for {
		line, err := l.reader.readLine(deadline)
		if err != nil {
			if errors.Is(err, errReadTimeout) {
				return Ack{}, &Error{Kind: ErrTimeout, Op: "send", Port: l.cfg.PortName, Command: text, Code: -1}
			}
			return Ack{}, l.failIO("send", text, err)
		}

		line = strings.TrimSpace(line)
		if l.answerEarlier(line) {
			continue
		}
		switch {
		case line == "ok":
			return Ack{Command: text, Elapsed: time.Since(start), Skipped: skipped}, nil
		case strings.HasPrefix(line, "error"):
			code := parseErrorCode(line)
			l.logger.Warn("command rejected", map[string]any{
				"command": text,
				"code":    code,
			})
			return Ack{}, &Error{Kind: ErrCommandRejected, Op: "send", Port: l.cfg.PortName, Command: text, Code: code}
		case line != "":
			// Status reports, [MSG:..] and ALARM lines interleave with acks.
			skipped++
			l.logger.Debug("skipping line while awaiting ack", map[string]any{
				"command": text,
				"line":    line,
			})
		}
	}
}

// Write sends text without waiting for acknowledgment. Its reply is
// consumed by whichever later status probe or SendCommand reads it, so a
// late "ok" is never taken for another command's acknowledgment.
func (l *Link) Write(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.write("write", text); err != nil {
		return err
	}
	l.unanswered++
	return nil
}

// Unanswered returns the number of Write commands whose reply has not
// been read.
func (l *Link) Unanswered() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.unanswered
}

// answerEarlier consumes line as the reply to the oldest unanswered Write.
// It reports false if line is not such a reply. Caller holds mu.
func (l *Link) answerEarlier(line string) bool {
	line = strings.TrimSpace(line)
	if l.unanswered == 0 || (line != "ok" && !strings.HasPrefix(line, "error")) {
		return false
	}
	l.unanswered--
	if line != "ok" {
		l.logger.Warn("earlier command rejected", map[string]any{
			"code": parseErrorCode(line),
		})
	}
	return true
}

// write puts one newline-terminated command on the wire. Caller holds mu.
func (l *Link) write(op, text string) error {
	if l.port == nil {
		return l.notConnected(op)
	}
	if strings.ContainsAny(text, "\r\n") {
		return fmt.Errorf("%s: command contains a line terminator: %q", op, text)
	}
	if l.State() == types.LinkIdle {
		l.setState(types.LinkStreaming)
	}
	if _, err := l.port.Write([]byte(text + "\n")); err != nil {
		return l.failIO(op, text, err)
	}
	return nil
}

// Idle marks the end of a streaming pass.
func (l *Link) Idle() {
	if l.State() == types.LinkStreaming {
		l.setState(types.LinkIdle)
	}
}

// Reconnect closes the port and retries Connect up to attempts times,
// waiting delay between tries. Attempts are serialized and stop early
// when ctx is done.
func (l *Link) Reconnect(ctx context.Context, attempts int, delay time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if attempts <= 0 {
		attempts = 1
	}
	l.closePort()
	l.setState(types.LinkReconnecting)

	var lastErr error
	for i := range attempts {
		if i > 0 {
			if err := l.opts.Sleep(ctx, delay); err != nil {
				l.setState(types.LinkFailed)
				return err
			}
		}
		if err := ctx.Err(); err != nil {
			l.setState(types.LinkFailed)
			return err
		}

		l.logger.Info("reconnect attempt", map[string]any{
			"attempt":  i + 1,
			"attempts": attempts,
		})
		lastErr = l.open(ctx)
		if lastErr == nil {
			l.setState(types.LinkIdle)
			return nil
		}
		if errors.Is(lastErr, context.Canceled) || errors.Is(lastErr, context.DeadlineExceeded) {
			l.setState(types.LinkFailed)
			return lastErr
		}
		l.logger.Warn("reconnect attempt failed", map[string]any{
			"attempt": i + 1,
			"error":   lastErr.Error(),
		})
	}

	l.setState(types.LinkFailed)
	return fmt.Errorf("reconnect failed after %d attempts: %w", attempts, lastErr)
}

// Close releases the port. It is idempotent.
func (l *Link) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	err := l.closePort()
	l.setState(types.LinkDisconnected)
	return err
}

// closePort closes and releases the port. Caller holds mu.
func (l *Link) closePort() error {
	if l.port == nil {
		return nil
	}
	err := l.port.Close()
	l.port = nil
	l.reader = nil
	l.unanswered = 0
	if l.release != nil {
		l.release()
		l.release = nil
	}
	return err
}

// failIO closes the port after an I/O failure and classifies it as dropped.
// Caller holds mu.
func (l *Link) failIO(op, command string, err error) error {
	_ = l.closePort()
	l.setState(types.LinkFailed)
	return l.dropped(op, command, err)
}

func (l *Link) dropped(op, command string, err error) error {
	l.logger.Error("link dropped", map[string]any{
		"op":    op,
		"error": err.Error(),
	})
	return &Error{Kind: ErrLinkDropped, Op: op, Port: l.cfg.PortName, Command: command, Code: -1, Err: err}
}

func (l *Link) notConnected(op string) error {
	return &Error{Kind: ErrNotConnected, Op: op, Port: l.cfg.PortName, Code: -1}
}

// SleepContext waits for d or until ctx is done.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
