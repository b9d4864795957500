package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/gstream/adapter"
	"github.com/pithecene-io/gstream/adapter/redis"
	"github.com/pithecene-io/gstream/adapter/webhook"
	"github.com/pithecene-io/gstream/checkpoint"
	"github.com/pithecene-io/gstream/cli/config"
	"github.com/pithecene-io/gstream/cli/render"
	"github.com/pithecene-io/gstream/cli/tui"
	"github.com/pithecene-io/gstream/iox"
	"github.com/pithecene-io/gstream/link"
	"github.com/pithecene-io/gstream/log"
	"github.com/pithecene-io/gstream/playlist"
	"github.com/pithecene-io/gstream/runner"
	"github.com/pithecene-io/gstream/stream"
	"github.com/pithecene-io/gstream/types"
)

// Exit codes for run and continue.
const (
	exitFinished    = 0
	exitUsage       = 1
	exitLinkFailure = 2
	exitStopped     = 3
)

// configureLink, when set, adjusts link options before a session starts.
var configureLink func(*link.Options)

// session is everything one run or continue invocation owns.
type session struct {
	cfg      *config.Config
	runner   *runner.Runner
	store    checkpoint.Store
	notifier adapter.Adapter
	logger   *log.Logger
	renderer *render.Renderer
	port     string
	closers  iox.Stack
}

// close releases the adapter and the log sink. Failures there cannot change
// the session outcome, so they are dropped.
func (s *session) close() { _ = s.closers.Close() }

// adapterChoice holds resolved adapter settings.
type adapterChoice struct {
	adapterType string
	url         string
	channel     string
	headers     map[string]string
	timeout     time.Duration
	retries     int
	latestKey   string
	latestTTL   time.Duration
}

// newSession resolves flags against the config file and builds the runner.
// files may be empty (continue seeds the playlist from the checkpoint).
func newSession(c *cli.Context, files []string) (*session, error) {
	cfg, err := config.LoadOrDefault(c.String("config"))
	if err != nil {
		return nil, cli.Exit(err.Error(), exitUsage)
	}

	renderer, err := render.NewRenderer(c)
	if err != nil {
		return nil, cli.Exit(err.Error(), exitUsage)
	}

	s := &session{cfg: cfg, renderer: renderer}
	ok := false
	defer func() {
		if !ok {
			s.close()
		}
	}()

	conn := types.ConnectionConfig{
		PortName:            resolveString(c, "port", cfg.Port),
		BaudRate:            resolveInt(c, "baud", cfg.BaudRate),
		MaxInFlightCommands: resolveInt(c, "max-in-flight", cfg.MaxInFlight),
		ReadyThreshold:      resolveInt(c, "ready-threshold", cfg.ReadyThreshold),
	}
	if conn.PortName == "" {
		return nil, cli.Exit("--port is required (flag or config file)", exitUsage)
	}
	if err := conn.Validate(); err != nil {
		return nil, cli.Exit(fmt.Sprintf("invalid connection: %v", err), exitUsage)
	}

	s.port = conn.PortName
	sessionID := uuid.NewString()
	s.logger, err = newLogger(c, s, log.Session{SessionID: sessionID, Port: conn.PortName, Baud: conn.BaudRate})
	if err != nil {
		return nil, cli.Exit(err.Error(), exitUsage)
	}

	ctx := c.Context
	if ctx == nil {
		ctx = context.Background()
	}
	s.store, err = checkpoint.Open(ctx, checkpointChoice(c, cfg), s.logger.With("checkpoint"))
	if err != nil {
		return nil, cli.Exit(fmt.Sprintf("checkpoint: %v", err), exitUsage)
	}

	choice, err := parseAdapterConfigWithPrecedence(c, cfg, resolveString(c, "adapter", cfg.Adapter.Type))
	if err != nil {
		return nil, cli.Exit(err.Error(), exitUsage)
	}
	if choice != nil {
		s.notifier, err = buildAdapter(choice)
		if err != nil {
			return nil, cli.Exit(fmt.Sprintf("adapter: %v", err), exitUsage)
		}
		s.closers.Push("adapter", s.notifier)
	}

	pl := playlist.New(resolveBool(c, "loop", cfg.Loop))
	if len(files) > 0 {
		if err := pl.EnqueueAll(files...); err != nil {
			return nil, cli.Exit(err.Error(), exitUsage)
		}
	}

	linkOpts := link.Options{
		AckTimeout:    resolveDuration(c, "ack-timeout", cfg.Streamer.AckTimeout.Duration),
		StatusTimeout: resolveDuration(c, "status-timeout", cfg.Streamer.StatusTimeout.Duration),
		SettleDelay:   resolveDuration(c, "settle-delay", cfg.Streamer.SettleDelay.Duration),
	}
	if configureLink != nil {
		configureLink(&linkOpts)
	}

	retries := resolveRetries(c, "max-retries", cfg.Streamer.MaxRetries)
	if retries == 0 {
		retries = -1
	}

	s.runner, err = runner.New(pl, runner.Config{
		Connection: conn,
		Link:       linkOpts,
		Stream: stream.Options{
			PollInterval:  resolveDuration(c, "poll-interval", cfg.Streamer.PollInterval.Duration),
			ProgressEvery: resolveInt(c, "progress-every", cfg.Streamer.ProgressEvery),
			MaxRetries:    retries,
			AwaitAll:      resolveBool(c, "await-all", cfg.Streamer.AwaitAll),
			Sleep:         linkOpts.Sleep,
		},
		Reconnect: runner.ReconnectPolicy{
			Attempts: resolveInt(c, "reconnect-attempts", cfg.Reconnect.Attempts),
			Delay:    resolveDuration(c, "reconnect-delay", cfg.Reconnect.Delay.Duration),
		},
		Checkpoint: s.store,
		Adapter:    s.notifier,
		Preamble:   resolveString(c, "preamble", cfg.Preamble),
		SessionID:  sessionID,
		Logger:     s.logger,
	})
	if err != nil {
		return nil, cli.Exit(err.Error(), exitUsage)
	}

	ok = true
	return s, nil
}

// newLogger writes to --log-file, to stderr, or nowhere while the TUI owns
// the terminal.
func newLogger(c *cli.Context, s *session, sess log.Session) (*log.Logger, error) {
	opts := log.Options{Level: resolveString(c, "log-level", s.cfg.LogLevel)}
	if path := c.String("log-file"); path != "" {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("cannot open log file: %w", err)
		}
		s.closers.Push("log file", f)
		return log.New(f, sess, opts)
	}
	if c.Bool("tui") {
		return log.Nop(), nil
	}
	opts.Console = render.IsTTY(os.Stderr)
	logger, err := log.New(os.Stderr, sess, opts)
	if err != nil {
		return nil, err
	}
	// Sync on a terminal stderr reports EINVAL on some platforms.
	s.closers.PushFunc("logger", func() error { _ = logger.Sync(); return nil })
	return logger, nil
}

func checkpointChoice(c *cli.Context, cfg *config.Config) checkpoint.Config {
	fromFile := cfg.CheckpointStore()
	return checkpoint.Config{
		Backend:      resolveString(c, "checkpoint-backend", fromFile.Backend),
		Path:         resolveString(c, "checkpoint-path", fromFile.Path),
		Region:       resolveString(c, "checkpoint-region", fromFile.Region),
		Endpoint:     resolveString(c, "checkpoint-endpoint", fromFile.Endpoint),
		UsePathStyle: resolveBool(c, "checkpoint-s3-path-style", fromFile.UsePathStyle),
	}
}

// parseAdapterConfigWithPrecedence resolves adapter settings. It returns
// nil when no adapter is selected.
func parseAdapterConfigWithPrecedence(c *cli.Context, cfg *config.Config, adapterType string) (*adapterChoice, error) {
	if adapterType == "" {
		return nil, nil
	}

	ac := &adapterChoice{
		adapterType: adapterType,
		url:         resolveString(c, "adapter-url", configVal(cfg, func(c *config.Config) string { return c.Adapter.URL })),
		channel:     resolveString(c, "adapter-channel", configVal(cfg, func(c *config.Config) string { return c.Adapter.Channel })),
		headers:     map[string]string{},
		latestKey:   resolveString(c, "adapter-latest-key", configVal(cfg, func(c *config.Config) string { return c.Adapter.LatestKey })),
		latestTTL:   resolveDuration(c, "adapter-latest-ttl", configVal(cfg, func(c *config.Config) time.Duration { return c.Adapter.LatestTTL.Duration })),
	}

	for k, v := range configVal(cfg, func(c *config.Config) map[string]string { return c.Adapter.Headers }) {
		ac.headers[k] = v
	}
	for _, h := range c.StringSlice("adapter-header") {
		k, v, found := strings.Cut(h, "=")
		if !found || k == "" {
			return nil, fmt.Errorf("invalid --adapter-header %q (expected key=value)", h)
		}
		ac.headers[k] = v
	}

	cfgTimeout := configVal(cfg, func(c *config.Config) time.Duration { return c.Adapter.Timeout.Duration })
	switch {
	case c.IsSet("adapter-timeout"):
		ac.timeout = c.Duration("adapter-timeout")
	case cfgTimeout > 0:
		ac.timeout = cfgTimeout
	}
	ac.retries = resolveRetries(c, "adapter-retries", configVal(cfg, func(c *config.Config) *int { return c.Adapter.Retries }))

	switch adapterType {
	case "webhook":
		if ac.url == "" {
			return nil, errors.New("--adapter-url is required for the webhook adapter")
		}
	case "redis":
		if ac.url == "" {
			return nil, errors.New("--adapter-url is required for the redis adapter (redis://host:port/db)")
		}
	default:
		return nil, fmt.Errorf("unknown adapter %q (must be webhook or redis)", adapterType)
	}
	return ac, nil
}

func buildAdapter(ac *adapterChoice) (adapter.Adapter, error) {
	switch ac.adapterType {
	case "webhook":
		return webhook.New(webhook.Config{
			URL:     ac.url,
			Headers: ac.headers,
			Timeout: ac.timeout,
			Retries: ac.retries,
		})
	case "redis":
		return redis.New(redis.Config{
			URL:       ac.url,
			Channel:   ac.channel,
			LatestKey: ac.latestKey,
			LatestTTL: ac.latestTTL,
			Timeout:   ac.timeout,
			Retries:   ac.retries,
		})
	default:
		return nil, fmt.Errorf("unknown adapter %q", ac.adapterType)
	}
}

// SessionView is the summary printed after a session ends.
type SessionView struct {
	SessionID      string  `json:"session_id"`
	Outcome        string  `json:"outcome"`
	Error          string  `json:"error,omitempty"`
	FilesCompleted int     `json:"files_completed"`
	CurrentIndex   int     `json:"current_index"`
	FileProgress   float64 `json:"file_progress"`
	Duration       string  `json:"duration"`
	CommandsSent   int64   `json:"commands_sent"`
	Rejected       int64   `json:"commands_rejected"`
	Reconnects     int64   `json:"reconnects"`
	EventsDropped  int64   `json:"events_dropped"`
}

// watch starts the session through start, shows its events until it ends
// and maps the outcome to an exit code. SIGINT and SIGTERM request a stop;
// the worker still writes its checkpoint before watch returns.
func (s *session) watch(c *cli.Context, start func() error) error {
	if err := start(); err != nil {
		if errors.Is(err, runner.ErrNoFilesQueued) {
			return cli.Exit("no G-code files queued", exitUsage)
		}
		return cli.Exit(err.Error(), exitUsage)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			s.runner.Stop()
		case <-s.runner.Done():
		}
	}()

	events := s.runner.Events()
	quiet := c.Bool("quiet")
	if c.Bool("tui") && !quiet {
		_, err := tui.Run(events, tui.Options{
			Port:  s.port,
			Files: s.runner.Playlist().Files(),
			Stop:  s.runner.Stop,
		})
		if err != nil {
			s.logger.Warn("progress view ended", map[string]any{"error": err.Error()})
		}
	}
	// The view may leave early; events must still be drained.
	silent := quiet || c.Bool("tui")
	for ev := range events {
		if silent {
			continue
		}
		if err := s.renderer.Event(ev); err != nil {
			s.logger.Warn("render event", map[string]any{"error": err.Error()})
		}
	}
	<-s.runner.Done()

	sum, _ := s.runner.Result()
	if !quiet {
		stats := s.runner.Stats()
		view := SessionView{
			SessionID:      sum.SessionID,
			Outcome:        sum.Outcome,
			FilesCompleted: sum.FilesCompleted,
			CurrentIndex:   sum.Checkpoint.CurrentIndex,
			FileProgress:   sum.Checkpoint.FileProgress,
			Duration:       sum.Duration.Round(time.Millisecond).String(),
			CommandsSent:   stats.CommandsSent,
			Rejected:       stats.CommandsRejected,
			Reconnects:     stats.Reconnects,
			EventsDropped:  stats.EventsDropped,
		}
		if sum.Err != nil {
			view.Error = sum.Err.Error()
		}
		if err := s.renderer.Render(view); err != nil {
			return err
		}
	}

	code := outcomeToExitCode(sum)
	if sum.Err != nil {
		return cli.Exit(sum.Err.Error(), code)
	}
	return cli.Exit("", code)
}

// outcomeToExitCode maps a session summary to the process exit code.
func outcomeToExitCode(sum runner.Summary) int {
	switch sum.Outcome {
	case runner.OutcomeFinished:
		return exitFinished
	case runner.OutcomeStopped:
		return exitStopped
	case runner.OutcomeFailed:
		var linkErr *link.Error
		if errors.As(sum.Err, &linkErr) {
			return exitLinkFailure
		}
		return exitUsage
	default:
		return exitUsage
	}
}
