// Package runner executes a playlist on one controller in the background.
//
// A Runner owns at most one session at a time. A session is a single worker
// goroutine that connects the controller link, streams each queued file,
// reconnects after a dropped link, writes checkpoints at file boundaries
// and on stop, and reports to the caller through an ordered event stream.
// Callers control it through Start, Stop and Continue; none of them block
// on the worker.
package runner

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/pithecene-io/gstream/adapter"
	"github.com/pithecene-io/gstream/checkpoint"
	"github.com/pithecene-io/gstream/gcode"
	"github.com/pithecene-io/gstream/link"
	"github.com/pithecene-io/gstream/log"
	"github.com/pithecene-io/gstream/metrics"
	"github.com/pithecene-io/gstream/playlist"
	"github.com/pithecene-io/gstream/stream"
	"github.com/pithecene-io/gstream/types"
)

// Control surface errors.
var (
	// ErrNoFilesQueued is returned by Start when the playlist is empty.
	ErrNoFilesQueued = errors.New("no files queued")
	// ErrAlreadyRunning is returned when a session is still active.
	ErrAlreadyRunning = errors.New("runner already running")
)

// Defaults.
const (
	DefaultReconnectAttempts = 5
	DefaultReconnectDelay    = 2 * time.Second
	DefaultCheckpointTimeout = 10 * time.Second
	DefaultNotifyTimeout     = 10 * time.Second
)

// Session outcomes.
const (
	OutcomeFinished = adapter.OutcomeFinished
	OutcomeStopped  = adapter.OutcomeStopped
	OutcomeFailed   = adapter.OutcomeFailed
)

// ReconnectPolicy bounds recovery from a dropped link.
type ReconnectPolicy struct {
	// Attempts is the number of reopen tries per drop.
	Attempts int
	// Delay is the pause between tries.
	Delay time.Duration
}

// Config configures a Runner.
type Config struct {
	// Connection identifies the controller.
	Connection types.ConnectionConfig
	// Link tunes the controller link (timeouts, opener, settle delay).
	Link link.Options
	// Stream tunes the per-file streamer. The runner sets its Logger,
	// Collector, OnProgress and OnRejected.
	Stream stream.Options
	// Reconnect bounds link recovery. Zero values select defaults.
	Reconnect ReconnectPolicy
	// Checkpoint persists progress. If nil, nothing is persisted and
	// Continue starts from the playlist cursor.
	Checkpoint checkpoint.Store
	// CheckpointTimeout bounds one checkpoint write.
	CheckpointTimeout time.Duration
	// Adapter is notified once per session when it ends. May be nil.
	Adapter adapter.Adapter
	// NotifyTimeout bounds the adapter publish.
	NotifyTimeout time.Duration
	// Preamble is an optional G-code file streamed once after connecting,
	// before the first job (e.g. a homing program).
	Preamble string
	// EventBuffer is the number of undelivered events held for a slow
	// consumer before progress, then status, events are dropped.
	EventBuffer int
	// EventDrainWait is how long events left after the session ends wait
	// for a reader before they are discarded.
	EventDrainWait time.Duration
	// SessionID names sessions. Empty means a random ID per session.
	SessionID string
	// Logger receives runner diagnostics. May be nil.
	Logger *log.Logger
}

func (c Config) withDefaults() Config {
	if c.Reconnect.Attempts <= 0 {
		c.Reconnect.Attempts = DefaultReconnectAttempts
	}
	if c.Reconnect.Delay < 0 {
		c.Reconnect.Delay = 0
	} else if c.Reconnect.Delay == 0 {
		c.Reconnect.Delay = DefaultReconnectDelay
	}
	if c.CheckpointTimeout <= 0 {
		c.CheckpointTimeout = DefaultCheckpointTimeout
	}
	if c.NotifyTimeout <= 0 {
		c.NotifyTimeout = DefaultNotifyTimeout
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = DefaultEventBuffer
	}
	if c.EventDrainWait <= 0 {
		c.EventDrainWait = DefaultDrainWait
	}
	if c.Link.Logger == nil {
		c.Link.Logger = c.Logger
	}
	return c
}

// Summary describes a finished session.
type Summary struct {
	// SessionID identifies the session.
	SessionID string
	// Outcome is finished, stopped or failed.
	Outcome string
	// Err is the terminal failure (failed only).
	Err error
	// Checkpoint is the last progress record written by the session.
	Checkpoint types.ProgressSnapshot
	// FilesCompleted counts files streamed to the end.
	FilesCompleted int
	// Duration is the session wall time.
	Duration time.Duration
}

// Runner executes a playlist in a background worker.
type Runner struct {
	cfg      Config
	playlist *playlist.Playlist
	logger   *log.Logger

	mu      sync.Mutex
	sess    *session
	summary *Summary
}

// session is the state of one Start.
type session struct {
	id        string
	cancel    context.CancelFunc
	done      chan struct{}
	finished  atomic.Bool
	emitter   *emitter
	collector *metrics.Collector
	started   time.Time

	// Worker-owned.
	last           types.ProgressSnapshot
	filesCompleted int
}

// New creates a Runner over pl. The playlist stays owned by the caller, who
// may keep editing it; jobs at or after the running position are picked up
// as the cursor reaches them.
func New(pl *playlist.Playlist, cfg Config) (*Runner, error) {
	if pl == nil {
		return nil, errors.New("playlist is required")
	}
	if err := cfg.Connection.Validate(); err != nil {
		return nil, fmt.Errorf("invalid connection config: %w", err)
	}
	cfg = cfg.withDefaults()
	return &Runner{
		cfg:      cfg,
		playlist: pl,
		logger:   cfg.Logger.With("runner"),
	}, nil
}

// Playlist returns the runner's playlist.
func (r *Runner) Playlist() *playlist.Playlist { return r.playlist }

// Start begins a session at the playlist cursor. A playlist that already
// ran to its end starts over from the first job.
func (r *Runner) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.startLocked()
}

func (r *Runner) startLocked() error {
	if r.runningLocked() {
		return ErrAlreadyRunning
	}
	if r.playlist.Len() == 0 {
		return ErrNoFilesQueued
	}
	if r.playlist.Exhausted() {
		r.playlist.Rewind()
	}

	id := r.cfg.SessionID
	if id == "" {
		id = uuid.NewString()
	}
	backend := ""
	if r.cfg.Checkpoint != nil {
		backend = r.cfg.Checkpoint.Backend()
	}

	lnk, err := link.New(r.cfg.Connection, r.cfg.Link)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &session{
		id:        id,
		cancel:    cancel,
		done:      make(chan struct{}),
		emitter:   newEmitter(r.cfg.EventBuffer, r.cfg.EventDrainWait, r.logger),
		collector: metrics.NewCollector(r.cfg.Connection.PortName, backend, id),
		started:   time.Now(),
	}
	r.sess = s
	r.playlist.SetActive(true)

	go r.run(ctx, s, lnk)
	return nil
}

// Stop requests a cooperative stop. The command on the wire completes, the
// checkpoint is written and the session ends with a Finished event. Stop
// returns immediately; wait on Done for completion.
func (r *Runner) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sess != nil {
		r.sess.cancel()
	}
}

// Continue loads the last checkpoint, moves the playlist cursor to the
// recorded job and starts. An empty playlist is rebuilt from the
// checkpoint's file list. Without a checkpoint it behaves like Start.
func (r *Runner) Continue(ctx context.Context) error {
	if r.Running() {
		return ErrAlreadyRunning
	}

	snap, err := r.loadCheckpoint(ctx)

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.runningLocked() {
		return ErrAlreadyRunning
	}
	switch {
	case errors.Is(err, checkpoint.ErrNoCheckpoint):
		r.logger.Info("no checkpoint, starting at playlist cursor", map[string]any{
			"index": r.playlist.CurrentIndex(),
		})
	case err != nil:
		return fmt.Errorf("load checkpoint: %w", err)
	default:
		index, progress := snap.CurrentIndex, snap.FileProgress
		if r.playlist.Len() == 0 {
			if err := r.playlist.Replace(snap.Files); err != nil {
				return fmt.Errorf("restore playlist: %w", err)
			}
		} else {
			index, progress = checkpoint.Reconcile(snap, r.playlist.Files())
		}
		if err := r.playlist.ResumeFrom(index, progress); err != nil {
			return err
		}
		r.logger.Info("resuming from checkpoint", map[string]any{
			"index":    index,
			"progress": progress,
			"files":    r.playlist.Len(),
		})
	}
	return r.startLocked()
}

func (r *Runner) loadCheckpoint(ctx context.Context) (types.ProgressSnapshot, error) {
	if r.cfg.Checkpoint == nil {
		return types.ProgressSnapshot{}, checkpoint.ErrNoCheckpoint
	}
	return r.cfg.Checkpoint.Load(ctx)
}

// Events returns the current session's event stream, or nil before the
// first Start. The channel is closed after the terminal event. Events a
// caller has not read within EventDrainWait of the session ending are
// discarded.
func (r *Runner) Events() <-chan types.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sess == nil {
		return nil
	}
	return r.sess.emitter.events()
}

// Done returns a channel closed when the current session's worker has
// exited. Before the first Start it is already closed.
func (r *Runner) Done() <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sess == nil {
		done := make(chan struct{})
		close(done)
		return done
	}
	return r.sess.done
}

// Running reports whether a session is active.
func (r *Runner) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.runningLocked()
}

func (r *Runner) runningLocked() bool {
	return r.sess != nil && !r.sess.finished.Load()
}

// Stats returns the current session's metrics, including event delivery.
func (r *Runner) Stats() metrics.Snapshot {
	r.mu.Lock()
	s := r.sess
	r.mu.Unlock()
	if s == nil {
		return metrics.Snapshot{}
	}

	snap := s.collector.Snapshot()
	select {
	case <-s.done:
		// Event stats were absorbed by the worker.
	default:
		es := s.emitter.snapshot()
		snap.EventsEmitted = es.Emitted
		snap.EventsDropped = es.Dropped
		snap.DroppedByType = droppedByName(es.DroppedByType)
	}
	return snap
}

// Result returns the summary of the last finished session.
func (r *Runner) Result() (Summary, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.summary == nil {
		return Summary{}, false
	}
	return *r.summary, true
}

func droppedByName(in map[types.EventType]int64) map[string]int64 {
	out := make(map[string]int64, len(in))
	for t, n := range in {
		out[string(t)] = n
	}
	return out
}

// run is the session worker.
func (r *Runner) run(ctx context.Context, s *session, lnk *link.Link) {
	defer close(s.done)
	defer s.cancel()

	s.collector.IncSessionStarted()
	r.logger.Info("session started", map[string]any{
		"session_id": s.id,
		"files":      r.playlist.Len(),
		"index":      r.playlist.CurrentIndex(),
		"loop":       r.playlist.Loop(),
	})

	outcome, err := r.execute(ctx, s, lnk)

	if closeErr := lnk.Close(); closeErr != nil {
		r.logger.Warn("close link", map[string]any{"error": closeErr.Error()})
	}
	r.playlist.SetActive(false)

	switch outcome {
	case OutcomeFinished:
		s.collector.IncSessionFinished()
	case OutcomeStopped:
		s.collector.IncSessionStopped()
	default:
		s.collector.IncSessionFailed()
	}

	summary := Summary{
		SessionID:      s.id,
		Outcome:        outcome,
		Err:            err,
		Checkpoint:     s.last,
		FilesCompleted: s.filesCompleted,
		Duration:       time.Since(s.started),
	}
	r.notify(summary)

	fields := map[string]any{
		"session_id":      s.id,
		"outcome":         outcome,
		"files_completed": s.filesCompleted,
		"duration_ms":     summary.Duration.Milliseconds(),
	}
	if err != nil {
		fields["error"] = err.Error()
		r.logger.Error("session ended", fields)
	} else {
		r.logger.Info("session ended", fields)
	}

	r.mu.Lock()
	r.summary = &summary
	s.finished.Store(true)
	r.mu.Unlock()

	if outcome == OutcomeFailed {
		s.emitter.emit(types.Event{Type: types.EventTypeError, Detail: err.Error(), Err: err})
	} else {
		s.emitter.emit(types.Event{Type: types.EventTypeFinished, Text: finishedText(outcome, s.last)})
	}
	s.emitter.close()

	es := s.emitter.snapshot()
	s.collector.AbsorbEventStats(es.Emitted, es.Dropped, droppedByName(es.DroppedByType))
}

func finishedText(outcome string, last types.ProgressSnapshot) string {
	if outcome == OutcomeStopped {
		return fmt.Sprintf("Stopped at file %d/%d, %d%% complete",
			last.CurrentIndex+1, len(last.Files), int(last.FileProgress*100))
	}
	return "All files processed"
}

// execute runs the session body and returns its outcome.
func (r *Runner) execute(ctx context.Context, s *session, lnk *link.Link) (string, error) {
	pl := r.playlist

	s.status(fmt.Sprintf("Connecting to %s", r.cfg.Connection.PortName))
	if err := lnk.Connect(ctx); err != nil {
		r.save(ctx, s, pl.Snapshot(pl.SeededProgress()))
		if ctx.Err() != nil {
			return OutcomeStopped, nil
		}
		return OutcomeFailed, fmt.Errorf("connect: %w", err)
	}

	if r.cfg.Preamble != "" {
		if outcome, err := r.preamble(ctx, s, lnk); outcome != "" {
			r.save(ctx, s, pl.Snapshot(pl.SeededProgress()))
			return outcome, err
		}
	}

	for {
		if ctx.Err() != nil {
			r.save(ctx, s, pl.Snapshot(pl.SeededProgress()))
			return OutcomeStopped, nil
		}

		job, ok := pl.Current()
		if !ok {
			break
		}
		if outcome, err := r.runJob(ctx, s, lnk, job); outcome != "" {
			return outcome, err
		}
		s.filesCompleted++

		if !pl.Advance() {
			break
		}
		r.save(ctx, s, pl.Snapshot(0))
	}

	r.save(ctx, s, checkpoint.Completed(pl.Files()))
	pl.Rewind()
	return OutcomeFinished, nil
}

// preamble streams the preamble file. A non-empty outcome ends the session.
func (r *Runner) preamble(ctx context.Context, s *session, lnk *link.Link) (string, error) {
	src, err := gcode.Open(r.cfg.Preamble)
	if err != nil {
		return OutcomeFailed, fmt.Errorf("preamble: %w", err)
	}
	s.status(fmt.Sprintf("Running preamble %s", filepath.Base(r.cfg.Preamble)))

	opts := r.cfg.Stream
	opts.Logger = r.cfg.Logger
	opts.Collector = s.collector
	opts.OnProgress = nil
	opts.OnRejected = s.rejected

	res := stream.New(opts).Stream(ctx, lnk, src, 0)
	switch res.State {
	case stream.Completed:
		return "", nil
	case stream.Aborted:
		return OutcomeStopped, nil
	default:
		if ctx.Err() != nil {
			return OutcomeStopped, nil
		}
		return OutcomeFailed, fmt.Errorf("preamble: %w", res.Err)
	}
}

// runJob streams one job, reconnecting after dropped links. It returns an
// empty outcome when the file completed.
func (r *Runner) runJob(ctx context.Context, s *session, lnk *link.Link, job types.Job) (string, error) {
	pl := r.playlist
	total := pl.Len()
	seeded := pl.SeededProgress()

	src, err := gcode.Open(job.Path)
	if err != nil {
		r.save(ctx, s, pl.Snapshot(seeded))
		return OutcomeFailed, fmt.Errorf("file %d/%d: %w", job.Index+1, total, err)
	}

	if seeded > 0 {
		s.status(fmt.Sprintf("Resuming file %d/%d (%s) from its start, previously %d%% complete",
			job.Index+1, total, filepath.Base(job.Path), int(seeded*100)))
	} else {
		s.status(fmt.Sprintf("Processing file %d/%d: %s", job.Index+1, total, filepath.Base(job.Path)))
	}
	r.save(ctx, s, pl.Snapshot(seeded))

	opts := r.cfg.Stream
	opts.Logger = r.cfg.Logger
	opts.Collector = s.collector
	opts.OnRejected = s.rejected
	opts.OnProgress = func(sent, n int) {
		fraction := 1.0
		if n > 0 {
			fraction = float64(sent) / float64(n)
		}
		s.emitter.emit(types.Event{
			Type:      types.EventTypeProgress,
			FileIndex: job.Index,
			Fraction:  fraction,
			Text:      fmt.Sprintf("Processing file %d/%d, %d%% complete", job.Index+1, total, int(fraction*100)),
		})
	}
	strm := stream.New(opts)

	start := 0
	drops := 0
	for {
		res := strm.Stream(ctx, lnk, src, start)
		switch res.State {
		case stream.Completed:
			s.collector.IncFileCompleted()
			s.emitter.emit(types.Event{Type: types.EventTypeFileCompleted, FileIndex: job.Index})
			return "", nil
		case stream.Aborted:
			r.save(ctx, s, pl.Snapshot(res.Progress()))
			return OutcomeStopped, nil
		}

		r.save(ctx, s, pl.Snapshot(res.Progress()))
		if ctx.Err() != nil {
			return OutcomeStopped, nil
		}
		if !errors.Is(res.Err, link.ErrLinkDropped) {
			return OutcomeFailed, fmt.Errorf("file %d/%d: %w", job.Index+1, total, res.Err)
		}

		// Consecutive drops without progress share one budget.
		if res.Sent > start {
			drops = 0
		}
		drops++
		if drops > r.cfg.Reconnect.Attempts {
			s.collector.IncReconnectFailure()
			return OutcomeFailed, fmt.Errorf("file %d/%d: link keeps dropping: %w", job.Index+1, total, res.Err)
		}

		s.status(fmt.Sprintf("Connection lost on file %d/%d, reconnecting", job.Index+1, total))
		if err := lnk.Reconnect(ctx, r.cfg.Reconnect.Attempts, r.cfg.Reconnect.Delay); err != nil {
			if ctx.Err() != nil {
				return OutcomeStopped, nil
			}
			s.collector.IncReconnectFailure()
			return OutcomeFailed, fmt.Errorf("file %d/%d: %w", job.Index+1, total, err)
		}
		s.collector.IncReconnect()

		if res.Resumable {
			start = res.Next
			s.status(fmt.Sprintf("Reconnected, resuming file %d/%d at command %d", job.Index+1, total, start+1))
		} else {
			start = 0
			s.status(fmt.Sprintf("Reconnected, restarting file %d/%d", job.Index+1, total))
		}
	}
}

// save records snap as the session's last checkpoint and persists it.
// Failures are logged; streaming continues.
func (r *Runner) save(ctx context.Context, s *session, snap types.ProgressSnapshot) {
	s.last = snap
	if r.cfg.Checkpoint == nil {
		return
	}

	// Stops must still be checkpointed.
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.cfg.CheckpointTimeout)
	defer cancel()

	if err := r.cfg.Checkpoint.Save(saveCtx, snap); err != nil {
		s.collector.IncCheckpointWriteFailure()
		r.logger.Error("checkpoint write failed", map[string]any{
			"backend": r.cfg.Checkpoint.Backend(),
			"index":   snap.CurrentIndex,
			"error":   err.Error(),
		})
		return
	}
	s.collector.IncCheckpointWrite()
	r.logger.Debug("checkpoint written", map[string]any{
		"index":    snap.CurrentIndex,
		"progress": snap.FileProgress,
	})
}

// notify publishes the session outcome to the adapter.
func (r *Runner) notify(sum Summary) {
	if r.cfg.Adapter == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.NotifyTimeout)
	defer cancel()

	event := &adapter.SessionEvent{
		EventType:      adapter.EventTypeSessionEnded,
		SessionID:      sum.SessionID,
		Port:           r.cfg.Connection.PortName,
		Outcome:        sum.Outcome,
		Files:          sum.Checkpoint.Files,
		CurrentIndex:   sum.Checkpoint.CurrentIndex,
		FileProgress:   sum.Checkpoint.FileProgress,
		FilesCompleted: sum.FilesCompleted,
		Timestamp:      time.Now().UTC().Format(time.RFC3339),
		DurationMs:     sum.Duration.Milliseconds(),
	}
	if event.Files == nil {
		event.Files = []string{}
	}
	if sum.Err != nil {
		event.Error = sum.Err.Error()
	}

	if err := r.cfg.Adapter.Publish(ctx, event); err != nil {
		r.logger.Warn("session notification failed", map[string]any{
			"session_id": sum.SessionID,
			"error":      err.Error(),
		})
	}
}

func (s *session) status(text string) {
	s.emitter.emit(types.Event{Type: types.EventTypeStatus, Text: text})
}

func (s *session) rejected(cmd gcode.Command, code int) {
	s.status(fmt.Sprintf("Line %d rejected by controller (error:%d): %s", cmd.Line, code, cmd.Text))
}
