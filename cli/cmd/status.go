package cmd

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/gstream/adapter"
	"github.com/pithecene-io/gstream/adapter/redis"
	"github.com/pithecene-io/gstream/checkpoint"
	"github.com/pithecene-io/gstream/cli/config"
	"github.com/pithecene-io/gstream/cli/render"
	"github.com/pithecene-io/gstream/iox"
	"github.com/pithecene-io/gstream/log"
)

// StatusView describes the saved checkpoint.
type StatusView struct {
	Backend         string   `json:"backend"`
	Saved           bool     `json:"saved"`
	ResumeAvailable bool     `json:"resume_available"`
	Files           []string `json:"files"`
	CurrentIndex    int      `json:"current_index"`
	CurrentFile     string   `json:"current_file,omitempty"`
	FileProgress    float64  `json:"file_progress"`
	Summary         string   `json:"summary"`

	// LastSession is read from the redis adapter's latest key when the
	// config file sets one.
	LastSession      *adapter.SessionEvent `json:"last_session,omitempty"`
	LastSessionError string                `json:"last_session_error,omitempty"`
}

// StatusCommand returns the status command. It reads the checkpoint only
// and never opens the serial port.
func StatusCommand() *cli.Command {
	flags := append([]cli.Flag{ConfigFlag}, OutputFlags()...)
	return &cli.Command{
		Name:   "status",
		Usage:  "Show the saved checkpoint and whether a resume is available",
		Flags:  append(flags, checkpointFlags()...),
		Action: statusAction,
	}
}

func statusAction(c *cli.Context) error {
	r, err := render.NewRenderer(c)
	if err != nil {
		return cli.Exit(err.Error(), exitUsage)
	}
	cfg, err := config.LoadOrDefault(c.String("config"))
	if err != nil {
		return cli.Exit(err.Error(), exitUsage)
	}

	ctx := c.Context
	if ctx == nil {
		ctx = context.Background()
	}
	store, err := checkpoint.Open(ctx, checkpointChoice(c, cfg), log.Nop())
	if err != nil {
		return cli.Exit(fmt.Sprintf("checkpoint: %v", err), exitUsage)
	}

	view, err := buildStatusView(ctx, store)
	if err != nil {
		return cli.Exit(err.Error(), exitUsage)
	}
	if latest := latestSessionSource(cfg); latest != nil {
		defer iox.DiscardClose(latest)
		view.LastSession, err = latest.Latest(ctx)
		if err != nil {
			view.LastSessionError = err.Error()
		}
	}
	return r.Render(view)
}

// latestSessionSource returns a redis adapter when the config file names a
// latest key. It returns nil otherwise, or when the URL does not parse.
func latestSessionSource(cfg *config.Config) *redis.Adapter {
	if cfg.Adapter.Type != "redis" || cfg.Adapter.URL == "" || cfg.Adapter.LatestKey == "" {
		return nil
	}
	a, err := redis.New(redis.Config{
		URL:       cfg.Adapter.URL,
		LatestKey: cfg.Adapter.LatestKey,
		Timeout:   cfg.Adapter.Timeout.Duration,
	})
	if err != nil {
		return nil
	}
	return a
}

func buildStatusView(ctx context.Context, store checkpoint.Store) (StatusView, error) {
	view := StatusView{Backend: store.Backend()}

	snap, err := store.Load(ctx)
	switch {
	case errors.Is(err, checkpoint.ErrNoCheckpoint):
		view.Summary = "No checkpoint saved"
		return view, nil
	case err != nil:
		return view, fmt.Errorf("load checkpoint: %w", err)
	}

	view.Saved = true
	view.ResumeAvailable = snap.Resumable()
	view.Files = snap.Files
	view.CurrentIndex = snap.CurrentIndex
	view.FileProgress = snap.FileProgress
	if snap.CurrentIndex < len(snap.Files) {
		view.CurrentFile = snap.Files[snap.CurrentIndex]
	}

	n := len(snap.Files)
	switch {
	case view.ResumeAvailable:
		view.Summary = fmt.Sprintf("Resume available at file %d/%d (%s), %.0f%% complete",
			snap.CurrentIndex+1, n, filepath.Base(view.CurrentFile), snap.FileProgress*100)
	case n == 0:
		view.Summary = "Checkpoint has no files"
	default:
		view.Summary = fmt.Sprintf("Nothing to resume, %d file(s) ready from the start", n)
	}
	return view, nil
}
