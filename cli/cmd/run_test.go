package cmd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/gstream/checkpoint"
	"github.com/pithecene-io/gstream/cli/config"
	"github.com/pithecene-io/gstream/link"
	"github.com/pithecene-io/gstream/link/linktest"
	"github.com/pithecene-io/gstream/runner"
	"github.com/pithecene-io/gstream/types"
)

// newTestApp creates a cli.App with the session commands wired up and
// ExitErrHandler suppressed so errors are returned instead of calling os.Exit.
func newTestApp() *cli.App {
	app := cli.NewApp()
	app.Commands = []*cli.Command{RunCommand(), ContinueCommand(), StatusCommand()}
	app.ExitErrHandler = func(c *cli.Context, err error) {} // suppress os.Exit
	return app
}

// exitCode extracts the code a run would exit with.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var ec cli.ExitCoder
	if errors.As(err, &ec) {
		return ec.ExitCode()
	}
	return -1
}

// useDevice routes every link opened by the commands to d.
func useDevice(t *testing.T, d *linktest.Device) {
	t.Helper()
	configureLink = func(o *link.Options) {
		fake := linktest.Options(d)
		o.Opener = fake.Opener
		o.Sleep = fake.Sleep
		o.ReadTimeout = fake.ReadTimeout
		o.AckTimeout = fake.AckTimeout
		o.StatusTimeout = fake.StatusTimeout
		o.SettleDelay = fake.SettleDelay
	}
	t.Cleanup(func() { configureLink = nil })
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func sessionArgs(t *testing.T, command, checkpointPath string, extra ...string) []string {
	t.Helper()
	args := []string{"gstream", command,
		"--port", linktest.Config(t).PortName,
		"--quiet",
		"--log-file", filepath.Join(t.TempDir(), "gstream.log"),
		"--poll-interval", "1ms",
		"--reconnect-delay", "1ms",
		"--checkpoint-path", checkpointPath,
	}
	return append(args, extra...)
}

func TestRunAction_NoArgs(t *testing.T) {
	err := newTestApp().Run([]string{"gstream", "run", "--port", "COM3"})
	if code := exitCode(err); code != exitUsage {
		t.Fatalf("exit code = %d, want %d (err %v)", code, exitUsage, err)
	}
	if !strings.Contains(err.Error(), "required") {
		t.Errorf("error should be actionable, got: %v", err)
	}
}

func TestRunAction_MissingPort(t *testing.T) {
	t.Chdir(t.TempDir())
	file := writeFile(t, t.TempDir(), "a.gcode", "G0 X0\n")

	err := newTestApp().Run([]string{"gstream", "run", file})
	if code := exitCode(err); code != exitUsage {
		t.Fatalf("exit code = %d, want %d", code, exitUsage)
	}
	if !strings.Contains(err.Error(), "--port is required") {
		t.Errorf("error should mention --port, got: %v", err)
	}
}

func TestRunAction_UnsupportedFile(t *testing.T) {
	file := writeFile(t, t.TempDir(), "notes.txt", "hello\n")

	err := newTestApp().Run([]string{"gstream", "run", "--port", "COM3", file})
	if code := exitCode(err); code != exitUsage {
		t.Fatalf("exit code = %d, want %d", code, exitUsage)
	}
	if !strings.Contains(err.Error(), "unsupported file type") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestRunAction_ConfigFileNotFound(t *testing.T) {
	file := writeFile(t, t.TempDir(), "a.gcode", "G0 X0\n")

	err := newTestApp().Run([]string{"gstream", "run", "--config", "/nonexistent/gstream.yaml", file})
	if code := exitCode(err); code != exitUsage {
		t.Fatalf("exit code = %d, want %d", code, exitUsage)
	}
	if !strings.Contains(err.Error(), "not found") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestRunAction_ConfigProvidesPort(t *testing.T) {
	d := linktest.NewDevice()
	useDevice(t, d)

	dir := t.TempDir()
	file := writeFile(t, dir, "a.gcode", "G0 X1\n")
	port := linktest.Config(t).PortName
	cfgPath := writeFile(t, dir, "gstream.yaml", fmt.Sprintf("port: %s\nstreamer:\n  poll_interval: 1ms\n", port))

	err := newTestApp().Run([]string{"gstream", "run",
		"--config", cfgPath,
		"--quiet",
		"--log-file", filepath.Join(dir, "log.json"),
		"--checkpoint-path", filepath.Join(dir, "progress.json"),
		file,
	})
	if code := exitCode(err); code != exitFinished {
		t.Fatalf("exit code = %d, want 0 (err %v)", code, err)
	}
	if got := d.Commands(); !reflect.DeepEqual(got, []string{"G0 X1"}) {
		t.Errorf("commands = %q", got)
	}
}

func TestRunAction_UnknownAdapter(t *testing.T) {
	file := writeFile(t, t.TempDir(), "a.gcode", "G0 X0\n")

	err := newTestApp().Run([]string{"gstream", "run", "--port", "COM3", "--adapter", "kafka", file})
	if code := exitCode(err); code != exitUsage {
		t.Fatalf("exit code = %d, want %d", code, exitUsage)
	}
	if !strings.Contains(err.Error(), "webhook or redis") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestRunAction_StreamsFilesEndToEnd(t *testing.T) {
	d := linktest.NewDevice()
	useDevice(t, d)

	dir := t.TempDir()
	jobs := filepath.Join(dir, "jobs")
	if err := os.Mkdir(jobs, 0o755); err != nil {
		t.Fatal(err)
	}
	writeFile(t, jobs, "b.nc", "M5\n")
	writeFile(t, jobs, "a.gcode", "; outline\nG0 X0 Y0\nG1 X10 ; cut\n")
	writeFile(t, jobs, "readme.txt", "ignored\n")
	cp := filepath.Join(dir, "progress.json")

	err := newTestApp().Run(sessionArgs(t, "run", cp, jobs))
	if code := exitCode(err); code != exitFinished {
		t.Fatalf("exit code = %d, want 0 (err %v)", code, err)
	}

	want := []string{"G0 X0 Y0", "G1 X10", "M5"}
	if got := d.Commands(); !reflect.DeepEqual(got, want) {
		t.Errorf("commands = %q, want %q", got, want)
	}

	snap, err := checkpoint.NewFileStore(cp).Load(context.Background())
	if err != nil {
		t.Fatalf("load checkpoint: %v", err)
	}
	if snap.CurrentIndex != 0 || snap.FileProgress != 0 || len(snap.Files) != 2 {
		t.Errorf("checkpoint after finish = %+v, want reset to the first file", snap)
	}
}

func TestContinueAction_RestoresPlaylistFromCheckpoint(t *testing.T) {
	d := linktest.NewDevice()
	useDevice(t, d)

	dir := t.TempDir()
	a := writeFile(t, dir, "a.gcode", "G0 X1\n")
	b := writeFile(t, dir, "b.gcode", "G0 X2\nG0 X3\n")
	cp := filepath.Join(dir, "progress.json")
	err := checkpoint.NewFileStore(cp).Save(context.Background(), types.ProgressSnapshot{
		Files:        []string{a, b},
		CurrentIndex: 1,
		FileProgress: 0.5,
	})
	if err != nil {
		t.Fatal(err)
	}

	err = newTestApp().Run(sessionArgs(t, "continue", cp))
	if code := exitCode(err); code != exitFinished {
		t.Fatalf("exit code = %d, want 0 (err %v)", code, err)
	}

	// The interrupted file restarts from its first command.
	want := []string{"G0 X2", "G0 X3"}
	if got := d.Commands(); !reflect.DeepEqual(got, want) {
		t.Errorf("commands = %q, want %q", got, want)
	}
}

func TestContinueAction_NothingToContinue(t *testing.T) {
	dir := t.TempDir()
	err := newTestApp().Run(sessionArgs(t, "continue", filepath.Join(dir, "missing.json")))
	if code := exitCode(err); code != exitUsage {
		t.Fatalf("exit code = %d, want %d (err %v)", code, exitUsage, err)
	}
}

func TestRunAction_PortUnavailableExitCode(t *testing.T) {
	d := linktest.NewDevice()
	d.FailOpens(errors.New("no such device"))
	useDevice(t, d)

	dir := t.TempDir()
	file := writeFile(t, dir, "a.gcode", "G0 X0\n")

	err := newTestApp().Run(sessionArgs(t, "run", filepath.Join(dir, "progress.json"), file))
	if code := exitCode(err); code != exitLinkFailure {
		t.Fatalf("exit code = %d, want %d (err %v)", code, exitLinkFailure, err)
	}
}

func TestExpandPaths(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "b.gcode", "G0\n")
	writeFile(t, dir, "a.NGC", "G0\n")
	writeFile(t, dir, "c.nc", "G0\n")
	writeFile(t, dir, "notes.txt", "")
	if err := os.Mkdir(filepath.Join(dir, "sub.gcode"), 0o755); err != nil {
		t.Fatal(err)
	}
	single := writeFile(t, t.TempDir(), "z.gcode", "G0\n")

	got, err := expandPaths([]string{single, dir})
	if err != nil {
		t.Fatalf("expandPaths: %v", err)
	}
	want := []string{
		single,
		filepath.Join(dir, "a.NGC"),
		filepath.Join(dir, "b.gcode"),
		filepath.Join(dir, "c.nc"),
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("expandPaths = %q, want %q", got, want)
	}
}

func TestExpandPaths_Errors(t *testing.T) {
	empty := t.TempDir()
	writeFile(t, empty, "readme.md", "")

	tests := []struct {
		name    string
		args    []string
		wantMsg string
	}{
		{"missing path", []string{filepath.Join(empty, "nope.gcode")}, "cannot read"},
		{"dir without gcode", []string{empty}, "no G-code files"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := expandPaths(tt.args)
			if err == nil || !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("err = %v, want mention of %q", err, tt.wantMsg)
			}
		})
	}
}

func TestOutcomeToExitCode(t *testing.T) {
	linkErr := &link.Error{Kind: link.ErrLinkDropped, Op: "write"}
	tests := []struct {
		name string
		sum  runner.Summary
		want int
	}{
		{"finished", runner.Summary{Outcome: runner.OutcomeFinished}, exitFinished},
		{"stopped", runner.Summary{Outcome: runner.OutcomeStopped}, exitStopped},
		{"link failure", runner.Summary{Outcome: runner.OutcomeFailed, Err: fmt.Errorf("file 1/2: %w", linkErr)}, exitLinkFailure},
		{"file failure", runner.Summary{Outcome: runner.OutcomeFailed, Err: os.ErrNotExist}, exitUsage},
		{"unknown", runner.Summary{Outcome: "weird"}, exitUsage},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := outcomeToExitCode(tt.sum); got != tt.want {
				t.Errorf("outcomeToExitCode = %d, want %d", got, tt.want)
			}
		})
	}
}

// newAdapterTestContext builds a CLI context with adapter-related flags.
func newAdapterTestContext(t *testing.T, flags map[string]string) *cli.Context {
	t.Helper()
	app := cli.NewApp()
	app.Flags = []cli.Flag{
		&cli.StringFlag{Name: "adapter-url"},
		&cli.StringFlag{Name: "adapter-channel"},
		&cli.DurationFlag{Name: "adapter-timeout", Value: 10 * time.Second},
		&cli.IntFlag{Name: "adapter-retries", Value: 3},
		&cli.StringSliceFlag{Name: "adapter-header"},
		&cli.StringFlag{Name: "adapter-latest-key"},
		&cli.DurationFlag{Name: "adapter-latest-ttl"},
	}

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	fs.String("adapter-url", "", "")
	fs.String("adapter-channel", "", "")
	fs.Duration("adapter-timeout", 10*time.Second, "")
	fs.Int("adapter-retries", 3, "")
	fs.String("adapter-latest-key", "", "")
	fs.Duration("adapter-latest-ttl", 0, "")
	for name, val := range flags {
		if err := fs.Set(name, val); err != nil {
			t.Fatalf("failed to set flag %s: %v", name, err)
		}
	}
	return cli.NewContext(app, fs, nil)
}

func TestParseAdapterConfig_None(t *testing.T) {
	ac, err := parseAdapterConfigWithPrecedence(newAdapterTestContext(t, nil), nil, "")
	if err != nil || ac != nil {
		t.Errorf("got %+v, %v; want nil, nil", ac, err)
	}
}

func TestParseAdapterConfig_WebhookValid(t *testing.T) {
	c := newAdapterTestContext(t, map[string]string{
		"adapter-url":     "https://hooks.example.com/gstream",
		"adapter-timeout": "2s",
	})

	ac, err := parseAdapterConfigWithPrecedence(c, nil, "webhook")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ac.url != "https://hooks.example.com/gstream" || ac.timeout != 2*time.Second || ac.retries != 3 {
		t.Errorf("adapter choice = %+v", ac)
	}
	if _, err := buildAdapter(ac); err != nil {
		t.Errorf("buildAdapter: %v", err)
	}
}

func TestParseAdapterConfig_MissingURL(t *testing.T) {
	for _, typ := range []string{"webhook", "redis"} {
		t.Run(typ, func(t *testing.T) {
			_, err := parseAdapterConfigWithPrecedence(newAdapterTestContext(t, nil), nil, typ)
			if err == nil || !strings.Contains(err.Error(), "--adapter-url is required") {
				t.Errorf("err = %v, want --adapter-url hint", err)
			}
		})
	}
}

func TestParseAdapterConfig_RedisFromConfig(t *testing.T) {
	zero := 0
	cfg := &config.Config{Adapter: config.AdapterConfig{
		Type:    "redis",
		URL:     "redis://localhost:6379/0",
		Channel: "plotter:done",
		Timeout: config.Duration{Duration: 3 * time.Second},
		Retries: &zero,

		LatestKey: "plotter:latest",
		LatestTTL: config.Duration{Duration: time.Hour},
	}}

	ac, err := parseAdapterConfigWithPrecedence(newAdapterTestContext(t, nil), cfg, "redis")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ac.url != "redis://localhost:6379/0" || ac.channel != "plotter:done" {
		t.Errorf("adapter choice = %+v", ac)
	}
	if ac.latestKey != "plotter:latest" || ac.latestTTL != time.Hour {
		t.Errorf("latest key=%q ttl=%v", ac.latestKey, ac.latestTTL)
	}
	if ac.timeout != 3*time.Second || ac.retries != 0 {
		t.Errorf("timeout=%v retries=%d, want 3s and 0", ac.timeout, ac.retries)
	}
	a, err := buildAdapter(ac)
	if err != nil {
		t.Fatalf("buildAdapter: %v", err)
	}
	_ = a.Close()
}

func TestParseAdapterConfig_CLIOverridesConfigURL(t *testing.T) {
	cfg := &config.Config{Adapter: config.AdapterConfig{
		URL:     "https://config.example.com",
		Headers: map[string]string{"Authorization": "Bearer x"},
	}}
	c := newAdapterTestContext(t, map[string]string{"adapter-url": "https://cli.example.com"})

	ac, err := parseAdapterConfigWithPrecedence(c, cfg, "webhook")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ac.url != "https://cli.example.com" {
		t.Errorf("url = %q, want CLI value", ac.url)
	}
	if ac.headers["Authorization"] != "Bearer x" {
		t.Errorf("config headers not merged: %v", ac.headers)
	}
	// Timeout left to the adapter default.
	if ac.timeout != 0 {
		t.Errorf("timeout = %v, want 0", ac.timeout)
	}
}

func TestParseAdapterConfig_UnknownType(t *testing.T) {
	_, err := parseAdapterConfigWithPrecedence(newAdapterTestContext(t, nil), nil, "kafka")
	if err == nil || !strings.Contains(err.Error(), "unknown adapter") {
		t.Errorf("err = %v", err)
	}
}
