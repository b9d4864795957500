package cmd

import (
	"strings"
	"testing"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/gstream/types"
)

func flagNames(flags []cli.Flag) map[string]int {
	names := make(map[string]int)
	for _, f := range flags {
		for _, n := range f.Names() {
			names[n]++
		}
	}
	return names
}

func TestSessionFlags_NoDuplicates(t *testing.T) {
	for name, n := range flagNames(SessionFlags()) {
		if n > 1 {
			t.Errorf("flag %q registered %d times", name, n)
		}
	}
}

func TestSessionFlags_IncludeRequiredSettings(t *testing.T) {
	names := flagNames(SessionFlags())
	for _, want := range []string{
		"port", "baud", "max-in-flight", "loop", "preamble", "tui", "quiet",
		"config", "checkpoint-backend", "checkpoint-path", "adapter", "adapter-url",
		"adapter-latest-key", "log-file", "log-level",
	} {
		if names[want] == 0 {
			t.Errorf("SessionFlags missing --%s", want)
		}
	}
}

func TestStatusCommand_ReadOnlyFlags(t *testing.T) {
	names := flagNames(StatusCommand().Flags)
	if names["checkpoint-path"] == 0 || names["format"] == 0 {
		t.Error("status should accept checkpoint and output flags")
	}
	if names["port"] != 0 || names["tui"] != 0 {
		t.Error("status must not take connection or TUI flags")
	}
}

func TestOutputFlags(t *testing.T) {
	names := flagNames(OutputFlags())
	if names["format"] == 0 || names["f"] == 0 || names["no-color"] == 0 {
		t.Errorf("OutputFlags = %v", names)
	}
}

func TestNewVersionResponse(t *testing.T) {
	v := newVersionResponse("abc123")
	if v.Version != types.Version || v.Commit != "abc123" {
		t.Errorf("version = %+v", v)
	}
	if !strings.HasPrefix(v.GoVersion, "go") || !strings.Contains(v.Platform, "/") {
		t.Errorf("build info = %+v", v)
	}
}
