// Command gstream streams G-code files to a GRBL controller.
//
//	gstream run --port /dev/ttyUSB0 job.gcode more/
//	gstream continue --port /dev/ttyUSB0
//	gstream status
//
// run and continue exit with 0 when every file was sent, 1 on a usage,
// config or file error, 2 when the controller link failed, and 3 when the
// session was stopped with a checkpoint saved for continue.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/gstream/cli/cmd"
	"github.com/pithecene-io/gstream/types"
)

// commit is set with -ldflags "-X main.commit=...".
var commit = "unknown"

func newApp() *cli.App {
	return &cli.App{
		Name:    "gstream",
		Usage:   "Stream G-code to a GRBL controller over serial",
		Version: fmt.Sprintf("%s (commit: %s)", types.Version, commit),
		Commands: []*cli.Command{
			cmd.RunCommand(),
			cmd.ContinueCommand(),
			cmd.StatusCommand(),
			cmd.VersionCommand(commit),
		},
		ExitErrHandler: func(_ *cli.Context, err error) {
			if err == nil {
				return
			}
			code, msg := exitStatus(err)
			if msg != "" {
				fmt.Fprintln(os.Stderr, msg)
			}
			os.Exit(code)
		},
	}
}

func main() {
	if err := newApp().Run(os.Args); err != nil {
		// Flag parse errors bypass ExitErrHandler.
		os.Exit(1)
	}
}

// exitStatus maps a command error to a process exit code and the message
// worth printing, if any.
func exitStatus(err error) (int, string) {
	var ec cli.ExitCoder
	if !errors.As(err, &ec) {
		return 1, "Error: " + err.Error()
	}
	code, msg := ec.ExitCode(), ec.Error()
	// cli.Exit("", n) reports "" or "exit status n".
	if msg == fmt.Sprintf("exit status %d", code) {
		msg = ""
	}
	return code, msg
}
