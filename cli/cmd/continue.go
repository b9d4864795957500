package cmd

import (
	"github.com/urfave/cli/v2"
)

// ContinueCommand returns the continue command.
//
// Without arguments the playlist is restored from the checkpoint. With
// arguments the given files are queued and the checkpoint is reconciled
// against them: a changed playlist clamps the saved index, and a file
// list that no longer matches drops the saved in-file progress.
func ContinueCommand() *cli.Command {
	return &cli.Command{
		Name:      "continue",
		Usage:     "Resume streaming from the last checkpoint",
		ArgsUsage: "[file|dir]...",
		Flags:     SessionFlags(),
		Action:    continueAction,
	}
}

func continueAction(c *cli.Context) error {
	var files []string
	if c.NArg() > 0 {
		var err error
		files, err = expandPaths(c.Args().Slice())
		if err != nil {
			return cli.Exit(err.Error(), exitUsage)
		}
	}

	s, err := newSession(c, files)
	if err != nil {
		return err
	}
	defer s.close()

	return s.watch(c, func() error { return s.runner.Continue(c.Context) })
}
