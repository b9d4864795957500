package cmd

import (
	"github.com/urfave/cli/v2"
)

// RunCommand returns the run command.
func RunCommand() *cli.Command {
	return &cli.Command{
		Name:      "run",
		Usage:     "Stream G-code files to the controller, starting at the first file",
		ArgsUsage: "<file|dir>...",
		Flags:     SessionFlags(),
		Action:    runAction,
	}
}

func runAction(c *cli.Context) error {
	if c.NArg() == 0 {
		return cli.Exit("at least one G-code file or directory is required", exitUsage)
	}
	files, err := expandPaths(c.Args().Slice())
	if err != nil {
		return cli.Exit(err.Error(), exitUsage)
	}

	s, err := newSession(c, files)
	if err != nil {
		return err
	}
	defer s.close()

	return s.watch(c, s.runner.Start)
}
