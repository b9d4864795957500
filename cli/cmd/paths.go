package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pithecene-io/gstream/gcode"
)

// expandPaths turns the command arguments into a playlist. Files are kept
// in argument order; a directory contributes its G-code files in lexical
// order. Subdirectories are not descended into.
func expandPaths(args []string) ([]string, error) {
	var files []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, fmt.Errorf("cannot read %s: %w", arg, err)
		}
		if !info.IsDir() {
			files = append(files, arg)
			continue
		}

		entries, err := os.ReadDir(arg)
		if err != nil {
			return nil, fmt.Errorf("cannot list %s: %w", arg, err)
		}
		found := 0
		for _, e := range entries {
			if e.IsDir() || !gcode.IsGCodeFile(e.Name()) {
				continue
			}
			files = append(files, filepath.Join(arg, e.Name()))
			found++
		}
		if found == 0 {
			return nil, fmt.Errorf("no G-code files in %s (expected %v)", arg, gcode.Extensions)
		}
	}
	return files, nil
}
