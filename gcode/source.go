// Package gcode loads G-code programs into executable command sequences.
//
// A line is cleaned by dropping everything from the first ';' and trimming
// whitespace; lines that become empty are skipped. Each remaining command is
// classified as blocking (motion G0-G3 or homing $H) or non-blocking. Axis
// words continuing an active G0-G3 mode count as motion.
package gcode

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Extensions lists the accepted G-code file extensions.
var Extensions = []string{".gcode", ".nc", ".ngc"}

// maxLineBytes bounds a single source line.
const maxLineBytes = 1024 * 1024

// Command is one executable line.
type Command struct {
	// Text is the cleaned command as written to the wire (no newline).
	Text string
	// Line is the 1-based line number in the source file.
	Line int
	// Blocking is true if the command must be acknowledged before the next is sent.
	Blocking bool
}

// Source is the ordered command sequence of one file.
type Source struct {
	path     string
	commands []Command
}

// IsGCodeFile reports whether path has an accepted extension.
func IsGCodeFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range Extensions {
		if ext == e {
			return true
		}
	}
	return false
}

// Open reads and cleans a G-code file.
func Open(path string) (*Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open gcode %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	src, err := Read(path, f)
	if err != nil {
		return nil, err
	}
	return src, nil
}

// Read builds a Source from r. name is used for error messages and Path().
func Read(name string, r io.Reader) (*Source, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	src := &Source{path: name}
	var modal Classifier
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		text := Clean(scanner.Text())
		if text == "" {
			continue
		}
		src.commands = append(src.commands, Command{
			Text:     text,
			Line:     lineNo,
			Blocking: modal.Blocking(text),
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read gcode %s line %d: %w", name, lineNo+1, err)
	}
	return src, nil
}

// FromLines builds a Source from in-memory lines.
func FromLines(name string, lines ...string) *Source {
	src, _ := Read(name, strings.NewReader(strings.Join(lines, "\n")))
	return src
}

// Path returns the source file path.
func (s *Source) Path() string { return s.path }

// Len returns the number of executable commands.
func (s *Source) Len() int { return len(s.commands) }

// At returns the i-th command.
func (s *Source) At(i int) Command { return s.commands[i] }

// Commands returns a copy of the command sequence.
func (s *Source) Commands() []Command {
	out := make([]Command, len(s.commands))
	copy(out, s.commands)
	return out
}

// Texts returns the wire text of every command, in order.
func (s *Source) Texts() []string {
	out := make([]string, len(s.commands))
	for i, c := range s.commands {
		out[i] = c.Text
	}
	return out
}

// Clean strips the end-of-line comment and surrounding whitespace.
func Clean(line string) string {
	if i := strings.IndexByte(line, ';'); i >= 0 {
		line = line[:i]
	}
	return strings.TrimSpace(line)
}
