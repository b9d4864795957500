// Package render writes gstream command output as a table, JSON or YAML.
//
// Without --format, a terminal gets a table and anything else gets JSON.
// --no-color only affects table and event output; the TUI styles itself.
package render

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"
)

// Format is an output format name.
type Format string

const (
	FormatJSON  Format = "json"
	FormatTable Format = "table"
	FormatYAML  Format = "yaml"
)

// Formats lists the accepted --format values.
var Formats = []Format{FormatTable, FormatJSON, FormatYAML}

// ParseFormat accepts a --format value case-insensitively. The empty string
// parses to the empty Format, meaning "pick by terminal".
func ParseFormat(s string) (Format, error) {
	f := Format(strings.ToLower(strings.TrimSpace(s)))
	if f == "" || slices.Contains(Formats, f) {
		return f, nil
	}
	return "", fmt.Errorf("invalid format: %q (must be json, table, or yaml)", s)
}

// selectFormat applies the terminal default to an unset format.
func selectFormat(f Format, tty bool) Format {
	switch {
	case f != "":
		return f
	case tty:
		return FormatTable
	default:
		return FormatJSON
	}
}

// Renderer writes values and session events to one stream.
type Renderer struct {
	format  Format
	noColor bool
	out     io.Writer
}

// NewRenderer builds a stdout renderer from --format and --no-color.
func NewRenderer(c *cli.Context) (*Renderer, error) {
	f, err := ParseFormat(c.String("format"))
	if err != nil {
		return nil, err
	}
	return &Renderer{
		format:  selectFormat(f, IsTTY(os.Stdout)),
		noColor: c.Bool("no-color") || os.Getenv("NO_COLOR") != "",
		out:     os.Stdout,
	}, nil
}

// NewRendererWithWriter builds a renderer around out.
func NewRendererWithWriter(format Format, noColor bool, out io.Writer) *Renderer {
	return &Renderer{format: format, noColor: noColor, out: out}
}

// Format returns the selected output format.
func (r *Renderer) Format() Format { return r.format }

// Render writes data in the selected format.
func (r *Renderer) Render(data any) error {
	switch r.format {
	case FormatTable:
		return r.renderTable(data)
	case FormatJSON:
		return encodeJSON(r.out, data, "  ")
	case FormatYAML:
		enc := yaml.NewEncoder(r.out)
		enc.SetIndent(2)
		if err := enc.Encode(data); err != nil {
			return err
		}
		return enc.Close()
	}
	return fmt.Errorf("unknown format: %s", r.format)
}

func encodeJSON(w io.Writer, v any, indent string) error {
	enc := json.NewEncoder(w)
	if indent != "" {
		enc.SetIndent("", indent)
	}
	return enc.Encode(v)
}

// IsTTY reports whether f is a character device.
func IsTTY(f *os.File) bool {
	info, err := f.Stat()
	return err == nil && info.Mode()&os.ModeCharDevice != 0
}
