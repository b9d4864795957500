package render

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"

	"github.com/pithecene-io/gstream/types"
)

var (
	labelStyle = map[types.EventType]lipgloss.Style{
		types.EventTypeStatus:        lipgloss.NewStyle().Foreground(lipgloss.Color("12")),
		types.EventTypeProgress:      lipgloss.NewStyle().Foreground(lipgloss.Color("8")),
		types.EventTypeFileCompleted: lipgloss.NewStyle().Foreground(lipgloss.Color("10")),
		types.EventTypeFinished:      lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10")),
		types.EventTypeError:         lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9")),
	}
	timeStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

// Event writes one runner event. JSON output is one object per line;
// table and yaml output is a single human-readable line.
func (r *Renderer) Event(ev types.Event) error {
	if r.format == FormatJSON {
		line := eventLine{Event: ev}
		if ev.Err != nil {
			line.Error = ev.Err.Error()
		}
		return encodeJSON(r.out, line, "")
	}

	ts := ev.Ts.Format("15:04:05")
	label := fmt.Sprintf("%-14s", ev.Type)
	if !r.noColor {
		ts = timeStyle.Render(ts)
		if style, ok := labelStyle[ev.Type]; ok {
			label = style.Render(label)
		}
	}
	_, err := fmt.Fprintf(r.out, "%s %s %s\n", ts, label, EventText(ev))
	return err
}

// eventLine adds the error string that types.Event does not serialize.
type eventLine struct {
	types.Event
	Error string `json:"error,omitempty"`
}

// EventText is the message shown for ev.
func EventText(ev types.Event) string {
	switch ev.Type {
	case types.EventTypeFileCompleted:
		if ev.Text != "" {
			return ev.Text
		}
		return fmt.Sprintf("File %d completed", ev.FileIndex+1)
	case types.EventTypeError:
		if ev.Err != nil && ev.Detail != "" && ev.Detail != ev.Err.Error() {
			return fmt.Sprintf("%s: %v", ev.Detail, ev.Err)
		}
		if ev.Detail != "" {
			return ev.Detail
		}
		if ev.Err != nil {
			return ev.Err.Error()
		}
		return "failed"
	default:
		return ev.Text
	}
}
