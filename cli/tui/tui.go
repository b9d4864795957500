package tui

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/pithecene-io/gstream/cli/render"
	"github.com/pithecene-io/gstream/types"
)

const (
	barWidth = 30
	logLines = 6
)

// Options describes the session being shown.
type Options struct {
	// Port is the serial device name.
	Port string
	// Files is the playlist in order.
	Files []string
	// Stop requests a stop between commands. Called at most once.
	Stop func()
}

// eventMsg carries one runner event into Update.
type eventMsg types.Event

// closedMsg reports that the event channel closed.
type closedMsg struct{}

// waitForEvent reads the next event. Each eventMsg schedules the next read.
func waitForEvent(events <-chan types.Event) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-events
		if !ok {
			return closedMsg{}
		}
		return eventMsg(ev)
	}
}

// keyMap defines key bindings.
type keyMap struct {
	Stop key.Binding
}

var keys = keyMap{
	Stop: key.NewBinding(
		key.WithKeys("q", "ctrl+c", "esc"),
		key.WithHelp("q", "stop"),
	),
}

// Model is the run progress view.
type Model struct {
	opts    Options
	events  <-chan types.Event
	spinner spinner.Model

	fileIndex int
	fraction  float64
	completed int
	status    string
	log       []string

	stopping bool
	terminal *types.Event
	closed   bool
}

// NewModel creates a model reading from events.
func NewModel(events <-chan types.Event, opts Options) Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(accent)
	return Model{
		opts:    opts,
		events:  events,
		spinner: s,
	}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, waitForEvent(m.events))
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if !key.Matches(msg, keys.Stop) {
			return m, nil
		}
		if m.terminal != nil || m.closed {
			return m, tea.Quit
		}
		if m.stopping {
			// Second press: leave the view, the stop is already underway.
			return m, tea.Quit
		}
		m.stopping = true
		m.pushLog("Stop requested, finishing the current command")
		if m.opts.Stop != nil {
			m.opts.Stop()
		}
		return m, nil

	case eventMsg:
		m.apply(types.Event(msg))
		if m.terminal != nil {
			return m, tea.Quit
		}
		return m, waitForEvent(m.events)

	case closedMsg:
		m.closed = true
		return m, tea.Quit

	case spinner.TickMsg:
		if m.terminal != nil {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m *Model) apply(ev types.Event) {
	switch ev.Type {
	case types.EventTypeStatus:
		m.status = ev.Text
		m.pushLog(ev.Text)
	case types.EventTypeProgress:
		m.fileIndex = ev.FileIndex
		m.fraction = ev.Fraction
		m.status = ev.Text
	case types.EventTypeFileCompleted:
		m.completed++
		m.fileIndex = ev.FileIndex
		m.fraction = 1
		m.pushLog(render.EventText(ev))
	case types.EventTypeFinished, types.EventTypeError:
		m.terminal = &ev
		m.pushLog(render.EventText(ev))
	}
}

func (m *Model) pushLog(line string) {
	if line == "" {
		return
	}
	m.log = append(m.log, line)
	if len(m.log) > logLines {
		m.log = m.log[len(m.log)-logLines:]
	}
}

// State returns the session state label.
func (m Model) State() string {
	switch {
	case m.terminal == nil && m.stopping:
		return "stopping"
	case m.terminal == nil:
		return "running"
	case m.terminal.Type == types.EventTypeError:
		return "failed"
	case m.stopping || strings.HasPrefix(m.terminal.Text, "Stopped"):
		return "stopped"
	default:
		return "finished"
	}
}

// Terminal returns the terminal event, or nil if the session has not ended.
func (m Model) Terminal() *types.Event {
	return m.terminal
}

// View implements tea.Model.
func (m Model) View() string {
	var b strings.Builder

	title := "gstream"
	if m.opts.Port != "" {
		title += " · " + m.opts.Port
	}
	b.WriteString(titleStyle.Render(title))
	b.WriteString("\n")

	state := m.State()
	indicator := m.spinner.View() + " "
	if m.terminal != nil {
		indicator = ""
	}
	b.WriteString(m.field("State", indicator+stateStyle(state).Render(state)))

	total := len(m.opts.Files)
	file := fmt.Sprintf("%d/%d", min(m.fileIndex+1, max(total, 1)), total)
	if m.fileIndex < total {
		file += "  " + filepath.Base(m.opts.Files[m.fileIndex])
	}
	b.WriteString(m.field("File", file))
	b.WriteString(m.field("Progress", Bar(m.fraction, barWidth)))
	b.WriteString(m.field("Completed", fmt.Sprintf("%d", m.completed)))

	if len(m.log) > 0 {
		b.WriteString("\n")
		for _, line := range m.log {
			b.WriteString(logStyle.Render(line))
			b.WriteString("\n")
		}
	}

	if m.terminal != nil {
		style := outcomeStyle(m.terminal.Type == types.EventTypeError)
		b.WriteString("\n")
		b.WriteString(summaryStyle.Render(style.Render(render.EventText(*m.terminal))))
		b.WriteString("\n")
		return b.String()
	}

	help := "Press q or Ctrl+C to stop after the current command"
	if m.stopping {
		help = "Stopping. Press q again to leave the view"
	}
	b.WriteString(helpStyle.Render(help))
	b.WriteString("\n")
	return b.String()
}

func (m Model) field(label, value string) string {
	return labelStyle.Render(label+":") + " " + valueStyle.Render(value) + "\n"
}

// Bar renders fraction as a fixed-width bar followed by a percentage.
func Bar(fraction float64, width int) string {
	fraction = min(max(fraction, 0), 1)
	full := int(fraction * float64(width))
	bar := barFull.Render(strings.Repeat("█", full)) +
		barEmpty.Render(strings.Repeat("░", width-full))
	return fmt.Sprintf("%s %3.0f%%", bar, fraction*100)
}

// Run shows the progress view until the session's terminal event arrives
// or the event channel closes. It returns the terminal event if one was seen.
func Run(events <-chan types.Event, opts Options) (*types.Event, error) {
	if events == nil {
		return nil, errors.New("tui: no event stream")
	}
	p := tea.NewProgram(NewModel(events, opts))
	final, err := p.Run()
	if err != nil {
		return nil, err
	}
	if m, ok := final.(Model); ok {
		return m.Terminal(), nil
	}
	return nil, nil
}
