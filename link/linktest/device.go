// Package linktest provides a scripted fake GRBL controller for tests.
//
// A Device hands out Ports through its Open method, which matches
// link.Opener. Writes are parsed the way the firmware does: a lone '?'
// is a realtime status request, everything else is line-buffered and
// answered when the newline arrives.
package linktest

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/pithecene-io/gstream/link"
	"github.com/pithecene-io/gstream/types"
)

// DefaultStatus is the report returned when no status script is queued.
const DefaultStatus = "<Idle|MPos:0.000,0.000,0.000|Bf:15,128|FS:0,0>"

// Banner is queued on every open, like the firmware's boot message.
const Banner = "Grbl 1.1h ['$' for help]"

// ErrIO is returned by a dropped port.
var ErrIO = errors.New("input/output error")

// Device is a fake controller. Configure fields before the first Open.
type Device struct {
	mu sync.Mutex

	// Status is the default status report.
	Status string
	// Reply returns the reply lines for a received command. Nil replies "ok".
	Reply func(cmd string) []string
	// ReadTimeout overrides the read timeout given to Open.
	ReadTimeout time.Duration

	statusScript []string
	openErrs     []error
	dropAfter    int // drop the port when this many commands were received; 0 disables
	onCommand    func(cmd string)

	log      []string
	commands []string
	queries  int
	opens    int
	current  *Port
}

// NewDevice creates a device that acknowledges everything and reports Idle
// with a full planner buffer.
func NewDevice() *Device {
	return &Device{Status: DefaultStatus}
}

// QueueStatus appends reports to be returned by the next status requests,
// before falling back to Status.
func (d *Device) QueueStatus(reports ...string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.statusScript = append(d.statusScript, reports...)
}

// FailOpens makes the next len(errs) opens fail with the given errors.
func (d *Device) FailOpens(errs ...error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.openErrs = append(d.openErrs, errs...)
}

// DropAfter makes the port fail with ErrIO once n commands in total
// have been received. The n-th command itself is recorded.
func (d *Device) DropAfter(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dropAfter = n
}

// OnCommand registers a hook called, without locks held, for each received command.
func (d *Device) OnCommand(fn func(cmd string)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onCommand = fn
}

// Open implements link.Opener.
func (d *Device) Open(_ types.ConnectionConfig, readTimeout time.Duration) (link.Port, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.openErrs) > 0 {
		err := d.openErrs[0]
		d.openErrs = d.openErrs[1:]
		return nil, err
	}
	if d.ReadTimeout > 0 {
		readTimeout = d.ReadTimeout
	}
	if readTimeout <= 0 || readTimeout > 5*time.Millisecond {
		readTimeout = 2 * time.Millisecond
	}

	d.opens++
	p := newPort(d, readTimeout)
	p.push(Banner)
	d.current = p
	return p, nil
}

// Commands returns the commands received, in order, across all opens.
func (d *Device) Commands() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.commands...)
}

// Log returns the received traffic in order: "?" for status requests and
// the command text for commands.
func (d *Device) Log() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.log...)
}

// StatusQueries returns the number of status requests received.
func (d *Device) StatusQueries() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.queries
}

// Opens returns the number of successful opens.
func (d *Device) Opens() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.opens
}

// Send queues unsolicited lines on the open port, as if the firmware
// answered late.
func (d *Device) Send(lines ...string) {
	d.mu.Lock()
	p := d.current
	d.mu.Unlock()
	if p != nil {
		p.push(lines...)
	}
}

// Drop makes the currently open port fail all further I/O.
func (d *Device) Drop() {
	d.mu.Lock()
	p := d.current
	d.mu.Unlock()
	if p != nil {
		p.drop()
	}
}

// nextStatus pops the status script. Caller holds d.mu.
func (d *Device) nextStatus() string {
	d.queries++
	d.log = append(d.log, "?")
	if len(d.statusScript) > 0 {
		s := d.statusScript[0]
		d.statusScript = d.statusScript[1:]
		return s
	}
	return d.Status
}

// receive records a command and computes the reply. It reports whether the
// port must drop.
func (d *Device) receive(cmd string) ([]string, bool) {
	d.mu.Lock()
	d.commands = append(d.commands, cmd)
	d.log = append(d.log, cmd)
	drop := d.dropAfter > 0 && len(d.commands) >= d.dropAfter
	if drop {
		d.dropAfter = 0
	}
	reply := d.Reply
	hook := d.onCommand
	d.mu.Unlock()

	if hook != nil {
		hook(cmd)
	}
	if drop {
		return nil, true
	}
	if reply == nil {
		return []string{"ok"}, false
	}
	return reply(cmd), false
}

// RejectReply returns a Reply func answering "error:<code>" for the listed
// commands and "ok" otherwise.
func RejectReply(code string, cmds ...string) func(string) []string {
	rejected := make(map[string]bool, len(cmds))
	for _, c := range cmds {
		rejected[c] = true
	}
	return func(cmd string) []string {
		if rejected[cmd] {
			return []string{"error:" + code}
		}
		return []string{"ok"}
	}
}

// SilentReply returns a Reply func that answers nothing to the first n
// occurrences of cmd and "ok" otherwise.
func SilentReply(cmd string, n int) func(string) []string {
	var mu sync.Mutex
	return func(got string) []string {
		mu.Lock()
		defer mu.Unlock()
		if strings.TrimSpace(got) == cmd && n > 0 {
			n--
			return nil
		}
		return []string{"ok"}
	}
}
