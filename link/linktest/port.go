package linktest

import (
	"os"
	"strings"
	"sync"
	"time"

	"github.com/pithecene-io/gstream/link"
)

// Port is one open connection to a Device.
type Port struct {
	dev         *Device
	readTimeout time.Duration

	mu      sync.Mutex
	in      []byte // bytes waiting to be read by the host
	line    []byte // partial command being written by the host
	closed  bool
	dropped bool
	notify  chan struct{}
}

func newPort(dev *Device, readTimeout time.Duration) *Port {
	return &Port{
		dev:         dev,
		readTimeout: readTimeout,
		notify:      make(chan struct{}, 1),
	}
}

// push queues a reply line for the host.
func (p *Port) push(lines ...string) {
	p.mu.Lock()
	for _, l := range lines {
		p.in = append(p.in, l...)
		p.in = append(p.in, "\r\n"...)
	}
	p.mu.Unlock()
	select {
	case p.notify <- struct{}{}:
	default:
	}
}

func (p *Port) drop() {
	p.mu.Lock()
	p.dropped = true
	p.mu.Unlock()
}

// Read returns queued reply bytes, or zero bytes after the read timeout.
func (p *Port) Read(b []byte) (int, error) {
	for attempt := 0; ; attempt++ {
		p.mu.Lock()
		switch {
		case p.closed:
			p.mu.Unlock()
			return 0, os.ErrClosed
		case p.dropped:
			p.mu.Unlock()
			return 0, ErrIO
		case len(p.in) > 0:
			n := copy(b, p.in)
			p.in = p.in[n:]
			p.mu.Unlock()
			return n, nil
		}
		p.mu.Unlock()

		if attempt > 0 {
			return 0, nil
		}
		select {
		case <-p.notify:
		case <-time.After(p.readTimeout):
		}
	}
}

// Write parses host bytes like the firmware would.
func (p *Port) Write(b []byte) (int, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return 0, os.ErrClosed
	}
	if p.dropped {
		p.mu.Unlock()
		return 0, ErrIO
	}

	var commands []string
	statusRequests := 0
	for _, c := range b {
		switch c {
		case '?':
			statusRequests++
		case '\n':
			cmd := strings.TrimRight(string(p.line), "\r")
			p.line = p.line[:0]
			if strings.TrimSpace(cmd) != "" {
				commands = append(commands, cmd)
			}
		default:
			p.line = append(p.line, c)
		}
	}
	p.mu.Unlock()

	for range statusRequests {
		p.dev.mu.Lock()
		report := p.dev.nextStatus()
		p.dev.mu.Unlock()
		p.push(report)
	}
	for _, cmd := range commands {
		reply, drop := p.dev.receive(cmd)
		if drop {
			p.drop()
			return len(b), nil
		}
		p.push(reply...)
	}
	return len(b), nil
}

// Flush discards unread input.
func (p *Port) Flush() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.dropped {
		return ErrIO
	}
	p.in = p.in[:0]
	return nil
}

// Close closes the port. Further I/O fails with os.ErrClosed.
func (p *Port) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

// Verify Port implements link.Port.
var _ link.Port = (*Port)(nil)
