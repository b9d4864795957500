// Package iox collects cleanup helpers shared by the CLI and adapters.
package iox

import (
	"errors"
	"io"
	"sync"
)

// DiscardClose closes c and drops the error. For defers where nothing
// useful can be done with a close failure.
func DiscardClose(c io.Closer) { _ = c.Close() }

// Stack releases resources in reverse acquisition order. The zero value
// is ready to use.
type Stack struct {
	mu    sync.Mutex
	fns   []func() error
	names []string
	done  bool
}

// Push registers c under name. Names appear in the error returned by Close.
func (s *Stack) Push(name string, c io.Closer) {
	s.PushFunc(name, c.Close)
}

// PushFunc registers fn under name. After Close, fn runs immediately.
func (s *Stack) PushFunc(name string, fn func() error) {
	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		_ = fn()
		return
	}
	s.fns = append(s.fns, fn)
	s.names = append(s.names, name)
	s.mu.Unlock()
}

// Len reports the number of pending cleanups.
func (s *Stack) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.fns)
}

// Close runs every registered cleanup, newest first, and joins the
// failures. Later calls return nil.
func (s *Stack) Close() error {
	s.mu.Lock()
	fns, names := s.fns, s.names
	s.fns, s.names, s.done = nil, nil, true
	s.mu.Unlock()

	var errs []error
	for i := len(fns) - 1; i >= 0; i-- {
		if err := fns[i](); err != nil {
			errs = append(errs, &CloseError{Name: names[i], Err: err})
		}
	}
	return errors.Join(errs...)
}

// CloseError names the resource whose cleanup failed.
type CloseError struct {
	Name string
	Err  error
}

func (e *CloseError) Error() string { return "close " + e.Name + ": " + e.Err.Error() }

func (e *CloseError) Unwrap() error { return e.Err }
