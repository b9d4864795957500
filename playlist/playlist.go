// Package playlist holds the ordered job list a run consumes.
//
// The cursor (current index) names the next job to run. It stays in
// [0, Len()]; Len() means exhausted unless loop mode wraps it to 0.
// Mutations that would move the job under an active run are refused.
package playlist

import (
	"errors"
	"fmt"
	"sync"

	"github.com/pithecene-io/gstream/gcode"
	"github.com/pithecene-io/gstream/types"
)

// Control-surface errors.
var (
	// ErrInvalidIndex indicates an index outside the playlist.
	ErrInvalidIndex = errors.New("invalid playlist index")
	// ErrJobActive indicates a mutation of the job a run is streaming.
	ErrJobActive = errors.New("job is active")
	// ErrUnsupportedFile indicates a path without a G-code extension.
	ErrUnsupportedFile = errors.New("unsupported file type")
)

// Playlist is an ordered, mutable job list with a cursor and a loop flag.
// It is safe for concurrent use: the runner advances it while a front-end
// edits it.
type Playlist struct {
	mu       sync.Mutex
	paths    []string
	current  int
	loop     bool
	active   bool
	progress float64 // seeded progress of the job at current, display only
}

// New creates an empty playlist.
func New(loop bool) *Playlist {
	return &Playlist{loop: loop}
}

// validate checks every path before any is added.
func validate(paths []string) error {
	for _, p := range paths {
		if !gcode.IsGCodeFile(p) {
			return fmt.Errorf("%w: %s", ErrUnsupportedFile, p)
		}
	}
	return nil
}

// EnqueueAll appends paths. Nothing is added if any path is rejected.
func (p *Playlist) EnqueueAll(paths ...string) error {
	if err := validate(paths); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.paths = append(p.paths, paths...)
	return nil
}

// Replace swaps the whole list, clamping the cursor to the new length.
func (p *Playlist) Replace(paths []string) error {
	if err := validate(paths); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.active {
		return ErrJobActive
	}
	p.paths = append([]string(nil), paths...)
	if p.current > len(p.paths) {
		p.current = len(p.paths)
		p.progress = 0
	}
	return nil
}

// Remove deletes the job at index. Removing a job behind the cursor shifts
// the cursor so it still names the same next job.
func (p *Playlist) Remove(index int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if index < 0 || index >= len(p.paths) {
		return fmt.Errorf("%w: %d (len %d)", ErrInvalidIndex, index, len(p.paths))
	}
	if p.active && index == p.current {
		return ErrJobActive
	}

	p.paths = append(p.paths[:index], p.paths[index+1:]...)
	switch {
	case index < p.current:
		p.current--
	case index == p.current:
		p.progress = 0
	}
	if p.current > len(p.paths) {
		p.current = len(p.paths)
	}
	return nil
}

// Reorder moves the job at from to position to. The cursor follows the job
// it named.
func (p *Playlist) Reorder(from, to int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := len(p.paths)
	if from < 0 || from >= n {
		return fmt.Errorf("%w: from %d (len %d)", ErrInvalidIndex, from, n)
	}
	if to < 0 || to >= n {
		return fmt.Errorf("%w: to %d (len %d)", ErrInvalidIndex, to, n)
	}
	if from == to {
		return nil
	}
	if p.active && (from == p.current || to == p.current) {
		return ErrJobActive
	}

	path := p.paths[from]
	p.paths = append(p.paths[:from], p.paths[from+1:]...)
	p.paths = append(p.paths[:to], append([]string{path}, p.paths[to:]...)...)

	switch {
	case from == p.current:
		p.current = to
	case from < p.current && to >= p.current:
		p.current--
	case from > p.current && to <= p.current:
		p.current++
	}
	return nil
}

// Clear empties the playlist and resets the cursor.
func (p *Playlist) Clear() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.active {
		return ErrJobActive
	}
	p.paths = nil
	p.current = 0
	p.progress = 0
	return nil
}

// SetLoop sets loop mode.
func (p *Playlist) SetLoop(loop bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.loop = loop
}

// Loop reports loop mode.
func (p *Playlist) Loop() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.loop
}

// SetActive marks whether a run is streaming the job at the cursor.
func (p *Playlist) SetActive(active bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.active = active
}

// Len returns the number of jobs.
func (p *Playlist) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.paths)
}

// Files returns a copy of the job paths in order.
func (p *Playlist) Files() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.paths...)
}

// Jobs returns the jobs in order.
func (p *Playlist) Jobs() []types.Job {
	p.mu.Lock()
	defer p.mu.Unlock()
	jobs := make([]types.Job, len(p.paths))
	for i, path := range p.paths {
		jobs[i] = types.Job{Path: path, Index: i}
	}
	return jobs
}

// CurrentIndex returns the cursor.
func (p *Playlist) CurrentIndex() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

// Current returns the job at the cursor. At the end of the list it wraps
// to the first job under loop mode and reports false otherwise.
func (p *Playlist) Current() (types.Job, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.paths) == 0 {
		return types.Job{}, false
	}
	if p.current >= len(p.paths) {
		if !p.loop {
			return types.Job{}, false
		}
		p.current = 0
		p.progress = 0
	}
	return types.Job{Path: p.paths[p.current], Index: p.current}, true
}

// Advance moves the cursor past the current job and reports whether
// another job is available.
func (p *Playlist) Advance() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.progress = 0
	if p.current < len(p.paths) {
		p.current++
	}
	if p.current == len(p.paths) && p.loop && len(p.paths) > 0 {
		p.current = 0
	}
	return p.current < len(p.paths)
}

// Exhausted reports whether no job is left to run.
func (p *Playlist) Exhausted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.paths) == 0 {
		return true
	}
	return p.current >= len(p.paths) && !p.loop
}

// ResumeFrom moves the cursor to index and seeds that job's progress.
// The progress is informational: a resumed file is streamed from its start.
func (p *Playlist) ResumeFrom(index int, progress float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if index < 0 || index > len(p.paths) {
		return fmt.Errorf("%w: %d (len %d)", ErrInvalidIndex, index, len(p.paths))
	}
	if p.active {
		return ErrJobActive
	}
	p.current = index
	p.progress = clamp01(progress)
	return nil
}

// Rewind moves the cursor to the first job.
func (p *Playlist) Rewind() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.current = 0
	p.progress = 0
}

// SeededProgress returns the progress given to ResumeFrom for the job at
// the cursor, or 0 once the cursor has moved.
func (p *Playlist) SeededProgress() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.progress
}

// Snapshot captures the list and cursor with the given in-file progress.
func (p *Playlist) Snapshot(progress float64) types.ProgressSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return types.ProgressSnapshot{
		Files:        append([]string(nil), p.paths...),
		CurrentIndex: p.current,
		FileProgress: clamp01(progress),
	}
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
