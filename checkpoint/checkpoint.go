// Package checkpoint persists job progress so a stopped or crashed run can
// resume from the file it was working on.
//
// A checkpoint is one ProgressSnapshot record. Every save replaces the
// record as a whole: a reader sees either the previous or the new record,
// never a partial write.
package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/pithecene-io/gstream/types"
)

// DefaultFileName is the checkpoint file name used when only a directory is given.
const DefaultFileName = "gcode_progress.json"

// ErrNoCheckpoint indicates that no checkpoint has been saved yet.
var ErrNoCheckpoint = errors.New("no checkpoint")

// Store saves and loads the checkpoint record.
// Implementations must be safe for concurrent use.
type Store interface {
	// Save replaces the checkpoint with snap.
	Save(ctx context.Context, snap types.ProgressSnapshot) error
	// Load returns the last saved checkpoint, or ErrNoCheckpoint.
	Load(ctx context.Context) (types.ProgressSnapshot, error)
	// Backend names the storage backend (e.g. "file", "s3").
	Backend() string
}

// Validate checks a snapshot before it is persisted.
func Validate(snap types.ProgressSnapshot) error {
	if snap.CurrentIndex < 0 || snap.CurrentIndex > len(snap.Files) {
		return fmt.Errorf("current index %d out of range [0, %d]", snap.CurrentIndex, len(snap.Files))
	}
	if snap.FileProgress < 0 || snap.FileProgress > 1 {
		return fmt.Errorf("file progress %v out of range [0, 1]", snap.FileProgress)
	}
	return nil
}

// normalize clamps a loaded snapshot into range. Records written by other
// tools are accepted as long as they decode.
func normalize(snap types.ProgressSnapshot) types.ProgressSnapshot {
	if snap.Files == nil {
		snap.Files = []string{}
	}
	snap.CurrentIndex = clampIndex(snap.CurrentIndex, len(snap.Files))
	switch {
	case snap.FileProgress < 0:
		snap.FileProgress = 0
	case snap.FileProgress > 1:
		snap.FileProgress = 1
	}
	return snap
}

// Reconcile maps a loaded checkpoint onto the playlist currently in memory.
// If the file lists match, the checkpoint is trusted as is. Otherwise the
// index is clamped to the current list and the in-file progress is stale.
func Reconcile(snap types.ProgressSnapshot, files []string) (index int, progress float64) {
	snap = normalize(snap)
	if slices.Equal(snap.Files, files) {
		return snap.CurrentIndex, snap.FileProgress
	}
	return clampIndex(snap.CurrentIndex, len(files)), 0
}

// Completed returns the record written after a playlist finishes: same
// files, cursor back at the top.
func Completed(files []string) types.ProgressSnapshot {
	return types.ProgressSnapshot{
		Files:        append([]string{}, files...),
		CurrentIndex: 0,
		FileProgress: 0,
	}
}

func clampIndex(index, n int) int {
	switch {
	case index < 0:
		return 0
	case index > n:
		return n
	default:
		return index
	}
}
