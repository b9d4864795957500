package types

// Job is one entry of a playlist. Identity is Path plus Index.
type Job struct {
	// Path is the G-code file path.
	Path string `json:"path" yaml:"path"`
	// Index is the 0-based playlist position at enqueue time.
	Index int `json:"index" yaml:"index"`
}

// ProgressSnapshot is the durable checkpoint record.
//
// FileProgress is only meaningful for the file at CurrentIndex and resets
// to 0 whenever CurrentIndex advances.
type ProgressSnapshot struct {
	// Files is the ordered playlist at checkpoint time.
	Files []string `json:"files" msgpack:"files" yaml:"files"`
	// CurrentIndex is the next job to run.
	CurrentIndex int `json:"current_index" msgpack:"current_index" yaml:"current_index"`
	// FileProgress is the fraction of CurrentIndex already streamed, in [0,1].
	FileProgress float64 `json:"file_progress" msgpack:"file_progress" yaml:"file_progress"`
}

// Resumable reports whether the snapshot describes unfinished work.
// A snapshot at index 0 with no progress is a fresh start.
func (s *ProgressSnapshot) Resumable() bool {
	if s == nil || len(s.Files) == 0 {
		return false
	}
	return s.CurrentIndex > 0 || (s.FileProgress > 0 && s.FileProgress < 1)
}

// Clone returns a deep copy.
func (s ProgressSnapshot) Clone() ProgressSnapshot {
	files := make([]string, len(s.Files))
	copy(files, s.Files)
	s.Files = files
	return s
}
