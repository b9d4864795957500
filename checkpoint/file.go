package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/pithecene-io/gstream/types"
)

// FileStore keeps the checkpoint in a single JSON file.
type FileStore struct {
	path string
	mu   sync.Mutex
}

var _ Store = (*FileStore)(nil)

// NewFileStore creates a store at path. If path is an existing directory,
// DefaultFileName inside it is used.
func NewFileStore(path string) *FileStore {
	if path == "" {
		path = DefaultFileName
	}
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		path = filepath.Join(path, DefaultFileName)
	}
	return &FileStore{path: path}
}

// Path returns the checkpoint file path.
func (s *FileStore) Path() string { return s.path }

// Backend implements Store.
func (s *FileStore) Backend() string { return "file" }

// Save writes snap to a temp file in the same directory and renames it
// over the checkpoint.
func (s *FileStore) Save(ctx context.Context, snap types.ProgressSnapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := Validate(snap); err != nil {
		return fmt.Errorf("invalid checkpoint: %w", err)
	}
	if snap.Files == nil {
		snap.Files = []string{}
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := writeFileAtomic(s.path, append(data, '\n')); err != nil {
		return wrapError("write", s.path, err)
	}
	return nil
}

// Load reads the checkpoint file.
func (s *FileStore) Load(ctx context.Context) (types.ProgressSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return types.ProgressSnapshot{}, err
	}

	s.mu.Lock()
	data, err := os.ReadFile(s.path)
	s.mu.Unlock()
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return types.ProgressSnapshot{}, ErrNoCheckpoint
		}
		return types.ProgressSnapshot{}, wrapError("read", s.path, err)
	}

	var snap types.ProgressSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return types.ProgressSnapshot{}, fmt.Errorf("decode checkpoint %s: %w", s.path, err)
	}
	return normalize(snap), nil
}

// writeFileAtomic replaces path with data via a same-directory rename.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
