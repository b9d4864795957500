package checkpoint

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"syscall"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/justapithecus/lode/lode"

	"github.com/pithecene-io/gstream/types"
)

func sampleSnapshot() types.ProgressSnapshot {
	return types.ProgressSnapshot{
		Files:        []string{"/jobs/a.gcode", "/jobs/b.nc"},
		CurrentIndex: 1,
		FileProgress: 0.4,
	}
}

func assertSnapshot(t *testing.T, got, want types.ProgressSnapshot) {
	t.Helper()
	if !slices.Equal(got.Files, want.Files) {
		t.Errorf("Files = %v, want %v", got.Files, want.Files)
	}
	if got.CurrentIndex != want.CurrentIndex {
		t.Errorf("CurrentIndex = %d, want %d", got.CurrentIndex, want.CurrentIndex)
	}
	if got.FileProgress != want.FileProgress {
		t.Errorf("FileProgress = %v, want %v", got.FileProgress, want.FileProgress)
	}
}

func TestFileStore_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "progress.json")
	store := NewFileStore(path)

	want := sampleSnapshot()
	if err := store.Save(t.Context(), want); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := store.Load(t.Context())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	assertSnapshot(t, got, want)

	// Overwrite, not append.
	next := types.ProgressSnapshot{Files: want.Files, CurrentIndex: 2}
	if err := store.Save(t.Context(), next); err != nil {
		t.Fatal(err)
	}
	got, err = store.Load(t.Context())
	if err != nil {
		t.Fatal(err)
	}
	assertSnapshot(t, got, next)
}

func TestFileStore_RecordFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultFileName)
	if err := NewFileStore(path).Save(t.Context(), sampleSnapshot()); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{`"files"`, `"current_index"`, `"file_progress"`} {
		if !strings.Contains(string(data), key) {
			t.Errorf("checkpoint missing key %s:\n%s", key, data)
		}
	}
}

func TestFileStore_NoCheckpoint(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "missing.json"))
	if _, err := store.Load(t.Context()); !errors.Is(err, ErrNoCheckpoint) {
		t.Fatalf("Load error = %v, want ErrNoCheckpoint", err)
	}
}

func TestFileStore_DirectoryPath(t *testing.T) {
	dir := t.TempDir()
	store := NewFileStore(dir)
	if got, want := store.Path(), filepath.Join(dir, DefaultFileName); got != want {
		t.Errorf("Path() = %q, want %q", got, want)
	}
}

func TestFileStore_NoTempFilesLeft(t *testing.T) {
	dir := t.TempDir()
	store := NewFileStore(filepath.Join(dir, "p.json"))
	for i := range 5 {
		snap := types.ProgressSnapshot{Files: []string{"a.gcode", "b.gcode"}, CurrentIndex: i % 3}
		if err := store.Save(t.Context(), snap); err != nil {
			t.Fatal(err)
		}
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name() != "p.json" {
		var names []string
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Errorf("directory entries = %v, want [p.json]", names)
	}
}

func TestFileStore_RejectsInvalid(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "p.json"))
	tests := []types.ProgressSnapshot{
		{Files: []string{"a.gcode"}, CurrentIndex: 2},
		{Files: []string{"a.gcode"}, CurrentIndex: -1},
		{Files: []string{"a.gcode"}, FileProgress: 1.5},
	}
	for _, snap := range tests {
		if err := store.Save(t.Context(), snap); err == nil {
			t.Errorf("Save(%+v) should fail", snap)
		}
	}
}

func TestFileStore_CorruptRecord(t *testing.T) {
	path := filepath.Join(t.TempDir(), "p.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := NewFileStore(path).Load(t.Context())
	if err == nil || errors.Is(err, ErrNoCheckpoint) {
		t.Fatalf("Load error = %v, want decode error", err)
	}
}

func TestFileStore_NormalizesForeignRecord(t *testing.T) {
	path := filepath.Join(t.TempDir(), "p.json")
	record := `{"files": ["a.gcode"], "current_index": 9, "file_progress": 3}`
	if err := os.WriteFile(path, []byte(record), 0o644); err != nil {
		t.Fatal(err)
	}
	got, err := NewFileStore(path).Load(t.Context())
	if err != nil {
		t.Fatal(err)
	}
	if got.CurrentIndex != 1 || got.FileProgress != 1 {
		t.Errorf("normalized = %+v, want index 1 progress 1", got)
	}
}

func TestFileStore_CanceledContext(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "p.json"))
	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	if err := store.Save(ctx, sampleSnapshot()); !errors.Is(err, context.Canceled) {
		t.Errorf("Save error = %v, want context.Canceled", err)
	}
}

// sharedMemory returns a factory that always hands out the same memory store.
func sharedMemory(t *testing.T) (lode.StoreFactory, lode.Store) {
	t.Helper()
	mem, err := lode.NewMemoryFactory()()
	if err != nil {
		t.Fatal(err)
	}
	return func() (lode.Store, error) { return mem, nil }, mem
}

func TestLodeStore_RoundTrip(t *testing.T) {
	store := NewLodeStore(lode.NewMemoryFactory())

	if _, err := store.Load(t.Context()); !errors.Is(err, ErrNoCheckpoint) {
		t.Fatalf("Load on empty store = %v, want ErrNoCheckpoint", err)
	}

	want := sampleSnapshot()
	if err := store.Save(t.Context(), want); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := store.Load(t.Context())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	assertSnapshot(t, got, want)
}

func TestLodeStore_NewestWinsAndPrunes(t *testing.T) {
	factory, mem := sharedMemory(t)
	store := NewLodeStore(factory, WithKeep(2))

	for i := range 4 {
		snap := types.ProgressSnapshot{Files: []string{"a.gcode", "b.gcode", "c.gcode"}, CurrentIndex: i}
		if err := store.Save(t.Context(), snap); err != nil {
			t.Fatal(err)
		}
	}

	got, err := store.Load(t.Context())
	if err != nil {
		t.Fatal(err)
	}
	if got.CurrentIndex != 3 {
		t.Errorf("CurrentIndex = %d, want 3", got.CurrentIndex)
	}

	keys, err := mem.List(t.Context(), recordPrefix)
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 2 {
		t.Errorf("records after prune = %v, want 2", keys)
	}
}

func TestLodeStore_ReopenContinuesSequence(t *testing.T) {
	factory, _ := sharedMemory(t)

	first := NewLodeStore(factory)
	if err := first.Save(t.Context(), types.ProgressSnapshot{Files: []string{"a.gcode"}, CurrentIndex: 0}); err != nil {
		t.Fatal(err)
	}

	// A later process sees the earlier record and writes after it.
	second := NewLodeStore(factory)
	if err := second.Save(t.Context(), types.ProgressSnapshot{Files: []string{"a.gcode"}, CurrentIndex: 1}); err != nil {
		t.Fatal(err)
	}
	got, err := NewLodeStore(factory).Load(t.Context())
	if err != nil {
		t.Fatal(err)
	}
	if got.CurrentIndex != 1 {
		t.Errorf("CurrentIndex = %d, want 1", got.CurrentIndex)
	}
}

func TestLodeStore_CorruptNewestFallsBack(t *testing.T) {
	factory, mem := sharedMemory(t)
	store := NewLodeStore(factory, WithKeep(0))

	want := sampleSnapshot()
	if err := store.Save(t.Context(), want); err != nil {
		t.Fatal(err)
	}
	if err := mem.Put(t.Context(), recordKey(99), bytes.NewReader([]byte{0xc1})); err != nil {
		t.Fatal(err)
	}

	got, err := store.Load(t.Context())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	assertSnapshot(t, got, want)
}

func TestLodeStore_FS(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "state")
	store := NewLodeFSStore(dir)

	want := sampleSnapshot()
	if err := store.Save(t.Context(), want); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := NewLodeFSStore(dir).Load(t.Context())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	assertSnapshot(t, got, want)
}

func TestLodeStore_FactoryError(t *testing.T) {
	store := NewLodeStore(func() (lode.Store, error) {
		return nil, errors.New("permission denied")
	})
	err := store.Save(t.Context(), sampleSnapshot())
	if !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("Save error = %v, want ErrPermissionDenied", err)
	}
	var storageErr *StorageError
	if !errors.As(err, &storageErr) || storageErr.Op != "init" {
		t.Errorf("error = %#v, want init StorageError", err)
	}
}

func TestRecordKey(t *testing.T) {
	key := recordKey(7)
	if key != "checkpoints/00000000000000000007.msgpack" {
		t.Errorf("recordKey(7) = %q", key)
	}
	for _, k := range []string{key, "00000000000000000007.msgpack", "/root/checkpoints/7.msgpack"} {
		if seq, ok := parseRecordKey(k); !ok || seq != 7 {
			t.Errorf("parseRecordKey(%q) = %d, %v", k, seq, ok)
		}
	}
	for _, k := range []string{"checkpoints/x.msgpack", "checkpoints/7.json"} {
		if _, ok := parseRecordKey(k); ok {
			t.Errorf("parseRecordKey(%q) should fail", k)
		}
	}
}

func TestReconcile(t *testing.T) {
	snap := types.ProgressSnapshot{
		Files:        []string{"a.gcode", "b.gcode", "c.gcode"},
		CurrentIndex: 2,
		FileProgress: 0.5,
	}
	tests := []struct {
		name         string
		files        []string
		wantIndex    int
		wantProgress float64
	}{
		{"same list", []string{"a.gcode", "b.gcode", "c.gcode"}, 2, 0.5},
		{"different order", []string{"c.gcode", "b.gcode", "a.gcode"}, 2, 0},
		{"shorter list clamps", []string{"a.gcode"}, 1, 0},
		{"empty list", nil, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			index, progress := Reconcile(snap, tt.files)
			if index != tt.wantIndex || progress != tt.wantProgress {
				t.Errorf("Reconcile = (%d, %v), want (%d, %v)", index, progress, tt.wantIndex, tt.wantProgress)
			}
		})
	}
}

func TestCompleted(t *testing.T) {
	files := []string{"a.gcode", "b.gcode"}
	snap := Completed(files)
	if snap.CurrentIndex != 0 || snap.FileProgress != 0 || !slices.Equal(snap.Files, files) {
		t.Errorf("Completed = %+v", snap)
	}
	if snap.Resumable() {
		t.Error("a completed checkpoint should not offer resume")
	}
}

func TestParseS3Path(t *testing.T) {
	tests := []struct {
		in, bucket, prefix string
	}{
		{"plotter", "plotter", ""},
		{"plotter/", "plotter", ""},
		{"plotter/jobs/shop-a", "plotter", "jobs/shop-a"},
		{"s3://plotter/jobs/", "plotter", "jobs"},
		{"", "", ""},
	}
	for _, tt := range tests {
		b, p := ParseS3Path(tt.in)
		if b != tt.bucket || p != tt.prefix {
			t.Errorf("ParseS3Path(%q) = %q, %q; want %q, %q", tt.in, b, p, tt.bucket, tt.prefix)
		}
	}
}

func TestS3ClientOptions(t *testing.T) {
	var o s3.Options
	s3ClientOptions(S3Config{Endpoint: "http://localhost:9000", UsePathStyle: true})(&o)
	if o.BaseEndpoint == nil || *o.BaseEndpoint != "http://localhost:9000" || !o.UsePathStyle {
		t.Errorf("custom endpoint options = %+v", o)
	}

	o = s3.Options{}
	s3ClientOptions(S3Config{})(&o)
	if o.BaseEndpoint != nil || o.UsePathStyle {
		t.Errorf("default options changed endpoint or addressing: %+v", o)
	}

	if n := len(awsLoadOptions(S3Config{Region: "eu-west-1"})); n != 2 {
		t.Errorf("awsLoadOptions with region = %d options, want 2", n)
	}
}

func TestOpen(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		cfg     Config
		backend string
		wantErr bool
	}{
		{Config{Path: filepath.Join(dir, "p.json")}, BackendFile, false},
		{Config{Backend: BackendLode, Path: filepath.Join(dir, "lode")}, BackendLode, false},
		{Config{Backend: BackendMemory}, BackendMemory, false},
		{Config{Backend: BackendS3}, "", true},
		{Config{Backend: "ftp"}, "", true},
	}
	for _, tt := range tests {
		store, err := Open(t.Context(), tt.cfg, nil)
		if tt.wantErr {
			if err == nil {
				t.Errorf("Open(%+v) should fail", tt.cfg)
			}
			continue
		}
		if err != nil {
			t.Errorf("Open(%+v): %v", tt.cfg, err)
			continue
		}
		if store.Backend() != tt.backend {
			t.Errorf("Backend() = %q, want %q", store.Backend(), tt.backend)
		}
	}
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		msg  string
		want error
	}{
		{"open /x: permission denied", ErrPermissionDenied},
		{"AccessDenied: Access Denied", ErrPermissionDenied},
		{"write /x: no space left on device", ErrDiskFull},
		{"NoCredentialProviders: no valid providers", ErrAuth},
		{"dial tcp 10.0.0.1:443: connection refused", ErrNetwork},
		{"something odd", ErrStorage},
	}
	for _, tt := range tests {
		err := wrapError("write", "k", errors.New(tt.msg))
		if !errors.Is(err, tt.want) {
			t.Errorf("wrapError(%q) kind = %v, want %v", tt.msg, err, tt.want)
		}
	}
	if wrapError("write", "k", nil) != nil {
		t.Error("wrapError(nil) should be nil")
	}
}

func TestClassifyError_Typed(t *testing.T) {
	tests := []struct {
		err  error
		want error
	}{
		{&fs.PathError{Op: "open", Path: "/x", Err: fs.ErrPermission}, ErrPermissionDenied},
		{&fs.PathError{Op: "write", Path: "/x", Err: syscall.ENOSPC}, ErrDiskFull},
		{fmt.Errorf("put object: %w", syscall.ECONNREFUSED), ErrNetwork},
	}
	for _, tt := range tests {
		if got := classifyError(tt.err); got != tt.want {
			t.Errorf("classifyError(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestWrapError_KeepsExistingClassification(t *testing.T) {
	inner := wrapError("read", "a", errors.New("connection refused"))
	outer := wrapError("init", "b", inner)
	if outer != inner {
		t.Fatalf("rewrapped: %v", outer)
	}
	var se *StorageError
	if !errors.As(outer, &se) || !se.Transient() {
		t.Errorf("network failure should be transient: %#v", outer)
	}
	if !strings.Contains(outer.Error(), "checkpoint read a: network error") {
		t.Errorf("Error() = %q", outer.Error())
	}
}
