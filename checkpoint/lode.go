package checkpoint

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/justapithecus/lode/lode"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/pithecene-io/gstream/log"
	"github.com/pithecene-io/gstream/types"
)

// Layout of checkpoint records inside a lode Store. Store objects are
// written once, so every save is a new sequence-numbered record and the
// newest decodable record wins.
const (
	recordPrefix = "checkpoints/"
	recordExt    = ".msgpack"
	seqDigits    = 20
)

// DefaultKeep is the number of records retained after a save.
const DefaultKeep = 3

// LodeStore keeps checkpoint records in a lode Store (filesystem, memory or S3).
type LodeStore struct {
	factory lode.StoreFactory
	backend string
	keep    int
	logger  *log.Logger

	storeOnce sync.Once
	store     lode.Store
	storeErr  error

	mu     sync.Mutex
	seq    uint64
	seqSet bool
}

var _ Store = (*LodeStore)(nil)

// LodeOption configures a LodeStore.
type LodeOption func(*LodeStore)

// WithKeep sets how many records survive a save. Values below 1 keep all.
func WithKeep(n int) LodeOption {
	return func(s *LodeStore) { s.keep = n }
}

// WithLogger sets the logger used for skipped records and pruning.
func WithLogger(l *log.Logger) LodeOption {
	return func(s *LodeStore) { s.logger = l.With("checkpoint") }
}

// WithBackendName sets the name reported by Backend.
func WithBackendName(name string) LodeOption {
	return func(s *LodeStore) { s.backend = name }
}

// NewLodeStore creates a store over the given lode factory.
// Use lode.NewMemoryFactory() for testing.
func NewLodeStore(factory lode.StoreFactory, opts ...LodeOption) *LodeStore {
	s := &LodeStore{factory: factory, backend: "lode", keep: DefaultKeep}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewLodeFSStore creates a lode-backed store rooted at dir, creating it
// on first use.
func NewLodeFSStore(dir string, opts ...LodeOption) *LodeStore {
	factory := func() (lode.Store, error) {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
		return lode.NewFSFactory(dir)()
	}
	return NewLodeStore(factory, opts...)
}

// Backend implements Store.
func (s *LodeStore) Backend() string { return s.backend }

// getOrCreateStore lazily initializes the Store from the factory.
func (s *LodeStore) getOrCreateStore() (lode.Store, error) {
	s.storeOnce.Do(func() {
		s.store, s.storeErr = s.factory()
	})
	return s.store, s.storeErr
}

// Save writes snap as a new record, then prunes old ones.
func (s *LodeStore) Save(ctx context.Context, snap types.ProgressSnapshot) error {
	if err := Validate(snap); err != nil {
		return fmt.Errorf("invalid checkpoint: %w", err)
	}
	if snap.Files == nil {
		snap.Files = []string{}
	}
	store, err := s.getOrCreateStore()
	if err != nil {
		return wrapError("init", s.backend, err)
	}
	data, err := msgpack.Marshal(&snap)
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.seqSet {
		seqs, err := s.list(ctx, store)
		if err != nil {
			return err
		}
		if len(seqs) > 0 {
			s.seq = seqs[len(seqs)-1]
		}
		s.seqSet = true
	}

	key := recordKey(s.seq + 1)
	if err := store.Put(ctx, key, bytes.NewReader(data)); err != nil {
		return wrapError("write", key, err)
	}
	s.seq++

	s.prune(ctx, store)
	return nil
}

// Load returns the newest record that decodes. A corrupt newest record
// falls back to the one before it.
func (s *LodeStore) Load(ctx context.Context) (types.ProgressSnapshot, error) {
	store, err := s.getOrCreateStore()
	if err != nil {
		return types.ProgressSnapshot{}, wrapError("init", s.backend, err)
	}
	seqs, err := s.list(ctx, store)
	if err != nil {
		return types.ProgressSnapshot{}, err
	}

	for i := len(seqs) - 1; i >= 0; i-- {
		key := recordKey(seqs[i])
		snap, err := readRecord(ctx, store, key)
		if err != nil {
			s.logger.Warn("skipping unreadable checkpoint record", map[string]any{
				"key":   key,
				"error": err.Error(),
			})
			continue
		}
		return normalize(snap), nil
	}
	return types.ProgressSnapshot{}, ErrNoCheckpoint
}

// list returns the stored record sequence numbers in ascending order.
func (s *LodeStore) list(ctx context.Context, store lode.Store) ([]uint64, error) {
	keys, err := store.List(ctx, recordPrefix)
	if err != nil {
		return nil, wrapError("list", recordPrefix, err)
	}
	seqs := make([]uint64, 0, len(keys))
	for _, key := range keys {
		if seq, ok := parseRecordKey(key); ok {
			seqs = append(seqs, seq)
		}
	}
	slices.Sort(seqs)
	return seqs, nil
}

// prune deletes all but the newest keep records. Failures are logged:
// a stale record never shadows a newer one.
func (s *LodeStore) prune(ctx context.Context, store lode.Store) {
	if s.keep < 1 {
		return
	}
	seqs, err := s.list(ctx, store)
	if err != nil || len(seqs) <= s.keep {
		return
	}
	for _, seq := range seqs[:len(seqs)-s.keep] {
		key := recordKey(seq)
		if err := store.Delete(ctx, key); err != nil {
			s.logger.Warn("failed to prune checkpoint record", map[string]any{
				"key":   key,
				"error": err.Error(),
			})
		}
	}
}

func readRecord(ctx context.Context, store lode.Store, key string) (types.ProgressSnapshot, error) {
	rc, err := store.Get(ctx, key)
	if err != nil {
		return types.ProgressSnapshot{}, wrapError("read", key, err)
	}
	defer func() { _ = rc.Close() }()

	var snap types.ProgressSnapshot
	if err := msgpack.NewDecoder(rc).Decode(&snap); err != nil {
		return types.ProgressSnapshot{}, fmt.Errorf("decode checkpoint %s: %w", key, err)
	}
	return snap, nil
}

func recordKey(seq uint64) string {
	return fmt.Sprintf("%s%0*d%s", recordPrefix, seqDigits, seq, recordExt)
}

// parseRecordKey accepts keys with or without the prefix.
func parseRecordKey(key string) (uint64, bool) {
	name := path.Base(key)
	digits, ok := strings.CutSuffix(name, recordExt)
	if !ok {
		return 0, false
	}
	seq, err := strconv.ParseUint(digits, 10, 64)
	if err != nil {
		return 0, false
	}
	return seq, true
}
