package checkpoint

import (
	"context"
	"fmt"

	"github.com/justapithecus/lode/lode"

	"github.com/pithecene-io/gstream/log"
)

// Backend names.
const (
	BackendFile   = "file"
	BackendLode   = "lode"
	BackendS3     = "s3"
	BackendMemory = "memory"
)

// Config selects and configures a checkpoint backend.
type Config struct {
	// Backend is one of file, lode, s3, memory. Empty means file.
	Backend string
	// Path is the JSON file (file), the root directory (lode) or
	// "bucket/prefix" (s3).
	Path string
	// Region, Endpoint and UsePathStyle apply to s3.
	Region       string
	Endpoint     string
	UsePathStyle bool
}

// Open builds the Store described by cfg.
func Open(ctx context.Context, cfg Config, logger *log.Logger) (Store, error) {
	switch cfg.Backend {
	case "", BackendFile:
		return NewFileStore(cfg.Path), nil
	case BackendLode:
		dir := cfg.Path
		if dir == "" {
			dir = ".gstream"
		}
		return NewLodeFSStore(dir, WithLogger(logger)), nil
	case BackendS3:
		bucket, prefix := ParseS3Path(cfg.Path)
		return NewS3Store(ctx, S3Config{
			Bucket:       bucket,
			Prefix:       prefix,
			Region:       cfg.Region,
			Endpoint:     cfg.Endpoint,
			UsePathStyle: cfg.UsePathStyle,
		}, WithLogger(logger))
	case BackendMemory:
		return NewLodeStore(lode.NewMemoryFactory(), WithBackendName(BackendMemory), WithLogger(logger)), nil
	default:
		return nil, fmt.Errorf("unknown checkpoint backend %q (expected file, lode, s3 or memory)", cfg.Backend)
	}
}
