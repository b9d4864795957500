package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/justapithecus/lode/lode"
	lodes3 "github.com/justapithecus/lode/lode/s3"
)

// s3MaxAttempts bounds SDK retries per request. Checkpoint writes happen
// during streaming, so a stuck endpoint must not stall the runner for long.
const s3MaxAttempts = 3

// S3Config locates checkpoint records in a bucket. Credentials come from
// the default AWS chain.
type S3Config struct {
	Bucket       string
	Prefix       string
	Region       string // empty uses the shared config or AWS_REGION
	Endpoint     string // S3-compatible endpoint, e.g. MinIO
	UsePathStyle bool
}

// ParseS3Path splits "bucket/prefix", with or without an s3:// scheme.
// Leading and trailing slashes on the prefix are dropped.
func ParseS3Path(path string) (bucket, prefix string) {
	bucket, prefix, _ = strings.Cut(strings.TrimPrefix(path, "s3://"), "/")
	return bucket, strings.Trim(prefix, "/")
}

// NewS3Store opens a LodeStore backed by cfg.Bucket.
func NewS3Store(ctx context.Context, cfg S3Config, opts ...LodeOption) (*LodeStore, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("S3 bucket is required (--checkpoint-path bucket/prefix)")
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, awsLoadOptions(cfg)...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, s3ClientOptions(cfg))

	factory := func() (lode.Store, error) {
		return lodes3.New(client, lodes3.Config{Bucket: cfg.Bucket, Prefix: cfg.Prefix})
	}
	return NewLodeStore(factory, append([]LodeOption{WithBackendName(BackendS3)}, opts...)...), nil
}

func awsLoadOptions(cfg S3Config) []func(*config.LoadOptions) error {
	opts := []func(*config.LoadOptions) error{
		config.WithRetryMaxAttempts(s3MaxAttempts),
	}
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	return opts
}

func s3ClientOptions(cfg S3Config) func(*s3.Options) {
	return func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	}
}
