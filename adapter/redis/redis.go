// Package redis announces finished sessions on a Redis pub/sub channel.
//
// With a LatestKey configured, each announcement is also stored under that
// key in the same MULTI block, so `gstream status` and dashboards that were
// not subscribed can read the most recent outcome.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/pithecene-io/gstream/adapter"
)

const (
	DefaultChannel = "gstream:session_ended"
	DefaultTimeout = 5 * time.Second
	DefaultRetries = 3
)

// Config configures the Redis adapter.
type Config struct {
	URL       string        // redis://[:password@]host:port[/db]
	Channel   string        // default DefaultChannel
	LatestKey string        // optional key holding the last event
	LatestTTL time.Duration // expiry for LatestKey; 0 keeps it forever
	Timeout   time.Duration // per attempt; default DefaultTimeout
	Retries   int           // retries after the first attempt
	Backoff   time.Duration // first retry delay; default adapter.DefaultBackoff
}

// Adapter publishes session events with PUBLISH.
type Adapter struct {
	cfg    Config
	client *goredis.Client
}

// New parses cfg.URL and builds an adapter. No connection is made until
// the first Publish.
func New(cfg Config) (*Adapter, error) {
	switch {
	case cfg.URL == "":
		return nil, errors.New("redis adapter requires a URL")
	case cfg.Retries < 0:
		return nil, fmt.Errorf("retries must be >= 0, got %d", cfg.Retries)
	case cfg.LatestTTL < 0:
		return nil, fmt.Errorf("latest TTL must be >= 0, got %v", cfg.LatestTTL)
	}
	opts, err := goredis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("redis adapter: invalid URL: %w", err)
	}
	if cfg.Channel == "" {
		cfg.Channel = DefaultChannel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Adapter{cfg: cfg, client: goredis.NewClient(opts)}, nil
}

// Publish announces event, retrying failed attempts with doubling backoff.
func (a *Adapter) Publish(ctx context.Context, event *adapter.SessionEvent) error {
	if event == nil {
		return errors.New("redis: nil event")
	}
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("redis: marshal event: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= a.cfg.Retries+1; attempt++ {
		if attempt > 1 {
			if err := adapter.Wait(ctx, adapter.Backoff(a.cfg.Backoff, attempt-1)); err != nil {
				return fmt.Errorf("redis: waiting to retry: %w", err)
			}
		}
		if lastErr = a.deliver(ctx, body); lastErr == nil {
			return nil
		}
		if errors.Is(lastErr, goredis.ErrClosed) {
			return fmt.Errorf("redis: %w", lastErr)
		}
		if ctx.Err() != nil {
			return fmt.Errorf("redis: %w", ctx.Err())
		}
	}
	return fmt.Errorf("redis: gave up after %d attempts: %w", a.cfg.Retries+1, lastErr)
}

func (a *Adapter) deliver(ctx context.Context, body []byte) error {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()

	if a.cfg.LatestKey == "" {
		return a.client.Publish(ctx, a.cfg.Channel, body).Err()
	}
	_, err := a.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Set(ctx, a.cfg.LatestKey, body, a.cfg.LatestTTL)
		pipe.Publish(ctx, a.cfg.Channel, body)
		return nil
	})
	return err
}

// Latest reads the event stored under LatestKey. It returns nil, nil when
// nothing has been stored yet or the key expired.
func (a *Adapter) Latest(ctx context.Context) (*adapter.SessionEvent, error) {
	if a.cfg.LatestKey == "" {
		return nil, errors.New("redis adapter: no latest key configured")
	}
	ctx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()

	body, err := a.client.Get(ctx, a.cfg.LatestKey).Bytes()
	switch {
	case errors.Is(err, goredis.Nil):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("redis: get %s: %w", a.cfg.LatestKey, err)
	}
	var event adapter.SessionEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, fmt.Errorf("redis: decode %s: %w", a.cfg.LatestKey, err)
	}
	return &event, nil
}

// Close closes the connection pool.
func (a *Adapter) Close() error { return a.client.Close() }

var _ adapter.Adapter = (*Adapter)(nil)
