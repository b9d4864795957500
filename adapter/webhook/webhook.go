// Package webhook delivers session notifications as JSON POST requests.
//
// Each request carries the session ID and outcome in headers so a receiver
// can route or deduplicate without parsing the body. Network errors, 5xx
// and 429 responses are retried with doubling backoff; a Retry-After header
// stretches the wait.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/pithecene-io/gstream/adapter"
	"github.com/pithecene-io/gstream/iox"
	"github.com/pithecene-io/gstream/types"
)

const (
	DefaultTimeout = 10 * time.Second
	DefaultRetries = 3

	// MaxRetryAfter caps how long a server may defer the next attempt.
	MaxRetryAfter = 30 * time.Second
)

// Headers set on every delivery.
const (
	SessionHeader = "X-Gstream-Session"
	OutcomeHeader = "X-Gstream-Outcome"
	AttemptHeader = "X-Gstream-Attempt"
)

// Config configures the webhook adapter.
type Config struct {
	URL     string            // http or https endpoint
	Headers map[string]string // extra request headers
	Timeout time.Duration     // per request; 0 means DefaultTimeout
	Retries int               // retries after the first attempt
	Backoff time.Duration     // first retry delay; 0 means adapter.DefaultBackoff
}

// Adapter posts session events to Config.URL.
type Adapter struct {
	endpoint string
	headers  http.Header
	retries  int
	backoff  time.Duration
	client   *http.Client
}

// New validates cfg and builds an adapter.
func New(cfg Config) (*Adapter, error) {
	if cfg.URL == "" {
		return nil, errors.New("webhook adapter requires a URL")
	}
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("webhook url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("webhook url must be http or https, got %q", cfg.URL)
	}
	if cfg.Retries < 0 {
		return nil, fmt.Errorf("retries must be >= 0, got %d", cfg.Retries)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	h := make(http.Header, len(cfg.Headers)+2)
	h.Set("Content-Type", "application/json")
	h.Set("User-Agent", "gstream/"+types.Version)
	for k, v := range cfg.Headers {
		h.Set(k, v)
	}

	return &Adapter{
		endpoint: u.String(),
		headers:  h,
		retries:  cfg.Retries,
		backoff:  cfg.Backoff,
		client:   &http.Client{Timeout: cfg.Timeout},
	}, nil
}

// Publish posts event, retrying transient failures until the retry budget
// or ctx runs out.
func (a *Adapter) Publish(ctx context.Context, event *adapter.SessionEvent) error {
	if event == nil {
		return errors.New("webhook: nil event")
	}
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("webhook: marshal event: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= a.retries+1; attempt++ {
		if attempt > 1 {
			if err := adapter.Wait(ctx, a.delay(attempt-1, lastErr)); err != nil {
				return fmt.Errorf("webhook: waiting to retry: %w", err)
			}
		}
		lastErr = a.post(ctx, event, body, attempt)
		switch {
		case lastErr == nil:
			return nil
		case ctx.Err() != nil:
			return fmt.Errorf("webhook: %w", ctx.Err())
		case !Retriable(lastErr):
			return fmt.Errorf("webhook: rejected: %w", lastErr)
		}
	}
	return fmt.Errorf("webhook: gave up after %d attempts: %w", a.retries+1, lastErr)
}

// delay is the backoff for retry n, raised to the server's Retry-After.
func (a *Adapter) delay(n int, lastErr error) time.Duration {
	d := adapter.Backoff(a.backoff, n)
	var se *StatusError
	if errors.As(lastErr, &se) && se.RetryAfter > d {
		d = min(se.RetryAfter, MaxRetryAfter)
	}
	return d
}

func (a *Adapter) post(ctx context.Context, event *adapter.SessionEvent, body []byte, attempt int) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header = a.headers.Clone()
	req.Header.Set(SessionHeader, event.SessionID)
	req.Header.Set(OutcomeHeader, event.Outcome)
	req.Header.Set(AttemptHeader, strconv.Itoa(attempt))

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer iox.DiscardClose(resp.Body)
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return &StatusError{
		Code:       resp.StatusCode,
		RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), time.Now()),
	}
}

// StatusError reports a non-2xx response.
type StatusError struct {
	Code       int
	RetryAfter time.Duration // zero when the server sent none
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d %s", e.Code, http.StatusText(e.Code))
}

// Retriable reports whether a failed delivery may succeed if repeated.
// Transport errors, 5xx and 429 qualify; other statuses do not.
func Retriable(err error) bool {
	if err == nil {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code >= 500 || se.Code == http.StatusTooManyRequests
	}
	return true
}

// parseRetryAfter accepts delta-seconds or an HTTP date.
func parseRetryAfter(v string, now time.Time) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil && t.After(now) {
		return t.Sub(now)
	}
	return 0
}

// Close drops idle keep-alive connections.
func (a *Adapter) Close() error {
	a.client.CloseIdleConnections()
	return nil
}

var _ adapter.Adapter = (*Adapter)(nil)
