package linktest

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pithecene-io/gstream/link"
	"github.com/pithecene-io/gstream/types"
)

var portSeq atomic.Int64

// Config returns a connection config with a port name unique to the test,
// so device locks never collide between tests or packages.
func Config(tb testing.TB) types.ConnectionConfig {
	tb.Helper()
	name := strings.NewReplacer("/", "-", " ", "-").Replace(tb.Name())
	return types.ConnectionConfig{
		PortName:            fmt.Sprintf("fake-%s-%d-%d", name, time.Now().UnixNano(), portSeq.Add(1)),
		BaudRate:            types.DefaultBaudRate,
		MaxInFlightCommands: types.DefaultMaxInFlightCommands,
	}
}

// Options returns link options wired to d with fast timeouts and no settle wait.
func Options(d *Device) link.Options {
	return link.Options{
		ReadTimeout:   time.Millisecond,
		AckTimeout:    200 * time.Millisecond,
		StatusTimeout: 50 * time.Millisecond,
		SettleDelay:   -1,
		Opener:        d.Open,
		Sleep:         NoSleep,
	}
}

// NoSleep returns immediately unless ctx is done.
func NoSleep(ctx context.Context, _ time.Duration) error {
	return ctx.Err()
}

// Connect builds and connects a Link to d, closing it when the test ends.
func Connect(tb testing.TB, d *Device) *link.Link {
	tb.Helper()
	return ConnectWith(tb, d, Options(d))
}

// ConnectWith is Connect with explicit options.
func ConnectWith(tb testing.TB, d *Device, opts link.Options) *link.Link {
	tb.Helper()
	l, err := link.New(Config(tb), opts)
	if err != nil {
		tb.Fatalf("link.New: %v", err)
	}
	if err := l.Connect(context.Background()); err != nil {
		tb.Fatalf("Connect: %v", err)
	}
	tb.Cleanup(func() { _ = l.Close() })
	return l
}
