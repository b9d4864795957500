package adapter

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestBackoff(t *testing.T) {
	tests := []struct {
		base time.Duration
		n    int
		want time.Duration
	}{
		{0, 1, DefaultBackoff},
		{0, 2, 2 * DefaultBackoff},
		{0, 3, 4 * DefaultBackoff},
		{10 * time.Millisecond, 1, 10 * time.Millisecond},
		{10 * time.Millisecond, 4, 80 * time.Millisecond},
		{10 * time.Millisecond, 0, 0},
	}
	for _, tt := range tests {
		if got := Backoff(tt.base, tt.n); got != tt.want {
			t.Errorf("Backoff(%v, %d) = %v, want %v", tt.base, tt.n, got, tt.want)
		}
	}
}

func TestWait_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	if err := Wait(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Errorf("Wait = %v, want context.Canceled", err)
	}
	if err := Wait(t.Context(), time.Millisecond); err != nil {
		t.Errorf("Wait = %v, want nil", err)
	}
}
