package store

import (
	"context"
	"errors"
	"testing"
	"time"

	kit "archiver/internal/platform/testkit"
)

func TestPingWithRetry(t *testing.T) {
	kit.Serial(t)
	var slept []time.Duration
	kit.Swap(t, &sleep, func(d time.Duration) { slept = append(slept, d) })

	calls := 0
	err := pingWithRetry(context.Background(), "probe", 5, time.Second, func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("not yet")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("pingWithRetry err = %v", err)
	}
	if calls != 3 || len(slept) != 2 {
		t.Fatalf("calls=%d slept=%v", calls, slept)
	}
	if slept[1] != 2*slept[0] {
		t.Fatalf("backoff not doubling: %v", slept)
	}
}

func TestPingWithRetryGivesUp(t *testing.T) {
	kit.Serial(t)
	kit.Swap(t, &sleep, func(time.Duration) {})

	err := pingWithRetry(context.Background(), "probe", 3, time.Second, func(context.Context) error {
		return errors.New("down")
	})
	if err == nil {
		t.Fatal("expected failure after attempts")
	}
	kit.MustContain(t, err.Error(), "probe ping failed after 3 attempts")
}

func TestPingWithRetryStopsOnCancel(t *testing.T) {
	kit.Serial(t)
	kit.Swap(t, &sleep, func(time.Duration) {})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := pingWithRetry(ctx, "probe", 10, time.Second, func(context.Context) error { return errors.New("down") })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}
