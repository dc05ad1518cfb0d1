package schedule

import (
	"context"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"archiver/internal/platform/testkit"

	"github.com/rs/zerolog"
)

func TestNewRejectsBadSpec(t *testing.T) {
	if _, err := New("every now and then", func(context.Context) error { return nil }, zerolog.New(io.Discard)); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestRunOnStartAndSkipWhileRunning(t *testing.T) {
	var runs, concurrent, maxConcurrent atomic.Int64
	release := make(chan struct{})
	run := func(ctx context.Context) error {
		runs.Add(1)
		n := concurrent.Add(1)
		if n > maxConcurrent.Load() {
			maxConcurrent.Store(n)
		}
		defer concurrent.Add(-1)
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil
	}

	s, err := New("* * * * * *", run, zerolog.New(io.Discard), RunOnStart())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	testkit.Eventually(t, 2*time.Second, func() bool { return runs.Load() == 1 })
	// let a couple of one-second ticks pass while the first run blocks
	time.Sleep(2200 * time.Millisecond)
	if maxConcurrent.Load() != 1 || runs.Load() != 1 {
		t.Fatalf("overlapping runs: runs=%d max=%d", runs.Load(), maxConcurrent.Load())
	}
	if s.Ticks() != 1 {
		t.Fatalf("skipped ticks must not run, got %d", s.Ticks())
	}
	close(release)
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("run: %v", err)
	}
}
