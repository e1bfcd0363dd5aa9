package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"dredge/pkg/logger"
)

func testOptions() Options {
	return Options{
		Window:         200 * time.Millisecond,
		DefaultCap:     3,
		BackoffBase:    20 * time.Millisecond,
		BackoffCeiling: 80 * time.Millisecond,
	}
}

func TestAcquireWithinCap(t *testing.T) {
	lim := New(testOptions(), logger.NewNopLogger())
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := lim.Acquire(ctx, "listing"); err != nil {
			t.Fatalf("Acquire %d: %v", i, err)
		}
	}
	if elapsed := time.Since(start); elapsed > 50*time.Millisecond {
		t.Errorf("acquires under cap should not block, took %v", elapsed)
	}
}

func TestAcquireBlocksWhenWindowFull(t *testing.T) {
	lim := New(testOptions(), logger.NewNopLogger())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := lim.Acquire(ctx, "listing"); err != nil {
			t.Fatalf("Acquire %d: %v", i, err)
		}
	}

	start := time.Now()
	if err := lim.Acquire(ctx, "listing"); err != nil {
		t.Fatalf("Acquire over cap: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 150*time.Millisecond {
		t.Errorf("fourth acquire should wait for the window, took %v", elapsed)
	}
}

func TestWindowCapIsNeverExceeded(t *testing.T) {
	opts := testOptions()
	opts.Window = 300 * time.Millisecond
	opts.DefaultCap = 5
	lim := New(opts, logger.NewNopLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var mu sync.Mutex
	var admitted []time.Time

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 5; j++ {
				if err := lim.Acquire(ctx, "media"); err != nil {
					return
				}
				mu.Lock()
				admitted = append(admitted, time.Now())
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if len(admitted) == 0 {
		t.Fatal("no calls admitted")
	}
	// Count admissions inside every rolling window anchored at each call.
	for i, anchor := range admitted {
		count := 0
		for _, ts := range admitted {
			if !ts.Before(anchor) && ts.Before(anchor.Add(opts.Window)) {
				count++
			}
		}
		if count > opts.DefaultCap {
			t.Fatalf("window anchored at call %d admitted %d calls, cap is %d",
				i, count, opts.DefaultCap)
		}
	}
}

func TestKeyCapsAreIndependent(t *testing.T) {
	opts := testOptions()
	opts.KeyCaps = map[string]int{"media": 1}
	lim := New(opts, logger.NewNopLogger())
	ctx := context.Background()

	if err := lim.Acquire(ctx, "media"); err != nil {
		t.Fatalf("Acquire media: %v", err)
	}

	// The listing key still has its full default cap.
	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := lim.Acquire(ctx, "listing"); err != nil {
			t.Fatalf("Acquire listing %d: %v", i, err)
		}
	}
	if elapsed := time.Since(start); elapsed > 50*time.Millisecond {
		t.Errorf("listing acquires should not block, took %v", elapsed)
	}
}

func TestRecordFailureDoublesDelay(t *testing.T) {
	lim := New(testOptions(), logger.NewNopLogger())

	want := []time.Duration{
		20 * time.Millisecond,
		40 * time.Millisecond,
		80 * time.Millisecond,
		80 * time.Millisecond, // ceiling
	}
	for i, w := range want {
		if got := lim.RecordFailure("listing"); got != w {
			t.Errorf("failure %d: delay = %v, want %v", i+1, got, w)
		}
	}
}

func TestRecordSuccessResetsBackoff(t *testing.T) {
	lim := New(testOptions(), logger.NewNopLogger())

	lim.RecordFailure("listing")
	lim.RecordFailure("listing")
	if got := lim.Failures("listing"); got != 2 {
		t.Fatalf("Failures = %d, want 2", got)
	}

	lim.RecordSuccess("listing")
	if got := lim.Failures("listing"); got != 0 {
		t.Errorf("Failures after success = %d, want 0", got)
	}
	if got := lim.RecordFailure("listing"); got != 20*time.Millisecond {
		t.Errorf("delay after reset = %v, want %v", got, 20*time.Millisecond)
	}
}

func TestBackoffGateBlocksAcquire(t *testing.T) {
	lim := New(testOptions(), logger.NewNopLogger())
	ctx := context.Background()

	delay := lim.RecordFailure("listing")

	start := time.Now()
	if err := lim.Acquire(ctx, "listing"); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if elapsed := time.Since(start); elapsed < delay-5*time.Millisecond {
		t.Errorf("acquire should wait out the backoff gate, took %v want >= %v", elapsed, delay)
	}
}

func TestAcquireHonorsContextCancellation(t *testing.T) {
	opts := testOptions()
	opts.Window = time.Hour
	opts.DefaultCap = 1
	lim := New(opts, logger.NewNopLogger())

	if err := lim.Acquire(context.Background(), "listing"); err != nil {
		t.Fatalf("first Acquire: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := lim.Acquire(ctx, "listing")
	if err != context.DeadlineExceeded {
		t.Errorf("Acquire = %v, want context.DeadlineExceeded", err)
	}
}

func TestPacerSpacesCalls(t *testing.T) {
	opts := testOptions()
	opts.DefaultCap = 100
	opts.PaceInterval = 30 * time.Millisecond
	lim := New(opts, logger.NewNopLogger())
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 4; i++ {
		if err := lim.Acquire(ctx, "listing"); err != nil {
			t.Fatalf("Acquire %d: %v", i, err)
		}
	}
	// First call passes immediately, the next three are paced.
	if elapsed := time.Since(start); elapsed < 80*time.Millisecond {
		t.Errorf("paced acquires took %v, want >= 80ms", elapsed)
	}
}

func TestResetClearsState(t *testing.T) {
	lim := New(testOptions(), logger.NewNopLogger())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := lim.Acquire(ctx, "listing"); err != nil {
			t.Fatalf("Acquire %d: %v", i, err)
		}
	}
	lim.RecordFailure("listing")
	lim.Reset()

	if got := lim.Failures("listing"); got != 0 {
		t.Errorf("Failures after reset = %d, want 0", got)
	}
	start := time.Now()
	if err := lim.Acquire(ctx, "listing"); err != nil {
		t.Fatalf("Acquire after reset: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 50*time.Millisecond {
		t.Errorf("acquire after reset should not block, took %v", elapsed)
	}
}
