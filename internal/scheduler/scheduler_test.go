package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func waitForAtLeast(t *testing.T, counter *atomic.Int32, n int32, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if counter.Load() >= n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("counter did not reach %d within %s (got %d)", n, timeout, counter.Load())
}

func TestSchedulerRunsEnabledTask(t *testing.T) {
	var calls atomic.Int32
	sched := New([]Task{
		{Name: "tick", Interval: minInterval, Run: func(ctx context.Context) error {
			calls.Add(1)
			return nil
		}},
	})

	sched.Start(context.Background())
	defer sched.Stop()

	waitForAtLeast(t, &calls, 2, 2*time.Second)
}

func TestSchedulerSkipsDisabledTask(t *testing.T) {
	var calls atomic.Int32
	sched := New([]Task{
		{Name: "disabled", Interval: 0, Run: func(ctx context.Context) error {
			calls.Add(1)
			return nil
		}},
	})

	sched.Start(context.Background())
	time.Sleep(150 * time.Millisecond)
	sched.Stop()

	if calls.Load() != 0 {
		t.Errorf("expected disabled task to never run, ran %d times", calls.Load())
	}
}

func TestSchedulerSurvivesPanickingTask(t *testing.T) {
	var panicking, healthy atomic.Int32
	sched := New([]Task{
		{Name: "panicker", Interval: minInterval, Run: func(ctx context.Context) error {
			panicking.Add(1)
			panic("boom")
		}},
		{Name: "healthy", Interval: minInterval, Run: func(ctx context.Context) error {
			healthy.Add(1)
			return nil
		}},
	})

	sched.Start(context.Background())
	defer sched.Stop()

	waitForAtLeast(t, &panicking, 2, 2*time.Second)
	waitForAtLeast(t, &healthy, 2, 2*time.Second)
}

func TestSchedulerSurvivesErroringTask(t *testing.T) {
	var calls atomic.Int32
	sched := New([]Task{
		{Name: "erroring", Interval: minInterval, Run: func(ctx context.Context) error {
			calls.Add(1)
			return errors.New("boom")
		}},
	})

	sched.Start(context.Background())
	defer sched.Stop()

	waitForAtLeast(t, &calls, 2, 2*time.Second)
}

func TestStopBlocksUntilTasksExit(t *testing.T) {
	sched := New([]Task{
		{Name: "noop", Interval: minInterval, Run: func(ctx context.Context) error { return nil }},
	})
	sched.Start(context.Background())
	time.Sleep(50 * time.Millisecond)
	sched.Stop()
}
