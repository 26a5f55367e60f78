// Package scheduler runs the daemon's fixed set of background maintenance
// tasks (user store compaction, ban list and dupe store value-log GC),
// following the shape of the teacher's pkg/cache/flusher.BackgroundFlusher:
// a context-scoped goroutine per task, its own time.Ticker, and a WaitGroup
// Stop() blocks on; a task is not run again on shutdown. Unlike the flusher, one
// Scheduler owns several independently-ticking tasks rather than a single
// sweep, so a panicking or erroring task is recovered and logged without
// stopping the others or the scheduler itself (§4.15).
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/amftpd/amftpd/internal/logger"
)

// minInterval is the smallest interval a task will actually run at,
// regardless of the configured value.
const minInterval = 100 * time.Millisecond

// Task is one named unit of periodic maintenance work.
type Task struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

// Scheduler runs a fixed set of Tasks, each on its own ticker.
type Scheduler struct {
	tasks []Task

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs a Scheduler for tasks. Tasks with a non-positive Interval
// are skipped entirely (the corresponding maintenance feature is disabled).
func New(tasks []Task) *Scheduler {
	return &Scheduler{tasks: tasks}
}

// Start launches one goroutine per enabled task. The scheduler runs until
// ctx is canceled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	s.ctx, s.cancel = context.WithCancel(ctx)
	for _, t := range s.tasks {
		if t.Interval <= 0 {
			continue
		}
		interval := t.Interval
		if interval < minInterval {
			interval = minInterval
		}
		s.wg.Add(1)
		go s.runTask(t, interval)
	}
}

// Stop cancels all tasks and blocks until their goroutines have exited.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *Scheduler) runTask(t Task, interval time.Duration) {
	defer s.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.runOnce(t)
		}
	}
}

// runOnce executes one task tick, recovering a panic and logging any error
// so a single misbehaving task never takes down the scheduler loop.
func (s *Scheduler) runOnce(t Task) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("scheduled task panicked", "task", t.Name, "recovered", r)
		}
	}()
	if err := t.Run(s.ctx); err != nil {
		logger.Warn("scheduled task failed", "task", t.Name, "err", err)
	}
}
