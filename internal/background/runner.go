package background

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Checker-Finance/copytrader/internal/metrics"
)

// Task is one unit of detached work. Its error is logged and counted, never
// propagated to whoever scheduled it.
type Task func(ctx context.Context) error

var ErrStopped = errors.New("background runner: stopped")

// Runner runs detached tasks on their own goroutines with a per-task
// deadline. Tasks survive the cancellation of the context that scheduled
// them; Shutdown drains them.
type Runner struct {
	baseCtx context.Context
	cancel  context.CancelFunc
	logger  *zap.Logger

	mu      sync.Mutex
	stopped bool
	wg      sync.WaitGroup
}

func NewRunner(logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{baseCtx: ctx, cancel: cancel, logger: logger}
}

// Go schedules fn under name. timeout <= 0 means no per-task deadline.
// It returns ErrStopped once Shutdown has begun.
func (r *Runner) Go(name string, timeout time.Duration, fn Task) error {
	if fn == nil {
		return fmt.Errorf("background task %q: nil handler", name)
	}
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		metrics.IncBackgroundTask(name, "rejected")
		return ErrStopped
	}
	r.wg.Add(1)
	r.mu.Unlock()

	metrics.BackgroundInFlight.Inc()
	go r.run(name, timeout, fn)
	return nil
}

func (r *Runner) run(name string, timeout time.Duration, fn Task) {
	defer r.wg.Done()
	defer metrics.BackgroundInFlight.Dec()

	ctx := r.baseCtx
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	defer func() {
		if rec := recover(); rec != nil {
			metrics.IncBackgroundTask(name, "panic")
			r.logger.Error("background.task_panic",
				zap.String("task", name),
				zap.Any("panic", rec))
		}
	}()

	start := time.Now()
	if err := fn(ctx); err != nil {
		metrics.IncBackgroundTask(name, "error")
		r.logger.Warn("background.task_failed",
			zap.String("task", name),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
		return
	}
	metrics.IncBackgroundTask(name, "ok")
	r.logger.Debug("background.task_done",
		zap.String("task", name),
		zap.Duration("elapsed", time.Since(start)))
}

// Shutdown stops accepting tasks and waits for in-flight ones. When ctx
// ends first, remaining tasks are cancelled and ctx.Err is returned.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.stopped = true
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.cancel()
		return nil
	case <-ctx.Done():
		r.cancel()
		r.logger.Warn("background.shutdown_timeout")
		return ctx.Err()
	}
}
