package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Checker-Finance/copytrader/internal/metrics"
	"github.com/Checker-Finance/copytrader/pkg/model"
)

const (
	DefaultMaxAttempts   = 3
	DefaultBaseBackoff   = 2 * time.Second
	DefaultCompletedKeep = 50
	DefaultFailedKeep    = 100

	// RetryHoldGrace is how long past its backoff a retrying job keeps later
	// jobs for its holding key parked before they are released anyway.
	RetryHoldGrace = 30 * time.Second
)

// Handler executes one delivery attempt of a job.
type Handler interface {
	Handle(ctx context.Context, job model.CopyTradeJob) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, job model.CopyTradeJob) error

func (f HandlerFunc) Handle(ctx context.Context, job model.CopyTradeJob) error { return f(ctx, job) }

type attemptKey struct{}

// AttemptFromContext returns the 1-based delivery attempt of the job being
// handled, or 1 outside a dispatcher.
func AttemptFromContext(ctx context.Context) int {
	if n, ok := ctx.Value(attemptKey{}).(int); ok {
		return n
	}
	return 1
}

// WithAttempt returns ctx carrying the delivery attempt n.
func WithAttempt(ctx context.Context, n int) context.Context {
	return context.WithValue(ctx, attemptKey{}, n)
}

// Config tunes retry, partitioning and history retention.
type Config struct {
	Workers       int
	MaxAttempts   int
	BaseBackoff   time.Duration
	CompletedKeep int
	FailedKeep    int
}

// JobSummary is a retained record of a finished job.
type JobSummary struct {
	JobID          uuid.UUID       `json:"job_id"`
	SubscriptionID string          `json:"subscription_id"`
	Direction      model.Direction `json:"direction"`
	Attempts       int             `json:"attempts"`
	Error          string          `json:"error,omitempty"`
	FinishedAt     time.Time       `json:"finished_at"`
}

// Stats is a point-in-time view of the queue.
type Stats struct {
	Waiting        int   `json:"waiting"`
	Active         int   `json:"active"`
	Parked         int   `json:"parked"`
	Completed      int   `json:"completed"`
	Failed         int   `json:"failed"`
	TotalCompleted int64 `json:"total_completed"`
	TotalFailed    int64 `json:"total_failed"`
}

// Dispatcher enqueues copy-trade jobs and runs them with retries. Jobs that
// share a holding key are routed to the same worker so they never overlap,
// and a job waiting for a retry keeps later jobs for its key behind it.
type Dispatcher struct {
	broker  Broker
	handler Handler
	cfg     Config
	logger  *zap.Logger

	active         atomic.Int64
	totalCompleted atomic.Int64
	totalFailed    atomic.Int64

	mu        sync.Mutex
	parts     []*partition
	completed *ring
	failed    *ring
}

func New(broker Broker, handler Handler, cfg Config, logger *zap.Logger) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = DefaultBaseBackoff
	}
	if cfg.CompletedKeep <= 0 {
		cfg.CompletedKeep = DefaultCompletedKeep
	}
	if cfg.FailedKeep <= 0 {
		cfg.FailedKeep = DefaultFailedKeep
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		broker:    broker,
		handler:   handler,
		cfg:       cfg,
		logger:    logger,
		completed: newRing(cfg.CompletedKeep),
		failed:    newRing(cfg.FailedKeep),
	}
}

// Backoff is the delay before attempt+1: base·2^(attempt-1).
func Backoff(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return base << (attempt - 1)
}

// Enqueue validates job and publishes it as attempt 1.
func (d *Dispatcher) Enqueue(ctx context.Context, job model.CopyTradeJob) (uuid.UUID, error) {
	if job.JobID == uuid.Nil {
		job.JobID = uuid.New()
	}
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now().UTC()
	}
	if err := job.Validate(); err != nil {
		metrics.IncEnqueued(string(job.Direction), "invalid")
		return uuid.Nil, err
	}

	env := Envelope{Job: job, Attempt: 1, EnqueuedAt: job.EnqueuedAt}
	if err := d.broker.Publish(ctx, env, 0); err != nil {
		metrics.IncEnqueued(string(job.Direction), "error")
		return uuid.Nil, fmt.Errorf("enqueue job %s: %w", job.JobID, err)
	}

	metrics.IncEnqueued(string(job.Direction), "ok")
	d.logger.Info("dispatch.enqueued",
		zap.String("job_id", job.JobID.String()),
		zap.String("subscription_id", job.SubscriptionID),
		zap.String("direction", string(job.Direction)),
		zap.String("token", job.Token.Address),
		zap.String("source_tx", job.TxHash))
	return job.JobID, nil
}

// Partition returns the worker index for a holding key.
func Partition(key model.HoldingKey, workers int) int {
	if workers <= 1 {
		return 0
	}
	return int(xxhash.Sum64String(key.String()) % uint64(workers))
}

// Run consumes until ctx ends, then lets in-flight jobs finish. Deliveries
// still queued or parked at that point are requeued on the broker.
func (d *Dispatcher) Run(ctx context.Context) error {
	deliveries, err := d.broker.Consume(ctx)
	if err != nil {
		return err
	}

	parts := make([]*partition, d.cfg.Workers)
	stop := make(chan struct{})
	var wg sync.WaitGroup
	for i := range parts {
		parts[i] = newPartition()
		wg.Add(1)
		go func(p *partition) {
			defer wg.Done()
			d.work(ctx, p, stop)
		}(parts[i])
	}
	d.mu.Lock()
	d.parts = parts
	d.mu.Unlock()
	defer func() {
		close(stop)
		wg.Wait()
		d.mu.Lock()
		d.parts = nil
		d.mu.Unlock()
		d.logger.Info("dispatch.stopped")
	}()

	sweep := time.NewTicker(d.cfg.BaseBackoff)
	defer sweep.Stop()

	d.logger.Info("dispatch.started", zap.Int("workers", d.cfg.Workers), zap.Int("max_attempts", d.cfg.MaxAttempts))
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-sweep.C:
			for _, p := range parts {
				if n := p.expire(now); n > 0 {
					d.logger.Warn("dispatch.retry_hold_expired", zap.Int("keys", n))
				}
			}
		case del, ok := <-deliveries:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return errors.New("dispatch: delivery stream closed")
			}
			parts[Partition(del.Envelope.Job.HoldingKey(), d.cfg.Workers)].push(del)
		}
	}
}

// work runs one partition's deliveries in order until stop is closed.
func (d *Dispatcher) work(ctx context.Context, p *partition, stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			for _, del := range p.drain() {
				_ = del.Nack(true)
			}
			return
		default:
		}

		del, ok := p.pop()
		if !ok {
			select {
			case <-p.wake:
			case <-stop:
			}
			continue
		}

		key := del.Envelope.Job.HoldingKey().String()
		if p.park(key, del, time.Now()) {
			metrics.IncJob(string(del.Envelope.Job.Direction), "parked")
			d.logger.Info("dispatch.job_parked",
				zap.String("job_id", del.Envelope.Job.JobID.String()),
				zap.String("holding_key", key))
			continue
		}

		if delay, retrying := d.process(ctx, del); retrying {
			p.hold(key, del.Envelope.Job.JobID, delay+RetryHoldGrace, time.Now())
		} else {
			p.settle(key, del.Envelope.Job.JobID)
		}
	}
}

// process runs one delivery. It reports whether the job was scheduled for
// another attempt and after what delay.
func (d *Dispatcher) process(ctx context.Context, del Delivery) (time.Duration, bool) {
	env := del.Envelope
	job := env.Job
	log := d.logger.With(
		zap.String("job_id", job.JobID.String()),
		zap.String("subscription_id", job.SubscriptionID),
		zap.String("direction", string(job.Direction)),
		zap.Int("attempt", env.Attempt))

	d.active.Add(1)
	defer d.active.Add(-1)

	// In-flight jobs complete even when the consumer is shutting down.
	jobCtx := WithAttempt(context.WithoutCancel(ctx), env.Attempt)
	start := time.Now()
	err := d.handler.Handle(jobCtx, job)
	metrics.ObserveDuration(metrics.JobDuration, start, string(job.Direction))

	switch {
	case err == nil:
		metrics.IncJob(string(job.Direction), "completed")
		d.record(true, env, nil)
		log.Info("dispatch.job_completed", zap.Duration("elapsed", time.Since(start)))
		d.ack(del, log)

	case IsPermanent(err):
		metrics.IncJob(string(job.Direction), "failed")
		d.record(false, env, err)
		log.Warn("dispatch.job_failed_permanent", zap.Error(err))
		d.ack(del, log)

	case env.Attempt >= d.cfg.MaxAttempts:
		metrics.IncJob(string(job.Direction), "failed")
		d.record(false, env, err)
		log.Error("dispatch.job_failed_exhausted", zap.Error(err))
		d.ack(del, log)

	default:
		delay := Backoff(d.cfg.BaseBackoff, env.Attempt)
		next := env
		next.Attempt++
		if perr := d.broker.Publish(jobCtx, next, delay); perr != nil {
			log.Error("dispatch.retry_publish_failed", zap.Error(perr))
			_ = del.Nack(true)
			return 0, false
		}
		metrics.IncJob(string(job.Direction), "retry")
		log.Warn("dispatch.job_retry_scheduled", zap.Duration("delay", delay), zap.Error(err))
		d.ack(del, log)
		return delay, true
	}
	return 0, false
}

func (d *Dispatcher) ack(del Delivery, log *zap.Logger) {
	if err := del.Ack(); err != nil {
		log.Warn("dispatch.ack_failed", zap.Error(err))
	}
}

func (d *Dispatcher) record(ok bool, env Envelope, err error) {
	s := JobSummary{
		JobID:          env.Job.JobID,
		SubscriptionID: env.Job.SubscriptionID,
		Direction:      env.Job.Direction,
		Attempts:       env.Attempt,
		FinishedAt:     time.Now().UTC(),
	}
	if err != nil {
		s.Error = err.Error()
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if ok {
		d.totalCompleted.Add(1)
		d.completed.push(s)
	} else {
		d.totalFailed.Add(1)
		d.failed.push(s)
	}
}

// Stats reports queue depth, in-flight jobs and retained history.
func (d *Dispatcher) Stats(ctx context.Context) Stats {
	waiting, err := d.broker.Depth(ctx)
	if err != nil {
		d.logger.Warn("dispatch.depth_failed", zap.Error(err))
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	parked := 0
	for _, p := range d.parts {
		parked += p.parkedLen()
	}
	return Stats{
		Waiting:        waiting,
		Active:         int(d.active.Load()),
		Parked:         parked,
		Completed:      d.completed.len(),
		Failed:         d.failed.len(),
		TotalCompleted: d.totalCompleted.Load(),
		TotalFailed:    d.totalFailed.Load(),
	}
}

// History returns the retained completed and failed summaries, newest first.
func (d *Dispatcher) History() (completed, failed []JobSummary) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.completed.items(), d.failed.items()
}

// ring keeps the last size summaries.
type ring struct {
	buf  []JobSummary
	next int
	full bool
}

func newRing(size int) *ring {
	return &ring{buf: make([]JobSummary, size)}
}

func (r *ring) push(s JobSummary) {
	r.buf[r.next] = s
	r.next = (r.next + 1) % len(r.buf)
	if r.next == 0 {
		r.full = true
	}
}

func (r *ring) len() int {
	if r.full {
		return len(r.buf)
	}
	return r.next
}

func (r *ring) items() []JobSummary {
	n := r.len()
	out := make([]JobSummary, 0, n)
	for i := 1; i <= n; i++ {
		out = append(out, r.buf[(r.next-i+len(r.buf))%len(r.buf)])
	}
	return out
}
