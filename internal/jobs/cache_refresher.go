package jobs

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Checker-Finance/copytrader/internal/metrics"
	"github.com/Checker-Finance/copytrader/pkg/model"
)

const RefreshedSubject = "evt.copytrade.subscriptions.refreshed.v1"

// Warmer reloads the subscription cache and reports how many wallets it wrote.
type Warmer interface {
	WarmCache(ctx context.Context) int
}

type EnvelopePublisher interface {
	PublishEnvelope(ctx context.Context, subject string, env *model.Envelope) error
}

// CacheRefresher periodically rewarms the subscription cache so entries are
// rebuilt before their TTL lapses.
type CacheRefresher struct {
	logger    *zap.Logger
	warmer    Warmer
	publisher EnvelopePublisher
	interval  time.Duration
	stopCh    chan struct{}
	stopOnce  sync.Once
}

// NewCacheRefresher constructs the refresher. pub may be nil.
func NewCacheRefresher(logger *zap.Logger, warmer Warmer, pub EnvelopePublisher, interval time.Duration) *CacheRefresher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CacheRefresher{
		logger:    logger,
		warmer:    warmer,
		publisher: pub,
		interval:  interval,
		stopCh:    make(chan struct{}),
	}
}

// Start runs the refresh loop until ctx ends or Stop is called. A
// non-positive interval disables it.
func (r *CacheRefresher) Start(ctx context.Context) {
	if r.interval <= 0 {
		r.logger.Info("cache_refresher.disabled")
		return
	}
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info("cache_refresher.started", zap.Duration("interval", r.interval))

	for {
		select {
		case <-ticker.C:
			r.RunOnce(ctx)
		case <-r.stopCh:
			r.logger.Info("cache_refresher.stopped (manual stop)")
			return
		case <-ctx.Done():
			r.logger.Info("cache_refresher.stopped (context canceled)")
			return
		}
	}
}

func (r *CacheRefresher) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
}

// RunOnce executes one refresh cycle.
func (r *CacheRefresher) RunOnce(ctx context.Context) {
	start := time.Now()
	r.logger.Info("cache_refresher.running")

	wallets := r.warmer.WarmCache(ctx)
	metrics.SetLastRefresh("subscription_cache", time.Now())

	if r.publisher != nil {
		payload, _ := json.Marshal(map[string]any{
			"wallets":     wallets,
			"duration_ms": time.Since(start).Milliseconds(),
		})
		env := &model.Envelope{
			ID:        uuid.New(),
			Topic:     RefreshedSubject,
			EventType: "copytrade.subscriptions.refreshed",
			Version:   "1.0.0",
			Timestamp: time.Now().UTC(),
			Payload:   payload,
		}
		if err := r.publisher.PublishEnvelope(ctx, RefreshedSubject, env); err != nil {
			r.logger.Warn("cache_refresher.nats_publish_failed", zap.Error(err))
		}
	}

	r.logger.Info("cache_refresher.success",
		zap.Int("wallets", wallets),
		zap.Duration("duration", time.Since(start)))
}
