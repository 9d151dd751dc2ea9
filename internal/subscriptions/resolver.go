package subscriptions

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Checker-Finance/copytrader/internal/metrics"
	"github.com/Checker-Finance/copytrader/internal/store"
	"github.com/Checker-Finance/copytrader/pkg/model"
)

const (
	DefaultTTL = time.Hour

	walletKeyPrefix = "subs:wallet:"
	AllActiveKey    = "subs:active:all"
)

// Repository is the durable subscription store contract.
type Repository interface {
	FindActiveByWallet(ctx context.Context, wallet string) ([]model.Subscription, error)
	FindAllActive(ctx context.Context) ([]model.Subscription, error)
}

// Cache is the subset of the key-value store used for cache entries.
// GetJSON must return store.ErrNotFound on a miss.
type Cache interface {
	SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error
	GetJSON(ctx context.Context, key string, dest any) error
	Delete(ctx context.Context, keys ...string) error
}

// Resolver looks up active subscriptions cache-aside. Cache failures are
// never surfaced: the durable store answers instead.
type Resolver struct {
	repo        Repository
	cache       Cache
	ttl         time.Duration
	concurrency int
	logger      *zap.Logger
}

func NewResolver(repo Repository, cache Cache, ttl time.Duration, concurrency int, logger *zap.Logger) *Resolver {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if concurrency <= 0 {
		concurrency = 8
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{repo: repo, cache: cache, ttl: ttl, concurrency: concurrency, logger: logger}
}

// WalletKey is the per-wallet cache entry key.
func WalletKey(wallet string) string {
	return walletKeyPrefix + strings.ToLower(wallet)
}

// FindActiveByWallet returns the active subscriptions mirroring wallet.
func (r *Resolver) FindActiveByWallet(ctx context.Context, wallet string) ([]model.Subscription, error) {
	wallet = strings.ToLower(strings.TrimSpace(wallet))
	if wallet == "" {
		return nil, nil
	}
	return r.cached(ctx, WalletKey(wallet), func(ctx context.Context) ([]model.Subscription, error) {
		return r.repo.FindActiveByWallet(ctx, wallet)
	})
}

// FindAllActive returns every active subscription through the aggregate entry.
func (r *Resolver) FindAllActive(ctx context.Context) ([]model.Subscription, error) {
	return r.cached(ctx, AllActiveKey, r.repo.FindAllActive)
}

func (r *Resolver) cached(ctx context.Context, key string, load func(context.Context) ([]model.Subscription, error)) ([]model.Subscription, error) {
	var subs []model.Subscription
	err := r.cache.GetJSON(ctx, key, &subs)
	switch {
	case err == nil:
		metrics.IncSubscriptionCache("hit")
		return subs, nil
	case errors.Is(err, store.ErrNotFound):
		metrics.IncSubscriptionCache("miss")
	default:
		metrics.IncSubscriptionCache("error")
		r.logger.Warn("subscriptions.cache_unavailable", zap.String("key", key), zap.Error(err))
		subs, err := load(ctx)
		if err != nil {
			return nil, fmt.Errorf("load subscriptions: %w", err)
		}
		return subs, nil
	}

	subs, err = load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load subscriptions: %w", err)
	}
	if subs == nil {
		subs = []model.Subscription{}
	}
	if err := r.cache.SetJSON(ctx, key, subs, r.ttl); err != nil {
		r.logger.Warn("subscriptions.cache_populate_failed", zap.String("key", key), zap.Error(err))
	}
	return subs, nil
}

// WarmCache loads every active subscription and writes one cache entry per
// wallet plus the aggregate entry. It never fails; problems are logged and
// the number of wallet entries written is returned.
func (r *Resolver) WarmCache(ctx context.Context) int {
	start := time.Now()
	all, err := r.repo.FindAllActive(ctx)
	if err != nil {
		metrics.IncError("subscriptions", "warm_load_failed")
		r.logger.Error("subscriptions.warm_load_failed", zap.Error(err))
		return 0
	}

	byWallet := make(map[string][]model.Subscription)
	for _, s := range all {
		w := strings.ToLower(s.WalletAddress)
		byWallet[w] = append(byWallet[w], s)
	}

	written := make(chan struct{}, len(byWallet))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for wallet, subs := range byWallet {
		g.Go(func() error {
			if err := r.cache.SetJSON(gctx, WalletKey(wallet), subs, r.ttl); err != nil {
				r.logger.Warn("subscriptions.warm_entry_failed", zap.String("wallet", wallet), zap.Error(err))
				return nil
			}
			written <- struct{}{}
			return nil
		})
	}
	g.Go(func() error {
		if err := r.cache.SetJSON(gctx, AllActiveKey, all, r.ttl); err != nil {
			r.logger.Warn("subscriptions.warm_aggregate_failed", zap.Error(err))
		}
		return nil
	})
	_ = g.Wait()
	close(written)

	r.logger.Info("subscriptions.cache_warmed",
		zap.Int("subscriptions", len(all)),
		zap.Int("wallets", len(byWallet)),
		zap.Int("entries_written", len(written)),
		zap.Duration("elapsed", time.Since(start)))
	return len(written)
}

// Invalidate drops the wallet entry and the aggregate entry. Entries for
// other wallets are left to expire on their own.
func (r *Resolver) Invalidate(ctx context.Context, wallet string) error {
	if err := r.cache.Delete(ctx, WalletKey(wallet), AllActiveKey); err != nil {
		r.logger.Warn("subscriptions.invalidate_failed", zap.String("wallet", wallet), zap.Error(err))
		return err
	}
	r.logger.Info("subscriptions.invalidated", zap.String("wallet", strings.ToLower(wallet)))
	return nil
}
