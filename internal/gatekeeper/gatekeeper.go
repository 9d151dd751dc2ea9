package gatekeeper

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Checker-Finance/copytrader/internal/metrics"
)

const DefaultTTL = 24 * time.Hour

// Claimer is the single atomic primitive the gatekeeper needs.
type Claimer interface {
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
}

// Gatekeeper drops repeated webhook deliveries and repeated transactions.
type Gatekeeper struct {
	kv     Claimer
	ttl    time.Duration
	logger *zap.Logger
}

func New(kv Claimer, ttl time.Duration, logger *zap.Logger) *Gatekeeper {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gatekeeper{kv: kv, ttl: ttl, logger: logger}
}

// EventKey is the marker for one webhook delivery.
func EventKey(network, eventID string) string {
	return fmt.Sprintf("dedup:%s:%s", strings.ToLower(network), eventID)
}

// TxKey is the marker for one on-chain transaction.
func TxKey(network, txHash string) string {
	return fmt.Sprintf("dedup:%s:tx:%s", strings.ToLower(network), strings.ToLower(txHash))
}

// AlertKey is the insufficient-funds alert marker for one subscription.
func AlertKey(txHash, subscriptionID string) string {
	return fmt.Sprintf("alert:insufficient:%s:%s", strings.ToLower(txHash), subscriptionID)
}

// IsDuplicate claims key for ttl with one atomic SET NX. It returns true when
// the key was already claimed. A store error is returned with false so the
// caller can fail open.
func (g *Gatekeeper) IsDuplicate(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	created, err := g.kv.SetNX(ctx, key, "1", ttl)
	if err != nil {
		return false, err
	}
	return !created, nil
}

// SeenEvent reports whether this event id was already accepted on network.
func (g *Gatekeeper) SeenEvent(ctx context.Context, network, eventID string) bool {
	return g.check(ctx, "event", EventKey(network, eventID), g.ttl)
}

// SeenTx reports whether this transaction was already accepted on network.
func (g *Gatekeeper) SeenTx(ctx context.Context, network, txHash string) bool {
	if txHash == "" {
		return false
	}
	return g.check(ctx, "tx", TxKey(network, txHash), g.ttl)
}

// Claim takes key for ttl. It returns true only for the first caller; on
// store error it also returns true so the guarded action still happens.
func (g *Gatekeeper) Claim(ctx context.Context, scope, key string, ttl time.Duration) bool {
	return !g.check(ctx, scope, key, ttl)
}

// check fails open: a store outage must not block valid events.
func (g *Gatekeeper) check(ctx context.Context, scope, key string, ttl time.Duration) bool {
	dup, err := g.IsDuplicate(ctx, key, ttl)
	if err != nil {
		metrics.IncDedup(scope, "error")
		g.logger.Warn("gatekeeper.store_error",
			zap.String("scope", scope),
			zap.String("key", key),
			zap.Error(err))
		return false
	}
	if dup {
		metrics.IncDedup(scope, "duplicate")
		g.logger.Debug("gatekeeper.duplicate", zap.String("scope", scope), zap.String("key", key))
		return true
	}
	metrics.IncDedup(scope, "new")
	return false
}
