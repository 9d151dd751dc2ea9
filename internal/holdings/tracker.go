package holdings

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/Checker-Finance/copytrader/internal/store"
	"github.com/Checker-Finance/copytrader/pkg/model"
)

// KV is the persistence contract. Get must return store.ErrNotFound on a miss.
type KV interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	CompareAndSwap(ctx context.Context, key, prev, next string) (bool, error)
}

// Tracker persists the base-unit amount a subscription holds of a token.
// Records never expire; a SELL consumes them.
type Tracker struct {
	kv KV
}

func New(kv KV) *Tracker {
	return &Tracker{kv: kv}
}

// Set stores amount for key. Negative amounts are rejected.
func (t *Tracker) Set(ctx context.Context, key model.HoldingKey, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("holdings: invalid amount %v", amount)
	}
	if err := t.kv.Set(ctx, key.String(), amount.String(), 0); err != nil {
		return fmt.Errorf("holdings set %s: %w", key, err)
	}
	return nil
}

// Get returns the stored amount, or ok=false when no record exists.
func (t *Tracker) Get(ctx context.Context, key model.HoldingKey) (*big.Int, bool, error) {
	raw, err := t.kv.Get(ctx, key.String())
	if errors.Is(err, store.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("holdings get %s: %w", key, err)
	}
	amount, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return nil, false, fmt.Errorf("holdings get %s: corrupt value %q", key, raw)
	}
	return amount, true, nil
}

func (t *Tracker) Delete(ctx context.Context, key model.HoldingKey) error {
	if err := t.kv.Delete(ctx, key.String()); err != nil {
		return fmt.Errorf("holdings delete %s: %w", key, err)
	}
	return nil
}

// CompareAndSet replaces the amount for key with next only if it is still
// prev. A deleted record stays deleted. It reports whether the write happened.
func (t *Tracker) CompareAndSet(ctx context.Context, key model.HoldingKey, prev, next *big.Int) (bool, error) {
	if prev == nil || next == nil || next.Sign() < 0 {
		return false, fmt.Errorf("holdings: invalid amount %v", next)
	}
	ok, err := t.kv.CompareAndSwap(ctx, key.String(), prev.String(), next.String())
	if err != nil {
		return false, fmt.Errorf("holdings cas %s: %w", key, err)
	}
	return ok, nil
}
