package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Checker-Finance/copytrader/pkg/model"
)

const subscriptionColumns = `
	subscription_id,
	wallet_address,
	account_name,
	COALESCE(notify_target, ''),
	delegation_amount::text,
	max_slippage::text,
	remaining_amount::text,
	spent_amount::text,
	is_active,
	updated_at`

// SubscriptionRepo reads copy-trading subscriptions from Postgres.
type SubscriptionRepo struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

func NewSubscriptionRepo(db *pgxpool.Pool, logger *zap.Logger) *SubscriptionRepo {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SubscriptionRepo{db: db, logger: logger}
}

// FindActiveByWallet returns active subscriptions mirroring wallet.
func (r *SubscriptionRepo) FindActiveByWallet(ctx context.Context, wallet string) ([]model.Subscription, error) {
	if r.db == nil {
		return nil, fmt.Errorf("postgres unavailable")
	}
	rows, err := r.db.Query(ctx, `
		SELECT `+subscriptionColumns+`
		FROM copytrading.subscription
		WHERE LOWER(wallet_address) = $1 AND is_active
		ORDER BY subscription_id;
	`, strings.ToLower(wallet))
	if err != nil {
		return nil, fmt.Errorf("query subscriptions by wallet: %w", err)
	}
	return collectSubscriptions(rows)
}

// FindAllActive returns every active subscription.
func (r *SubscriptionRepo) FindAllActive(ctx context.Context) ([]model.Subscription, error) {
	if r.db == nil {
		return nil, fmt.Errorf("postgres unavailable")
	}
	rows, err := r.db.Query(ctx, `
		SELECT `+subscriptionColumns+`
		FROM copytrading.subscription
		WHERE is_active
		ORDER BY wallet_address, subscription_id;
	`)
	if err != nil {
		return nil, fmt.Errorf("query active subscriptions: %w", err)
	}
	return collectSubscriptions(rows)
}

// RecordSpend adds amount to spent_amount and lowers remaining_amount,
// flooring it at zero.
func (r *SubscriptionRepo) RecordSpend(ctx context.Context, subscriptionID string, amount decimal.Decimal) error {
	if r.db == nil {
		return nil
	}
	if !amount.IsPositive() {
		return nil
	}
	tag, err := r.db.Exec(ctx, `
		UPDATE copytrading.subscription
		SET spent_amount = spent_amount + $2::numeric,
		    remaining_amount = GREATEST(remaining_amount - $2::numeric, 0),
		    updated_at = NOW()
		WHERE subscription_id = $1;
	`, subscriptionID, amount.String())
	if err != nil {
		r.logger.Error("store.pg.record_spend_failed",
			zap.String("subscription_id", subscriptionID),
			zap.Error(err))
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("record spend: subscription %s: %w", subscriptionID, ErrNotFound)
	}
	return nil
}

func collectSubscriptions(rows pgx.Rows) ([]model.Subscription, error) {
	defer rows.Close()

	var out []model.Subscription
	for rows.Next() {
		var s model.Subscription
		if err := rows.Scan(
			&s.SubscriptionID,
			&s.WalletAddress,
			&s.AccountName,
			&s.NotifyTarget,
			&s.DelegationAmount,
			&s.MaxSlippage,
			&s.RemainingAmount,
			&s.SpentAmount,
			&s.IsActive,
			&s.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan subscription: %w", err)
		}
		s.WalletAddress = strings.ToLower(s.WalletAddress)
		out = append(out, s)
	}
	return out, rows.Err()
}
