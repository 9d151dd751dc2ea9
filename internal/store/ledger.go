package store

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/Checker-Finance/copytrader/pkg/model"
)

// ExecutionLedger keeps one row per copy-trade job with its latest outcome.
type ExecutionLedger struct {
	db     *pgxpool.Pool
	logger *zap.Logger
	source string
}

// NewExecutionLedger constructs a ledger writer. source identifies the
// writing service instance.
func NewExecutionLedger(db *pgxpool.Pool, logger *zap.Logger, source string) *ExecutionLedger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExecutionLedger{db: db, logger: logger, source: source}
}

// Record upserts the outcome keyed by job id. A nil pool or outcome is a no-op.
func (w *ExecutionLedger) Record(ctx context.Context, o *model.ExecutionOutcome) error {
	if o == nil || w.db == nil {
		return nil
	}

	const query = `
		INSERT INTO copytrading.execution (
			job_id,
			subscription_id,
			account_name,
			direction,
			token_address,
			token_symbol,
			network,
			source_tx_hash,
			status,
			tx_hash,
			block_number,
			from_amount,
			reason,
			attempt,
			executed_at,
			source
		)
		VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8,
			$9, $10, $11, $12, $13, $14, $15, $16
		)
		ON CONFLICT (job_id)
		DO UPDATE SET
			status = EXCLUDED.status,
			tx_hash = EXCLUDED.tx_hash,
			block_number = EXCLUDED.block_number,
			from_amount = EXCLUDED.from_amount,
			reason = EXCLUDED.reason,
			attempt = EXCLUDED.attempt,
			executed_at = EXCLUDED.executed_at;
	`

	_, err := w.db.Exec(ctx, query,
		o.JobID,
		o.SubscriptionID,
		o.AccountName,
		string(o.Direction),
		o.TokenAddress,
		o.TokenSymbol,
		o.Network,
		o.SourceTxHash,
		o.Status,
		o.TxHash,
		o.BlockNumber,
		o.FromAmount,
		o.Reason,
		o.Attempt,
		o.ExecutedAt,
		w.source,
	)
	if err != nil {
		w.logger.Error("ledger.record_failed",
			zap.String("job_id", o.JobID.String()),
			zap.String("subscription_id", o.SubscriptionID),
			zap.Error(err),
		)
		return err
	}

	w.logger.Info("ledger.recorded",
		zap.String("job_id", o.JobID.String()),
		zap.String("status", o.Status),
		zap.String("subscription_id", o.SubscriptionID),
		zap.String("tx_hash", o.TxHash),
	)
	return nil
}
