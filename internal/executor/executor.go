package executor

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"regexp"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Checker-Finance/copytrader/internal/background"
	"github.com/Checker-Finance/copytrader/internal/dispatch"
	"github.com/Checker-Finance/copytrader/internal/gatekeeper"
	"github.com/Checker-Finance/copytrader/internal/metrics"
	"github.com/Checker-Finance/copytrader/internal/notify"
	"github.com/Checker-Finance/copytrader/internal/swap"
	"github.com/Checker-Finance/copytrader/pkg/model"
)

var (
	ErrNoHoldings        = errors.New("no prior purchase for this token")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrBudgetExhausted   = errors.New("subscription budget exhausted")
)

var insufficientFundsRe = regexp.MustCompile(`(?i)insufficient (balance|funds|eth)`)

// Job states, logged on every transition.
const (
	StateReceived          = "RECEIVED"
	StateDirectionResolved = "DIRECTION_RESOLVED"
	StateSwapExecuting     = "SWAP_EXECUTING"
	StateSwapSucceeded     = "SWAP_SUCCEEDED"
	StateHoldingsUpdated   = "HOLDINGS_UPDATED"
	StateNotified          = "NOTIFIED"
	StateSwapFailed        = "SWAP_FAILED"
	StatePermanentFailure  = "PERMANENT_FAILURE"
	StateRetry             = "RETRY"
)

type Swapper interface {
	ExecuteSwap(ctx context.Context, req swap.ExecuteRequest) (*swap.ExecuteResult, error)
	TokenBalance(ctx context.Context, account, network, token string) (*big.Int, bool, error)
}

type Holdings interface {
	Set(ctx context.Context, key model.HoldingKey, amount *big.Int) error
	Get(ctx context.Context, key model.HoldingKey) (*big.Int, bool, error)
	Delete(ctx context.Context, key model.HoldingKey) error
	CompareAndSet(ctx context.Context, key model.HoldingKey, prev, next *big.Int) (bool, error)
}

// AlertClaimer grants a key to the first caller within ttl.
type AlertClaimer interface {
	Claim(ctx context.Context, scope, key string, ttl time.Duration) bool
}

type Ledger interface {
	Record(ctx context.Context, o *model.ExecutionOutcome) error
}

type SpendRecorder interface {
	RecordSpend(ctx context.Context, subscriptionID string, amount decimal.Decimal) error
}

// SubscriptionCache drops cached subscriptions for a wallet.
type SubscriptionCache interface {
	Invalidate(ctx context.Context, wallet string) error
}

type OutcomePublisher interface {
	PublishOutcome(ctx context.Context, o model.ExecutionOutcome) error
}

// Config tunes executor behavior. Zero values fall back to defaults.
type Config struct {
	NativeToken       string
	MaxAttempts       int
	BalanceAttempts   int
	BalanceRetryDelay time.Duration
	AlertTTL          time.Duration
	BackgroundTimeout time.Duration
}

// Deps are the collaborators of an Executor. Ledger, Spend, Subscriptions and
// Outcomes are optional.
type Deps struct {
	Swap     Swapper
	Holdings Holdings
	Alerts   AlertClaimer
	Notifier notify.Notifier
	Runner   *background.Runner
	Ledger   Ledger
	Spend    SpendRecorder
	Outcomes OutcomePublisher

	Subscriptions SubscriptionCache
}

// Executor consumes copy-trade jobs: it resolves the swap, calls the swap
// service, keeps holdings current and fans out best-effort side effects.
type Executor struct {
	cfg    Config
	deps   Deps
	logger *zap.Logger
}

func New(cfg Config, deps Deps, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = dispatch.DefaultMaxAttempts
	}
	if cfg.BalanceAttempts <= 0 {
		cfg.BalanceAttempts = 2
	}
	if cfg.BalanceRetryDelay <= 0 {
		cfg.BalanceRetryDelay = time.Second
	}
	if cfg.AlertTTL <= 0 {
		cfg.AlertTTL = time.Hour
	}
	if cfg.BackgroundTimeout <= 0 {
		cfg.BackgroundTimeout = 2 * time.Minute
	}
	if deps.Runner == nil {
		deps.Runner = background.NewRunner(logger)
	}
	return &Executor{cfg: cfg, deps: deps, logger: logger.Named("executor")}
}

// plan is the resolved swap for one job.
type plan struct {
	req    swap.ExecuteRequest
	amount *big.Int
}

// Handle runs one delivery of job. A nil return acks it; an error wrapped
// with dispatch.Permanent fails it without retry; any other error retries.
func (e *Executor) Handle(ctx context.Context, job model.CopyTradeJob) error {
	attempt := dispatch.AttemptFromContext(ctx)
	log := e.logger.With(
		zap.String("job_id", job.JobID.String()),
		zap.String("subscription_id", job.SubscriptionID),
		zap.String("direction", string(job.Direction)),
		zap.String("token", job.Token.Address),
		zap.String("source_tx", job.TxHash),
		zap.Int("attempt", attempt))
	transition(log, StateReceived)

	if err := job.Validate(); err != nil {
		transition(log, StatePermanentFailure, zap.Error(err))
		e.finishFailed(job, attempt, err, true)
		return dispatch.Permanent(err)
	}

	key := job.HoldingKey()
	p, err := e.resolve(ctx, job, key)
	var te *transientError
	if errors.As(err, &te) {
		if attempt >= e.cfg.MaxAttempts {
			e.finishFailed(job, attempt, err, false)
		}
		transition(log, StateRetry, zap.Error(err))
		return fmt.Errorf("resolve %s: %w", job.Direction, te.err)
	}
	if err != nil {
		transition(log, StatePermanentFailure, zap.Error(err))
		e.finishFailed(job, attempt, err, true)
		return dispatch.Permanent(err)
	}
	transition(log, StateDirectionResolved,
		zap.String("from_token", p.req.FromToken),
		zap.String("to_token", p.req.ToToken),
		zap.String("from_amount", p.req.FromAmount),
		zap.Int("slippage_bps", p.req.SlippageBps))

	transition(log, StateSwapExecuting)
	res, err := e.deps.Swap.ExecuteSwap(ctx, p.req)
	if err != nil {
		transition(log, StateSwapFailed, zap.Error(err))
		return e.classifyFailure(ctx, log, job, attempt, err)
	}
	transition(log, StateSwapSucceeded, zap.String("tx_hash", res.TransactionHash))

	switch job.Direction {
	case model.DirectionBuy:
		e.afterBuy(ctx, log, job, key, p, res)
	case model.DirectionSell:
		e.afterSell(ctx, log, job, key, p, res)
	}

	e.finishExecuted(job, attempt, p, res)
	return nil
}

// resolve builds the swap request. Errors are permanent unless wrapped in transientError.
func (e *Executor) resolve(ctx context.Context, job model.CopyTradeJob, key model.HoldingKey) (*plan, error) {
	bps, err := ConvertSlippageToBps(job.MaxSlippage)
	if err != nil {
		return nil, err
	}
	req := swap.ExecuteRequest{
		AccountName: job.AccountName,
		SlippageBps: bps,
		Network:     key.Network,
	}

	var amount *big.Int
	switch job.Direction {
	case model.DirectionBuy:
		amount, err = ToBaseUnits(job.DelegationAmount)
		if err != nil {
			return nil, err
		}
		if amount.Sign() == 0 {
			return nil, fmt.Errorf("%w: zero delegation amount", model.ErrInvalidJob)
		}
		if err := checkBudget(job); err != nil {
			return nil, err
		}
		req.FromToken = e.cfg.NativeToken
		req.ToToken = key.TokenAddress
	case model.DirectionSell:
		held, ok, err := e.deps.Holdings.Get(ctx, key)
		if err != nil {
			// A store outage is transient; let the dispatcher retry.
			return nil, &transientError{err}
		}
		if !ok || held.Sign() == 0 {
			return nil, fmt.Errorf("%w: %s", ErrNoHoldings, key)
		}
		amount = held
		req.FromToken = key.TokenAddress
		req.ToToken = e.cfg.NativeToken
	}
	req.FromAmount = amount.String()
	return &plan{req: req, amount: amount}, nil
}

// checkBudget rejects a BUY whose delegation exceeds what the subscription has
// left. A subscription is budgeted once it has a remaining or spent amount;
// both zero (the column defaults) means no budget was assigned.
func checkBudget(job model.CopyTradeJob) error {
	remaining, err := parseAmount(job.RemainingAmount)
	if err != nil {
		return fmt.Errorf("%w: remaining amount %q", model.ErrInvalidJob, job.RemainingAmount)
	}
	spent, err := parseAmount(job.SpentAmount)
	if err != nil {
		return fmt.Errorf("%w: spent amount %q", model.ErrInvalidJob, job.SpentAmount)
	}
	if remaining.IsZero() && spent.IsZero() {
		return nil
	}
	delegation, err := decimal.NewFromString(job.DelegationAmount)
	if err != nil {
		return fmt.Errorf("%w: delegation amount %q", model.ErrInvalidJob, job.DelegationAmount)
	}
	if remaining.LessThan(delegation) {
		return fmt.Errorf("%w: remaining %s < delegation %s", ErrBudgetExhausted, remaining, delegation)
	}
	return nil
}

func parseAmount(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}

// classifyFailure decides between a permanent failure and a retry.
func (e *Executor) classifyFailure(ctx context.Context, log *zap.Logger, job model.CopyTradeJob, attempt int, err error) error {
	if insufficientFundsRe.MatchString(err.Error()) {
		transition(log, StatePermanentFailure, zap.String("reason", "insufficient_funds"))
		e.alertInsufficientFunds(ctx, log, job, err)
		e.finishFailed(job, attempt, err, true)
		metrics.IncJob(string(job.Direction), "insufficient_funds")
		return dispatch.Permanent(fmt.Errorf("%w: %v", ErrInsufficientFunds, err))
	}

	if attempt >= e.cfg.MaxAttempts {
		e.finishFailed(job, attempt, err, false)
	}
	transition(log, StateRetry, zap.Error(err))
	return fmt.Errorf("swap %s %s: %w", job.Direction, job.Token.Address, err)
}

func (e *Executor) alertInsufficientFunds(ctx context.Context, log *zap.Logger, job model.CopyTradeJob, cause error) {
	key := gatekeeper.AlertKey(job.TxHash, job.SubscriptionID)
	if !e.deps.Alerts.Claim(ctx, "alert", key, e.cfg.AlertTTL) {
		log.Info("executor.alert_suppressed", zap.String("key", key))
		return
	}
	alert := notify.Alert{
		NotifyTarget:   job.NotifyTarget,
		SubscriptionID: job.SubscriptionID,
		AccountName:    job.AccountName,
		Message: fmt.Sprintf("Insufficient balance to copy %s of %s on %s: %v",
			job.Direction, tokenLabel(job), job.Network, cause),
	}
	e.spawn(log, "alert.insufficient_funds", func(ctx context.Context) error {
		e.deps.Notifier.SendAlert(ctx, alert)
		return nil
	})
}

// afterBuy stores an estimate now and refines it from the on-chain balance
// in the background. The trade notification follows the refinement.
func (e *Executor) afterBuy(ctx context.Context, log *zap.Logger, job model.CopyTradeJob, key model.HoldingKey, p *plan, res *swap.ExecuteResult) {
	estimate := p.amount
	if job.ObservedValue != nil && *job.ObservedValue > 0 {
		estimate = floatToBaseUnits(*job.ObservedValue)
	}
	if err := e.deps.Holdings.Set(ctx, key, estimate); err != nil {
		log.Error("executor.holdings_estimate_failed", zap.Error(err))
	} else {
		transition(log, StateHoldingsUpdated, zap.String("amount", estimate.String()), zap.Bool("estimate", true))
	}

	e.spawn(log, "holdings.refine", func(ctx context.Context) error {
		amount := e.refineHolding(ctx, log, job, key, estimate)
		e.deps.Notifier.SendTrade(ctx, tradeNotification(job, amount, res))
		transition(log, StateNotified)
		return nil
	})

	if e.deps.Spend != nil {
		spent := decimal.NewFromBigInt(p.amount, -nativeDecimals)
		e.spawn(log, "subscription.spend", func(ctx context.Context) error {
			if err := e.deps.Spend.RecordSpend(ctx, job.SubscriptionID, spent); err != nil {
				return err
			}
			// Later jobs must see the lowered remaining amount.
			if e.deps.Subscriptions != nil && job.WalletAddress != "" {
				return e.deps.Subscriptions.Invalidate(ctx, job.WalletAddress)
			}
			return nil
		})
	}
}

// refineHolding replaces the estimate with the queried balance. The write is
// atomic and skipped when the record changed or was sold since the estimate
// was stored.
func (e *Executor) refineHolding(ctx context.Context, log *zap.Logger, job model.CopyTradeJob, key model.HoldingKey, estimate *big.Int) *big.Int {
	balance, err := e.queryBalance(ctx, job, key)
	if err != nil || balance == nil {
		log.Warn("executor.balance_unavailable", zap.Error(err), zap.String("estimate", estimate.String()))
		return estimate
	}

	swapped, err := e.deps.Holdings.CompareAndSet(ctx, key, estimate, balance)
	if err != nil {
		log.Warn("executor.holdings_refine_failed", zap.Error(err))
		return estimate
	}
	if !swapped {
		log.Info("executor.holdings_refine_skipped", zap.String("balance", balance.String()))
		return balance
	}
	transition(log, StateHoldingsUpdated, zap.String("amount", balance.String()), zap.Bool("estimate", false))
	return balance
}

func (e *Executor) queryBalance(ctx context.Context, job model.CopyTradeJob, key model.HoldingKey) (*big.Int, error) {
	var lastErr error
	for i := 1; i <= e.cfg.BalanceAttempts; i++ {
		amount, found, err := e.deps.Swap.TokenBalance(ctx, job.AccountName, key.Network, key.TokenAddress)
		if err == nil && found && amount.Sign() > 0 {
			return amount, nil
		}
		if err == nil {
			err = fmt.Errorf("token %s not in balances", key.TokenAddress)
		}
		lastErr = err
		if i < e.cfg.BalanceAttempts {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(e.cfg.BalanceRetryDelay):
			}
		}
	}
	return nil, lastErr
}

func (e *Executor) afterSell(ctx context.Context, log *zap.Logger, job model.CopyTradeJob, key model.HoldingKey, p *plan, res *swap.ExecuteResult) {
	if err := e.deps.Holdings.Delete(ctx, key); err != nil {
		log.Error("executor.holdings_delete_failed", zap.Error(err))
	} else {
		transition(log, StateHoldingsUpdated, zap.Bool("deleted", true))
	}
	n := tradeNotification(job, p.amount, res)
	e.spawn(log, "notify.trade", func(ctx context.Context) error {
		e.deps.Notifier.SendTrade(ctx, n)
		transition(log, StateNotified)
		return nil
	})
}

func (e *Executor) finishExecuted(job model.CopyTradeJob, attempt int, p *plan, res *swap.ExecuteResult) {
	o := outcome(job, attempt)
	o.Status = model.OutcomeExecuted
	o.TxHash = res.TransactionHash
	o.BlockNumber = res.BlockNumber
	o.FromAmount = p.req.FromAmount
	e.emit(o)
}

func (e *Executor) finishFailed(job model.CopyTradeJob, attempt int, err error, permanent bool) {
	o := outcome(job, attempt)
	o.Status = model.OutcomeFailed
	o.Reason = err.Error()
	o.Permanent = permanent
	e.emit(o)
}

// emit records o in the ledger and on the outcome stream, both detached.
func (e *Executor) emit(o model.ExecutionOutcome) {
	log := e.logger.With(zap.String("job_id", o.JobID.String()))
	if e.deps.Ledger != nil {
		e.spawn(log, "ledger.record", func(ctx context.Context) error {
			return e.deps.Ledger.Record(ctx, &o)
		})
	}
	if e.deps.Outcomes != nil {
		e.spawn(log, "outcome.publish", func(ctx context.Context) error {
			return e.deps.Outcomes.PublishOutcome(ctx, o)
		})
	}
}

func (e *Executor) spawn(log *zap.Logger, name string, fn background.Task) {
	if err := e.deps.Runner.Go(name, e.cfg.BackgroundTimeout, fn); err != nil {
		log.Warn("executor.background_rejected", zap.String("task", name), zap.Error(err))
	}
}

func outcome(job model.CopyTradeJob, attempt int) model.ExecutionOutcome {
	return model.ExecutionOutcome{
		JobID:          job.JobID,
		SubscriptionID: job.SubscriptionID,
		AccountName:    job.AccountName,
		Direction:      job.Direction,
		TokenAddress:   job.Token.Address,
		TokenSymbol:    job.Token.Symbol,
		Network:        model.NormalizeNetwork(job.Network),
		SourceTxHash:   job.TxHash,
		Attempt:        attempt,
		ExecutedAt:     time.Now().UTC(),
	}
}

func tradeNotification(job model.CopyTradeJob, amount *big.Int, res *swap.ExecuteResult) notify.TradeNotification {
	return notify.TradeNotification{
		NotifyTarget:        job.NotifyTarget,
		SubscriptionID:      job.SubscriptionID,
		AccountName:         job.AccountName,
		Direction:           string(job.Direction),
		TokenSymbol:         job.Token.Symbol,
		TokenAddress:        job.Token.Address,
		TokenAmount:         FromBaseUnits(amount),
		TransactionHash:     res.TransactionHash,
		TransactionExplorer: res.TransactionExplorer,
		Network:             model.NormalizeNetwork(job.Network),
	}
}

func tokenLabel(job model.CopyTradeJob) string {
	if job.Token.Symbol != "" {
		return job.Token.Symbol
	}
	return job.Token.Address
}

func transition(log *zap.Logger, state string, fields ...zap.Field) {
	log.Info("executor.state", append([]zap.Field{zap.String("state", state)}, fields...)...)
}

// transientError marks a resolve failure that should be retried.
type transientError struct{ err error }

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }
