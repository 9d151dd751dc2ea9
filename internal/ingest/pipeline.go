package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Checker-Finance/copytrader/internal/classifier"
	"github.com/Checker-Finance/copytrader/internal/metrics"
	"github.com/Checker-Finance/copytrader/pkg/model"
)

var ErrMalformed = errors.New("malformed webhook event")

type Gate interface {
	SeenEvent(ctx context.Context, network, eventID string) bool
	SeenTx(ctx context.Context, network, txHash string) bool
}

type SubscriptionFinder interface {
	FindActiveByWallet(ctx context.Context, wallet string) ([]model.Subscription, error)
}

type Enqueuer interface {
	Enqueue(ctx context.Context, job model.CopyTradeJob) (uuid.UUID, error)
}

// Result summarizes what one inbound event produced.
type Result struct {
	EventID    string `json:"event_id"`
	Duplicate  bool   `json:"duplicate"`
	Activities int    `json:"activities"`
	Trades     int    `json:"trades"`
	Matches    int    `json:"matches"`
	Enqueued   int    `json:"enqueued"`
	Errors     int    `json:"errors"`
}

// Pipeline turns an inbound event into zero or more copy-trade jobs.
type Pipeline struct {
	gate     Gate
	rules    classifier.Rules
	resolver SubscriptionFinder
	queue    Enqueuer
	logger   *zap.Logger
}

func NewPipeline(gate Gate, rules classifier.Rules, resolver SubscriptionFinder, queue Enqueuer, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{gate: gate, rules: rules, resolver: resolver, queue: queue, logger: logger.Named("ingest")}
}

// Process runs the event synchronously. Only ErrMalformed is returned;
// downstream failures are logged and counted in Result.Errors.
func (p *Pipeline) Process(ctx context.Context, ev model.InboundEvent) (Result, error) {
	res := Result{EventID: ev.ID, Activities: len(ev.Event.Activity)}
	if strings.TrimSpace(ev.ID) == "" || strings.TrimSpace(ev.Event.Network) == "" {
		metrics.IncWebhook("malformed")
		return res, fmt.Errorf("%w: missing id or network", ErrMalformed)
	}

	log := p.logger.With(zap.String("event_id", ev.ID), zap.String("network", ev.Event.Network))
	if p.gate.SeenEvent(ctx, ev.Event.Network, ev.ID) {
		res.Duplicate = true
		metrics.IncWebhook("duplicate")
		log.Info("ingest.duplicate_event")
		return res, nil
	}
	log.Info("ingest.event_received", zap.Int("activities", res.Activities))

	for _, activity := range ev.Event.Activity {
		trade, ok := classifier.Classify(activity, p.rules)
		if !ok {
			continue
		}
		res.Trades++
		metrics.IncTrade(string(trade.Direction))

		tlog := log.With(
			zap.String("direction", string(trade.Direction)),
			zap.String("asset", trade.BaseAsset),
			zap.String("tx_hash", trade.TxHash),
			zap.String("trader", trade.TraderAddress))
		tlog.Info("ingest.trade_detected", zap.String("token", trade.TokenAddress))

		if p.gate.SeenTx(ctx, ev.Event.Network, trade.TxHash) {
			tlog.Info("ingest.duplicate_tx")
			continue
		}

		subs, err := p.resolver.FindActiveByWallet(ctx, trade.TraderAddress)
		if err != nil {
			res.Errors++
			metrics.IncError("ingest", "resolve_failed")
			tlog.Error("ingest.resolve_failed", zap.Error(err))
			continue
		}
		if len(subs) == 0 {
			tlog.Debug("ingest.no_subscribers")
			continue
		}
		res.Matches += len(subs)

		for _, sub := range subs {
			job := model.NewCopyTradeJob(*trade, sub, ev.Event.Network)
			id, err := p.queue.Enqueue(ctx, job)
			if err != nil {
				res.Errors++
				tlog.Error("ingest.enqueue_failed",
					zap.String("subscription_id", sub.SubscriptionID),
					zap.Error(err))
				continue
			}
			res.Enqueued++
			tlog.Info("ingest.job_enqueued",
				zap.String("job_id", id.String()),
				zap.String("subscription_id", sub.SubscriptionID))
		}
	}

	metrics.IncWebhook("processed")
	log.Info("ingest.event_processed",
		zap.Int("trades", res.Trades),
		zap.Int("matches", res.Matches),
		zap.Int("enqueued", res.Enqueued),
		zap.Int("errors", res.Errors))
	return res, nil
}
