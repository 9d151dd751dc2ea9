package notify

import (
	"context"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Checker-Finance/copytrader/internal/httpclient"
	"github.com/Checker-Finance/copytrader/internal/metrics"
	"github.com/Checker-Finance/copytrader/internal/rate"
)

const DefaultTimeout = 10 * time.Second

// TradeNotification confirms an executed copy trade to the subscriber.
type TradeNotification struct {
	NotifyTarget        string `json:"telegramId"`
	SubscriptionID      string `json:"configId"`
	AccountName         string `json:"accountName"`
	Direction           string `json:"tradeType"`
	TokenSymbol         string `json:"tokenSymbol"`
	TokenAddress        string `json:"tokenAddress"`
	TokenAmount         string `json:"tokenAmount"`
	TransactionHash     string `json:"transactionHash"`
	TransactionExplorer string `json:"transactionExplorer"`
	Network             string `json:"network"`
}

// Alert is a free-text message to the subscriber.
type Alert struct {
	NotifyTarget   string `json:"telegramId"`
	SubscriptionID string `json:"configId,omitempty"`
	AccountName    string `json:"accountName,omitempty"`
	Message        string `json:"message"`
}

type ackResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Notifier is the contract the executor depends on.
type Notifier interface {
	SendTrade(ctx context.Context, n TradeNotification)
	SendAlert(ctx context.Context, a Alert)
}

// Dispatcher posts notifications to the notification service. Every send is
// a single best-effort request; failures are logged and swallowed.
type Dispatcher struct {
	exec    *httpclient.Executor
	baseURL string
	apiKey  string
	timeout time.Duration
	logger  *zap.Logger
}

func NewDispatcher(baseURL, apiKey string, timeout time.Duration, httpClient *http.Client, rateMgr *rate.Manager, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	var opts []httpclient.Option
	if rateMgr != nil {
		opts = append(opts, httpclient.WithRateLimiter(rateMgr))
	}
	if baseURL == "" {
		logger.Warn("notify.not_configured")
	}
	return &Dispatcher{
		exec:    httpclient.New(logger, httpClient, "notify", opts...),
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		timeout: timeout,
		logger:  logger,
	}
}

func (d *Dispatcher) SendTrade(ctx context.Context, n TradeNotification) {
	d.post(ctx, "/api/notifications/trade", "trade", n.NotifyTarget, n)
}

func (d *Dispatcher) SendAlert(ctx context.Context, a Alert) {
	d.post(ctx, "/api/notifications/alert", "alert", a.NotifyTarget, a)
}

func (d *Dispatcher) post(ctx context.Context, path, kind, target string, body any) {
	if d.baseURL == "" {
		d.logger.Debug("notify.skipped", zap.String("kind", kind), zap.String("reason", "no base url"))
		return
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	var headers map[string]string
	if d.apiKey != "" {
		headers = map[string]string{"x-api-key": d.apiKey}
	}

	var ack ackResponse
	if err := d.exec.PostJSON(ctx, d.baseURL+path, headers, body, &ack); err != nil {
		metrics.IncUpstream("notify", "error")
		d.logger.Warn("notify.send_failed",
			zap.String("kind", kind),
			zap.String("target", target),
			zap.Error(err))
		return
	}
	if !ack.Success {
		metrics.IncUpstream("notify", "rejected")
		d.logger.Warn("notify.unsuccessful",
			zap.String("kind", kind),
			zap.String("target", target),
			zap.String("message", ack.Message))
		return
	}
	metrics.IncUpstream("notify", "ok")
	d.logger.Info("notify.sent", zap.String("kind", kind), zap.String("target", target))
}
