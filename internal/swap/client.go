package swap

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Checker-Finance/copytrader/internal/httpclient"
	"github.com/Checker-Finance/copytrader/internal/metrics"
	"github.com/Checker-Finance/copytrader/internal/rate"
)

const (
	DefaultSwapTimeout    = 60 * time.Second
	DefaultBalanceTimeout = 30 * time.Second

	serviceTag = "swap"
)

// Config configures the swap-execution service client.
type Config struct {
	BaseURL        string
	APIKey         string
	SwapTimeout    time.Duration
	BalanceTimeout time.Duration
}

// Client talks to the swap-execution and balance endpoints of the swap service.
type Client struct {
	exec           *httpclient.Executor
	baseURL        string
	apiKey         string
	swapTimeout    time.Duration
	balanceTimeout time.Duration
	logger         *zap.Logger
}

// NewClient builds a client. Calls are never retried here: swap retries are
// owned by the job dispatcher and balance retries by the executor.
func NewClient(cfg Config, httpClient *http.Client, rateMgr *rate.Manager, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.SwapTimeout <= 0 {
		cfg.SwapTimeout = DefaultSwapTimeout
	}
	if cfg.BalanceTimeout <= 0 {
		cfg.BalanceTimeout = DefaultBalanceTimeout
	}
	opts := []httpclient.Option{httpclient.WithErrorHandler(categorize)}
	if rateMgr != nil {
		opts = append(opts, httpclient.WithRateLimiter(rateMgr))
	}
	return &Client{
		exec:           httpclient.New(logger, httpClient, serviceTag, opts...),
		baseURL:        strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:         cfg.APIKey,
		swapTimeout:    cfg.SwapTimeout,
		balanceTimeout: cfg.BalanceTimeout,
		logger:         logger,
	}
}

func (c *Client) headers() map[string]string {
	if c.apiKey == "" {
		return nil
	}
	return map[string]string{"x-api-key": c.apiKey}
}

// ExecuteSwap submits one swap. Success requires the success flag and a
// transaction hash; anything else is an *APIError.
func (c *Client) ExecuteSwap(ctx context.Context, req ExecuteRequest) (*ExecuteResult, error) {
	ctx, cancel := context.WithTimeout(ctx, c.swapTimeout)
	defer cancel()

	c.logger.Info("swap.execute",
		zap.String("account", req.AccountName),
		zap.String("from_token", req.FromToken),
		zap.String("to_token", req.ToToken),
		zap.String("from_amount", req.FromAmount),
		zap.Int("slippage_bps", req.SlippageBps),
		zap.String("network", req.Network))

	start := time.Now()
	var resp ExecuteResponse
	err := c.exec.PostJSON(ctx, c.baseURL+"/api/swaps/execute", c.headers(), req, &resp)
	metrics.ObserveDuration(metrics.UpstreamDuration, start, "swap")
	if err != nil {
		metrics.IncUpstream("swap", "error")
		return nil, c.wrap(err)
	}

	if !resp.Success || resp.Data == nil || resp.Data.TransactionHash == "" {
		metrics.IncUpstream("swap", "rejected")
		msg := resp.Error
		if msg == "" {
			msg = resp.Message
		}
		if msg == "" {
			msg = "swap response missing success flag or transaction hash"
		}
		return nil, &APIError{Category: ErrSwapFailed, Status: http.StatusOK, Message: msg}
	}

	metrics.IncUpstream("swap", "ok")
	c.logger.Info("swap.executed",
		zap.String("account", req.AccountName),
		zap.String("tx_hash", resp.Data.TransactionHash),
		zap.Int64("block", resp.Data.BlockNumber))
	return resp.Data, nil
}

// TokenBalance returns the raw base-unit balance of token held by account.
// found is false when the token is not in the account's balance list.
func (c *Client) TokenBalance(ctx context.Context, account, network, token string) (*big.Int, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, c.balanceTimeout)
	defer cancel()

	u := fmt.Sprintf("%s/api/balances/%s?network=%s", c.baseURL, url.PathEscape(account), url.QueryEscape(network))

	start := time.Now()
	var resp BalanceResponse
	err := c.exec.GetJSON(ctx, u, c.headers(), &resp)
	metrics.ObserveDuration(metrics.UpstreamDuration, start, "balance")
	if err != nil {
		metrics.IncUpstream("balance", "error")
		return nil, false, c.wrap(err)
	}
	if !resp.Success || resp.Data == nil {
		metrics.IncUpstream("balance", "rejected")
		return nil, false, &APIError{Category: ErrSwapFailed, Status: http.StatusOK, Message: "balance query unsuccessful: " + resp.Error}
	}
	metrics.IncUpstream("balance", "ok")

	want := strings.ToLower(token)
	for _, b := range resp.Data.Balances {
		if strings.ToLower(b.Token.ContractAddress) != want {
			continue
		}
		raw, ok := new(big.Int).SetString(b.Amount.Raw, 10)
		if !ok {
			return nil, false, fmt.Errorf("balance for %s: invalid raw amount %q", token, b.Amount.Raw)
		}
		return raw, true, nil
	}
	return nil, false, nil
}

// wrap maps transport-level failures to ErrGatewayUnavailable and anything
// else that is not already categorized to ErrSwapFailed.
func (c *Client) wrap(err error) error {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	if errors.Is(err, httpclient.ErrTransport) {
		c.logger.Warn("swap.gateway_unavailable", zap.Error(err))
		return &APIError{Category: ErrGatewayUnavailable, Message: "Failed to connect to swap service: " + err.Error()}
	}
	return &APIError{Category: ErrSwapFailed, Message: err.Error()}
}
