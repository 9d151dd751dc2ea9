package webhooks

import (
	"context"
	"fmt"
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
	DefaultAPIBaseURL = "https://dashboard.alchemy.com/api"
	DefaultTimeout    = 15 * time.Second

	serviceTag  = "alchemy"
	tokenHeader = "X-Alchemy-Token"
)

// ClientConfig configures the provider's webhook admin API.
type ClientConfig struct {
	BaseURL   string
	AuthToken string
	WebhookID string
	Timeout   time.Duration
}

// Client edits the address list of one address-activity webhook at the
// provider.
type Client struct {
	exec      *httpclient.Executor
	baseURL   string
	token     string
	webhookID string
	timeout   time.Duration
	logger    *zap.Logger
}

// NewClient builds a client. Address updates are set operations at the
// provider, so 5xx and transport failures are retried.
func NewClient(cfg ClientConfig, httpClient *http.Client, rateMgr *rate.Manager, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultAPIBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	opts := []httpclient.Option{httpclient.WithRetries(2)}
	if rateMgr != nil {
		opts = append(opts, httpclient.WithRateLimiter(rateMgr))
	}
	return &Client{
		exec:      httpclient.New(logger, httpClient, serviceTag, opts...),
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		token:     cfg.AuthToken,
		webhookID: cfg.WebhookID,
		timeout:   cfg.Timeout,
		logger:    logger,
	}
}

type updateAddressesRequest struct {
	WebhookID         string   `json:"webhook_id"`
	AddressesToAdd    []string `json:"addresses_to_add"`
	AddressesToRemove []string `json:"addresses_to_remove"`
}

type webhookResponse struct {
	Data struct {
		ID         string   `json:"id"`
		Network    string   `json:"network"`
		WebhookURL string   `json:"webhook_url"`
		IsActive   bool     `json:"is_active"`
		Addresses  []string `json:"addresses"`
	} `json:"data"`
}

func (c *Client) headers() map[string]string {
	return map[string]string{tokenHeader: c.token}
}

// UpdateAddresses adds and removes addresses on the webhook in one call.
// PATCH {base}/update-webhook-addresses
func (c *Client) UpdateAddresses(ctx context.Context, add, remove []string) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body := updateAddressesRequest{
		WebhookID:         c.webhookID,
		AddressesToAdd:    nonNil(add),
		AddressesToRemove: nonNil(remove),
	}
	start := time.Now()
	err := c.exec.SendJSON(ctx, http.MethodPatch, c.baseURL+"/update-webhook-addresses", c.headers(), body, nil)
	metrics.ObserveDuration(metrics.UpstreamDuration, start, serviceTag)
	if err != nil {
		metrics.IncUpstream(serviceTag, "error")
		return fmt.Errorf("update webhook %s addresses: %w", c.webhookID, err)
	}
	metrics.IncUpstream(serviceTag, "ok")
	c.logger.Info("alchemy.addresses_updated",
		zap.String("webhook_id", c.webhookID),
		zap.Int("added", len(add)),
		zap.Int("removed", len(remove)))
	return nil
}

// Addresses returns the addresses the webhook currently watches, lowercased.
// GET {base}/webhook/{id}
func (c *Client) Addresses(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var resp webhookResponse
	err := c.exec.GetJSON(ctx, c.baseURL+"/webhook/"+url.PathEscape(c.webhookID), c.headers(), &resp)
	if err != nil {
		metrics.IncUpstream(serviceTag, "error")
		return nil, fmt.Errorf("get webhook %s: %w", c.webhookID, err)
	}
	metrics.IncUpstream(serviceTag, "ok")
	out := make([]string, 0, len(resp.Data.Addresses))
	for _, a := range resp.Data.Addresses {
		out = append(out, strings.ToLower(a))
	}
	return out, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
