package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/Checker-Finance/copytrader/internal/rate"
)

// ErrTransport marks failures where no HTTP response was received.
var ErrTransport = errors.New("transport failure")

// StatusError is returned for non-2xx responses when no error handler is set.
type StatusError struct {
	Service string
	Status  int
	Body    []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s returned %d", e.Service, e.Status)
}

// DefaultBackoff returns the retry sleep duration for the given attempt number.
func DefaultBackoff(attempt int) time.Duration {
	switch attempt {
	case 0:
		return 100 * time.Millisecond
	case 1:
		return 250 * time.Millisecond
	default:
		return 500 * time.Millisecond
	}
}

// Executor handles rate-limited, optionally retrying HTTP calls with JSON encoding.
type Executor struct {
	logger       *zap.Logger
	rateMgr      *rate.Manager
	http         *http.Client
	retryMax     int
	service      string
	backoff      func(attempt int) time.Duration
	errorHandler func(status int, body []byte) error
}

// Option customizes an Executor.
type Option func(*Executor)

// WithRetries retries transport failures and 5xx responses up to n extra times.
func WithRetries(n int) Option {
	return func(e *Executor) { e.retryMax = n }
}

// WithBackoff overrides DefaultBackoff.
func WithBackoff(fn func(attempt int) time.Duration) Option {
	return func(e *Executor) { e.backoff = fn }
}

// WithErrorHandler maps every non-2xx final response to a service-specific error.
func WithErrorHandler(fn func(status int, body []byte) error) Option {
	return func(e *Executor) { e.errorHandler = fn }
}

// WithRateLimiter scopes outbound calls through the shared limiter manager.
func WithRateLimiter(m *rate.Manager) Option {
	return func(e *Executor) { e.rateMgr = m }
}

// New creates an Executor for one named service. With no options it makes a
// single attempt per call.
func New(logger *zap.Logger, httpClient *http.Client, service string, opts ...Option) *Executor {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	e := &Executor{
		logger:  logger,
		http:    httpClient,
		service: service,
		backoff: DefaultBackoff,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Service returns the service tag used for logs and rate limiting.
func (e *Executor) Service() string { return e.service }

// PostJSON marshals in as the request body and decodes the response into out.
func (e *Executor) PostJSON(ctx context.Context, url string, headers map[string]string, in, out any) error {
	return e.SendJSON(ctx, http.MethodPost, url, headers, in, out)
}

// SendJSON is PostJSON for any method that carries a JSON body.
func (e *Executor) SendJSON(ctx context.Context, method, url string, headers map[string]string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return e.DoJSON(ctx, req, out)
}

// GetJSON issues a GET and decodes the response into out.
func (e *Executor) GetJSON(ctx context.Context, url string, headers map[string]string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return e.DoJSON(ctx, req, out)
}

// DoJSON executes req, then JSON-decodes a 2xx body into out. Transport
// failures and 5xx responses are retried up to retryMax times; 4xx never is.
func (e *Executor) DoJSON(ctx context.Context, req *http.Request, out any) error {
	if e.rateMgr != nil {
		if err := e.rateMgr.Wait(ctx, e.service); err != nil {
			return fmt.Errorf("rate limit wait: %w", err)
		}
	}

	var (
		lastErr    error
		lastStatus int
		lastBody   []byte
	)
	for attempt := 0; attempt <= e.retryMax; attempt++ {
		if attempt > 0 {
			if err := sleepCtx(ctx, e.backoff(attempt-1)); err != nil {
				return fmt.Errorf("%s: %w: %w", e.service, ErrTransport, err)
			}
			if req.GetBody != nil {
				body, err := req.GetBody()
				if err != nil {
					return fmt.Errorf("rewind body: %w", err)
				}
				req.Body = body
			}
		}

		start := time.Now()
		resp, err := e.http.Do(req)
		if err != nil {
			lastErr, lastStatus = err, 0
			e.logger.Warn(e.service+".http_failed",
				zap.String("url", req.URL.String()),
				zap.Error(err),
				zap.Int("attempt", attempt))
			continue
		}
		body, _ := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		elapsed := time.Since(start)

		if resp.StatusCode >= 500 {
			e.logger.Warn(e.service+".server_error",
				zap.Int("status", resp.StatusCode),
				zap.String("url", req.URL.String()),
				zap.Duration("latency", elapsed))
			lastErr, lastStatus, lastBody = nil, resp.StatusCode, body
			continue
		}

		if resp.StatusCode >= 300 {
			return e.statusError(resp.StatusCode, body)
		}

		if out != nil && len(body) > 0 {
			if err := json.Unmarshal(body, out); err != nil {
				e.logger.Warn(e.service+".decode_failed",
					zap.Error(err),
					zap.String("url", req.URL.String()),
					zap.String("body", string(body)))
				return fmt.Errorf("decode failed: %w", err)
			}
		}

		e.logger.Debug(e.service+".http_success",
			zap.String("url", req.URL.String()),
			zap.Int("status", resp.StatusCode),
			zap.Duration("elapsed", elapsed))
		return nil
	}

	if lastStatus != 0 {
		err := e.statusError(lastStatus, lastBody)
		if e.retryMax > 0 {
			return fmt.Errorf("%s request failed after %d retries: %w", e.service, e.retryMax, err)
		}
		return err
	}
	return fmt.Errorf("%s: %w: %w", e.service, ErrTransport, lastErr)
}

func (e *Executor) statusError(status int, body []byte) error {
	if e.errorHandler != nil {
		return e.errorHandler(status, body)
	}
	return &StatusError{Service: e.service, Status: status, Body: body}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
