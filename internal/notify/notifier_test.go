package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestSendTrade_PostsPayload(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/notifications/trade", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"success":true}`))
	}))
	defer srv.Close()

	d := NewDispatcher(srv.URL, "", 0, srv.Client(), nil, zap.NewNop())
	d.SendTrade(context.Background(), TradeNotification{
		NotifyTarget:    "12345",
		SubscriptionID:  "sub-1",
		Direction:       "BUY",
		TokenSymbol:     "PEPE",
		TokenAmount:     "1.5",
		TransactionHash: "0xswap",
		Network:         "base",
	})

	assert.Equal(t, "12345", got["telegramId"])
	assert.Equal(t, "BUY", got["tradeType"])
	assert.Equal(t, "0xswap", got["transactionHash"])
}

func TestSendAlert_PostsToAlertEndpoint(t *testing.T) {
	var path atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path.Store(r.URL.Path)
		assert.Equal(t, "secret", r.Header.Get("x-api-key"))
		_, _ = w.Write([]byte(`{"success":false,"message":"user blocked bot"}`))
	}))
	defer srv.Close()

	d := NewDispatcher(srv.URL+"/", "secret", time.Second, srv.Client(), nil, zap.NewNop())
	d.SendAlert(context.Background(), Alert{NotifyTarget: "1", Message: "Insufficient funds"})
	assert.Equal(t, "/api/notifications/alert", path.Load())
}

func TestSend_FailuresAreSwallowed(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	d := NewDispatcher(srv.URL, "", time.Second, srv.Client(), nil, zap.NewNop())
	assert.NotPanics(t, func() {
		d.SendTrade(context.Background(), TradeNotification{})
		d.SendAlert(context.Background(), Alert{})
	})
	assert.EqualValues(t, 2, calls.Load(), "exactly one request per send, no retries")
}

func TestSend_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer srv.Close()

	d := NewDispatcher(srv.URL, "", 20*time.Millisecond, srv.Client(), nil, zap.NewNop())
	start := time.Now()
	d.SendTrade(context.Background(), TradeNotification{})
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestSend_UnconfiguredSkips(t *testing.T) {
	d := NewDispatcher("", "", 0, nil, nil, zap.NewNop())
	assert.NotPanics(t, func() {
		d.SendTrade(context.Background(), TradeNotification{})
	})
}
