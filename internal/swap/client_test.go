package swap

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestClient(srv *httptest.Server) *Client {
	return NewClient(Config{BaseURL: srv.URL + "/", APIKey: "k"}, srv.Client(), nil, zap.NewNop())
}

func TestExecuteSwap_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/swaps/execute", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "k", r.Header.Get("x-api-key"))

		var req ExecuteRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "alice", req.AccountName)
		assert.Equal(t, "10000000000000000", req.FromAmount)
		assert.Equal(t, 150, req.SlippageBps)

		_, _ = w.Write([]byte(`{"success":true,"data":{"transactionHash":"0xswap","blockNumber":42,"transactionExplorer":"https://basescan.org/tx/0xswap"}}`))
	}))
	defer srv.Close()

	res, err := newTestClient(srv).ExecuteSwap(context.Background(), ExecuteRequest{
		AccountName: "alice",
		FromToken:   "0xEeeeeEeeeEeEeeEeEeEeeEEEeeeeEeeeeeeeEEeE",
		ToToken:     "0xtoken",
		FromAmount:  "10000000000000000",
		SlippageBps: 150,
		Network:     "base",
	})
	require.NoError(t, err)
	assert.Equal(t, "0xswap", res.TransactionHash)
	assert.Equal(t, int64(42), res.BlockNumber)
}

func TestExecuteSwap_StatusCategories(t *testing.T) {
	tests := []struct {
		status int
		body   string
		want   error
		msg    string
	}{
		{http.StatusBadRequest, `{"error":"bad token"}`, ErrBadRequest, "bad token"},
		{http.StatusTooManyRequests, ``, ErrRateLimited, "Rate limit exceeded"},
		{http.StatusInternalServerError, `{"error":"insufficient funds for gas"}`, ErrUpstream, "insufficient funds for gas"},
		{http.StatusBadGateway, `{"message":"down"}`, ErrSwapFailed, "down"},
		{http.StatusNotFound, ``, ErrSwapFailed, "Swap request failed"},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			var calls atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				calls.Add(1)
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := newTestClient(srv).ExecuteSwap(context.Background(), ExecuteRequest{})
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)

			var apiErr *APIError
			require.True(t, errors.As(err, &apiErr))
			assert.Equal(t, tt.status, apiErr.Status)
			assert.Equal(t, tt.msg, apiErr.Message)
			assert.EqualValues(t, 1, calls.Load(), "swap calls are never retried by the client")
		})
	}
}

func TestExecuteSwap_UnsuccessfulBody(t *testing.T) {
	for name, body := range map[string]string{
		"success false": `{"success":false,"error":"Insufficient balance"}`,
		"missing hash":  `{"success":true,"data":{"transactionHash":""}}`,
		"missing data":  `{"success":true}`,
	} {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte(body))
			}))
			defer srv.Close()

			_, err := newTestClient(srv).ExecuteSwap(context.Background(), ExecuteRequest{})
			assert.ErrorIs(t, err, ErrSwapFailed)
		})
	}
}

func TestExecuteSwap_GatewayUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	c := newTestClient(srv)
	srv.Close()

	_, err := c.ExecuteSwap(context.Background(), ExecuteRequest{})
	assert.ErrorIs(t, err, ErrGatewayUnavailable)
}

func TestTokenBalance(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/balances/alice", r.URL.Path)
		assert.Equal(t, "base", r.URL.Query().Get("network"))
		_, _ = w.Write([]byte(`{"success":true,"data":{"balances":[
			{"token":{"contractAddress":"0xOTHER","symbol":"X"},"amount":{"raw":"1"}},
			{"token":{"contractAddress":"0xTOKEN","symbol":"PEPE"},"amount":{"raw":"123456789000000000000"}}
		]}}`))
	}))
	defer srv.Close()
	c := newTestClient(srv)

	amount, found, err := c.TokenBalance(context.Background(), "alice", "base", "0xtoken")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "123456789000000000000", amount.String())

	_, found, err = c.TokenBalance(context.Background(), "alice", "base", "0xmissing")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestTokenBalance_Unsuccessful(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"success":false,"error":"unknown account"}`))
	}))
	defer srv.Close()

	_, _, err := newTestClient(srv).TokenBalance(context.Background(), "nobody", "base", "0xtoken")
	assert.Error(t, err)
}
