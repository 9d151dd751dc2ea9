package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealth(t *testing.T) {
	ok := HealthFunc(func(context.Context) error { return nil })

	app := newApp(&fakeProcessor{}, "", &fakeInvalidator{}, map[string]HealthChecker{"redis": ok, "postgres": ok, "nats": nil})
	resp, err := app.Test(httptest.NewRequest("GET", "/health", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	raw, _ := io.ReadAll(resp.Body)
	var body struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	require.NoError(t, json.Unmarshal(raw, &body))
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, "disabled", body.Checks["nats"])

	app = newApp(&fakeProcessor{}, "", &fakeInvalidator{}, map[string]HealthChecker{"redis": failingCheck{}, "postgres": ok})
	resp, err = app.Test(httptest.NewRequest("GET", "/health", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusServiceUnavailable, resp.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	app := newApp(&fakeProcessor{}, "", &fakeInvalidator{}, nil)
	resp, err := app.Test(httptest.NewRequest("GET", "/metrics", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestQueueStats(t *testing.T) {
	app := newApp(&fakeProcessor{}, "", &fakeInvalidator{}, nil)
	resp, err := app.Test(httptest.NewRequest("GET", "/api/v1/queue/stats", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	raw, _ := io.ReadAll(resp.Body)
	var body map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(raw, &body))
	assert.Contains(t, body, "stats")
}

func TestInvalidateWallet(t *testing.T) {
	inv := &fakeInvalidator{}
	app := newApp(&fakeProcessor{}, "", inv, nil)

	resp, err := app.Test(httptest.NewRequest("POST", "/api/v1/subscriptions/0x00000000000000000000000000000000000000AA/invalidate", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, []string{"0x00000000000000000000000000000000000000aa"}, inv.wallets)

	resp, err = app.Test(httptest.NewRequest("POST", "/api/v1/subscriptions/not-a-wallet/invalidate", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	inv.err = errors.New("redis down")
	resp, err = app.Test(httptest.NewRequest("POST", "/api/v1/subscriptions/0x00000000000000000000000000000000000000bb/invalidate", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusInternalServerError, resp.StatusCode)
}
