package api

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HealthChecker is implemented by every dependency /health reports on.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// HealthFunc adapts a plain function such as pgxpool.Pool.Ping.
type HealthFunc func(ctx context.Context) error

func (f HealthFunc) HealthCheck(ctx context.Context) error { return f(ctx) }

func RegisterRoutes(app *fiber.App, checks map[string]HealthChecker, webhook *WebhookHandler, ops *OpsHandler) {
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	app.Get("/health", func(c *fiber.Ctx) error {
		healthCtx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
		defer cancel()

		results := make(map[string]string, len(checks))
		status := "ok"
		code := fiber.StatusOK
		for name, hc := range checks {
			if hc == nil {
				results[name] = "disabled"
				continue
			}
			if err := hc.HealthCheck(healthCtx); err != nil {
				results[name] = err.Error()
				status = "degraded"
				code = fiber.StatusServiceUnavailable
				continue
			}
			results[name] = "ok"
		}

		return c.Status(code).JSON(fiber.Map{
			"status": status,
			"checks": results,
		})
	})

	app.Post("/webhook", webhook.HandleWebhook)

	v1 := app.Group("/api/v1")
	v1.Get("/queue/stats", ops.QueueStats)
	v1.Post("/subscriptions/:wallet/invalidate", ops.InvalidateWallet)
}
