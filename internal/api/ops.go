package api

import (
	"context"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/Checker-Finance/copytrader/internal/dispatch"
)

type QueueInspector interface {
	Stats(ctx context.Context) dispatch.Stats
	History() (completed, failed []dispatch.JobSummary)
}

type CacheInvalidator interface {
	Invalidate(ctx context.Context, wallet string) error
}

// OpsHandler serves operational endpoints for the job queue and the
// subscription cache.
type OpsHandler struct {
	logger *zap.Logger
	queue  QueueInspector
	cache  CacheInvalidator
}

func NewOpsHandler(logger *zap.Logger, queue QueueInspector, cache CacheInvalidator) *OpsHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OpsHandler{logger: logger, queue: queue, cache: cache}
}

// QueueStats returns queue depth, in-flight count and retained history.
// GET /api/v1/queue/stats
func (h *OpsHandler) QueueStats(c *fiber.Ctx) error {
	stats := h.queue.Stats(c.UserContext())
	completed, failed := h.queue.History()
	return c.JSON(fiber.Map{
		"stats":     stats,
		"completed": completed,
		"failed":    failed,
	})
}

// InvalidateWallet drops the cached subscriptions for one wallet.
// POST /api/v1/subscriptions/:wallet/invalidate
func (h *OpsHandler) InvalidateWallet(c *fiber.Ctx) error {
	wallet := strings.TrimSpace(c.Params("wallet"))
	if !common.IsHexAddress(wallet) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid wallet address",
		})
	}
	wallet = strings.ToLower(wallet)

	if err := h.cache.Invalidate(c.UserContext(), wallet); err != nil {
		h.logger.Error("ops.invalidate_failed", zap.String("wallet", wallet), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	h.logger.Info("ops.cache_invalidated", zap.String("wallet", wallet))
	return c.JSON(fiber.Map{"wallet": wallet, "invalidated": true})
}
