package api

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/Checker-Finance/copytrader/internal/webhooks"
)

type AddressManager interface {
	Add(ctx context.Context, addresses []string) (webhooks.AddResult, error)
	Remove(ctx context.Context, addresses []string) ([]string, error)
	List(ctx context.Context) ([]string, error)
	Sync(ctx context.Context) (webhooks.SyncResult, error)
}

// AddressHandler manages the addresses the provider's webhook watches.
type AddressHandler struct {
	logger  *zap.Logger
	manager AddressManager
}

func NewAddressHandler(logger *zap.Logger, manager AddressManager) *AddressHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AddressHandler{logger: logger, manager: manager}
}

type addressesRequest struct {
	Addresses []string `json:"addresses"`
}

// RegisterAddressRoutes mounts the address endpoints under /api/v1/webhooks.
func RegisterAddressRoutes(app *fiber.App, h *AddressHandler) {
	g := app.Group("/api/v1/webhooks")
	g.Get("/addresses", h.List)
	g.Post("/addresses", h.Add)
	g.Delete("/addresses", h.Remove)
	g.Post("/sync", h.Sync)
}

// Add POST /api/v1/webhooks/addresses
func (h *AddressHandler) Add(c *fiber.Ctx) error {
	var req addressesRequest
	if err := json.Unmarshal(c.Body(), &req); err != nil {
		return badRequest(c, "invalid JSON body")
	}
	h.logger.Info("webhooks.add_requested", zap.Int("count", len(req.Addresses)))

	res, err := h.manager.Add(c.UserContext(), req.Addresses)
	if err != nil {
		return h.fail(c, "add", err)
	}
	return c.JSON(fiber.Map{
		"message":           "Addresses added successfully",
		"success":           res.Added,
		"already_monitored": res.AlreadyMonitored,
	})
}

// Remove DELETE /api/v1/webhooks/addresses
func (h *AddressHandler) Remove(c *fiber.Ctx) error {
	var req addressesRequest
	if err := json.Unmarshal(c.Body(), &req); err != nil {
		return badRequest(c, "invalid JSON body")
	}
	h.logger.Info("webhooks.remove_requested", zap.Int("count", len(req.Addresses)))

	removed, err := h.manager.Remove(c.UserContext(), req.Addresses)
	if err != nil {
		return h.fail(c, "remove", err)
	}
	return c.JSON(fiber.Map{
		"message": "Addresses removed successfully",
		"success": removed,
	})
}

// List GET /api/v1/webhooks/addresses
func (h *AddressHandler) List(c *fiber.Ctx) error {
	addrs, err := h.manager.List(c.UserContext())
	if err != nil {
		return h.fail(c, "list", err)
	}
	return c.JSON(fiber.Map{"count": len(addrs), "addresses": addrs})
}

// Sync POST /api/v1/webhooks/sync
func (h *AddressHandler) Sync(c *fiber.Ctx) error {
	res, err := h.manager.Sync(c.UserContext())
	if err != nil {
		return h.fail(c, "sync", err)
	}
	return c.JSON(fiber.Map{
		"message": "Sync completed",
		"added":   res.Added,
		"removed": res.Removed,
		"synced":  res.Synced,
	})
}

func (h *AddressHandler) fail(c *fiber.Ctx, op string, err error) error {
	switch {
	case errors.Is(err, webhooks.ErrInvalidAddress), errors.Is(err, webhooks.ErrNoAddresses):
		return badRequest(c, err.Error())
	case errors.Is(err, webhooks.ErrProviderSync):
		h.logger.Error("webhooks."+op+"_failed", zap.Error(err))
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": err.Error()})
	default:
		h.logger.Error("webhooks."+op+"_failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
}

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": msg})
}
