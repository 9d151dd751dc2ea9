package api

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/Checker-Finance/copytrader/internal/ingest"
	"github.com/Checker-Finance/copytrader/internal/metrics"
	"github.com/Checker-Finance/copytrader/pkg/model"
)

const DefaultSignatureHeader = "X-Alchemy-Signature"

type Processor interface {
	Process(ctx context.Context, ev model.InboundEvent) (ingest.Result, error)
}

// WebhookHandler receives address-activity webhooks.
type WebhookHandler struct {
	logger    *zap.Logger
	pipeline  Processor
	secret    string
	sigHeader string
}

func NewWebhookHandler(logger *zap.Logger, pipeline Processor, secret, sigHeader string) *WebhookHandler {
	if strings.TrimSpace(sigHeader) == "" {
		sigHeader = DefaultSignatureHeader
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebhookHandler{logger: logger, pipeline: pipeline, secret: secret, sigHeader: sigHeader}
}

// HandleWebhook acknowledges every delivery with 200 once the signature
// checks out, whatever happens downstream, so the sender never redelivers
// because of our failures.
// POST /webhook
func (h *WebhookHandler) HandleWebhook(c *fiber.Ctx) error {
	if h.secret != "" {
		signature := c.Get(h.sigHeader)
		if signature == "" || !validateWebhookSignature(h.secret, signature, c.Body()) {
			metrics.IncWebhook("unauthorized")
			h.logger.Warn("webhook.invalid_signature", zap.String("header", h.sigHeader))
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "invalid signature",
			})
		}
	}

	var event model.InboundEvent
	if err := json.Unmarshal(c.Body(), &event); err != nil {
		metrics.IncWebhook("malformed")
		h.logger.Warn("webhook.parse_error",
			zap.Error(err),
			zap.Int("body_bytes", len(c.Body())))
		return ack(c, nil)
	}

	res, err := h.pipeline.Process(c.UserContext(), event)
	if err != nil {
		if errors.Is(err, ingest.ErrMalformed) {
			h.logger.Warn("webhook.malformed", zap.String("event_id", event.ID), zap.Error(err))
		} else {
			metrics.IncError("webhook", "process_failed")
			h.logger.Error("webhook.process_failed", zap.String("event_id", event.ID), zap.Error(err))
		}
		return ack(c, nil)
	}
	return ack(c, &res)
}

func ack(c *fiber.Ctx, res *ingest.Result) error {
	body := fiber.Map{"message": "Webhook received successfully"}
	if res != nil {
		body["result"] = res
	}
	return c.Status(fiber.StatusOK).JSON(body)
}

// validateWebhookSignature checks a hex HMAC-SHA256 of body, with or
// without a "sha256=" prefix.
func validateWebhookSignature(secret, signature string, body []byte) bool {
	normalized := strings.TrimSpace(signature)
	if strings.HasPrefix(strings.ToLower(normalized), "sha256=") {
		normalized = normalized[7:]
	}
	expected, err := hex.DecodeString(normalized)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(body)
	return hmac.Equal(mac.Sum(nil), expected)
}
