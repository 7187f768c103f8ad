package controllers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/formlio/paygate/internal/pkg/apperrors"
	"github.com/formlio/paygate/internal/pkg/webhook"
)

// SignatureHeader carries the processor's HMAC over the raw body.
const SignatureHeader = "X-Pay-Signature"

var webhookService *webhook.Service

// InitWebhookController wires the ingestion engine into the handlers.
func InitWebhookController(svc *webhook.Service) {
	webhookService = svc
}

// HandlePaymentWebhook ingests one processor notification. The processor
// expects a fast acknowledgment, so every outcome answers promptly; alerting
// and ledger bookkeeping already happened inside the engine.
func HandlePaymentWebhook(c *fiber.Ctx) error {
	result, err := webhookService.Process(c.Context(), c.Body(), c.Get(SignatureHeader))
	if err != nil {
		var rejection *apperrors.SecurityRejection
		if errors.As(err, &rejection) {
			log.Warnf("[Webhook] dropped notification: %v", rejection)
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "rejected"})
		}
		log.Errorf("[Webhook] processing failed: %v", err)
		// Non-2xx so the processor retries; the ledger entry is failed and
		// will be reclaimed by the retry.
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "processing_failed"})
	}

	if result.Code == webhook.ResultRateLimited {
		return c.Status(fiber.StatusTooManyRequests).JSON(result)
	}
	return c.JSON(result)
}
