package controllers

import (
	"context"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/tatamelab/dojopay/internal/pkg/billing"
)

// HandleGatewayWebhook ingests one gateway notification. The contract with
// the gateway is acknowledge-after-durable-store: the event row is written
// before any 2xx leaves this handler, and reconciliation failures after that
// point still acknowledge (the scheduler retries from the stored row).
func HandleGatewayWebhook(c *fiber.Ctx) error {
	rawBody := append([]byte(nil), c.BodyRaw()...)
	signature := strings.TrimSpace(c.Get("X-Signature"))

	secret, err := webhookSecret()
	if err != nil {
		log.Errorf("[Webhook] signing secret unavailable: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "secret_unavailable"})
	}
	signatureValid := billing.VerifyWebhookSignature(rawBody, signature, secret)

	svc := billingService()
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	// Parse before storing so the stored row carries the normalized type and
	// gateway id. A parse failure is still stored for audit.
	n, parseErr := billing.ParseNotification(rawBody)

	in := billing.IngressEvent{
		RawPayload:     rawBody,
		Signature:      signature,
		SignatureValid: signatureValid,
		SourceIP:       clientIP(c),
	}
	if parseErr == nil {
		in.EventType = n.Type
		in.Action = n.Action
		in.GatewayID = n.GatewayID
	}

	// Every delivery is stored, redeliveries included: the gateway reuses the
	// same action for every status change, so id+action cannot distinguish a
	// duplicate from a follow-up (approval then refund). The engine's status
	// idempotency and rank guard make true replays no-ops.
	event, err := svc.RecordWebhookEvent(ctx, in)
	if err != nil {
		log.Errorf("[Webhook] persisting event failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "webhook_persist_failed"})
	}

	if !signatureValid {
		// Stored for the audit trail but never handed to the engine.
		_ = svc.ProcessEvent(ctx, event, nil)
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid_signature"})
	}
	if parseErr != nil {
		if err := svc.FailEventForReview(event, parseErr); err != nil {
			log.Errorf("[Webhook] recording parse failure on event %d: %v", event.ID, err)
		}
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_payload"})
	}

	// Durably stored; reconcile in-request. Failure is recorded on the event
	// and the gateway still gets its 200, the scheduler owns the retry.
	if err := svc.ProcessEvent(ctx, event, n); err != nil {
		log.Warnf("[Webhook] event %d deferred to scheduler: %v", event.ID, err)
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true})
}
