package controllers

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/tatamelab/dojopay/app/models"
	"github.com/tatamelab/dojopay/internal/pkg/billing"
	"github.com/tatamelab/dojopay/internal/pkg/database"
	"github.com/tatamelab/dojopay/internal/pkg/env"
	"github.com/tatamelab/dojopay/internal/pkg/mercadopago"
	"github.com/tatamelab/dojopay/internal/pkg/secrets"
	"github.com/tatamelab/dojopay/internal/pkg/services"
)

var secretStore *secrets.Store

// Setup injects the process-wide secret store. Called once from main before
// any route is served.
func Setup(store *secrets.Store) {
	secretStore = store
}

// billingService builds the reconciliation engine for one request, wired with
// a status fetcher backed by the active gateway credentials.
func billingService() *billing.Service {
	return services.NewBillingEngine(database.GetDB(), secretStore)
}

// gatewayClient builds a client from the active credentials row with the
// usage counter wired in.
func gatewayClient() (*mercadopago.Client, *models.GatewayCredentials, error) {
	return services.GatewayClient(database.GetDB(), secretStore)
}

// webhookSecret returns the shared signing secret: the active credentials row
// when present, the environment otherwise (bootstrap before credentials are
// stored).
func webhookSecret() (string, error) {
	creds, err := models.GetActiveCredentials(database.GetDB())
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return env.GetEnv("MP_WEBHOOK_SECRET", ""), nil
		}
		return "", err
	}
	return secretStore.Decrypt(creds.WebhookSecretEnc)
}

// splitName separates a full name into the first/last fields the gateway
// expects. A single-word name goes entirely into the first name.
func splitName(full string) (string, string) {
	full = strings.TrimSpace(full)
	if i := strings.IndexByte(full, ' '); i > 0 {
		return full[:i], strings.TrimSpace(full[i+1:])
	}
	return full, ""
}

// documentType classifies a Brazilian tax id by length: 11 digits is a CPF
// (person), 14 a CNPJ (company).
func documentType(doc string) string {
	digits := 0
	for _, r := range doc {
		if r >= '0' && r <= '9' {
			digits++
		}
	}
	if digits == 14 {
		return "CNPJ"
	}
	return "CPF"
}

func clientIP(c *fiber.Ctx) string {
	if fwd := strings.TrimSpace(c.Get("X-Forwarded-For")); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i > 0 {
			return strings.TrimSpace(fwd[:i])
		}
		return fwd
	}
	return c.IP()
}
