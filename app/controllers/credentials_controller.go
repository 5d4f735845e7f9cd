package controllers

import (
	"context"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/tatamelab/dojopay/app/models"
	"github.com/tatamelab/dojopay/internal/pkg/database"
)

// CredentialsRequest is the operator payload for storing gateway credentials.
// Token and webhook secret arrive in plaintext over the admin API and are
// encrypted before they touch the database.
type CredentialsRequest struct {
	AccessToken   string `json:"access_token" validate:"required,min=10"`
	PublicKey     string `json:"public_key" validate:"omitempty,min=10"`
	WebhookSecret string `json:"webhook_secret" validate:"required,min=10"`
	WebhookURL    string `json:"webhook_url" validate:"required,url"`
	Environment   string `json:"environment" validate:"required,oneof=sandbox production"`
	Activate      bool   `json:"activate"`
}

// Validate checks the request against its struct tags.
func (r *CredentialsRequest) Validate() error {
	v := validator.New()
	return v.Struct(r)
}

// HandleCreateCredentials stores a new credentials row. Activation is
// explicit so operators can stage production credentials before switching.
func HandleCreateCredentials(c *fiber.Ctx) error {
	var req CredentialsRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_payload"})
	}
	if err := req.Validate(); err != nil {
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"error": "validation_failed", "message": err.Error()})
	}

	tokenEnc, err := secretStore.Encrypt(req.AccessToken)
	if err != nil {
		log.Errorf("[Credentials] encrypting token failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "credentials_create_failed"})
	}
	secretEnc, err := secretStore.Encrypt(req.WebhookSecret)
	if err != nil {
		log.Errorf("[Credentials] encrypting webhook secret failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "credentials_create_failed"})
	}

	db := database.GetDB()
	creds := &models.GatewayCredentials{
		AccessTokenEnc:   tokenEnc,
		PublicKey:        req.PublicKey,
		WebhookSecretEnc: secretEnc,
		WebhookURL:       req.WebhookURL,
		Environment:      req.Environment,
	}
	if err := db.Create(creds).Error; err != nil {
		log.Errorf("[Credentials] creating credentials failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "credentials_create_failed"})
	}

	if req.Activate {
		if err := models.ActivateCredentials(db, creds.ID); err != nil {
			log.Errorf("[Credentials] activating credentials %d failed: %v", creds.ID, err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "credentials_activate_failed"})
		}
		creds.IsActive = true
		registerWebhookForCredentials(creds)
	}

	return c.Status(fiber.StatusCreated).JSON(creds)
}

// HandleActivateCredentials switches the active credentials row.
func HandleActivateCredentials(c *fiber.Ctx) error {
	id, err := strconv.ParseUint(c.Params("id"), 10, 32)
	if err != nil || id == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_credentials_id"})
	}

	db := database.GetDB()
	var creds models.GatewayCredentials
	if err := db.First(&creds, id).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "credentials_not_found"})
	}

	if err := models.ActivateCredentials(db, creds.ID); err != nil {
		log.Errorf("[Credentials] activating credentials %d failed: %v", creds.ID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "credentials_activate_failed"})
	}
	creds.IsActive = true
	registerWebhookForCredentials(&creds)

	return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "active_id": creds.ID})
}

// HandleListCredentials returns all credentials rows. Encrypted columns never
// serialize, so the listing is safe to show operators.
func HandleListCredentials(c *fiber.Ctx) error {
	var creds []models.GatewayCredentials
	if err := database.GetDB().Order("id asc").Find(&creds).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "credentials_list_failed"})
	}
	return c.Status(fiber.StatusOK).JSON(creds)
}

// registerWebhookForCredentials makes sure the gateway notifies the callback
// URL of the freshly activated credentials. Best effort: a failure is logged,
// startup registration and the admin endpoint can redo it.
func registerWebhookForCredentials(creds *models.GatewayCredentials) {
	if creds.WebhookURL == "" {
		return
	}
	client, _, err := gatewayClient()
	if err != nil {
		log.Errorf("[Credentials] building gateway client failed: %v", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	if _, err := client.RegisterWebhook(ctx, creds.WebhookURL, []string{"payment"}); err != nil {
		log.Errorf("[Credentials] webhook registration failed: %v", err)
	}
}
