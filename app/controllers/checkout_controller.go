package controllers

import (
	"context"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tatamelab/dojopay/app/models"
	"github.com/tatamelab/dojopay/internal/pkg/database"
	"github.com/tatamelab/dojopay/internal/pkg/mercadopago"
)

// CheckoutRequest is the payload for starting a payment attempt. Method
// selects between an inline PIX payment and a hosted card checkout.
type CheckoutRequest struct {
	UserID        uint   `json:"user_id" validate:"required"`
	PlanID        uint   `json:"plan_id" validate:"required"`
	Method        string `json:"method" validate:"omitempty,oneof=pix card"`
	PayerName     string `json:"payer_name" validate:"required,min=2,max=120"`
	PayerEmail    string `json:"payer_email" validate:"required,email"`
	PayerPhone    string `json:"payer_phone" validate:"omitempty,min=8,max=20"`
	PayerDocument string `json:"payer_document" validate:"required,min=11,max=14"`
}

// Validate checks the request against its struct tags.
func (r *CheckoutRequest) Validate() error {
	v := validator.New()
	return v.Struct(r)
}

// HandleCheckout starts a payment attempt: the pending Payment row is created
// first so a gateway outage never loses the attempt, then the gateway is
// asked for a PIX intent.
func HandleCheckout(c *fiber.Ctx) error {
	var req CheckoutRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_payload"})
	}
	if err := req.Validate(); err != nil {
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"error": "validation_failed", "message": err.Error()})
	}

	db := database.GetDB()
	var plan models.Plan
	if err := db.Where("id = ? AND is_active = ?", req.PlanID, true).First(&plan).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "plan_not_found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "plan_lookup_failed"})
	}

	payment, err := buildPendingPayment(&req, &plan)
	if err != nil {
		log.Errorf("[Checkout] encrypting payer data failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "payment_create_failed"})
	}
	if err := db.Create(payment).Error; err != nil {
		log.Errorf("[Checkout] creating payment failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "payment_create_failed"})
	}

	client, _, err := gatewayClient()
	if err != nil {
		log.Errorf("[Checkout] gateway credentials unavailable: %v", err)
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "gateway_unavailable"})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if req.Method == "card" {
		return checkoutViaPreference(c, ctx, client, payment, &plan, &req)
	}

	intent, err := client.CreatePayment(ctx, mercadopago.CreatePaymentRequest{
		ExternalReference: payment.ExternalReference,
		Amount:            plan.Price,
		Description:       plan.Name,
		Payer:             payerInfoFromRequest(&req),
	})
	if err != nil {
		// The pending row stays; the scheduler or a checkout retry picks it up.
		if errors.Is(err, mercadopago.ErrRejected) {
			log.Warnf("[Checkout] gateway rejected payment %d: %v", payment.ID, err)
			return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"error": "gateway_rejected"})
		}
		log.Errorf("[Checkout] gateway unavailable for payment %d: %v", payment.ID, err)
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "gateway_unavailable"})
	}

	if err := attachGatewayID(db, payment, intent.GatewayID); err != nil {
		log.Errorf("[Checkout] storing gateway id on payment %d failed: %v", payment.ID, err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"payment_id":         payment.ID,
		"external_reference": payment.ExternalReference,
		"status":             payment.Status,
		"qr_code":            intent.QRCode,
		"qr_code_base64":     intent.QRCodeBase64,
		"ticket_url":         intent.TicketURL,
	})
}

// checkoutViaPreference runs the hosted card checkout: the gateway renders
// the payment form and redirects back, the outcome arrives by webhook.
func checkoutViaPreference(c *fiber.Ctx, ctx context.Context, client *mercadopago.Client, payment *models.Payment, plan *models.Plan, req *CheckoutRequest) error {
	pref, err := client.CreatePreference(ctx, mercadopago.CreatePreferenceRequest{
		ExternalReference: payment.ExternalReference,
		Title:             plan.Name,
		Amount:            plan.Price,
		Payer:             payerInfoFromRequest(req),
	})
	if err != nil {
		if errors.Is(err, mercadopago.ErrRejected) {
			log.Warnf("[Checkout] gateway rejected preference for payment %d: %v", payment.ID, err)
			return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"error": "gateway_rejected"})
		}
		log.Errorf("[Checkout] gateway unavailable for payment %d: %v", payment.ID, err)
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "gateway_unavailable"})
	}

	checkoutURL := pref.InitPoint
	if checkoutURL == "" {
		checkoutURL = pref.SandboxInitPoint
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"payment_id":         payment.ID,
		"external_reference": payment.ExternalReference,
		"status":             payment.Status,
		"checkout_url":       checkoutURL,
	})
}

func buildPendingPayment(req *CheckoutRequest, plan *models.Plan) (*models.Payment, error) {
	nameEnc, err := secretStore.Encrypt(req.PayerName)
	if err != nil {
		return nil, err
	}
	emailEnc, err := secretStore.Encrypt(req.PayerEmail)
	if err != nil {
		return nil, err
	}
	phoneEnc, err := secretStore.Encrypt(req.PayerPhone)
	if err != nil {
		return nil, err
	}
	docEnc, err := secretStore.Encrypt(req.PayerDocument)
	if err != nil {
		return nil, err
	}

	return &models.Payment{
		UserID:            req.UserID,
		PlanID:            plan.ID,
		Amount:            plan.Price,
		Status:            models.PaymentPending,
		ExternalReference: uuid.NewString(),
		PayerNameEnc:      nameEnc,
		PayerEmailEnc:     emailEnc,
		PayerPhoneEnc:     phoneEnc,
		PayerDocumentEnc:  docEnc,
	}, nil
}

func payerInfoFromRequest(req *CheckoutRequest) mercadopago.PayerInfo {
	first, last := splitName(req.PayerName)
	payer := mercadopago.PayerInfo{
		Email:     req.PayerEmail,
		FirstName: first,
		LastName:  last,
	}
	payer.Identification.Type = documentType(req.PayerDocument)
	payer.Identification.Number = req.PayerDocument
	return payer
}

func attachGatewayID(db *gorm.DB, payment *models.Payment, gatewayID string) error {
	if gatewayID == "" {
		return nil
	}
	enc, err := secretStore.Encrypt(gatewayID)
	if err != nil {
		return err
	}
	payment.GatewayPaymentIDEnc = enc
	payment.GatewayPaymentIDHash = secretStore.Hash(gatewayID)
	return db.Save(payment).Error
}

// HandleGrantTrial bootstraps a trial subscription for a freshly created
// user. Invoked by the registration use case, not by a storage hook, so the
// caller sees ordering and errors explicitly.
func HandleGrantTrial(c *fiber.Ctx) error {
	var req struct {
		UserID uint `json:"user_id" validate:"required"`
	}
	if err := c.BodyParser(&req); err != nil || req.UserID == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_payload"})
	}

	db := database.GetDB()
	var plan models.Plan
	if err := db.Where("is_trial = ? AND is_active = ?", true, true).First(&plan).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "no_trial_plan"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "plan_lookup_failed"})
	}

	svc := billingService()
	sub, err := svc.GrantTrial(c.Context(), req.UserID, plan.ID)
	if err != nil {
		log.Errorf("[Checkout] granting trial for user %d failed: %v", req.UserID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "trial_grant_failed"})
	}
	return c.Status(fiber.StatusCreated).JSON(sub)
}
