package controllers

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitName(t *testing.T) {
	first, last := splitName("Ana Souza")
	assert.Equal(t, "Ana", first)
	assert.Equal(t, "Souza", last)

	first, last = splitName("Jigoro Kano Sensei")
	assert.Equal(t, "Jigoro", first)
	assert.Equal(t, "Kano Sensei", last)

	first, last = splitName("Madonna")
	assert.Equal(t, "Madonna", first)
	assert.Equal(t, "", last)

	first, last = splitName("  Ana Souza  ")
	assert.Equal(t, "Ana", first)
	assert.Equal(t, "Souza", last)
}

func TestDocumentType(t *testing.T) {
	assert.Equal(t, "CPF", documentType("12345678901"))
	assert.Equal(t, "CPF", documentType("123.456.789-01"))
	assert.Equal(t, "CNPJ", documentType("12345678000195"))
	assert.Equal(t, "CNPJ", documentType("12.345.678/0001-95"))
}

func TestCheckoutRequestValidate(t *testing.T) {
	valid := CheckoutRequest{
		UserID:        7,
		PlanID:        1,
		PayerName:     "Ana Souza",
		PayerEmail:    "ana@example.com",
		PayerDocument: "12345678901",
	}
	assert.NoError(t, valid.Validate())

	missingEmail := valid
	missingEmail.PayerEmail = ""
	assert.Error(t, missingEmail.Validate())

	badEmail := valid
	badEmail.PayerEmail = "not-an-email"
	assert.Error(t, badEmail.Validate())

	noUser := valid
	noUser.UserID = 0
	assert.Error(t, noUser.Validate())

	shortDoc := valid
	shortDoc.PayerDocument = "123"
	assert.Error(t, shortDoc.Validate())
}

func TestCredentialsRequestValidate(t *testing.T) {
	valid := CredentialsRequest{
		AccessToken:   "APP_USR-1234567890",
		WebhookSecret: "whsec_1234567890",
		WebhookURL:    "https://dojo.example.com/payments/webhook/",
		Environment:   "sandbox",
	}
	assert.NoError(t, valid.Validate())

	badEnv := valid
	badEnv.Environment = "staging"
	assert.Error(t, badEnv.Validate())

	badURL := valid
	badURL.WebhookURL = "not a url"
	assert.Error(t, badURL.Validate())
}
