package billing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"testing"
)

func signBody(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestVerifyWebhookSignature(t *testing.T) {
	body := []byte(`{"type":"payment","action":"payment.updated","data":{"id":"123"}}`)
	secret := "whsec_test"

	if !VerifyWebhookSignature(body, signBody(body, secret), secret) {
		t.Fatal("valid signature rejected")
	}
	if !VerifyWebhookSignature(body, "sha256="+signBody(body, secret), secret) {
		t.Fatal("prefixed signature rejected")
	}
	if VerifyWebhookSignature(body, signBody(body, "other-secret"), secret) {
		t.Fatal("signature from wrong secret accepted")
	}
	if VerifyWebhookSignature([]byte(`{"tampered":true}`), signBody(body, secret), secret) {
		t.Fatal("signature over different body accepted")
	}
	if VerifyWebhookSignature(body, "", secret) {
		t.Fatal("empty signature accepted")
	}
	if VerifyWebhookSignature(body, signBody(body, secret), "") {
		t.Fatal("empty secret accepted")
	}
	if VerifyWebhookSignature(body, "zz-not-hex", secret) {
		t.Fatal("malformed signature accepted")
	}
}
