package mercadopago

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/tatamelab/dojopay/app/models"
)

func newTestClient(url string) *Client {
	c := NewClient("test-token")
	c.APIBaseURL = url
	return c
}

func TestCreatePaymentParsesResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/payments" || r.Method != http.MethodPost {
			t.Fatalf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer test-token" {
			t.Fatalf("missing bearer token")
		}
		if r.Header.Get("X-Idempotency-Key") == "" {
			t.Fatalf("missing idempotency key")
		}
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{
			"id": 123456789,
			"status": "pending",
			"external_reference": "ref-abc",
			"point_of_interaction": {
				"transaction_data": {
					"qr_code": "00020126580014br.gov.bcb.pix",
					"ticket_url": "https://gateway.example/ticket/1"
				}
			}
		}`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	intent, err := c.CreatePayment(context.Background(), CreatePaymentRequest{
		ExternalReference: "ref-abc",
		Amount:            decimal.RequireFromString("49.90"),
		Description:       "Plano Mensal",
		Payer:             PayerInfo{Email: "payer@example.com"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if intent.GatewayID != "123456789" {
		t.Fatalf("unexpected gateway id %q", intent.GatewayID)
	}
	if intent.QRCode == "" || intent.TicketURL == "" {
		t.Fatalf("expected QR data to be populated")
	}
}

func TestServerErrorsAreUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	_, err := c.FetchPaymentStatus(context.Background(), "42")
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestValidationErrorsAreRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"message":"invalid payer"}`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	_, err := c.CreatePayment(context.Background(), CreatePaymentRequest{
		ExternalReference: "ref-bad",
		Amount:            decimal.RequireFromString("10.00"),
	})
	if !errors.Is(err, ErrRejected) {
		t.Fatalf("expected ErrRejected, got %v", err)
	}
}

func TestNetworkErrorIsUnavailable(t *testing.T) {
	c := newTestClient("http://127.0.0.1:0")
	_, err := c.FetchPaymentStatus(context.Background(), "42")
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestRegisterWebhookIsIdempotent(t *testing.T) {
	var created int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/v1/webhooks":
			w.Write([]byte(`[{"id":"wh-1","url":"https://dojo.example/payments/webhook/","events":["payment"]}]`))
		case r.Method == http.MethodPost && r.URL.Path == "/v1/webhooks":
			created++
			w.Write([]byte(`{"id":"wh-2","url":"https://other.example/hook","events":["payment"]}`))
		default:
			t.Fatalf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)

	wh, err := c.RegisterWebhook(context.Background(), "https://dojo.example/payments/webhook", []string{"payment"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if wh.ID != "wh-1" {
		t.Fatalf("expected existing registration to be reused, got %q", wh.ID)
	}
	if created != 0 {
		t.Fatalf("expected no new registration for matching URL")
	}

	wh, err = c.RegisterWebhook(context.Background(), "https://other.example/hook", []string{"payment"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if wh.ID != "wh-2" || created != 1 {
		t.Fatalf("expected a new registration for a new URL")
	}
}

func TestUsageHookRunsPerCall(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id":1,"status":"approved"}`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	calls := 0
	c.UsageHook = func() { calls++ }

	if _, err := c.FetchPaymentStatus(context.Background(), "1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := c.FetchPaymentStatus(context.Background(), "1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected 2 usage hook calls, got %d", calls)
	}
}

func TestNormalizeStatus(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "approved", want: models.PaymentApproved},
		{in: "APPROVED", want: models.PaymentApproved},
		{in: "rejected", want: models.PaymentRejected},
		{in: "cancelled", want: models.PaymentCancelled},
		{in: "expired", want: models.PaymentCancelled},
		{in: "refunded", want: models.PaymentRefunded},
		{in: "charged_back", want: models.PaymentRefunded},
		{in: "pending", want: models.PaymentPending},
		{in: "in_process", want: models.PaymentPending},
		{in: "", want: models.PaymentPending},
	}

	for _, tt := range tests {
		if got := NormalizeStatus(tt.in); got != tt.want {
			t.Fatalf("NormalizeStatus(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestCreatePreferenceParsesResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/checkout/preferences" || r.Method != http.MethodPost {
			t.Fatalf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{
			"id": "pref-1",
			"init_point": "https://gateway.example/checkout/pref-1",
			"sandbox_init_point": "https://sandbox.gateway.example/checkout/pref-1"
		}`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	pref, err := c.CreatePreference(context.Background(), CreatePreferenceRequest{
		ExternalReference: "ref-pref",
		Title:             "Plano Anual",
		Amount:            decimal.RequireFromString("499.00"),
		Payer:             PayerInfo{Email: "payer@example.com"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pref.ID != "pref-1" || pref.InitPoint == "" {
		t.Fatalf("unexpected preference %+v", pref)
	}

	if _, err := c.CreatePreference(context.Background(), CreatePreferenceRequest{}); !errors.Is(err, ErrRejected) {
		t.Fatalf("expected ErrRejected without external reference, got %v", err)
	}
}
