package mercadopago

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tatamelab/dojopay/app/models"
	"github.com/tatamelab/dojopay/internal/pkg/env"
	"github.com/tatamelab/dojopay/internal/pkg/secrets"
)

const defaultAPIBaseURL = "https://api.mercadopago.com"

// ErrUnavailable covers network failures, timeouts and gateway 5xx responses.
// Operations failing with it are safe to retry.
var ErrUnavailable = errors.New("mercadopago: gateway unavailable")

// ErrRejected covers gateway 4xx validation responses. Retrying the same
// request will not succeed.
var ErrRejected = errors.New("mercadopago: request rejected")

// Client is a thin adapter over the Mercado Pago REST API. It is stateless;
// everything it needs comes from the active GatewayCredentials row.
type Client struct {
	AccessToken string
	APIBaseURL  string

	HTTPClient *http.Client

	// UsageHook runs once per outbound call. Wired to the credential usage
	// counter; advisory only, never blocks the call.
	UsageHook func()
}

// NewClient builds a client with the given raw access token.
func NewClient(accessToken string) *Client {
	return &Client{
		AccessToken: strings.TrimSpace(accessToken),
		APIBaseURL:  strings.TrimRight(env.GetEnv("MP_API_BASE_URL", defaultAPIBaseURL), "/"),
		HTTPClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// NewClientFromCredentials decrypts the stored access token and builds a
// client. A decryption failure surfaces as-is so the caller can alert on it.
func NewClientFromCredentials(creds *models.GatewayCredentials, store *secrets.Store) (*Client, error) {
	token, err := store.Decrypt(creds.AccessTokenEnc)
	if err != nil {
		return nil, fmt.Errorf("gateway credentials %d: %w", creds.ID, err)
	}
	return NewClient(token), nil
}

// PayerInfo carries the payer identity sent with a payment request.
type PayerInfo struct {
	Email          string `json:"email"`
	FirstName      string `json:"first_name,omitempty"`
	LastName       string `json:"last_name,omitempty"`
	Identification struct {
		Type   string `json:"type,omitempty"`
		Number string `json:"number,omitempty"`
	} `json:"identification,omitempty"`
}

// CreatePaymentRequest is the input for a PIX payment creation.
type CreatePaymentRequest struct {
	ExternalReference string
	Amount            decimal.Decimal
	Description       string
	Payer             PayerInfo
}

// PaymentIntent is the gateway's answer to a payment creation: the handle for
// later status fetches plus what the checkout needs to render the PIX QR.
type PaymentIntent struct {
	GatewayID         string
	Status            string
	ExternalReference string
	QRCode            string
	QRCodeBase64      string
	TicketURL         string
}

// PaymentStatus is the gateway's current view of one payment.
type PaymentStatus struct {
	GatewayID         string
	Status            string
	StatusDetail      string
	ExternalReference string
}

// Webhook is one notification registration at the gateway.
type Webhook struct {
	ID     string   `json:"id"`
	URL    string   `json:"url"`
	Events []string `json:"events"`
}

type paymentResponse struct {
	ID                 json.Number `json:"id"`
	Status             string      `json:"status"`
	StatusDetail       string      `json:"status_detail"`
	ExternalReference  string      `json:"external_reference"`
	PointOfInteraction struct {
		TransactionData struct {
			QRCode       string `json:"qr_code"`
			QRCodeBase64 string `json:"qr_code_base64"`
			TicketURL    string `json:"ticket_url"`
		} `json:"transaction_data"`
	} `json:"point_of_interaction"`
}

// CreatePayment creates a PIX payment and returns the gateway handle plus the
// QR data for the checkout page.
func (c *Client) CreatePayment(ctx context.Context, req CreatePaymentRequest) (*PaymentIntent, error) {
	if req.ExternalReference == "" {
		return nil, fmt.Errorf("%w: external_reference is required", ErrRejected)
	}

	amount, _ := req.Amount.Float64()
	payload := map[string]interface{}{
		"transaction_amount": amount,
		"description":        req.Description,
		"payment_method_id":  "pix",
		"external_reference": req.ExternalReference,
		"payer":              req.Payer,
	}

	headers := map[string]string{
		// Gateway-side dedup for retried creation calls.
		"X-Idempotency-Key": uuid.NewString(),
	}

	body, err := c.doJSON(ctx, http.MethodPost, "/v1/payments", payload, headers)
	if err != nil {
		return nil, err
	}

	var out paymentResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("%w: malformed payment response: %v", ErrUnavailable, err)
	}

	return &PaymentIntent{
		GatewayID:         out.ID.String(),
		Status:            out.Status,
		ExternalReference: out.ExternalReference,
		QRCode:            out.PointOfInteraction.TransactionData.QRCode,
		QRCodeBase64:      out.PointOfInteraction.TransactionData.QRCodeBase64,
		TicketURL:         out.PointOfInteraction.TransactionData.TicketURL,
	}, nil
}

// CreatePreferenceRequest is the input for a hosted-checkout preference,
// used for card payments where the gateway renders the payment form.
type CreatePreferenceRequest struct {
	ExternalReference string
	Title             string
	Amount            decimal.Decimal
	Payer             PayerInfo
	NotificationURL   string
	BackURL           string
}

// Preference is the gateway's hosted-checkout handle.
type Preference struct {
	ID               string `json:"id"`
	InitPoint        string `json:"init_point"`
	SandboxInitPoint string `json:"sandbox_init_point"`
}

// CreatePreference creates a hosted-checkout preference for card payments.
func (c *Client) CreatePreference(ctx context.Context, req CreatePreferenceRequest) (*Preference, error) {
	if req.ExternalReference == "" {
		return nil, fmt.Errorf("%w: external_reference is required", ErrRejected)
	}

	amount, _ := req.Amount.Float64()
	payload := map[string]interface{}{
		"external_reference": req.ExternalReference,
		"items": []map[string]interface{}{
			{
				"title":       req.Title,
				"quantity":    1,
				"unit_price":  amount,
				"currency_id": "BRL",
			},
		},
		"payer": req.Payer,
	}
	if req.NotificationURL != "" {
		payload["notification_url"] = req.NotificationURL
	}
	if req.BackURL != "" {
		payload["back_urls"] = map[string]string{"success": req.BackURL, "pending": req.BackURL, "failure": req.BackURL}
	}

	body, err := c.doJSON(ctx, http.MethodPost, "/checkout/preferences", payload, nil)
	if err != nil {
		return nil, err
	}
	var out Preference
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("%w: malformed preference response: %v", ErrUnavailable, err)
	}
	return &out, nil
}

// FetchPaymentStatus asks the gateway for the current status of one payment.
// Used by the scheduler and manual reconciliation to cross-check webhooks.
func (c *Client) FetchPaymentStatus(ctx context.Context, gatewayID string) (*PaymentStatus, error) {
	if strings.TrimSpace(gatewayID) == "" {
		return nil, fmt.Errorf("%w: gateway payment id is required", ErrRejected)
	}

	body, err := c.doJSON(ctx, http.MethodGet, "/v1/payments/"+gatewayID, nil, nil)
	if err != nil {
		return nil, err
	}

	var out paymentResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("%w: malformed payment response: %v", ErrUnavailable, err)
	}
	return &PaymentStatus{
		GatewayID:         out.ID.String(),
		Status:            out.Status,
		StatusDetail:      out.StatusDetail,
		ExternalReference: out.ExternalReference,
	}, nil
}

// ListWebhooks returns the notification registrations for this application.
func (c *Client) ListWebhooks(ctx context.Context) ([]Webhook, error) {
	body, err := c.doJSON(ctx, http.MethodGet, "/v1/webhooks", nil, nil)
	if err != nil {
		return nil, err
	}
	var out []Webhook
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("%w: malformed webhook list: %v", ErrUnavailable, err)
	}
	return out, nil
}

// RegisterWebhook registers the callback URL for the given event types. The
// call is idempotent: an existing registration with the same URL is returned
// instead of creating a duplicate.
func (c *Client) RegisterWebhook(ctx context.Context, callbackURL string, events []string) (*Webhook, error) {
	if strings.TrimSpace(callbackURL) == "" {
		return nil, fmt.Errorf("%w: callback url is required", ErrRejected)
	}

	existing, err := c.ListWebhooks(ctx)
	if err != nil {
		return nil, err
	}
	for i := range existing {
		if strings.EqualFold(strings.TrimRight(existing[i].URL, "/"), strings.TrimRight(callbackURL, "/")) {
			return &existing[i], nil
		}
	}

	payload := map[string]interface{}{
		"url":    callbackURL,
		"events": events,
	}
	body, err := c.doJSON(ctx, http.MethodPost, "/v1/webhooks", payload, nil)
	if err != nil {
		return nil, err
	}
	var out Webhook
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("%w: malformed webhook response: %v", ErrUnavailable, err)
	}
	return &out, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, payload interface{}, headers map[string]string) ([]byte, error) {
	if c.UsageHook != nil {
		c.UsageHook()
	}

	var reqBody io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		reqBody = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.APIBaseURL+path, reqBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.AccessToken)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		// Timeouts and transport errors are retryable, never a rejection.
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return body, nil
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: status=%d body=%s", ErrUnavailable, resp.StatusCode, truncate(body))
	default:
		return nil, fmt.Errorf("%w: status=%d body=%s", ErrRejected, resp.StatusCode, truncate(body))
	}
}

func truncate(body []byte) string {
	const max = 512
	if len(body) <= max {
		return string(body)
	}
	return string(body[:max]) + "..."
}

// NormalizeStatus maps a gateway payment status onto the local payment
// status vocabulary.
func NormalizeStatus(gatewayStatus string) string {
	switch strings.ToLower(strings.TrimSpace(gatewayStatus)) {
	case "approved":
		return models.PaymentApproved
	case "rejected":
		return models.PaymentRejected
	case "cancelled", "expired":
		return models.PaymentCancelled
	case "refunded", "charged_back":
		return models.PaymentRefunded
	default:
		// pending, in_process, authorized, in_mediation
		return models.PaymentPending
	}
}
