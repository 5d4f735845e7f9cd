package billing

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/tatamelab/dojopay/app/models"
)

// Notification is the normalized shape of an inbound gateway notification.
// Mercado Pago only guarantees {type, action, data:{id}}; status and
// external_reference are present when the sender (or an active poll) already
// resolved the payment outcome.
type Notification struct {
	Type              string
	Action            string
	GatewayID         string
	Status            string
	ExternalReference string
}

type rawNotification struct {
	Type   string `json:"type"`
	Action string `json:"action"`
	Data   struct {
		ID flexibleID `json:"id"`
	} `json:"data"`
	Status            string `json:"status"`
	ExternalReference string `json:"external_reference"`
}

// flexibleID accepts the gateway id as either a JSON number or a string; the
// gateway is not consistent about it across event types.
type flexibleID string

func (f *flexibleID) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexibleID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexibleID(n.String())
	return nil
}

// ParseNotification decodes a raw webhook body into a Notification.
func ParseNotification(raw []byte) (*Notification, error) {
	var in rawNotification
	if err := json.Unmarshal(raw, &in); err != nil {
		return nil, err
	}
	n := &Notification{
		Type:              normalizeEventType(in.Type),
		Action:            strings.TrimSpace(in.Action),
		GatewayID:         string(in.Data.ID),
		Status:            strings.ToLower(strings.TrimSpace(in.Status)),
		ExternalReference: strings.TrimSpace(in.ExternalReference),
	}
	if n.GatewayID == "" {
		return nil, errors.New("notification has no data.id")
	}
	return n, nil
}

func normalizeEventType(t string) string {
	switch strings.ToLower(strings.TrimSpace(t)) {
	case "payment":
		return models.WebhookEventPayment
	case "subscription", "subscription_preapproval":
		return models.WebhookEventSubscription
	default:
		return models.WebhookEventOther
	}
}

// statusRank orders payment statuses monotonically. Webhook delivery order is
// not guaranteed; transitions that would move a payment backward in rank are
// ignored so the final state converges regardless of arrival order.
func statusRank(status string) int {
	switch status {
	case models.PaymentRefunded:
		return 3
	case models.PaymentApproved:
		return 2
	case models.PaymentRejected, models.PaymentCancelled:
		return 1
	default:
		return 0
	}
}
