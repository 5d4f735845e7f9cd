package models

import "time"

const (
	WebhookEventPayment      = "payment"
	WebhookEventSubscription = "subscription"
	WebhookEventOther        = "other"
)

// WebhookEvent is one normalized inbound gateway notification. Every delivery
// is stored, including duplicates and events that failed authentication, and
// rows are retained indefinitely for audit and replay.
type WebhookEvent struct {
	ID              uint       `gorm:"primaryKey" json:"id"`
	EventType       string     `gorm:"type:varchar(20);not null;default:'other';index" json:"event_type"`
	Action          string     `gorm:"type:varchar(100);not null;default:''" json:"action"`
	GatewayIDEnc    string     `gorm:"type:text" json:"-"`
	GatewayIDHash   string     `gorm:"type:varchar(64);index;default:''" json:"-"`
	PayloadEnc      string     `gorm:"type:longtext" json:"-"`
	SignatureValid  bool       `gorm:"default:false;index" json:"signature_valid"`
	Signature       string     `gorm:"type:varchar(255);default:''" json:"-"`
	SourceIP        string     `gorm:"type:varchar(45);default:''" json:"source_ip"`
	Processed       bool       `gorm:"default:false;index" json:"processed"`
	ProcessingError string     `gorm:"type:text" json:"processing_error"`
	RetryCount      int        `gorm:"default:0" json:"retry_count"`
	NeedsReview     bool       `gorm:"default:false;index" json:"needs_review"`
	ProcessedAt     *time.Time `gorm:"type:timestamp;default:null" json:"processed_at,omitempty"`
	CreatedAt       time.Time  `gorm:"autoCreateTime;index" json:"received_at"`
	UpdatedAt       time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}
