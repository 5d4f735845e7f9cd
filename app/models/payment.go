package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	PaymentPending   = "pending"
	PaymentApproved  = "approved"
	PaymentRejected  = "rejected"
	PaymentCancelled = "cancelled"
	PaymentRefunded  = "refunded"
)

// Payment is one attempted monetary transaction. Rows are created when a
// checkout attempt is initiated and are never deleted; they are the audit
// trail for everything the gateway ever told us.
//
// Gateway identifiers and payer PII are stored encrypted; the *Hash columns
// carry an HMAC digest so rows stay findable without exposing raw values.
type Payment struct {
	ID                   uint            `gorm:"primaryKey" json:"id"`
	UserID               uint            `gorm:"not null;index" json:"user_id"`
	PlanID               uint            `gorm:"not null;index" json:"plan_id"`
	SubscriptionID       *uint           `gorm:"index;default:null" json:"subscription_id,omitempty"`
	Amount               decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"amount"`
	Status               string          `gorm:"type:varchar(20);not null;default:'pending';index" json:"status"`
	ExternalReference    string          `gorm:"type:varchar(64);not null;uniqueIndex" json:"external_reference"`
	GatewayPaymentIDEnc  string          `gorm:"type:text" json:"-"`
	GatewayPaymentIDHash string          `gorm:"type:varchar(64);index;default:''" json:"-"`
	PayerNameEnc         string          `gorm:"type:text" json:"-"`
	PayerEmailEnc        string          `gorm:"type:text" json:"-"`
	PayerPhoneEnc        string          `gorm:"type:text" json:"-"`
	PayerDocumentEnc     string          `gorm:"type:text" json:"-"`
	PaidAt               *time.Time      `gorm:"column:data_pagamento;type:timestamp;default:null" json:"data_pagamento,omitempty"`
	CreatedAt            time.Time       `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt            time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}
