package models

import "time"

const (
	SubscriptionActive    = "active"
	SubscriptionCancelled = "cancelled"
	SubscriptionExpired   = "expired"
	SubscriptionSuspended = "suspended"
)

// Subscription is one user's relationship to a plan over a time window.
// At most one row per user may be active at any instant; the reconciliation
// engine enforces this by cancelling the previous active row in the same
// transaction that creates a new one.
//
// Date columns keep the legacy names from the original production schema so
// this service can run against the existing database.
type Subscription struct {
	ID                    uint       `gorm:"primaryKey" json:"id"`
	UserID                uint       `gorm:"not null;index:idx_subscriptions_user_status,priority:1" json:"user_id"`
	PlanID                uint       `gorm:"not null;index" json:"plan_id"`
	Plan                  *Plan      `gorm:"foreignKey:PlanID" json:"plan,omitempty"`
	Status                string     `gorm:"type:varchar(20);not null;default:'active';index:idx_subscriptions_user_status,priority:2" json:"status"`
	StartsAt              time.Time  `gorm:"column:data_inicio;not null" json:"data_inicio"`
	ExpiresAt             time.Time  `gorm:"column:data_vencimento;not null;index" json:"data_vencimento"`
	CancelledAt           *time.Time `gorm:"column:data_cancelamento;type:timestamp;default:null" json:"data_cancelamento,omitempty"`
	ExternalReference     string     `gorm:"type:varchar(64);not null;uniqueIndex" json:"external_reference"`
	GatewaySubscriptionID string     `gorm:"type:varchar(191);default:''" json:"gateway_subscription_id"`
	CreatedAt             time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt             time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsCurrent reports whether the subscription grants access at the given
// instant. Status alone is not trusted: expiry is always re-checked.
func (s *Subscription) IsCurrent(now time.Time) bool {
	return s.Status == SubscriptionActive && s.ExpiresAt.After(now)
}
