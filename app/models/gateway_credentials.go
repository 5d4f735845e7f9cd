package models

import (
	"time"

	"gorm.io/gorm"
)

const (
	GatewayEnvSandbox    = "sandbox"
	GatewayEnvProduction = "production"
)

// GatewayCredentials holds the Mercado Pago access token and webhook signing
// secret, both encrypted at rest. At most one row may be active.
type GatewayCredentials struct {
	ID               uint       `gorm:"primaryKey" json:"id"`
	AccessTokenEnc   string     `gorm:"type:text;not null" json:"-"`
	PublicKey        string     `gorm:"type:varchar(255);default:''" json:"public_key"`
	WebhookSecretEnc string     `gorm:"type:text;not null" json:"-"`
	WebhookURL       string     `gorm:"type:varchar(255);default:''" json:"webhook_url"`
	Environment      string     `gorm:"type:varchar(20);not null;default:'sandbox'" json:"environment"`
	IsActive         bool       `gorm:"default:false;index" json:"is_active"`
	UsageCount       int64      `gorm:"default:0" json:"usage_count"`
	LastUsedAt       *time.Time `gorm:"type:timestamp;default:null" json:"last_used_at,omitempty"`
	CreatedAt        time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// GetActiveCredentials returns the single active credentials row.
func GetActiveCredentials(db *gorm.DB) (*GatewayCredentials, error) {
	var creds GatewayCredentials
	if err := db.Where("is_active = ?", true).First(&creds).Error; err != nil {
		return nil, err
	}
	return &creds, nil
}

// ActivateCredentials marks one row active and deactivates every other row in
// the same transaction, keeping the at-most-one-active invariant.
func ActivateCredentials(db *gorm.DB, id uint) error {
	return db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&GatewayCredentials{}).Where("id <> ?", id).Update("is_active", false).Error; err != nil {
			return err
		}
		return tx.Model(&GatewayCredentials{}).Where("id = ?", id).Update("is_active", true).Error
	})
}
