package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Plan is a purchasable offering. Rows are treated as immutable once a
// subscription references them, except for deactivation.
type Plan struct {
	ID                  uint            `gorm:"primaryKey" json:"id"`
	Name                string          `gorm:"type:varchar(100);not null" json:"name"`
	Slug                string          `gorm:"type:varchar(100);not null;uniqueIndex" json:"slug"`
	Price               decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"price"`
	DurationDays        int             `gorm:"not null" json:"duration_days"`
	IncludesQuizzes     bool            `gorm:"default:true" json:"includes_quizzes"`
	IncludesVideoReview bool            `gorm:"default:false" json:"includes_video_review"`
	IsTrial             bool            `gorm:"default:false" json:"is_trial"`
	IsActive            bool            `gorm:"default:true;index" json:"is_active"`
	CreatedAt           time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt           time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// Duration returns the entitlement window granted by one payment of this plan.
func (p *Plan) Duration() time.Duration {
	return time.Duration(p.DurationDays) * 24 * time.Hour
}
