package billing

import (
	"time"

	"gorm.io/gorm"

	"github.com/tatamelab/dojopay/app/models"
)

// Repository provides the DB operations used by the reconciliation engine and
// the scheduler. Transaction yields a repository bound to one transaction so
// the cancel-then-create subscription transition commits atomically.
type Repository interface {
	Transaction(fn func(Repository) error) error

	GetPlan(id uint) (*models.Plan, error)

	CreatePayment(p *models.Payment) error
	SavePayment(p *models.Payment) error
	GetPaymentByExternalReference(ref string) (*models.Payment, error)
	GetPaymentByGatewayIDHash(hash string) (*models.Payment, error)
	ListStalePendingPayments(olderThan time.Time, limit int) ([]models.Payment, error)

	CreateSubscription(s *models.Subscription) error
	SaveSubscription(s *models.Subscription) error
	GetSubscriptionByID(id uint) (*models.Subscription, error)
	GetActiveSubscription(userID uint) (*models.Subscription, error)
	ExpireOverdueSubscriptions(now time.Time) ([]uint, error)
	ListUserIDsWithSubscriptions() ([]uint, error)

	CreateWebhookEvent(e *models.WebhookEvent) error
	SaveWebhookEvent(e *models.WebhookEvent) error
	GetWebhookEvent(id uint) (*models.WebhookEvent, error)
	ListRetryableWebhookEvents(olderThan time.Time, maxRetries, limit int) ([]models.WebhookEvent, error)
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a reconciliation repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) Transaction(fn func(Repository) error) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		return fn(&gormRepository{db: tx})
	})
}

func (r *gormRepository) GetPlan(id uint) (*models.Plan, error) {
	var p models.Plan
	if err := r.db.First(&p, id).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *gormRepository) CreatePayment(p *models.Payment) error {
	return r.db.Create(p).Error
}

func (r *gormRepository) SavePayment(p *models.Payment) error {
	return r.db.Save(p).Error
}

func (r *gormRepository) GetPaymentByExternalReference(ref string) (*models.Payment, error) {
	var p models.Payment
	if err := r.db.Where("external_reference = ?", ref).First(&p).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *gormRepository) GetPaymentByGatewayIDHash(hash string) (*models.Payment, error) {
	var p models.Payment
	if err := r.db.Where("gateway_payment_id_hash = ?", hash).First(&p).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *gormRepository) ListStalePendingPayments(olderThan time.Time, limit int) ([]models.Payment, error) {
	var payments []models.Payment
	err := r.db.
		Where("status = ? AND created_at < ? AND gateway_payment_id_hash <> ''", models.PaymentPending, olderThan).
		Order("created_at asc").
		Limit(limit).
		Find(&payments).Error
	return payments, err
}

func (r *gormRepository) CreateSubscription(s *models.Subscription) error {
	return r.db.Create(s).Error
}

func (r *gormRepository) SaveSubscription(s *models.Subscription) error {
	return r.db.Save(s).Error
}

func (r *gormRepository) GetSubscriptionByID(id uint) (*models.Subscription, error) {
	var s models.Subscription
	if err := r.db.First(&s, id).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *gormRepository) GetActiveSubscription(userID uint) (*models.Subscription, error) {
	var s models.Subscription
	err := r.db.
		Where("user_id = ? AND status = ?", userID, models.SubscriptionActive).
		First(&s).Error
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *gormRepository) ExpireOverdueSubscriptions(now time.Time) ([]uint, error) {
	var ids []uint
	err := r.db.Model(&models.Subscription{}).
		Where("status = ? AND data_vencimento <= ?", models.SubscriptionActive, now).
		Pluck("user_id", &ids).Error
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	err = r.db.Model(&models.Subscription{}).
		Where("status = ? AND data_vencimento <= ?", models.SubscriptionActive, now).
		Update("status", models.SubscriptionExpired).Error
	return ids, err
}

func (r *gormRepository) ListUserIDsWithSubscriptions() ([]uint, error) {
	var ids []uint
	err := r.db.Model(&models.Subscription{}).Distinct("user_id").Pluck("user_id", &ids).Error
	return ids, err
}

func (r *gormRepository) CreateWebhookEvent(e *models.WebhookEvent) error {
	return r.db.Create(e).Error
}

func (r *gormRepository) SaveWebhookEvent(e *models.WebhookEvent) error {
	return r.db.Save(e).Error
}

func (r *gormRepository) GetWebhookEvent(id uint) (*models.WebhookEvent, error) {
	var e models.WebhookEvent
	if err := r.db.First(&e, id).Error; err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *gormRepository) ListRetryableWebhookEvents(olderThan time.Time, maxRetries, limit int) ([]models.WebhookEvent, error) {
	var events []models.WebhookEvent
	err := r.db.
		Where("processed = ? AND signature_valid = ? AND needs_review = ? AND retry_count < ? AND created_at < ?",
			false, true, false, maxRetries, olderThan).
		Order("created_at asc").
		Limit(limit).
		Find(&events).Error
	return events, err
}
