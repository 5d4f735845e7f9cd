package billing

import (
	"fmt"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/tatamelab/dojopay/app/models"
)

// fakeRepository is an in-memory Repository used by engine tests. Writes go
// through a single mutex, which is stricter than what MySQL provides but good
// enough to validate the engine's transition logic.
type fakeRepository struct {
	mu sync.Mutex

	plans         map[uint]models.Plan
	payments      map[uint]models.Payment
	subscriptions map[uint]models.Subscription
	events        map[uint]models.WebhookEvent

	nextPaymentID uint
	nextSubID     uint
	nextEventID   uint
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{
		plans:         make(map[uint]models.Plan),
		payments:      make(map[uint]models.Payment),
		subscriptions: make(map[uint]models.Subscription),
		events:        make(map[uint]models.WebhookEvent),
	}
}

func (f *fakeRepository) Transaction(fn func(Repository) error) error {
	// The engine takes the per-user lock before calling Transaction, so
	// running the callback directly is fine here.
	return fn(f)
}

func (f *fakeRepository) GetPlan(id uint) (*models.Plan, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.plans[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return &p, nil
}

func (f *fakeRepository) CreatePayment(p *models.Payment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.payments {
		if existing.ExternalReference == p.ExternalReference {
			return fmt.Errorf("duplicate external_reference %q", p.ExternalReference)
		}
	}
	f.nextPaymentID++
	p.ID = f.nextPaymentID
	p.CreatedAt = time.Now()
	f.payments[p.ID] = *p
	return nil
}

func (f *fakeRepository) SavePayment(p *models.Payment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.payments[p.ID]; !ok {
		return gorm.ErrRecordNotFound
	}
	f.payments[p.ID] = *p
	return nil
}

func (f *fakeRepository) GetPaymentByExternalReference(ref string) (*models.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.payments {
		if p.ExternalReference == ref {
			cp := p
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeRepository) GetPaymentByGatewayIDHash(hash string) (*models.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if hash == "" {
		return nil, gorm.ErrRecordNotFound
	}
	for _, p := range f.payments {
		if p.GatewayPaymentIDHash == hash {
			cp := p
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeRepository) ListStalePendingPayments(olderThan time.Time, limit int) ([]models.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Payment
	for _, p := range f.payments {
		if p.Status == models.PaymentPending && p.CreatedAt.Before(olderThan) && p.GatewayPaymentIDHash != "" {
			out = append(out, p)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakeRepository) CreateSubscription(s *models.Subscription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextSubID++
	s.ID = f.nextSubID
	f.subscriptions[s.ID] = *s
	return nil
}

func (f *fakeRepository) SaveSubscription(s *models.Subscription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.subscriptions[s.ID]; !ok {
		return gorm.ErrRecordNotFound
	}
	f.subscriptions[s.ID] = *s
	return nil
}

func (f *fakeRepository) GetSubscriptionByID(id uint) (*models.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.subscriptions[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return &s, nil
}

func (f *fakeRepository) GetActiveSubscription(userID uint) (*models.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.subscriptions {
		if s.UserID == userID && s.Status == models.SubscriptionActive {
			cp := s
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeRepository) ExpireOverdueSubscriptions(now time.Time) ([]uint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []uint
	for id, s := range f.subscriptions {
		if s.Status == models.SubscriptionActive && !s.ExpiresAt.After(now) {
			s.Status = models.SubscriptionExpired
			f.subscriptions[id] = s
			ids = append(ids, s.UserID)
		}
	}
	return ids, nil
}

func (f *fakeRepository) ListUserIDsWithSubscriptions() ([]uint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	seen := make(map[uint]struct{})
	var ids []uint
	for _, s := range f.subscriptions {
		if _, ok := seen[s.UserID]; !ok {
			seen[s.UserID] = struct{}{}
			ids = append(ids, s.UserID)
		}
	}
	return ids, nil
}

func (f *fakeRepository) CreateWebhookEvent(e *models.WebhookEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextEventID++
	e.ID = f.nextEventID
	e.CreatedAt = time.Now()
	f.events[e.ID] = *e
	return nil
}

func (f *fakeRepository) SaveWebhookEvent(e *models.WebhookEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.events[e.ID]; !ok {
		return gorm.ErrRecordNotFound
	}
	f.events[e.ID] = *e
	return nil
}

func (f *fakeRepository) GetWebhookEvent(id uint) (*models.WebhookEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.events[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return &e, nil
}

func (f *fakeRepository) ListRetryableWebhookEvents(olderThan time.Time, maxRetries, limit int) ([]models.WebhookEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.WebhookEvent
	for _, e := range f.events {
		if !e.Processed && e.SignatureValid && !e.NeedsReview && e.RetryCount < maxRetries && e.CreatedAt.Before(olderThan) {
			out = append(out, e)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// activeSubscriptionCount reports how many active subscriptions a user has;
// the engine must keep this at 0 or 1 at all times.
func (f *fakeRepository) activeSubscriptionCount(userID uint) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, s := range f.subscriptions {
		if s.UserID == userID && s.Status == models.SubscriptionActive {
			count++
		}
	}
	return count
}
