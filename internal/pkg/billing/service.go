package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tatamelab/dojopay/app/models"
	"github.com/tatamelab/dojopay/internal/pkg/mercadopago"
	"github.com/tatamelab/dojopay/internal/pkg/secrets"
)

// StatusFetcher re-confirms a payment outcome at the gateway. It is called
// before the per-user lock is acquired, never while holding it.
type StatusFetcher func(ctx context.Context, gatewayID string) (*mercadopago.PaymentStatus, error)

// Service is the reconciliation engine: given a payment outcome from a
// webhook or an active poll, it decides how Payment and Subscription rows
// change while keeping at most one active subscription per user.
type Service struct {
	repo    Repository
	store   *secrets.Store
	fetcher StatusFetcher
}

// NewService creates the engine from an injected repository and secret store.
func NewService(repo Repository, store *secrets.Store) *Service {
	return &Service{repo: repo, store: store}
}

// NewServiceFromDB creates the engine from a GORM DB handle.
func NewServiceFromDB(db *gorm.DB, store *secrets.Store) *Service {
	return NewService(NewRepository(db), store)
}

// SetStatusFetcher wires the gateway status poll used when a notification
// carries no outcome of its own.
func (s *Service) SetStatusFetcher(f StatusFetcher) {
	s.fetcher = f
}

// IngressEvent is the normalized input persisted by the webhook endpoint.
type IngressEvent struct {
	EventType      string
	Action         string
	GatewayID      string
	RawPayload     []byte
	Signature      string
	SignatureValid bool
	SourceIP       string
}

// RecordWebhookEvent persists an inbound notification with processed=false
// before the gateway gets its acknowledgment. Gateway id and raw payload are
// encrypted at rest; the id also gets a keyed hash for lookups.
func (s *Service) RecordWebhookEvent(ctx context.Context, in IngressEvent) (*models.WebhookEvent, error) {
	_ = ctx
	idEnc, err := s.store.Encrypt(in.GatewayID)
	if err != nil {
		return nil, err
	}
	payloadEnc, err := s.store.Encrypt(string(in.RawPayload))
	if err != nil {
		return nil, err
	}

	event := &models.WebhookEvent{
		EventType:      in.EventType,
		Action:         in.Action,
		GatewayIDEnc:   idEnc,
		GatewayIDHash:  s.store.Hash(in.GatewayID),
		PayloadEnc:     payloadEnc,
		Signature:      in.Signature,
		SignatureValid: in.SignatureValid,
		SourceIP:       in.SourceIP,
	}
	if err := s.repo.CreateWebhookEvent(event); err != nil {
		return nil, err
	}
	return event, nil
}

// ProcessEvent applies one stored webhook event to payment and subscription
// state. The notification may be passed by the ingress path; when nil (the
// scheduler's retry path) it is reconstructed from the encrypted payload.
//
// Every failure is recorded on the event row with processed=false so the
// scheduler can retry it later; only success marks processed=true.
func (s *Service) ProcessEvent(ctx context.Context, event *models.WebhookEvent, n *Notification) error {
	if !event.SignatureValid {
		// Possible attack or misconfiguration; never retried automatically.
		event.NeedsReview = true
		return s.failEvent(event, ErrSignatureInvalid)
	}

	if n == nil {
		var err error
		n, err = s.notificationFromEvent(event)
		if err != nil {
			if errors.Is(err, secrets.ErrDecryption) {
				// Key rotation or corruption suspected; flag and skip, do not
				// abort the whole run.
				event.NeedsReview = true
				log.Errorf("[Billing] event %d payload undecryptable: %v", event.ID, err)
			}
			return s.failEvent(event, err)
		}
	}

	if event.EventType == models.WebhookEventOther {
		// Not a payment outcome; store-and-acknowledge only.
		return s.finishEvent(event)
	}

	// Resolve the outcome before taking any lock: the poll is blocking
	// network I/O with its own timeout.
	if n.Status == "" {
		if s.fetcher == nil {
			return s.failEvent(event, fmt.Errorf("notification %s has no status and no fetcher is configured", n.GatewayID))
		}
		ps, err := s.fetcher(ctx, n.GatewayID)
		if err != nil {
			return s.failEvent(event, err)
		}
		n.Status = ps.Status
		if n.ExternalReference == "" {
			n.ExternalReference = ps.ExternalReference
		}
	}
	if err := s.applyNotification(n); err != nil {
		return s.failEvent(event, err)
	}
	return s.finishEvent(event)
}

// PollPayment actively cross-checks one local payment against the gateway and
// reconciles any drift, the same way a webhook outcome would. Used by the
// scheduler for payments stuck in pending.
func (s *Service) PollPayment(ctx context.Context, payment *models.Payment) error {
	if s.fetcher == nil {
		return errors.New("billing: no status fetcher configured")
	}

	gatewayID, err := s.store.Decrypt(payment.GatewayPaymentIDEnc)
	if err != nil {
		return fmt.Errorf("payment %d gateway id: %w", payment.ID, err)
	}
	if gatewayID == "" {
		// Checkout never reached the gateway; nothing to poll.
		return nil
	}

	ps, err := s.fetcher(ctx, gatewayID)
	if err != nil {
		return err
	}
	return s.applyNotification(&Notification{
		Type:              models.WebhookEventPayment,
		GatewayID:         gatewayID,
		Status:            ps.Status,
		ExternalReference: payment.ExternalReference,
	})
}

// applyNotification applies a resolved payment outcome. The per-user lock is
// taken here; everything before this point must not hold it.
func (s *Service) applyNotification(n *Notification) error {
	newStatus := mercadopago.NormalizeStatus(n.Status)

	payment, err := s.findOrStubPayment(n)
	if err != nil {
		return err
	}

	// Fast idempotency check; repeated below under the lock.
	if payment.Status == newStatus {
		return nil
	}

	release, ok := locks.acquire(payment.UserID)
	if !ok {
		return ErrConcurrentModification
	}
	defer release()

	// Re-read now that we hold the lock; the loser of a duplicate-delivery
	// race sees the winner's state here and becomes a no-op.
	payment, err = s.repo.GetPaymentByExternalReference(payment.ExternalReference)
	if err != nil {
		return err
	}
	if payment.Status == newStatus {
		return nil
	}
	if statusRank(newStatus) < statusRank(payment.Status) {
		// Late, out-of-order delivery. The stored state already reflects a
		// later outcome; applying this would move the payment backward.
		log.Warnf("[Billing] ignoring stale transition %s -> %s for payment %d", payment.Status, newStatus, payment.ID)
		return nil
	}

	return s.applyOutcome(payment, n, newStatus)
}

// applyOutcome runs the state transition inside one transaction.
func (s *Service) applyOutcome(payment *models.Payment, n *Notification, newStatus string) error {
	now := time.Now()
	return s.repo.Transaction(func(tx Repository) error {
		// First notification for a checkout-created payment carries the
		// gateway id the checkout did not know yet.
		if payment.GatewayPaymentIDHash == "" && n.GatewayID != "" {
			enc, err := s.store.Encrypt(n.GatewayID)
			if err != nil {
				return err
			}
			payment.GatewayPaymentIDEnc = enc
			payment.GatewayPaymentIDHash = s.store.Hash(n.GatewayID)
		}

		switch newStatus {
		case models.PaymentApproved:
			if payment.UserID == 0 || payment.PlanID == 0 {
				// Stub row for a payment not initiated here: record the money,
				// leave entitlement to the operator.
				log.Warnf("[Billing] approved payment %d has no local user/plan, skipping subscription", payment.ID)
				break
			}
			plan, err := tx.GetPlan(payment.PlanID)
			if err != nil {
				return err
			}
			sub, err := activateSubscription(tx, payment.UserID, plan, now)
			if err != nil {
				return err
			}
			payment.SubscriptionID = &sub.ID
			payment.PaidAt = &now

		case models.PaymentRefunded:
			if payment.SubscriptionID != nil {
				sub, err := tx.GetSubscriptionByID(*payment.SubscriptionID)
				if err != nil {
					return err
				}
				if sub.Status == models.SubscriptionActive {
					sub.Status = models.SubscriptionCancelled
					sub.CancelledAt = &now
					if err := tx.SaveSubscription(sub); err != nil {
						return err
					}
				}
			}

		case models.PaymentRejected, models.PaymentCancelled:
			// A rejected payment never had an active subscription.
		}

		payment.Status = newStatus
		return tx.SavePayment(payment)
	})
}

// activateSubscription cancels any currently-active subscription for the user
// and creates the new active one. Callers must already hold the user's lock
// and run inside a transaction: a crash between the two writes must not leave
// two active subscriptions nor zero.
func activateSubscription(tx Repository, userID uint, plan *models.Plan, now time.Time) (*models.Subscription, error) {
	prev, err := tx.GetActiveSubscription(userID)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	if prev != nil {
		prev.Status = models.SubscriptionCancelled
		prev.CancelledAt = &now
		if err := tx.SaveSubscription(prev); err != nil {
			return nil, err
		}
	}

	sub := &models.Subscription{
		UserID:            userID,
		PlanID:            plan.ID,
		Status:            models.SubscriptionActive,
		StartsAt:          now,
		ExpiresAt:         now.Add(plan.Duration()),
		ExternalReference: uuid.NewString(),
	}
	if err := tx.CreateSubscription(sub); err != nil {
		return nil, err
	}
	return sub, nil
}

// findOrStubPayment locates the payment a notification refers to, preferring
// the external reference and falling back to the hashed gateway id. Unknown
// references get a minimal pending stub so downstream correlation does not
// silently drop money.
func (s *Service) findOrStubPayment(n *Notification) (*models.Payment, error) {
	if n.ExternalReference != "" {
		p, err := s.repo.GetPaymentByExternalReference(n.ExternalReference)
		if err == nil {
			return p, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}

	hash := s.store.Hash(n.GatewayID)
	p, err := s.repo.GetPaymentByGatewayIDHash(hash)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	// Recoverable anomaly: the payment was not initiated through this
	// system's checkout flow.
	log.Warnf("[Billing] %v: gateway id hash %.12s, creating stub", ErrUnknownPaymentReference, hash)

	idEnc, err := s.store.Encrypt(n.GatewayID)
	if err != nil {
		return nil, err
	}
	stub := &models.Payment{
		Status:               models.PaymentPending,
		ExternalReference:    stubReference(hash),
		GatewayPaymentIDEnc:  idEnc,
		GatewayPaymentIDHash: hash,
	}
	if err := s.repo.CreatePayment(stub); err != nil {
		// Lost a race against a concurrent delivery of the same unknown
		// payment; use the row the winner created.
		if existing, lookupErr := s.repo.GetPaymentByGatewayIDHash(hash); lookupErr == nil {
			return existing, nil
		}
		return nil, err
	}
	return stub, nil
}

// stubReference derives a deterministic external reference for stub payments
// so duplicate deliveries of the same unknown payment map to one row.
func stubReference(gatewayIDHash string) string {
	if len(gatewayIDHash) > 56 {
		gatewayIDHash = gatewayIDHash[:56]
	}
	return "gw:" + gatewayIDHash
}

// GrantTrial creates a trial subscription for a newly registered user. It is
// invoked explicitly by the user-creation use case rather than by a storage
// hook, so ordering and error handling stay visible. A user who already has
// an active subscription keeps it.
func (s *Service) GrantTrial(ctx context.Context, userID, planID uint) (*models.Subscription, error) {
	_ = ctx
	if userID == 0 {
		return nil, errors.New("billing: user id is required")
	}

	release, ok := locks.acquire(userID)
	if !ok {
		return nil, ErrConcurrentModification
	}
	defer release()

	if existing, err := s.repo.GetActiveSubscription(userID); err == nil {
		return existing, nil
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	plan, err := s.repo.GetPlan(planID)
	if err != nil {
		return nil, err
	}

	var sub *models.Subscription
	err = s.repo.Transaction(func(tx Repository) error {
		sub, err = activateSubscription(tx, userID, plan, time.Now())
		return err
	})
	if err != nil {
		return nil, err
	}
	return sub, nil
}

func (s *Service) notificationFromEvent(event *models.WebhookEvent) (*Notification, error) {
	payload, err := s.store.Decrypt(event.PayloadEnc)
	if err != nil {
		return nil, err
	}
	n, err := ParseNotification([]byte(payload))
	if err != nil {
		return nil, err
	}
	return n, nil
}

func (s *Service) finishEvent(event *models.WebhookEvent) error {
	now := time.Now()
	event.Processed = true
	event.ProcessedAt = &now
	event.ProcessingError = ""
	return s.repo.SaveWebhookEvent(event)
}

// FailEventForReview records a permanent failure on an event and flags it for
// operator review so the scheduler never retries it. Used for payloads that
// can never become processable, like unparseable JSON.
func (s *Service) FailEventForReview(event *models.WebhookEvent, cause error) error {
	event.Processed = false
	event.NeedsReview = true
	event.ProcessingError = cause.Error()
	return s.repo.SaveWebhookEvent(event)
}

func (s *Service) failEvent(event *models.WebhookEvent, cause error) error {
	event.Processed = false
	event.ProcessingError = cause.Error()
	event.RetryCount++
	if err := s.repo.SaveWebhookEvent(event); err != nil {
		log.Errorf("[Billing] failed to record error on event %d: %v", event.ID, err)
	}
	return cause
}
