package scheduler

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tatamelab/dojopay/internal/pkg/billing"
	"github.com/tatamelab/dojopay/internal/pkg/cache"
	"github.com/tatamelab/dojopay/internal/pkg/entitlements"
	"github.com/tatamelab/dojopay/internal/pkg/env"
	"github.com/tatamelab/dojopay/internal/pkg/metrics/counter"
)

const (
	driftLockKey = "scheduler:drift:lock"

	// The lock must outlive a slow pass, not just the tick interval, or a
	// second instance starts mid-run once the interval elapses.
	lockHeadroom = 2 * time.Minute

	retryBatchSize = 100
	pollBatchSize  = 50
)

// Scheduler is the drift-correction loop: it expires overdue subscriptions,
// repairs the denormalized premium flags, retries unprocessed webhook events
// and cross-checks stale pending payments against the gateway. It replaces
// the pile of one-off "fix production data" scripts the old platform grew.
type Scheduler struct {
	db     *gorm.DB
	repo   billing.Repository
	engine *billing.Service

	interval   time.Duration
	retryGrace time.Duration
	maxRetries int
	instanceID string

	ticker  *time.Ticker
	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

// New builds a scheduler from env configuration.
func New(db *gorm.DB, engine *billing.Service) *Scheduler {
	return &Scheduler{
		db:         db,
		repo:       billing.NewRepository(db),
		engine:     engine,
		interval:   envMinutes("SCHEDULER_INTERVAL_MINUTES", 5),
		retryGrace: envMinutes("WEBHOOK_RETRY_GRACE_MINUTES", 10),
		maxRetries: envInt("WEBHOOK_MAX_RETRIES", 10),
		instanceID: uuid.NewString(),
	}
}

// Start launches the periodic loop. Safe to call once per process.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.ticker = time.NewTicker(s.interval)

	log.Infof("[Scheduler] starting drift correction (interval=%s)", s.interval)
	s.wg.Add(1)
	go s.loop()
}

// Stop halts the loop and waits for an in-flight run to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	s.running = false
	close(s.stopCh)
	s.ticker.Stop()
	s.wg.Wait()
	log.Info("[Scheduler] stopped")
}

func (s *Scheduler) loop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.stopCh:
			return
		case <-s.ticker.C:
			// The select gives single-flight per process: the next tick is
			// not read until RunOnce returns.
			s.RunOnce(context.Background())
		}
	}
}

// RunOnce executes one drift-correction pass. A Redis lock keeps multiple
// instances from running the pass concurrently; losing the lock is normal
// and just means another instance is on it.
func (s *Scheduler) RunOnce(ctx context.Context) {
	ok, err := cache.AcquireLock(driftLockKey, s.instanceID, s.lockTTL())
	if err != nil {
		log.Warnf("[Scheduler] lock acquire failed, running without distributed lock: %v", err)
	} else if !ok {
		log.Debug("[Scheduler] another instance holds the drift lock, skipping run")
		return
	} else {
		defer func() {
			if err := cache.ReleaseLock(driftLockKey, s.instanceID); err != nil {
				log.Warnf("[Scheduler] lock release failed: %v", err)
			}
		}()
	}

	s.expireOverdueSubscriptions()
	s.repairPremiumFlags()
	s.retryWebhookEvents(ctx)
	s.pollStalePayments(ctx)

	if err := counter.FlushAll(); err != nil {
		log.Warnf("[Scheduler] flushing usage counters failed: %v", err)
	}
}

func (s *Scheduler) expireOverdueSubscriptions() {
	userIDs, err := s.repo.ExpireOverdueSubscriptions(time.Now())
	if err != nil {
		log.Errorf("[Scheduler] expiry sweep failed: %v", err)
		return
	}
	if len(userIDs) > 0 {
		log.Infof("[Scheduler] expired %d overdue subscriptions", len(userIDs))
	}
	// Users who just lost access get their cached flag refreshed right away.
	for _, userID := range userIDs {
		s.refreshPremiumFlag(userID)
	}
}

// repairPremiumFlags re-derives entitlement for every known subscriber and
// corrects the advisory cached flag. The resolver is the source of truth;
// this pass exists for observability plus cache self-heal.
func (s *Scheduler) repairPremiumFlags() {
	userIDs, err := s.repo.ListUserIDsWithSubscriptions()
	if err != nil {
		log.Errorf("[Scheduler] listing subscribers failed: %v", err)
		return
	}

	mismatches := 0
	for _, userID := range userIDs {
		actual, _, err := entitlements.HasPremiumAccess(s.db, userID)
		if err != nil {
			log.Errorf("[Scheduler] entitlement check for user %d failed: %v", userID, err)
			continue
		}
		cached, present := entitlements.CachedPremiumFlag(userID)
		if present && cached != actual {
			mismatches++
			log.Warnf("[Scheduler] premium flag drift for user %d: cached=%v actual=%v", userID, cached, actual)
		}
		if err := entitlements.SetCachedPremiumFlag(userID, actual); err != nil {
			log.Warnf("[Scheduler] premium flag update for user %d failed: %v", userID, err)
		}
	}
	if mismatches > 0 {
		log.Warnf("[Scheduler] corrected %d drifted premium flags", mismatches)
	}
}

func (s *Scheduler) retryWebhookEvents(ctx context.Context) {
	cutoff := time.Now().Add(-s.retryGrace)
	events, err := s.repo.ListRetryableWebhookEvents(cutoff, s.maxRetries, retryBatchSize)
	if err != nil {
		log.Errorf("[Scheduler] listing retryable events failed: %v", err)
		return
	}

	for i := range events {
		event := &events[i]
		if err := s.engine.ProcessEvent(ctx, event, nil); err != nil {
			log.Warnf("[Scheduler] retry of event %d failed (attempt %d): %v", event.ID, event.RetryCount, err)
			if event.RetryCount >= s.maxRetries && !event.NeedsReview {
				// Done retrying; a human has to look at this one.
				event.NeedsReview = true
				if saveErr := s.repo.SaveWebhookEvent(event); saveErr != nil {
					log.Errorf("[Scheduler] flagging event %d for review failed: %v", event.ID, saveErr)
				}
				log.Errorf("[Scheduler] event %d exhausted retries, flagged for review", event.ID)
			}
		}
	}
}

// pollStalePayments cross-checks payments stuck in pending against the
// gateway, catching webhooks that never arrived.
func (s *Scheduler) pollStalePayments(ctx context.Context) {
	cutoff := time.Now().Add(-s.retryGrace)
	payments, err := s.repo.ListStalePendingPayments(cutoff, pollBatchSize)
	if err != nil {
		log.Errorf("[Scheduler] listing stale payments failed: %v", err)
		return
	}

	for i := range payments {
		p := &payments[i]
		if err := s.engine.PollPayment(ctx, p); err != nil {
			log.Warnf("[Scheduler] poll of payment %d failed: %v", p.ID, err)
		}
	}
}

// lockTTL is the distributed-lock lifetime: one interval plus headroom for a
// pass that runs long. The lock is released explicitly on a normal finish.
func (s *Scheduler) lockTTL() time.Duration {
	return s.interval + lockHeadroom
}

func (s *Scheduler) refreshPremiumFlag(userID uint) {
	actual, _, err := entitlements.HasPremiumAccess(s.db, userID)
	if err != nil {
		return
	}
	if err := entitlements.SetCachedPremiumFlag(userID, actual); err != nil {
		log.Warnf("[Scheduler] premium flag update for user %d failed: %v", userID, err)
	}
}

func envMinutes(key string, def int) time.Duration {
	return time.Duration(envInt(key, def)) * time.Minute
}

func envInt(key string, def int) int {
	v, err := strconv.Atoi(env.GetEnv(key, strconv.Itoa(def)))
	if err != nil || v <= 0 {
		return def
	}
	return v
}
