package entitlements

import (
	"strconv"
	"time"

	"gorm.io/gorm"

	"github.com/tatamelab/dojopay/app/models"
	"github.com/tatamelab/dojopay/internal/pkg/cache"
)

// Evaluate answers "does any of these subscriptions grant premium access
// right now". The expiry check runs at read time instead of trusting the
// stored status, so the answer stays correct even when the background
// scheduler has fallen behind on expiring rows.
func Evaluate(subs []models.Subscription, now time.Time) (bool, *models.Subscription) {
	for i := range subs {
		if subs[i].IsCurrent(now) {
			return true, &subs[i]
		}
	}
	return false, nil
}

// HasPremiumAccess reports whether the user currently has premium access and
// which subscription grants it. Read-only; no side effects.
func HasPremiumAccess(db *gorm.DB, userID uint) (bool, *models.Subscription, error) {
	var subs []models.Subscription
	err := db.
		Where("user_id = ? AND status = ?", userID, models.SubscriptionActive).
		Find(&subs).Error
	if err != nil {
		return false, nil, err
	}
	ok, sub := Evaluate(subs, time.Now())
	return ok, sub, nil
}

const premiumFlagKeyPrefix = "entitlement:premium:"
const premiumFlagTTL = 24 * time.Hour

// Cached premium flags are advisory only: handlers may use them to skip a DB
// read, the scheduler repairs them, and the resolver above stays the single
// source of truth.

// CachedPremiumFlag returns the cached flag and whether one was present.
func CachedPremiumFlag(userID uint) (bool, bool) {
	val, err := cache.Get(premiumFlagKey(userID))
	if err != nil {
		return false, false
	}
	return val == "1", true
}

// SetCachedPremiumFlag stores the denormalized flag.
func SetCachedPremiumFlag(userID uint, premium bool) error {
	val := "0"
	if premium {
		val = "1"
	}
	return cache.Set(premiumFlagKey(userID), val, premiumFlagTTL)
}

func premiumFlagKey(userID uint) string {
	return premiumFlagKeyPrefix + strconv.FormatUint(uint64(userID), 10)
}
