package controllers

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/tatamelab/dojopay/internal/pkg/database"
	"github.com/tatamelab/dojopay/internal/pkg/entitlements"
)

// HandleGetEntitlement reports whether a user has premium access right now
// and which subscription grants it. The answer comes from the database, never
// from the advisory cache.
func HandleGetEntitlement(c *fiber.Ctx) error {
	userID, err := strconv.ParseUint(c.Params("id"), 10, 32)
	if err != nil || userID == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_user_id"})
	}

	premium, sub, err := entitlements.HasPremiumAccess(database.GetDB(), uint(userID))
	if err != nil {
		log.Errorf("[Entitlement] lookup for user %d failed: %v", userID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "entitlement_lookup_failed"})
	}

	// Keep the advisory cache warm on the read path.
	if err := entitlements.SetCachedPremiumFlag(uint(userID), premium); err != nil {
		log.Debugf("[Entitlement] cache update for user %d failed: %v", userID, err)
	}

	resp := fiber.Map{
		"user_id": userID,
		"premium": premium,
	}
	if sub != nil {
		resp["subscription_id"] = sub.ID
		resp["plan_id"] = sub.PlanID
		resp["expires_at"] = sub.ExpiresAt.UTC().Format(time.RFC3339)
	}
	return c.Status(fiber.StatusOK).JSON(resp)
}
