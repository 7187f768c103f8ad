package controllers

import (
	"encoding/json"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/formlio/paygate/app/models"
	"github.com/formlio/paygate/internal/pkg/cache"
	"github.com/formlio/paygate/internal/pkg/database"
)

const (
	planCacheKey = "plans:active"
	planCacheTTL = 5 * time.Minute
)

// HandleListPlans returns the active plans. Plans are immutable reference
// data, so a short read-through cache is safe.
func HandleListPlans(c *fiber.Ctx) error {
	if cached, err := cache.Get(planCacheKey); err == nil && cached != "" {
		c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
		return c.SendString(cached)
	}

	var plans []models.Plan
	if err := database.GetDB().Where("is_active = ?", true).Order("price_monthly ASC").Find(&plans).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Could not fetch plans"})
	}

	if raw, err := json.Marshal(plans); err == nil {
		if err := cache.Set(planCacheKey, string(raw), planCacheTTL); err != nil {
			log.Warnf("[Plans] could not cache plan list: %v", err)
		}
	}

	return c.JSON(plans)
}
