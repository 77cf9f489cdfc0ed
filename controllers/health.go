package controllers

import (
	"context"
	"time"

	"schoolledger_go/database"

	"github.com/gofiber/fiber/v2"
)

type HealthController struct{}

// GetHealthStatus reports database and Redis connectivity
func (hc *HealthController) GetHealthStatus(c *fiber.Ctx) error {
	status := fiber.StatusOK
	checks := fiber.Map{}

	sqlDB, err := database.DB.DB()
	if err == nil {
		err = sqlDB.Ping()
	}
	if err != nil {
		checks["database"] = "down"
		status = fiber.StatusServiceUnavailable
	} else {
		checks["database"] = "up"
	}

	if rc := database.GetRedisClient(); rc != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := rc.Ping(ctx).Err(); err != nil {
			checks["redis"] = "down"
		} else {
			checks["redis"] = "up"
		}
	} else {
		checks["redis"] = "disabled"
	}

	overall := "healthy"
	if status != fiber.StatusOK {
		overall = "unhealthy"
	}

	return c.Status(status).JSON(fiber.Map{
		"status":    overall,
		"checks":    checks,
		"timestamp": time.Now().UTC(),
	})
}
