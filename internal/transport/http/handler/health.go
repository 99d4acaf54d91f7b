package handler

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sakashimaa/marketplace-checkout/pkg/mylogger"
	"go.uber.org/zap"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

type HealthHandler struct {
	db     Pinger
	logger *zap.Logger
}

func NewHealthHandler(db Pinger, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{db: db, logger: logger}
}

func (h *HealthHandler) Health(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), time.Second)
	defer cancel()

	if err := h.db.Ping(ctx); err != nil {
		mylogger.Warn(ctx, h.logger, "health check failed", zap.Error(err))
		return c.Status(fiber.StatusServiceUnavailable).SendString("unavailable")
	}

	return c.SendString("ok")
}
