package handler

import (
	"github.com/gofiber/fiber/v2"
	"github.com/sakashimaa/marketplace-checkout/internal/domain"
	"github.com/sakashimaa/marketplace-checkout/internal/service"
	"go.uber.org/zap"
)

type AccountHandler struct {
	service service.AccountService
	logger  *zap.Logger
}

func NewAccountHandler(service service.AccountService, logger *zap.Logger) *AccountHandler {
	return &AccountHandler{
		service: service,
		logger:  logger,
	}
}

func (h *AccountHandler) ListOrders(c *fiber.Ctx) error {
	userId, ok := userID(c)
	if !ok {
		return writeUnauthorized(c)
	}

	limit := c.QueryInt("limit", 50)
	if limit <= 0 || limit > 200 {
		return writeBadRequest(c, "limit must be between 1 and 200")
	}

	orders, err := h.service.ListOrders(c.UserContext(), userId, limit)
	if err != nil {
		return writeError(c, err)
	}

	if orders == nil {
		orders = []domain.Order{}
	}

	return c.JSON(fiber.Map{
		"success": true,
		"orders":  orders,
	})
}

func (h *AccountHandler) GetInstrument(c *fiber.Ctx) error {
	userId, ok := userID(c)
	if !ok {
		return writeUnauthorized(c)
	}

	instrumentId, err := c.ParamsInt("id")
	if err != nil || instrumentId <= 0 {
		return writeBadRequest(c, "invalid instrument id")
	}

	instrument, err := h.service.GetInstrument(c.UserContext(), userId, int64(instrumentId))
	if err != nil {
		return writeError(c, err)
	}

	return c.JSON(fiber.Map{
		"success":    true,
		"instrument": instrument,
	})
}
