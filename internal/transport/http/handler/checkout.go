package handler

import (
	"context"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/sakashimaa/marketplace-checkout/internal/domain"
	"github.com/sakashimaa/marketplace-checkout/internal/service"
	"github.com/sakashimaa/marketplace-checkout/pkg/mylogger"
	"go.uber.org/zap"
)

const IdempotencyKeyHeader = "Idempotency-Key"

type DeliveryCoordinates struct {
	Latitude  *float64 `json:"latitude" validate:"required,latitude"`
	Longitude *float64 `json:"longitude" validate:"required,longitude"`
}

type CheckoutInput struct {
	DeliveryAddress     string               `json:"deliveryAddress" validate:"required,min=3,max=500"`
	DeliveryCoordinates *DeliveryCoordinates `json:"deliveryCoordinates" validate:"omitempty"`
	Notes               string               `json:"notes" validate:"max=1000"`
	PaymentInstrumentID int64                `json:"paymentInstrumentId" validate:"gt=0"`
}

type CheckoutHandler struct {
	service  service.CheckoutService
	validate *validator.Validate
	timeout  time.Duration
	logger   *zap.Logger
}

func NewCheckoutHandler(service service.CheckoutService, validate *validator.Validate, timeout time.Duration, logger *zap.Logger) *CheckoutHandler {
	return &CheckoutHandler{
		service:  service,
		validate: validate,
		timeout:  timeout,
		logger:   logger,
	}
}

func (h *CheckoutHandler) Checkout(c *fiber.Ctx) error {
	userId, ok := userID(c)
	if !ok {
		mylogger.Info(c.UserContext(), h.logger, "user_id get failed")
		return writeUnauthorized(c)
	}

	input := new(CheckoutInput)
	if err := c.BodyParser(input); err != nil {
		mylogger.Warn(c.UserContext(), h.logger, "failed to parse body in checkout", zap.Error(err))
		return writeBadRequest(c, "error parsing body")
	}

	input.DeliveryAddress = strings.TrimSpace(input.DeliveryAddress)
	if err := h.validate.Struct(input); err != nil {
		return writeValidationError(c, err)
	}

	idempotencyKey := strings.TrimSpace(c.Get(IdempotencyKeyHeader))
	if len(idempotencyKey) > 128 {
		return writeBadRequest(c, "Idempotency-Key is too long")
	}

	req := domain.CheckoutRequest{
		UserID:              userId,
		PaymentInstrumentID: input.PaymentInstrumentID,
		Delivery: domain.DeliveryInfo{
			Address: input.DeliveryAddress,
			Notes:   input.Notes,
		},
		IdempotencyKey: idempotencyKey,
	}
	if input.DeliveryCoordinates != nil {
		req.Delivery.Latitude = input.DeliveryCoordinates.Latitude
		req.Delivery.Longitude = input.DeliveryCoordinates.Longitude
	}

	ctx := c.UserContext()
	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	result, err := h.service.Checkout(ctx, req)
	if err != nil {
		return writeError(c, err)
	}

	status := fiber.StatusCreated
	if result.Replayed {
		status = fiber.StatusOK
	}

	return c.Status(status).JSON(fiber.Map{
		"success":          true,
		"checkoutId":       result.CheckoutID,
		"orders":           result.Orders,
		"totalAmount":      result.TotalAmount,
		"remainingBalance": result.RemainingBalance,
		"replayed":         result.Replayed,
	})
}
