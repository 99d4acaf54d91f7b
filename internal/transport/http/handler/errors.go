package handler

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/sakashimaa/marketplace-checkout/internal/domain"
	"github.com/sakashimaa/marketplace-checkout/pkg/utils"
)

const (
	CodeValidationFailed = "VALIDATION_FAILED"
	CodeUnauthorized     = "UNAUTHORIZED"
	CodeInternal         = "INTERNAL"
)

// httpError maps a service error to its status, code and client-safe message.
func httpError(err error) (int, string, string) {
	var checkoutErr *domain.CheckoutError
	if errors.As(err, &checkoutErr) {
		switch checkoutErr.Kind {
		case domain.KindEmptyCart, domain.KindInsufficientFunds:
			return fiber.StatusBadRequest, checkoutErr.Kind.Code(), checkoutErr.Message()
		case domain.KindInstrumentNotFound:
			return fiber.StatusNotFound, checkoutErr.Kind.Code(), checkoutErr.Message()
		default:
			return fiber.StatusInternalServerError, checkoutErr.Kind.Code(), checkoutErr.Message()
		}
	}

	switch {
	case errors.Is(err, domain.ErrCatalogItemNotFound):
		return fiber.StatusNotFound, "CATALOG_ITEM_NOT_FOUND", err.Error()
	case errors.Is(err, domain.ErrCatalogItemNotAvail):
		return fiber.StatusBadRequest, "CATALOG_ITEM_UNAVAILABLE", err.Error()
	case errors.Is(err, domain.ErrSellerMismatch):
		return fiber.StatusBadRequest, "SELLER_MISMATCH", err.Error()
	case errors.Is(err, domain.ErrCartItemNotFound):
		return fiber.StatusNotFound, "CART_ITEM_NOT_FOUND", err.Error()
	case errors.Is(err, domain.ErrCartFull):
		return fiber.StatusBadRequest, "CART_FULL", err.Error()
	case errors.Is(err, domain.ErrIdempotencyKeyReused):
		return fiber.StatusUnprocessableEntity, "IDEMPOTENCY_KEY_REUSED", err.Error()
	default:
		return fiber.StatusInternalServerError, CodeInternal, "internal error"
	}
}

func writeError(c *fiber.Ctx, err error) error {
	status, code, message := httpError(err)

	return c.Status(status).JSON(fiber.Map{
		"success": false,
		"message": message,
		"code":    code,
	})
}

func writeValidationError(c *fiber.Ctx, err error) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"success": false,
		"message": "validation failed",
		"code":    CodeValidationFailed,
		"errors":  utils.FormatValidationError(err),
	})
}

func writeBadRequest(c *fiber.Ctx, message string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"success": false,
		"message": message,
		"code":    CodeValidationFailed,
	})
}

func userID(c *fiber.Ctx) (int64, bool) {
	id, ok := c.Locals("userId").(int64)
	return id, ok && id > 0
}

func writeUnauthorized(c *fiber.Ctx) error {
	return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
		"success": false,
		"message": "userId parsing error",
		"code":    CodeUnauthorized,
	})
}
