package handler

import (
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/sakashimaa/marketplace-checkout/internal/domain"
	"github.com/sakashimaa/marketplace-checkout/internal/service"
	"github.com/sakashimaa/marketplace-checkout/pkg/mylogger"
	"go.uber.org/zap"
)

type AddCartItemInput struct {
	CatalogItemID string `json:"catalogItemId" validate:"required,max=64"`
	SellerID      int64  `json:"sellerId" validate:"gt=0"`
	Quantity      *int32 `json:"quantity" validate:"omitempty,gt=0,lte=99"`
}

type UpdateQuantityInput struct {
	Quantity *int32 `json:"quantity" validate:"required,lte=99"`
}

type CartHandler struct {
	service  service.CartService
	validate *validator.Validate
	logger   *zap.Logger
}

func NewCartHandler(service service.CartService, validate *validator.Validate, logger *zap.Logger) *CartHandler {
	return &CartHandler{
		service:  service,
		validate: validate,
		logger:   logger,
	}
}

func (h *CartHandler) GetCart(c *fiber.Ctx) error {
	userId, ok := userID(c)
	if !ok {
		return writeUnauthorized(c)
	}

	cart, err := h.service.GetCart(c.UserContext(), userId)
	if err != nil {
		return writeError(c, err)
	}

	return c.JSON(fiber.Map{
		"success":     true,
		"groups":      cart.Groups,
		"totalAmount": cart.TotalAmount,
		"count":       cart.Count,
	})
}

func (h *CartHandler) AddItem(c *fiber.Ctx) error {
	userId, ok := userID(c)
	if !ok {
		return writeUnauthorized(c)
	}

	input := new(AddCartItemInput)
	if err := c.BodyParser(input); err != nil {
		mylogger.Warn(c.UserContext(), h.logger, "failed to parse body in add cart item", zap.Error(err))
		return writeBadRequest(c, "error parsing body")
	}

	if err := h.validate.Struct(input); err != nil {
		return writeValidationError(c, err)
	}

	quantity := int32(1)
	if input.Quantity != nil {
		quantity = *input.Quantity
	}

	item, err := h.service.AddItem(c.UserContext(), domain.AddCartItemInput{
		UserID:        userId,
		SellerID:      input.SellerID,
		CatalogItemID: input.CatalogItemID,
		Quantity:      quantity,
	})
	if err != nil {
		return writeError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"success": true,
		"item":    item,
	})
}

func (h *CartHandler) UpdateQuantity(c *fiber.Ctx) error {
	userId, ok := userID(c)
	if !ok {
		return writeUnauthorized(c)
	}

	itemId, err := c.ParamsInt("itemId")
	if err != nil || itemId <= 0 {
		return writeBadRequest(c, "invalid item id")
	}

	input := new(UpdateQuantityInput)
	if err := c.BodyParser(input); err != nil {
		return writeBadRequest(c, "error parsing body")
	}

	if err := h.validate.Struct(input); err != nil {
		return writeValidationError(c, err)
	}

	item, err := h.service.UpdateQuantity(c.UserContext(), userId, int64(itemId), *input.Quantity)
	if err != nil {
		return writeError(c, err)
	}

	if item == nil {
		return c.JSON(fiber.Map{
			"success": true,
			"removed": true,
		})
	}

	return c.JSON(fiber.Map{
		"success": true,
		"item":    item,
	})
}

func (h *CartHandler) RemoveItem(c *fiber.Ctx) error {
	userId, ok := userID(c)
	if !ok {
		return writeUnauthorized(c)
	}

	itemId, err := c.ParamsInt("itemId")
	if err != nil || itemId <= 0 {
		return writeBadRequest(c, "invalid item id")
	}

	if err := h.service.RemoveItem(c.UserContext(), userId, int64(itemId)); err != nil {
		return writeError(c, err)
	}

	return c.JSON(fiber.Map{
		"success": true,
		"removed": true,
	})
}

func (h *CartHandler) Clear(c *fiber.Ctx) error {
	userId, ok := userID(c)
	if !ok {
		return writeUnauthorized(c)
	}

	var sellerId *int64
	if raw := c.Query("sellerId"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed <= 0 {
			return writeBadRequest(c, "invalid sellerId")
		}
		sellerId = &parsed
	}

	count, err := h.service.Clear(c.UserContext(), userId, sellerId)
	if err != nil {
		return writeError(c, err)
	}

	return c.JSON(fiber.Map{
		"success": true,
		"count":   count,
	})
}
