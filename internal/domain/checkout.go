package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// checkoutNamespace seeds deterministic checkout ids for idempotent requests.
var checkoutNamespace = uuid.MustParse("6f1c9a8e-3b57-4d0e-9a43-2f7d1c5e8b90")

// PricedCartItem is a cart row joined with its live catalog price.
type PricedCartItem struct {
	CartItem
	Name        string          `json:"name"`
	Description string          `json:"description"`
	UnitPrice   decimal.Decimal `json:"unitPrice"`
	LineTotal   decimal.Decimal `json:"lineTotal"`
}

func NewPricedCartItem(item CartItem, entry CatalogEntry) PricedCartItem {
	return PricedCartItem{
		CartItem:    item,
		Name:        entry.Name,
		Description: entry.Description,
		UnitPrice:   entry.Price,
		LineTotal:   entry.Price.Mul(decimal.NewFromInt32(item.Quantity)),
	}
}

// SellerGroup is derived per checkout and never persisted.
type SellerGroup struct {
	SellerID   int64            `json:"sellerId"`
	SellerName string           `json:"sellerName"`
	Items      []PricedCartItem `json:"items"`
	Subtotal   decimal.Decimal  `json:"subtotal"`
}

func (g *SellerGroup) Add(item PricedCartItem) {
	g.Items = append(g.Items, item)
	g.Subtotal = g.Subtotal.Add(item.LineTotal)
}

func TotalOf(groups []SellerGroup) decimal.Decimal {
	total := decimal.Zero
	for _, g := range groups {
		total = total.Add(g.Subtotal)
	}
	return total
}

type DeliveryInfo struct {
	Address   string
	Latitude  *float64
	Longitude *float64
	Notes     string
}

type CheckoutRequest struct {
	UserID              int64
	PaymentInstrumentID int64
	Delivery            DeliveryInfo
	IdempotencyKey      string
}

// Checkout links the orders produced by one successful checkout.
type Checkout struct {
	ID                  uuid.UUID       `db:"id"`
	UserID              int64           `db:"user_id"`
	IdempotencyKey      *string         `db:"idempotency_key"`
	PaymentInstrumentID int64           `db:"payment_instrument_id"`
	TotalAmount         decimal.Decimal `db:"total_amount"`
	RemainingBalance    decimal.Decimal `db:"remaining_balance"`
	CreatedAt           time.Time       `db:"created_at"`
}

type CheckoutResult struct {
	CheckoutID       uuid.UUID       `json:"checkoutId"`
	Orders           []Order         `json:"orders"`
	TotalAmount      decimal.Decimal `json:"totalAmount"`
	RemainingBalance decimal.Decimal `json:"remainingBalance"`
	Replayed         bool            `json:"replayed"`
}

// Matches reports whether req repeats the request that produced c and its orders.
func (c *Checkout) Matches(orders []Order, req CheckoutRequest) bool {
	if c.PaymentInstrumentID != req.PaymentInstrumentID {
		return false
	}

	for _, o := range orders {
		if o.DeliveryAddress != req.Delivery.Address || o.Notes != req.Delivery.Notes {
			return false
		}
		if !sameCoordinate(o.DeliveryLatitude, req.Delivery.Latitude) || !sameCoordinate(o.DeliveryLongitude, req.Delivery.Longitude) {
			return false
		}
	}

	return true
}

func sameCoordinate(a, b *float64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// NewCheckoutID is deterministic for a (user, idempotency key) pair and random otherwise.
func NewCheckoutID(userID int64, idempotencyKey string) uuid.UUID {
	if idempotencyKey == "" {
		return uuid.New()
	}
	return uuid.NewSHA1(checkoutNamespace, []byte(fmt.Sprintf("%d:%s", userID, idempotencyKey)))
}
