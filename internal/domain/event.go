package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	EventOrderPlaced    = "OrderPlaced"
	EventProductUpdated = "ProductUpdated"
	EventProductDeleted = "ProductDeleted"

	AggregateOrder = "Order"
)

type OrderPlacedItem struct {
	CatalogItemID string          `json:"catalog_item_id"`
	Quantity      int32           `json:"quantity"`
	UnitPrice     decimal.Decimal `json:"unit_price"`
}

type OrderPlacedEvent struct {
	OrderID     int64             `json:"order_id"`
	OrderNumber string            `json:"order_number"`
	CheckoutID  string            `json:"checkout_id"`
	UserID      int64             `json:"user_id"`
	SellerID    int64             `json:"seller_id"`
	TotalAmount decimal.Decimal   `json:"total_amount"`
	Items       []OrderPlacedItem `json:"items"`
	PlacedAt    time.Time         `json:"placed_at"`
}

func NewOrderPlacedEvent(order *Order) *OrderPlacedEvent {
	items := make([]OrderPlacedItem, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, OrderPlacedItem{
			CatalogItemID: item.CatalogItemID,
			Quantity:      item.Quantity,
			UnitPrice:     item.UnitPrice,
		})
	}

	return &OrderPlacedEvent{
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		CheckoutID:  order.CheckoutID.String(),
		UserID:      order.UserID,
		SellerID:    order.SellerID,
		TotalAmount: order.TotalAmount,
		Items:       items,
		PlacedAt:    order.CreatedAt,
	}
}

// CatalogChangedEvent is consumed from the catalog topic for both update and delete.
type CatalogChangedEvent struct {
	CatalogItemID string `json:"catalogItemId"`
}
