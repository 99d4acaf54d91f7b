package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusCompleted OrderStatus = "completed"
	OrderStatusCancelled OrderStatus = "cancelled"
)

const (
	PaymentStatusPaid = "paid"
	PaymentMethodCard = "card"
)

type Order struct {
	ID                  int64           `json:"id" db:"id"`
	CheckoutID          uuid.UUID       `json:"checkoutId" db:"checkout_id"`
	UserID              int64           `json:"userId" db:"user_id"`
	SellerID            int64           `json:"sellerId" db:"seller_id"`
	SellerName          string          `json:"sellerName" db:"seller_name"`
	OrderNumber         string          `json:"orderNumber" db:"order_number"`
	Items               []OrderItem     `json:"items" db:"items"`
	TotalAmount         decimal.Decimal `json:"totalAmount" db:"total_amount"`
	Status              OrderStatus     `json:"status" db:"status"`
	PaymentStatus       string          `json:"paymentStatus" db:"payment_status"`
	PaymentMethod       string          `json:"paymentMethod" db:"payment_method"`
	PaymentInstrumentID int64           `json:"paymentInstrumentId" db:"payment_instrument_id"`
	CardLast4           string          `json:"cardLast4" db:"card_last4"`
	DeliveryAddress     string          `json:"deliveryAddress" db:"delivery_address"`
	DeliveryLatitude    *float64        `json:"deliveryLatitude,omitempty" db:"delivery_latitude"`
	DeliveryLongitude   *float64        `json:"deliveryLongitude,omitempty" db:"delivery_longitude"`
	Notes               string          `json:"notes" db:"notes"`

	CreatedAt time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}

// OrderItem is an immutable snapshot of a cart line at checkout time.
type OrderItem struct {
	ID            int64           `json:"id" db:"id"`
	OrderID       int64           `json:"orderId" db:"order_id"`
	CatalogItemID string          `json:"catalogItemId" db:"catalog_item_id"`
	Name          string          `json:"name" db:"name"`
	Description   string          `json:"description" db:"description"`
	UnitPrice     decimal.Decimal `json:"unitPrice" db:"unit_price"`
	Quantity      int32           `json:"quantity" db:"quantity"`
	TotalPrice    decimal.Decimal `json:"totalPrice" db:"total_price"`
}

func (o *Order) CalculateTotal() {
	total := decimal.Zero
	for _, item := range o.Items {
		total = total.Add(item.TotalPrice)
	}
	o.TotalAmount = total
}

// NewOrderNumber formats ORD-<YYYYMMDD>-<first 12 hex of checkout id>-<seq>.
func NewOrderNumber(checkoutID uuid.UUID, at time.Time, seq int) string {
	hex := strings.ReplaceAll(checkoutID.String(), "-", "")
	return fmt.Sprintf("ORD-%s-%s-%02d", at.UTC().Format("20060102"), strings.ToUpper(hex[:12]), seq)
}

// BuildOrders turns seller groups into one pending, paid order each. Groups must
// already be ordered; sequence numbers follow that order starting at 1.
func BuildOrders(checkout *Checkout, account *LedgerAccount, delivery DeliveryInfo, groups []SellerGroup) []Order {
	orders := make([]Order, 0, len(groups))

	for i, group := range groups {
		items := make([]OrderItem, 0, len(group.Items))
		for _, item := range group.Items {
			items = append(items, OrderItem{
				CatalogItemID: item.CatalogItemID,
				Name:          item.Name,
				Description:   item.Description,
				UnitPrice:     item.UnitPrice,
				Quantity:      item.Quantity,
				TotalPrice:    item.LineTotal,
			})
		}

		order := Order{
			CheckoutID:          checkout.ID,
			UserID:              checkout.UserID,
			SellerID:            group.SellerID,
			SellerName:          group.SellerName,
			OrderNumber:         NewOrderNumber(checkout.ID, checkout.CreatedAt, i+1),
			Items:               items,
			Status:              OrderStatusPending,
			PaymentStatus:       PaymentStatusPaid,
			PaymentMethod:       PaymentMethodCard,
			PaymentInstrumentID: account.InstrumentID,
			CardLast4:           account.CardLast4,
			DeliveryAddress:     delivery.Address,
			DeliveryLatitude:    delivery.Latitude,
			DeliveryLongitude:   delivery.Longitude,
			Notes:               delivery.Notes,
		}
		order.CalculateTotal()

		orders = append(orders, order)
	}

	return orders
}
