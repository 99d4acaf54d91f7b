package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type CartItem struct {
	ID                int64           `json:"id" db:"id"`
	UserID            int64           `json:"userId" db:"user_id"`
	SellerID          int64           `json:"sellerId" db:"seller_id"`
	CatalogItemID     string          `json:"catalogItemId" db:"catalog_item_id"`
	Quantity          int32           `json:"quantity" db:"quantity"`
	UnitPriceSnapshot decimal.Decimal `json:"unitPriceSnapshot" db:"unit_price"`
	AddedAt           time.Time       `json:"addedAt" db:"added_at"`
	UpdatedAt         time.Time       `json:"updatedAt" db:"updated_at"`
}

type AddCartItemInput struct {
	UserID        int64
	SellerID      int64
	CatalogItemID string
	Quantity      int32
}

// CartView is the read model returned by GET /cart.
type CartView struct {
	Groups      []SellerGroup   `json:"groups"`
	TotalAmount decimal.Decimal `json:"totalAmount"`
	Count       int             `json:"count"`
}

func NewCartView(groups []SellerGroup) *CartView {
	count := 0
	for _, g := range groups {
		count += len(g.Items)
	}

	if groups == nil {
		groups = []SellerGroup{}
	}

	return &CartView{
		Groups:      groups,
		TotalAmount: TotalOf(groups),
		Count:       count,
	}
}
