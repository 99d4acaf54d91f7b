package domain

import "github.com/shopspring/decimal"

// CatalogEntry is the read-only view of a sellable item owned by the catalog.
type CatalogEntry struct {
	CatalogItemID string          `json:"catalogItemId"`
	SellerID      int64           `json:"sellerId"`
	SellerName    string          `json:"sellerName"`
	Name          string          `json:"name"`
	Description   string          `json:"description"`
	Price         decimal.Decimal `json:"price"`
	Available     bool            `json:"available"`
}
