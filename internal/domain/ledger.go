package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// LedgerAccount is a stored-value payment instrument. Balance never goes below zero.
type LedgerAccount struct {
	InstrumentID int64           `json:"id" db:"id"`
	OwnerID      int64           `json:"ownerId" db:"user_id"`
	CardLast4    string          `json:"cardLast4" db:"card_last4"`
	Balance      decimal.Decimal `json:"balance" db:"balance"`
	UpdatedAt    time.Time       `json:"updatedAt" db:"updated_at"`
}

func (a *LedgerAccount) CanAfford(amount decimal.Decimal) bool {
	return a.Balance.GreaterThanOrEqual(amount)
}
