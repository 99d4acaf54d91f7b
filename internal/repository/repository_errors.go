package repository

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrCartItemNotFound    = errors.New("cart item not found")
	ErrCatalogItemNotFound = errors.New("catalog item not found")
	ErrInstrumentNotFound  = errors.New("payment instrument not found")
	ErrInsufficientFunds   = errors.New("insufficient funds")
	ErrCheckoutNotFound    = errors.New("checkout not found")
	ErrCheckoutExists      = errors.New("checkout already exists")
)

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgError *pgconn.PgError
	return errors.As(err, &pgError) && pgError.Code == uniqueViolation
}
