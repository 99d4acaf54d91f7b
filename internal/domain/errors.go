package domain

import (
	"errors"
	"fmt"
)

type CheckoutErrorKind int

const (
	KindEmptyCart CheckoutErrorKind = iota + 1
	KindInstrumentNotFound
	KindInsufficientFunds
	KindInternal
)

func (k CheckoutErrorKind) String() string {
	switch k {
	case KindEmptyCart:
		return "EmptyCart"
	case KindInstrumentNotFound:
		return "InstrumentNotFound"
	case KindInsufficientFunds:
		return "InsufficientFunds"
	default:
		return "Internal"
	}
}

// Code is the stable machine-readable value clients switch on.
func (k CheckoutErrorKind) Code() string {
	switch k {
	case KindEmptyCart:
		return "EMPTY_CART"
	case KindInstrumentNotFound:
		return "INSTRUMENT_NOT_FOUND"
	case KindInsufficientFunds:
		return "INSUFFICIENT_FUNDS"
	default:
		return "INTERNAL"
	}
}

// Retriable reports whether the same request may succeed if sent again unchanged.
func (k CheckoutErrorKind) Retriable() bool {
	return k == KindInternal
}

type CheckoutError struct {
	Kind CheckoutErrorKind
	Err  error
}

func NewCheckoutError(kind CheckoutErrorKind, err error) *CheckoutError {
	return &CheckoutError{Kind: kind, Err: err}
}

func (e *CheckoutError) Error() string {
	msg := kindMessage(e.Kind)
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *CheckoutError) Unwrap() error {
	return e.Err
}

// Is matches any CheckoutError of the same kind, so errors.Is(err, ErrEmptyCart) works on wrapped values.
func (e *CheckoutError) Is(target error) bool {
	var t *CheckoutError
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// Message is safe to show to clients; internal causes are never included.
func (e *CheckoutError) Message() string {
	return kindMessage(e.Kind)
}

func kindMessage(kind CheckoutErrorKind) string {
	switch kind {
	case KindEmptyCart:
		return "cart is empty"
	case KindInstrumentNotFound:
		return "payment instrument not found"
	case KindInsufficientFunds:
		return "insufficient funds"
	default:
		return "checkout failed"
	}
}

var (
	ErrEmptyCart          = &CheckoutError{Kind: KindEmptyCart}
	ErrInstrumentNotFound = &CheckoutError{Kind: KindInstrumentNotFound}
	ErrInsufficientFunds  = &CheckoutError{Kind: KindInsufficientFunds}
	ErrInternal           = &CheckoutError{Kind: KindInternal}
)

// Cart errors.
var (
	ErrCatalogItemNotFound = errors.New("catalog item not found")
	ErrCatalogItemNotAvail = errors.New("catalog item is not available")
	ErrSellerMismatch      = errors.New("catalog item does not belong to seller")
	ErrCartItemNotFound    = errors.New("cart item not found")
	ErrCartFull            = errors.New("cart item limit reached")
)

// ErrIdempotencyKeyReused rejects a key presented again with a different instrument or delivery.
var ErrIdempotencyKeyReused = errors.New("idempotency key already used for a different checkout request")
