package service

import (
	"errors"
	"fmt"
)

var (
	ErrItemNotActive       = errors.New("item is not available for purchase")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrOutOfStock          = errors.New("not enough stock")
	ErrProviderUnavailable = errors.New("top-up provider unavailable")
	ErrMaxRetriesExceeded  = errors.New("max retries exceeded")
	ErrPlayerNotFound      = errors.New("player not found")
	ErrRegionMismatch      = errors.New("player region does not match selected region")
	ErrInvalidPlayerID     = errors.New("player id must contain digits only")
	ErrPriceUnavailable    = errors.New("no active price for region")
	ErrInvalidAmount       = errors.New("amount must be positive")
	ErrInvalidItem         = errors.New("invalid item")
	ErrInvalidCode         = errors.New("invalid code")
	ErrNotSettleable       = errors.New("order cannot be settled by an operator")
	ErrUnsupportedCurrency = errors.New("unsupported currency")
)

// OutOfStockError reports how many units were left when an allocation failed.
// It matches ErrOutOfStock with errors.Is.
type OutOfStockError struct {
	Requested int
	Available int
}

func (e *OutOfStockError) Error() string {
	return fmt.Sprintf("not enough stock: requested %d, available %d", e.Requested, e.Available)
}

func (e *OutOfStockError) Is(target error) bool {
	return target == ErrOutOfStock
}
