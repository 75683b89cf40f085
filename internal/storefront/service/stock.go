package service

import (
	"context"
	"fmt"

	"github.com/25x8/digital-storefront/internal/storefront/models"
	"github.com/25x8/digital-storefront/internal/storefront/repository"
)

// Allocator hands pre-loaded codes to orders.
type Allocator struct{}

// Available counts unassigned units of a stockable item. It must be read in
// the same transaction as the allocation that depends on it.
func (Allocator) Available(ctx context.Context, tx repository.Tx, item *models.Item) (int, error) {
	if !item.Category.Stockable() {
		return 0, fmt.Errorf("%w: item %d is not stockable", ErrInvalidItem, item.ID)
	}
	return tx.CountAvailableStock(ctx, item.ID)
}

// Allocate assigns quantity units of item to the order, priority units first.
// On a shortfall it returns *OutOfStockError and the caller must roll back.
func (Allocator) Allocate(ctx context.Context, tx repository.Tx, item *models.Item, orderID int64, quantity int) ([]models.StockUnit, error) {
	if !item.Category.Stockable() {
		return nil, fmt.Errorf("%w: item %d is not stockable", ErrInvalidItem, item.ID)
	}
	units, err := tx.AssignStock(ctx, item.ID, orderID, quantity)
	if err != nil {
		return nil, fmt.Errorf("assign stock: %w", err)
	}
	if len(units) < quantity {
		return nil, &OutOfStockError{Requested: quantity, Available: len(units)}
	}
	return units, nil
}
