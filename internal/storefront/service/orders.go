package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/25x8/digital-storefront/internal/storefront/metrics"
	"github.com/25x8/digital-storefront/internal/storefront/models"
	"github.com/25x8/digital-storefront/internal/storefront/repository"
	"github.com/shopspring/decimal"
)

// OrderService creates catalog orders paid from the user's balance
type OrderService struct {
	repo       repository.Repository
	ledger     Ledger
	stock      Allocator
	finalizer  *Finalizer
	dispatcher *Dispatcher
	metrics    *metrics.Metrics
}

func NewOrderService(repo repository.Repository, finalizer *Finalizer, dispatcher *Dispatcher, m *metrics.Metrics) *OrderService {
	return &OrderService{repo: repo, finalizer: finalizer, dispatcher: dispatcher, metrics: m}
}

// CreateOrder charges the user and creates the order in one transaction.
// Stockable items get their codes and are fulfilled immediately. Manual items
// stay pending until a manager completes them. referenceID is stored as the
// order's player reference when set.
func (s *OrderService) CreateOrder(ctx context.Context, userID, itemID int64, quantity int, referenceID string) (*models.Order, error) {
	var (
		order *models.Order
		item  *models.Item
		tr    models.Transition
	)
	err := s.repo.WithTx(ctx, func(tx repository.Tx) error {
		var err error
		item, err = tx.GetItem(ctx, itemID)
		if err != nil {
			return fmt.Errorf("get item %d: %w", itemID, err)
		}
		if !item.IsActive {
			return ErrItemNotActive
		}
		if item.Category.ProviderMediated() {
			return fmt.Errorf("%w: item %d is fulfilled by the provider", ErrInvalidItem, item.ID)
		}

		switch {
		case !item.Category.Stockable() && quantity != 1:
			slog.WarnContext(ctx, "forcing quantity to 1 for non-stockable item",
				"item_id", item.ID, "quantity", quantity, "user_id", userID)
			quantity = 1
		case quantity < 1:
			return fmt.Errorf("%w: quantity %d", ErrInvalidAmount, quantity)
		}

		user, err := tx.LockUser(ctx, userID)
		if err != nil {
			return fmt.Errorf("lock user %d: %w", userID, err)
		}
		price := item.Price.Mul(decimal.NewFromInt(int64(quantity)))
		if price.GreaterThan(user.Balance) {
			return fmt.Errorf("%w: balance %s, price %s", ErrInsufficientBalance, user.Balance.StringFixed(2), price.StringFixed(2))
		}

		if item.Category.Stockable() {
			available, err := s.stock.Available(ctx, tx, item)
			if err != nil {
				return err
			}
			if available < quantity {
				return &OutOfStockError{Requested: quantity, Available: available}
			}
		}

		order = &models.Order{
			UserID:        user.ID,
			ItemID:        item.ID,
			Category:      item.Category,
			Quantity:      quantity,
			Price:         price,
			Data:          item.Snapshot(),
			BalanceBefore: user.Balance,
			State:         models.StatePending,
		}
		if referenceID != "" {
			order.PlayerID = &referenceID
		}
		if err := tx.CreateOrder(ctx, order); err != nil {
			return fmt.Errorf("create order: %w", err)
		}
		if price.IsPositive() {
			if _, err := s.ledger.Debit(ctx, tx, user.ID, price, models.BalanceEntry{Kind: models.EntryPurchase, OrderID: &order.ID}); err != nil {
				return err
			}
		}

		tr = models.NoTransition(order)
		if !item.Category.Stockable() {
			return nil
		}
		if _, err := s.stock.Allocate(ctx, tx, item, order.ID, quantity); err != nil {
			return err
		}
		if tr, err = order.Fulfill(order.CreatedAt); err != nil {
			return err
		}
		return tx.UpdateOrder(ctx, order)
	})
	if err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "order created", "order_id", order.ID, "user_id", userID, "category", order.Category, "state", order.State)
	s.metrics.OrderCreated(string(order.Category))
	if item.Category.Manual() {
		s.dispatcher.ManualOrderCreated(ctx, order, item)
	}
	s.dispatcher.Dispatch(ctx, tr)
	return order, nil
}

// CompleteOrder records an operator's decision on a pending manual or
// provider order: success fulfils it, failure refunds the price. Provider
// orders end up here when polling stopped without a final status.
func (s *OrderService) CompleteOrder(ctx context.Context, orderID int64, success bool) (*models.Order, error) {
	order, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("get order %d: %w", orderID, err)
	}
	if !order.Category.Manual() && !order.Category.ProviderMediated() {
		return nil, fmt.Errorf("%w: order %d is %s", ErrNotSettleable, orderID, order.Category)
	}

	var tr models.Transition
	if success {
		tr, err = s.finalizer.Fulfill(ctx, orderID)
	} else {
		tr, err = s.finalizer.Refund(ctx, orderID)
	}
	if err != nil {
		return nil, err
	}
	if !tr.Changed() {
		return nil, fmt.Errorf("%w: order %d is already %s", models.ErrInvalidTransition, orderID, tr.To)
	}
	s.dispatcher.Dispatch(ctx, tr)
	return tr.Order, nil
}

// GetOrder returns the order if it belongs to the user.
func (s *OrderService) GetOrder(ctx context.Context, userID, orderID int64) (*models.Order, []models.StockUnit, error) {
	order, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return nil, nil, err
	}
	if order.UserID != userID {
		return nil, nil, repository.ErrNotFound
	}
	units, err := s.repo.GetOrderUnits(ctx, orderID)
	if err != nil {
		return nil, nil, err
	}
	return order, units, nil
}
