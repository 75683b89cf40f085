package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/25x8/digital-storefront/internal/storefront/metrics"
	"github.com/25x8/digital-storefront/internal/storefront/models"
	"github.com/25x8/digital-storefront/internal/storefront/provider"
	"github.com/25x8/digital-storefront/internal/storefront/repository"
	"github.com/shopspring/decimal"
)

// ProviderOrderRequest is a confirmed purchase of a provider-mediated item
type ProviderOrderRequest struct {
	UserID     int64
	ItemID     int64
	RegionID   int64
	PlayerID   string
	PlayerName string
	Price      decimal.Decimal
}

// ProviderOrderService places top-ups with the external provider
type ProviderOrderService struct {
	repo         repository.Repository
	gateway      provider.Gateway
	scheduler    *Scheduler
	ledger       Ledger
	initialDelay time.Duration
	metrics      *metrics.Metrics
}

func NewProviderOrderService(repo repository.Repository, gateway provider.Gateway, scheduler *Scheduler, initialDelay time.Duration, m *metrics.Metrics) *ProviderOrderService {
	if initialDelay <= 0 {
		initialDelay = 30 * time.Second
	}
	return &ProviderOrderService{
		repo:         repo,
		gateway:      gateway,
		scheduler:    scheduler,
		initialDelay: initialDelay,
		metrics:      m,
	}
}

// CreateProviderOrder debits the user, creates the pending order, starts the
// top-up and schedules the first status poll, all in one transaction. If the
// provider does not accept the top-up nothing is persisted.
func (s *ProviderOrderService) CreateProviderOrder(ctx context.Context, req ProviderOrderRequest) (*models.Order, error) {
	if !req.Price.IsPositive() {
		return nil, ErrInvalidAmount
	}

	var order *models.Order
	err := s.repo.WithTx(ctx, func(tx repository.Tx) error {
		item, err := tx.GetItem(ctx, req.ItemID)
		if err != nil {
			return fmt.Errorf("get item %d: %w", req.ItemID, err)
		}
		if !item.IsActive {
			return ErrItemNotActive
		}
		if !item.Category.ProviderMediated() || item.ProviderItemID == nil {
			return fmt.Errorf("%w: item %d has no provider offer", ErrInvalidItem, item.ID)
		}

		user, err := tx.LockUser(ctx, req.UserID)
		if err != nil {
			return fmt.Errorf("lock user %d: %w", req.UserID, err)
		}
		if user.Balance.LessThan(req.Price) {
			slog.ErrorContext(ctx, "balance check failed inside transaction", "user_id", user.ID)
			return fmt.Errorf("%w: balance %s, price %s", ErrInsufficientBalance, user.Balance.StringFixed(2), req.Price.StringFixed(2))
		}

		playerID, playerName := req.PlayerID, req.PlayerName
		order = &models.Order{
			UserID:        user.ID,
			ItemID:        item.ID,
			Category:      item.Category,
			Quantity:      1,
			Price:         req.Price,
			Data:          item.Snapshot(),
			BalanceBefore: user.Balance,
			PlayerID:      &playerID,
			PlayerName:    &playerName,
			State:         models.StatePending,
		}
		if err := tx.CreateOrder(ctx, order); err != nil {
			return fmt.Errorf("create order: %w", err)
		}
		if _, err := s.ledger.Debit(ctx, tx, user.ID, req.Price, models.BalanceEntry{Kind: models.EntryPurchase, OrderID: &order.ID}); err != nil {
			return err
		}

		trxID, err := s.gateway.CreateTopUp(ctx, playerID, *item.ProviderItemID)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
		}
		if trxID == "" {
			return fmt.Errorf("%w: top-up for order %d was declined", ErrProviderUnavailable, order.ID)
		}

		order.ProviderTransactionID = &trxID
		if err := tx.UpdateOrder(ctx, order); err != nil {
			return fmt.Errorf("save transaction id: %w", err)
		}
		_, err = s.scheduler.Schedule(ctx, tx, models.JobKindCheckProviderStatus, order.ID, s.initialDelay)
		return err
	})
	if err != nil {
		slog.ErrorContext(ctx, "provider order not created", "user_id", req.UserID, "item_id", req.ItemID, "error", err)
		return nil, err
	}

	slog.InfoContext(ctx, "provider order created", "order_id", order.ID, "trx_id", *order.ProviderTransactionID)
	s.metrics.OrderCreated(string(order.Category))
	return order, nil
}

// Recheck queues an immediate status poll for a pending provider order, for
// orders whose polling stopped (for example on NO_BALANCE).
func (s *ProviderOrderService) Recheck(ctx context.Context, orderID int64) (*models.Job, error) {
	var job *models.Job
	err := s.repo.WithTx(ctx, func(tx repository.Tx) error {
		order, err := tx.LockOrder(ctx, orderID)
		if err != nil {
			return fmt.Errorf("lock order %d: %w", orderID, err)
		}
		if !order.Category.ProviderMediated() || order.ProviderTransactionID == nil {
			return fmt.Errorf("%w: order %d has no provider transaction", ErrNotSettleable, orderID)
		}
		if order.State.Terminal() {
			return fmt.Errorf("%w: order %d is already %s", models.ErrInvalidTransition, orderID, order.State)
		}
		job, err = s.scheduler.Schedule(ctx, tx, models.JobKindCheckProviderStatus, orderID, 0)
		return err
	})
	if err != nil {
		return nil, err
	}
	slog.InfoContext(ctx, "provider status recheck queued", "order_id", orderID, "job_id", job.ID)
	return job, nil
}
