package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/25x8/digital-storefront/internal/storefront/models"
	"github.com/25x8/digital-storefront/internal/storefront/repository"
)

// Finalizer moves pending orders to a terminal state under the order row lock.
// An order that is already terminal is left alone and reported as a no-op.
type Finalizer struct {
	repo   repository.Repository
	ledger Ledger
	now    func() time.Time
}

func NewFinalizer(repo repository.Repository) *Finalizer {
	return &Finalizer{repo: repo, now: time.Now}
}

// Fulfill marks the order fulfilled.
func (f *Finalizer) Fulfill(ctx context.Context, orderID int64) (models.Transition, error) {
	var tr models.Transition
	err := f.repo.WithTx(ctx, func(tx repository.Tx) error {
		order, err := tx.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		tr, err = order.Fulfill(f.now())
		if errors.Is(err, models.ErrInvalidTransition) {
			return nil
		}
		if err != nil {
			return err
		}
		return tx.UpdateOrder(ctx, order)
	})
	if err != nil {
		return models.Transition{}, fmt.Errorf("fulfil order %d: %w", orderID, err)
	}
	return tr, nil
}

// Refund marks the order refunded and credits its price back in the same
// transaction. The journal allows one refund entry per order.
func (f *Finalizer) Refund(ctx context.Context, orderID int64) (models.Transition, error) {
	var tr models.Transition
	err := f.repo.WithTx(ctx, func(tx repository.Tx) error {
		order, err := tx.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		tr, err = order.Refund(f.now())
		if errors.Is(err, models.ErrInvalidTransition) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := tx.UpdateOrder(ctx, order); err != nil {
			return err
		}
		if !order.Price.IsPositive() {
			return nil
		}
		_, err = f.ledger.Credit(ctx, tx, order.UserID, order.Price, models.BalanceEntry{
			Kind:    models.EntryRefund,
			OrderID: &order.ID,
		})
		return err
	})
	if err != nil {
		return models.Transition{}, fmt.Errorf("refund order %d: %w", orderID, err)
	}
	return tr, nil
}
