package service

import (
	"context"
	"fmt"

	"github.com/25x8/digital-storefront/internal/storefront/models"
	"github.com/25x8/digital-storefront/internal/storefront/repository"
	"github.com/shopspring/decimal"
)

// Ledger moves money on user balances. Every mutation re-reads the user under
// a row lock and writes a journal entry in the caller's transaction.
type Ledger struct{}

// Debit takes amount from the user's balance. ref carries the entry kind and the
// order or top-up reference.
func (Ledger) Debit(ctx context.Context, tx repository.Tx, userID int64, amount decimal.Decimal, ref models.BalanceEntry) (*models.User, error) {
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	user, err := tx.LockUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("lock user %d: %w", userID, err)
	}
	if amount.GreaterThan(user.Balance) {
		return nil, fmt.Errorf("%w: balance %s, need %s", ErrInsufficientBalance, user.Balance.StringFixed(2), amount.StringFixed(2))
	}
	return apply(ctx, tx, user, amount.Neg(), ref)
}

// Credit adds amount to the user's balance.
func (Ledger) Credit(ctx context.Context, tx repository.Tx, userID int64, amount decimal.Decimal, ref models.BalanceEntry) (*models.User, error) {
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	user, err := tx.LockUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("lock user %d: %w", userID, err)
	}
	return apply(ctx, tx, user, amount, ref)
}

func apply(ctx context.Context, tx repository.Tx, user *models.User, delta decimal.Decimal, ref models.BalanceEntry) (*models.User, error) {
	before := user.Balance
	after := before.Add(delta)

	entry := ref
	entry.UserID = user.ID
	entry.Amount = delta
	entry.BalanceBefore = before
	entry.BalanceAfter = after
	if err := tx.InsertBalanceEntry(ctx, &entry); err != nil {
		return nil, fmt.Errorf("journal %s entry: %w", entry.Kind, err)
	}
	if err := tx.SetUserBalance(ctx, user.ID, after); err != nil {
		return nil, fmt.Errorf("set balance: %w", err)
	}
	user.Balance = after
	return user, nil
}
