package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/25x8/digital-storefront/internal/storefront/models"
	"github.com/25x8/digital-storefront/internal/storefront/repository"
	"github.com/shopspring/decimal"
)

// TopUpService handles balance deposits
type TopUpService struct {
	repo       repository.Repository
	ledger     Ledger
	dispatcher *Dispatcher
	rubPerUSDT decimal.Decimal
	now        func() time.Time
}

func NewTopUpService(repo repository.Repository, dispatcher *Dispatcher, rubPerUSDT decimal.Decimal) *TopUpService {
	return &TopUpService{repo: repo, dispatcher: dispatcher, rubPerUSDT: rubPerUSDT, now: time.Now}
}

// Convert returns the balance credit for a deposit, rounded to cents.
func (s *TopUpService) Convert(amount decimal.Decimal, currency models.Currency) (decimal.Decimal, error) {
	switch currency {
	case models.CurrencyUSDT:
		return amount.Round(2), nil
	case models.CurrencyRUB:
		if !s.rubPerUSDT.IsPositive() {
			return decimal.Zero, fmt.Errorf("%w: no RUB exchange rate configured", ErrUnsupportedCurrency)
		}
		return amount.DivRound(s.rubPerUSDT, 2), nil
	default:
		return decimal.Zero, fmt.Errorf("%w: %q", ErrUnsupportedCurrency, currency)
	}
}

// CreateTopUp records an unpaid deposit request.
func (s *TopUpService) CreateTopUp(ctx context.Context, userID int64, amount decimal.Decimal, currency models.Currency) (*models.TopUp, error) {
	if currency == "" {
		currency = models.CurrencyUSDT
	}
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	if _, err := s.Convert(amount, currency); err != nil {
		return nil, err
	}
	topUp := &models.TopUp{UserID: userID, Amount: amount, Currency: currency}
	if err := s.repo.CreateTopUp(ctx, topUp); err != nil {
		return nil, fmt.Errorf("create top-up: %w", err)
	}
	return topUp, nil
}

// MarkPaid confirms payment and credits the converted amount. A top-up is
// credited at most once; repeated calls return it unchanged.
func (s *TopUpService) MarkPaid(ctx context.Context, topUpID int64) (*models.TopUp, error) {
	var (
		topUp    *models.TopUp
		credited bool
	)
	err := s.repo.WithTx(ctx, func(tx repository.Tx) error {
		var err error
		topUp, err = tx.LockTopUp(ctx, topUpID)
		if err != nil {
			return err
		}
		if topUp.IsTopped {
			return nil
		}
		credit, err := s.Convert(topUp.Amount, topUp.Currency)
		if err != nil {
			return err
		}
		if _, err := s.ledger.Credit(ctx, tx, topUp.UserID, credit, models.BalanceEntry{Kind: models.EntryTopUp, TopUpID: &topUp.ID}); err != nil {
			return err
		}
		now := s.now()
		topUp.IsPaid = true
		topUp.IsTopped = true
		topUp.PaidAt = &now
		topUp.CreditedAmount = &credit
		credited = true
		return tx.UpdateTopUp(ctx, topUp)
	})
	if err != nil {
		return nil, fmt.Errorf("mark top-up %d paid: %w", topUpID, err)
	}
	if credited {
		slog.InfoContext(ctx, "top-up credited", "topup_id", topUp.ID, "user_id", topUp.UserID, "amount", topUp.CreditedAmount.StringFixed(2))
		s.dispatcher.TopUpCredited(ctx, topUp)
	}
	return topUp, nil
}

// ListTopUps returns the user's deposits, newest first.
func (s *TopUpService) ListTopUps(ctx context.Context, userID int64) ([]models.TopUp, error) {
	return s.repo.GetUserTopUps(ctx, userID)
}
