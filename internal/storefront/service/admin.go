package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/25x8/digital-storefront/internal/storefront/models"
	"github.com/25x8/digital-storefront/internal/storefront/repository"
	"github.com/25x8/digital-storefront/internal/storefront/utils"
	"github.com/shopspring/decimal"
)

// AdminService covers inventory and balance operations for the admin console
type AdminService struct {
	repo   repository.Repository
	ledger Ledger
}

func NewAdminService(repo repository.Repository) *AdminService {
	return &AdminService{repo: repo}
}

func (s *AdminService) CreateItem(ctx context.Context, item *models.Item) error {
	if item.Title == "" || !item.Category.Valid() {
		return fmt.Errorf("%w: title and a known category are required", ErrInvalidItem)
	}
	if item.Price.IsNegative() {
		return fmt.Errorf("%w: negative price", ErrInvalidItem)
	}
	if item.Category.ProviderMediated() && item.ProviderItemID == nil {
		return fmt.Errorf("%w: provider item id is required for %s", ErrInvalidItem, item.Category)
	}
	return s.repo.CreateItem(ctx, item)
}

func (s *AdminService) SetItemActive(ctx context.Context, itemID int64, active bool) error {
	return s.repo.SetItemActive(ctx, itemID, active)
}

func (s *AdminService) SetRegionPrice(ctx context.Context, price models.RegionPrice) error {
	if !price.FinalPrice.IsPositive() || price.RegionName == "" {
		return fmt.Errorf("%w: region name and a positive price are required", ErrInvalidItem)
	}
	item, err := s.repo.GetItem(ctx, price.ItemID)
	if err != nil {
		return err
	}
	if !item.Category.ProviderMediated() {
		return fmt.Errorf("%w: item %d has no region prices", ErrInvalidItem, item.ID)
	}
	return s.repo.SetRegionPrice(ctx, price)
}

// CodeImport is a batch of codes pasted by an admin
type CodeImport struct {
	ItemID     int64
	Codes      []string
	BuyingCost *decimal.Decimal
	IsPriority bool
}

// ImportResult counts imported and duplicate codes
type ImportResult struct {
	Added      int `json:"added"`
	Duplicates int `json:"duplicates"`
}

// ImportCodes loads codes into stock. For the codes category every code must be
// at least utils.MinCodeLength alphanumeric characters; one bad code rejects the batch.
func (s *AdminService) ImportCodes(ctx context.Context, in CodeImport) (*ImportResult, error) {
	item, err := s.repo.GetItem(ctx, in.ItemID)
	if err != nil {
		return nil, err
	}
	if !item.Category.Stockable() {
		return nil, fmt.Errorf("%w: item %d is not stockable", ErrInvalidItem, item.ID)
	}
	if len(in.Codes) == 0 {
		return nil, fmt.Errorf("%w: no codes", ErrInvalidCode)
	}

	units := make([]models.StockUnit, 0, len(in.Codes))
	for _, code := range in.Codes {
		if item.Category == models.CategoryCodes && !utils.ValidateCode(code) {
			return nil, fmt.Errorf("%w: %q", ErrInvalidCode, code)
		}
		units = append(units, models.StockUnit{
			ItemID:     item.ID,
			Code:       code,
			BuyingCost: in.BuyingCost,
			IsPriority: in.IsPriority,
		})
	}
	added, err := s.repo.AddStockUnits(ctx, units)
	if err != nil {
		return nil, fmt.Errorf("import codes: %w", err)
	}
	slog.InfoContext(ctx, "codes imported", "item_id", item.ID, "added", added, "duplicates", len(units)-added)
	return &ImportResult{Added: added, Duplicates: len(units) - added}, nil
}

// AdjustBalance credits (positive amount) or debits (negative amount) a user
// outside of any order, journaled as an adjustment.
func (s *AdminService) AdjustBalance(ctx context.Context, userID int64, amount decimal.Decimal) (*models.User, error) {
	if amount.IsZero() {
		return nil, ErrInvalidAmount
	}
	var user *models.User
	err := s.repo.WithTx(ctx, func(tx repository.Tx) error {
		var err error
		ref := models.BalanceEntry{Kind: models.EntryAdjustment}
		if amount.IsPositive() {
			user, err = s.ledger.Credit(ctx, tx, userID, amount, ref)
		} else {
			user, err = s.ledger.Debit(ctx, tx, userID, amount.Neg(), ref)
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("adjust balance of user %d: %w", userID, err)
	}
	slog.InfoContext(ctx, "balance adjusted", "user_id", userID, "amount", amount.StringFixed(2), "balance", user.Balance.StringFixed(2))
	return user, nil
}
