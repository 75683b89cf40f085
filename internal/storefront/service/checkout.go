package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/25x8/digital-storefront/internal/storefront/models"
	"github.com/25x8/digital-storefront/internal/storefront/provider"
	"github.com/25x8/digital-storefront/internal/storefront/repository"
	"github.com/25x8/digital-storefront/internal/storefront/utils"
)

// PurchaseRequest is what a storefront client submits to buy an item.
// RegionID and PlayerID are used for provider-mediated items only.
type PurchaseRequest struct {
	UserID      int64
	ItemID      int64
	Quantity    int
	RegionID    int64
	PlayerID    string
	ReferenceID string
}

// Checkout routes purchases to the right order service
type Checkout struct {
	repo           repository.Repository
	gateway        provider.Gateway
	orders         *OrderService
	providerOrders *ProviderOrderService
}

func NewCheckout(repo repository.Repository, gateway provider.Gateway, orders *OrderService, providerOrders *ProviderOrderService) *Checkout {
	return &Checkout{repo: repo, gateway: gateway, orders: orders, providerOrders: providerOrders}
}

// Purchase places an order for the item.
func (c *Checkout) Purchase(ctx context.Context, req PurchaseRequest) (*models.Order, error) {
	item, err := c.repo.GetItem(ctx, req.ItemID)
	if err != nil {
		return nil, fmt.Errorf("get item %d: %w", req.ItemID, err)
	}
	if !item.Category.ProviderMediated() {
		return c.orders.CreateOrder(ctx, req.UserID, req.ItemID, req.Quantity, req.ReferenceID)
	}
	if !item.IsActive {
		return nil, ErrItemNotActive
	}

	price, err := c.repo.GetRegionPrice(ctx, req.ItemID, req.RegionID)
	if errors.Is(err, repository.ErrNotFound) || (err == nil && !price.IsActive) {
		return nil, ErrPriceUnavailable
	}
	if err != nil {
		return nil, fmt.Errorf("get region price: %w", err)
	}

	// Early rejection only; the authoritative check runs under the row lock.
	user, err := c.repo.GetUserByID(ctx, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("get user %d: %w", req.UserID, err)
	}
	if user.Balance.LessThan(price.FinalPrice) {
		return nil, ErrInsufficientBalance
	}

	req.PlayerID = strings.TrimSpace(req.PlayerID)
	info, err := c.CheckPlayer(ctx, req.PlayerID)
	if err != nil {
		return nil, err
	}
	if !strings.EqualFold(info.Region, price.RegionName) {
		return nil, fmt.Errorf("%w: account region is %q, selected %q", ErrRegionMismatch, info.Region, price.RegionName)
	}

	return c.providerOrders.CreateProviderOrder(ctx, ProviderOrderRequest{
		UserID:     req.UserID,
		ItemID:     req.ItemID,
		RegionID:   req.RegionID,
		PlayerID:   req.PlayerID,
		PlayerName: info.PlayerName,
		Price:      price.FinalPrice,
	})
}

// CheckPlayer looks the player up with the provider.
func (c *Checkout) CheckPlayer(ctx context.Context, playerID string) (*provider.PlayerInfo, error) {
	playerID = strings.TrimSpace(playerID)
	if !utils.IsNumeric(playerID) {
		return nil, ErrInvalidPlayerID
	}
	info, err := c.gateway.GetPlayerInfo(ctx, playerID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	if info == nil {
		return nil, ErrPlayerNotFound
	}
	return info, nil
}
