package models

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// User represents a storefront customer
type User struct {
	ID           int64           `json:"id"`
	Login        string          `json:"login"`
	PasswordHash string          `json:"-"`
	ChatID       int64           `json:"chat_id"`
	Balance      decimal.Decimal `json:"balance"`
	CreatedAt    time.Time       `json:"created_at"`
}

// Category is the fulfilment kind of a catalog item
type Category string

const (
	CategoryCodes      Category = "codes"
	CategoryGiftcard   Category = "giftcard"
	CategoryFreeFire   Category = "free_fire"
	CategoryOffers     Category = "offers"
	CategoryPopularity Category = "popularity"
	CategoryHomeVote   Category = "home_vote"
	CategoryStars      Category = "stars"
)

// Stockable reports whether items of the category are fulfilled from pre-loaded codes.
func (c Category) Stockable() bool {
	return c == CategoryCodes || c == CategoryGiftcard
}

// ProviderMediated reports whether items of the category are fulfilled by the top-up provider.
func (c Category) ProviderMediated() bool {
	return c == CategoryFreeFire
}

// Manual reports whether a manager completes orders of the category by hand.
func (c Category) Manual() bool {
	switch c {
	case CategoryOffers, CategoryPopularity, CategoryHomeVote, CategoryStars:
		return true
	}
	return false
}

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	return c.Stockable() || c.ProviderMediated() || c.Manual()
}

// Item represents a purchasable catalog entry
type Item struct {
	ID             int64            `json:"id"`
	Title          string           `json:"title"`
	Category       Category         `json:"category"`
	Price          decimal.Decimal  `json:"price"`
	Amount         *int             `json:"amount,omitempty"`
	BuyingCost     *decimal.Decimal `json:"buying_cost,omitempty"`
	IsActive       bool             `json:"is_active"`
	ProviderItemID *int64           `json:"provider_item_id,omitempty"`
	ManagerChatID  *int64           `json:"manager_chat_id,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
}

// Snapshot returns the item data copied onto an order at creation time.
func (i *Item) Snapshot() json.RawMessage {
	data, err := json.Marshal(struct {
		ID             int64           `json:"id"`
		Title          string          `json:"title"`
		Category       Category        `json:"category"`
		Price          decimal.Decimal `json:"price"`
		Amount         *int            `json:"amount,omitempty"`
		ProviderItemID *int64          `json:"provider_item_id,omitempty"`
	}{i.ID, i.Title, i.Category, i.Price, i.Amount, i.ProviderItemID})
	if err != nil {
		return json.RawMessage("{}")
	}
	return data
}

// RegionPrice is the live price of a provider-mediated item in one region
type RegionPrice struct {
	ItemID     int64           `json:"item_id"`
	RegionID   int64           `json:"region_id"`
	RegionName string          `json:"region_name"`
	FinalPrice decimal.Decimal `json:"final_price"`
	IsActive   bool            `json:"is_active"`
}

// StockUnit is a single redeemable code tied to an item
type StockUnit struct {
	ID         int64            `json:"id"`
	ItemID     int64            `json:"item_id"`
	Code       string           `json:"code"`
	BuyingCost *decimal.Decimal `json:"buying_cost,omitempty"`
	IsPriority bool             `json:"is_priority"`
	OrderID    *int64           `json:"order_id,omitempty"`
	CreatedAt  time.Time        `json:"created_at"`
	AssignedAt *time.Time       `json:"assigned_at,omitempty"`
}

// EntryKind classifies a balance journal entry
type EntryKind string

const (
	EntryPurchase   EntryKind = "purchase"
	EntryRefund     EntryKind = "refund"
	EntryTopUp      EntryKind = "topup"
	EntryAdjustment EntryKind = "adjustment"
)

// BalanceEntry records one balance mutation
type BalanceEntry struct {
	ID            int64           `json:"id"`
	UserID        int64           `json:"user_id"`
	OrderID       *int64          `json:"order_id,omitempty"`
	TopUpID       *int64          `json:"topup_id,omitempty"`
	Kind          EntryKind       `json:"kind"`
	Amount        decimal.Decimal `json:"amount"` // positive = credit, negative = debit
	BalanceBefore decimal.Decimal `json:"balance_before"`
	BalanceAfter  decimal.Decimal `json:"balance_after"`
	CreatedAt     time.Time       `json:"created_at"`
}

// Currency of a balance deposit
type Currency string

const (
	CurrencyUSDT Currency = "USDT"
	CurrencyRUB  Currency = "RUB"
)

// TopUp is a balance deposit request
type TopUp struct {
	ID             int64            `json:"id"`
	UserID         int64            `json:"user_id"`
	Amount         decimal.Decimal  `json:"amount"`
	Currency       Currency         `json:"currency"`
	IsPaid         bool             `json:"is_paid"`
	IsTopped       bool             `json:"is_topped"`
	CreditedAmount *decimal.Decimal `json:"credited_amount,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
	PaidAt         *time.Time       `json:"paid_at,omitempty"`
}

// JobStatus constants for queued jobs
type JobStatus string

const (
	JobQueued  JobStatus = "queued"
	JobRunning JobStatus = "running"
	JobDone    JobStatus = "done"
	JobDead    JobStatus = "dead"
)

// JobKindCheckProviderStatus polls the provider for a pending order
const JobKindCheckProviderStatus = "check_provider_status"

// Job is a unit of delayed background work
type Job struct {
	ID          int64      `json:"id"`
	Kind        string     `json:"kind"`
	OrderID     int64      `json:"order_id"`
	Attempt     int        `json:"attempt"`
	Status      JobStatus  `json:"status"`
	RunAt       time.Time  `json:"run_at"`
	LockedUntil *time.Time `json:"locked_until,omitempty"`
	LastError   string     `json:"last_error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}
