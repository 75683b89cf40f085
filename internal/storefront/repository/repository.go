package repository

import (
	"context"
	"errors"
	"time"

	"github.com/25x8/digital-storefront/internal/storefront/models"
	"github.com/shopspring/decimal"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	// ErrLeaseLost means the job was reclaimed after the caller's lease expired.
	ErrLeaseLost     = errors.New("job lease lost")
)

// Repository defines the interface for data access operations
type Repository interface {
	// WithTx runs fn inside one transaction. The transaction commits when fn
	// returns nil and rolls back otherwise.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	// User operations
	CreateUser(ctx context.Context, user *models.User) error
	GetUserByLogin(ctx context.Context, login string) (*models.User, error)
	GetUserByID(ctx context.Context, id int64) (*models.User, error)

	// Catalog operations
	CreateItem(ctx context.Context, item *models.Item) error
	GetItem(ctx context.Context, id int64) (*models.Item, error)
	SetItemActive(ctx context.Context, id int64, active bool) error
	SetRegionPrice(ctx context.Context, price models.RegionPrice) error
	GetRegionPrice(ctx context.Context, itemID, regionID int64) (*models.RegionPrice, error)
	AddStockUnits(ctx context.Context, units []models.StockUnit) (int, error)

	// Order operations
	GetOrder(ctx context.Context, id int64) (*models.Order, error)
	GetUserOrders(ctx context.Context, userID int64) ([]models.Order, error)
	GetOrderUnits(ctx context.Context, orderID int64) ([]models.StockUnit, error)
	GetBalanceEntries(ctx context.Context, userID int64) ([]models.BalanceEntry, error)

	// Top-up operations
	CreateTopUp(ctx context.Context, topUp *models.TopUp) error
	GetTopUp(ctx context.Context, id int64) (*models.TopUp, error)
	GetUserTopUps(ctx context.Context, userID int64) ([]models.TopUp, error)

	// Job queue operations. Requeue, Complete and Kill take the job as returned
	// by ClaimJobs and fail with ErrLeaseLost once another claim owns it.
	ClaimJobs(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]models.Job, error)
	RequeueJob(ctx context.Context, job models.Job, attempt int, runAt time.Time, lastErr string) error
	CompleteJob(ctx context.Context, job models.Job) error
	KillJob(ctx context.Context, job models.Job, reason string) error
	GetJobsByOrder(ctx context.Context, orderID int64) ([]models.Job, error)

	// Initialize and close
	InitDB(databaseURI string) error
	Close() error
}

// Tx holds the operations that must run under one transaction.
// Lock* methods take an exclusive row lock held until the transaction ends.
type Tx interface {
	LockUser(ctx context.Context, id int64) (*models.User, error)
	SetUserBalance(ctx context.Context, userID int64, balance decimal.Decimal) error
	InsertBalanceEntry(ctx context.Context, entry *models.BalanceEntry) error

	GetItem(ctx context.Context, id int64) (*models.Item, error)
	CountAvailableStock(ctx context.Context, itemID int64) (int, error)
	// AssignStock claims up to quantity unassigned units of the item for the order.
	AssignStock(ctx context.Context, itemID, orderID int64, quantity int) ([]models.StockUnit, error)

	CreateOrder(ctx context.Context, order *models.Order) error
	LockOrder(ctx context.Context, id int64) (*models.Order, error)
	UpdateOrder(ctx context.Context, order *models.Order) error

	LockTopUp(ctx context.Context, id int64) (*models.TopUp, error)
	UpdateTopUp(ctx context.Context, topUp *models.TopUp) error

	EnqueueJob(ctx context.Context, job *models.Job) error
}
