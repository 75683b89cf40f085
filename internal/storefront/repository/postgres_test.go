package repository

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/25x8/digital-storefront/internal/storefront/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestPostgres connects to STOREFRONT_TEST_DATABASE_URI and empties every table.
// Tests are skipped when it is not set.
func newTestPostgres(t *testing.T) *PostgresRepository {
	t.Helper()
	uri := os.Getenv("STOREFRONT_TEST_DATABASE_URI")
	if uri == "" {
		t.Skip("STOREFRONT_TEST_DATABASE_URI is not set")
	}
	repo := NewPostgresRepository()
	require.NoError(t, repo.InitDB(uri))
	t.Cleanup(func() { repo.Close() })

	_, err := repo.db.Exec(`TRUNCATE jobs, balance_entries, topups, stock_units, orders, region_prices, items, users RESTART IDENTITY CASCADE`)
	require.NoError(t, err)
	return repo
}

func seedCatalog(t *testing.T, repo Repository) (*models.User, *models.Item) {
	t.Helper()
	ctx := context.Background()
	user := &models.User{Login: "alice", PasswordHash: "x", ChatID: 1, Balance: decimal.NewFromInt(10)}
	require.NoError(t, repo.CreateUser(ctx, user))
	item := &models.Item{Title: "60 UC", Category: models.CategoryCodes, Price: decimal.NewFromInt(1), IsActive: true}
	require.NoError(t, repo.CreateItem(ctx, item))
	return user, item
}

func createPendingOrder(ctx context.Context, tx Tx, user *models.User, item *models.Item) (*models.Order, error) {
	order := &models.Order{
		UserID:   user.ID,
		ItemID:   item.ID,
		Category: item.Category,
		Quantity: 1,
		Price:    item.Price,
		Data:     item.Snapshot(),
		State:    models.StatePending,
	}
	return order, tx.CreateOrder(ctx, order)
}

func TestPostgresUniqueAndRollback(t *testing.T) {
	ctx := context.Background()
	repo := newTestPostgres(t)
	user, _ := seedCatalog(t, repo)

	err := repo.CreateUser(ctx, &models.User{Login: "alice", PasswordHash: "x", ChatID: 2})
	assert.ErrorIs(t, err, ErrAlreadyExists)

	err = repo.WithTx(ctx, func(tx Tx) error {
		if err := tx.SetUserBalance(ctx, user.ID, decimal.NewFromInt(3)); err != nil {
			return err
		}
		return ErrNotFound
	})
	assert.ErrorIs(t, err, ErrNotFound)

	got, err := repo.GetUserByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "10.00", got.Balance.StringFixed(2))
}

func TestPostgresRefundEntryIsUnique(t *testing.T) {
	ctx := context.Background()
	repo := newTestPostgres(t)
	user, item := seedCatalog(t, repo)

	var order *models.Order
	require.NoError(t, repo.WithTx(ctx, func(tx Tx) error {
		var err error
		order, err = createPendingOrder(ctx, tx, user, item)
		return err
	}))

	refund := func(tx Tx) error {
		return tx.InsertBalanceEntry(ctx, &models.BalanceEntry{
			UserID: user.ID, OrderID: &order.ID, Kind: models.EntryRefund,
			Amount: decimal.NewFromInt(1), BalanceBefore: decimal.NewFromInt(10), BalanceAfter: decimal.NewFromInt(11),
		})
	}
	require.NoError(t, repo.WithTx(ctx, refund))
	assert.ErrorIs(t, repo.WithTx(ctx, refund), ErrAlreadyExists)
}

func TestPostgresAssignStockSkipsLockedUnits(t *testing.T) {
	ctx := context.Background()
	repo := newTestPostgres(t)
	user, item := seedCatalog(t, repo)

	added, err := repo.AddStockUnits(ctx, []models.StockUnit{
		{ItemID: item.ID, Code: "AAAAAAAAAAAAAAA1"},
		{ItemID: item.ID, Code: "AAAAAAAAAAAAAAA2", IsPriority: true},
	})
	require.NoError(t, err)
	require.Equal(t, 2, added)

	holding := make(chan struct{})
	release := make(chan struct{})
	firstDone := make(chan error, 1)
	var first []models.StockUnit
	go func() {
		firstDone <- repo.WithTx(ctx, func(tx Tx) error {
			order, err := createPendingOrder(ctx, tx, user, item)
			if err != nil {
				return err
			}
			if first, err = tx.AssignStock(ctx, item.ID, order.ID, 1); err != nil {
				return err
			}
			close(holding)
			<-release
			return nil
		})
	}()
	<-holding

	// The second claim must not wait on the first transaction's row lock.
	secondCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	var second []models.StockUnit
	err = repo.WithTx(secondCtx, func(tx Tx) error {
		order, err := createPendingOrder(secondCtx, tx, user, item)
		if err != nil {
			return err
		}
		second, err = tx.AssignStock(secondCtx, item.ID, order.ID, 1)
		return err
	})
	close(release)
	require.NoError(t, err)
	require.NoError(t, <-firstDone)

	require.Len(t, first, 1)
	require.Len(t, second, 1)
	assert.Equal(t, "AAAAAAAAAAAAAAA2", first[0].Code)
	assert.Equal(t, "AAAAAAAAAAAAAAA1", second[0].Code)
}

func TestPostgresJobLease(t *testing.T) {
	ctx := context.Background()
	repo := newTestPostgres(t)
	user, item := seedCatalog(t, repo)

	now := time.Now()
	var order *models.Order
	require.NoError(t, repo.WithTx(ctx, func(tx Tx) error {
		var err error
		if order, err = createPendingOrder(ctx, tx, user, item); err != nil {
			return err
		}
		return tx.EnqueueJob(ctx, &models.Job{Kind: models.JobKindCheckProviderStatus, OrderID: order.ID, Status: models.JobQueued, RunAt: now})
	}))

	claimed, err := repo.ClaimJobs(ctx, now, time.Minute, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	again, err := repo.ClaimJobs(ctx, now.Add(30*time.Second), time.Minute, 10)
	require.NoError(t, err)
	assert.Empty(t, again)

	reclaimed, err := repo.ClaimJobs(ctx, now.Add(2*time.Minute), time.Minute, 10)
	require.NoError(t, err)
	require.Len(t, reclaimed, 1)

	assert.ErrorIs(t, repo.CompleteJob(ctx, claimed[0]), ErrLeaseLost)
	require.NoError(t, repo.RequeueJob(ctx, reclaimed[0], 1, now.Add(time.Hour), "processing"))

	jobs, err := repo.GetJobsByOrder(ctx, order.ID)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, models.JobQueued, jobs[0].Status)
	assert.Equal(t, 1, jobs[0].Attempt)
	assert.Nil(t, jobs[0].LockedUntil)
}
