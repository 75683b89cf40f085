package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/25x8/digital-storefront/internal/storefront/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryWithTxRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	user := &models.User{Login: "alice", ChatID: 1, Balance: decimal.NewFromInt(10)}
	require.NoError(t, repo.CreateUser(ctx, user))

	boom := errors.New("boom")
	err := repo.WithTx(ctx, func(tx Tx) error {
		require.NoError(t, tx.SetUserBalance(ctx, user.ID, decimal.NewFromInt(3)))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, err := repo.GetUserByID(ctx, user.ID)
	require.NoError(t, err)
	assert.True(t, got.Balance.Equal(decimal.NewFromInt(10)))

	require.NoError(t, repo.WithTx(ctx, func(tx Tx) error {
		return tx.SetUserBalance(ctx, user.ID, decimal.NewFromInt(3))
	}))
	got, err = repo.GetUserByID(ctx, user.ID)
	require.NoError(t, err)
	assert.True(t, got.Balance.Equal(decimal.NewFromInt(3)))
}

func TestMemoryBalanceEntryUniqueness(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	user := &models.User{Login: "bob", ChatID: 2}
	require.NoError(t, repo.CreateUser(ctx, user))

	orderID := int64(42)
	entry := func() *models.BalanceEntry {
		return &models.BalanceEntry{UserID: user.ID, OrderID: &orderID, Kind: models.EntryRefund, Amount: decimal.NewFromInt(1)}
	}
	require.NoError(t, repo.WithTx(ctx, func(tx Tx) error { return tx.InsertBalanceEntry(ctx, entry()) }))
	err := repo.WithTx(ctx, func(tx Tx) error { return tx.InsertBalanceEntry(ctx, entry()) })
	assert.ErrorIs(t, err, ErrAlreadyExists)

	entries, err := repo.GetBalanceEntries(ctx, user.ID)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestMemoryAssignStockPrefersPriority(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	user := &models.User{Login: "carol", ChatID: 3}
	require.NoError(t, repo.CreateUser(ctx, user))
	item := &models.Item{Title: "60 UC", Category: models.CategoryCodes, Price: decimal.NewFromInt(1), IsActive: true}
	require.NoError(t, repo.CreateItem(ctx, item))

	added, err := repo.AddStockUnits(ctx, []models.StockUnit{
		{ItemID: item.ID, Code: "AAAAAAAAAAAAAAA1"},
		{ItemID: item.ID, Code: "AAAAAAAAAAAAAAA2", IsPriority: true},
		{ItemID: item.ID, Code: "AAAAAAAAAAAAAAA1"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, added)

	var units []models.StockUnit
	require.NoError(t, repo.WithTx(ctx, func(tx Tx) error {
		order := &models.Order{UserID: user.ID, ItemID: item.ID, Category: item.Category, Quantity: 1, State: models.StatePending}
		if err := tx.CreateOrder(ctx, order); err != nil {
			return err
		}
		units, err = tx.AssignStock(ctx, item.ID, order.ID, 1)
		return err
	}))
	require.Len(t, units, 1)
	assert.Equal(t, "AAAAAAAAAAAAAAA2", units[0].Code)
}

func TestMemoryClaimJobsReclaimsExpiredLease(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	now := time.Now()

	require.NoError(t, repo.WithTx(ctx, func(tx Tx) error {
		return tx.EnqueueJob(ctx, &models.Job{Kind: models.JobKindCheckProviderStatus, OrderID: 9, RunAt: now})
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
	assert.Equal(t, claimed[0].ID, reclaimed[0].ID)

	err = repo.KillJob(ctx, claimed[0], "stale worker")
	assert.ErrorIs(t, err, ErrLeaseLost)
	err = repo.RequeueJob(ctx, claimed[0], 1, now, "stale worker")
	assert.ErrorIs(t, err, ErrLeaseLost)

	require.NoError(t, repo.CompleteJob(ctx, reclaimed[0]))
	assert.ErrorIs(t, repo.CompleteJob(ctx, reclaimed[0]), ErrLeaseLost)
	jobs, err := repo.GetJobsByOrder(ctx, 9)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, models.JobDone, jobs[0].Status)
	assert.Empty(t, jobs[0].LastError)
}
