package repository

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/25x8/digital-storefront/internal/storefront/models"
	"github.com/shopspring/decimal"
)

// MemoryRepository keeps everything in process memory.
// Transactions are serialized by one mutex and work on a copy of the state,
// which replaces the live state only on commit.
type MemoryRepository struct {
	mu    sync.Mutex
	state *memState
	now   func() time.Time
}

var _ Repository = (*MemoryRepository)(nil)

type regionKey struct {
	itemID, regionID int64
}

type memState struct {
	users        map[int64]models.User
	items        map[int64]models.Item
	regionPrices map[regionKey]models.RegionPrice
	units        map[int64]models.StockUnit
	orders       map[int64]models.Order
	entries      []models.BalanceEntry
	topUps       map[int64]models.TopUp
	jobs         map[int64]models.Job
	lastID       int64
}

func newMemState() *memState {
	return &memState{
		users:        make(map[int64]models.User),
		items:        make(map[int64]models.Item),
		regionPrices: make(map[regionKey]models.RegionPrice),
		units:        make(map[int64]models.StockUnit),
		orders:       make(map[int64]models.Order),
		topUps:       make(map[int64]models.TopUp),
		jobs:         make(map[int64]models.Job),
	}
}

func copyMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// clone copies the maps. Stored values are treated as immutable, so a
// shallow copy of each value is enough.
func (s *memState) clone() *memState {
	return &memState{
		users:        copyMap(s.users),
		items:        copyMap(s.items),
		regionPrices: copyMap(s.regionPrices),
		units:        copyMap(s.units),
		orders:       copyMap(s.orders),
		entries:      append([]models.BalanceEntry(nil), s.entries...),
		topUps:       copyMap(s.topUps),
		jobs:         copyMap(s.jobs),
		lastID:       s.lastID,
	}
}

func (s *memState) nextID() int64 {
	s.lastID++
	return s.lastID
}

// NewMemoryRepository creates an empty in-memory repository
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{state: newMemState(), now: time.Now}
}

func (r *MemoryRepository) InitDB(string) error { return nil }

func (r *MemoryRepository) Close() error { return nil }

// WithTx runs fn on a copy of the state under the repository lock. Every other
// call waits while fn runs, including any network call fn makes.
func (r *MemoryRepository) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	working := r.state.clone()
	if err := fn(&memoryTx{s: working, now: r.now}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	r.state = working
	return nil
}

func (r *MemoryRepository) read() (*memState, func()) {
	r.mu.Lock()
	return r.state, r.mu.Unlock
}

// User repository methods

func (r *MemoryRepository) CreateUser(_ context.Context, user *models.User) error {
	s, unlock := r.read()
	defer unlock()
	for _, u := range s.users {
		if u.Login == user.Login || u.ChatID == user.ChatID {
			return ErrAlreadyExists
		}
	}
	user.ID = s.nextID()
	user.CreatedAt = r.now()
	s.users[user.ID] = *user
	return nil
}

func (r *MemoryRepository) GetUserByLogin(_ context.Context, login string) (*models.User, error) {
	s, unlock := r.read()
	defer unlock()
	for _, u := range s.users {
		if u.Login == login {
			return &u, nil
		}
	}
	return nil, ErrNotFound
}

func (r *MemoryRepository) GetUserByID(_ context.Context, id int64) (*models.User, error) {
	s, unlock := r.read()
	defer unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &u, nil
}

// Catalog repository methods

func (r *MemoryRepository) CreateItem(_ context.Context, item *models.Item) error {
	s, unlock := r.read()
	defer unlock()
	if item.ProviderItemID != nil {
		for _, it := range s.items {
			if it.ProviderItemID != nil && *it.ProviderItemID == *item.ProviderItemID {
				return ErrAlreadyExists
			}
		}
	}
	item.ID = s.nextID()
	item.CreatedAt = r.now()
	s.items[item.ID] = *item
	return nil
}

func (r *MemoryRepository) GetItem(_ context.Context, id int64) (*models.Item, error) {
	s, unlock := r.read()
	defer unlock()
	it, ok := s.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &it, nil
}

func (r *MemoryRepository) SetItemActive(_ context.Context, id int64, active bool) error {
	s, unlock := r.read()
	defer unlock()
	it, ok := s.items[id]
	if !ok {
		return ErrNotFound
	}
	it.IsActive = active
	s.items[id] = it
	return nil
}

func (r *MemoryRepository) SetRegionPrice(_ context.Context, price models.RegionPrice) error {
	s, unlock := r.read()
	defer unlock()
	if _, ok := s.items[price.ItemID]; !ok {
		return ErrNotFound
	}
	s.regionPrices[regionKey{price.ItemID, price.RegionID}] = price
	return nil
}

func (r *MemoryRepository) GetRegionPrice(_ context.Context, itemID, regionID int64) (*models.RegionPrice, error) {
	s, unlock := r.read()
	defer unlock()
	p, ok := s.regionPrices[regionKey{itemID, regionID}]
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}

func (r *MemoryRepository) AddStockUnits(_ context.Context, units []models.StockUnit) (int, error) {
	s, unlock := r.read()
	defer unlock()
	existing := make(map[string]bool)
	for _, u := range s.units {
		existing[unitKey(u.ItemID, u.Code)] = true
	}
	var added int
	for _, u := range units {
		if _, ok := s.items[u.ItemID]; !ok {
			return added, ErrNotFound
		}
		key := unitKey(u.ItemID, u.Code)
		if existing[key] {
			continue
		}
		existing[key] = true
		u.ID = s.nextID()
		u.CreatedAt = r.now()
		u.OrderID = nil
		u.AssignedAt = nil
		s.units[u.ID] = u
		added++
	}
	return added, nil
}

func unitKey(itemID int64, code string) string {
	return strconv.FormatInt(itemID, 10) + "\x00" + code
}

// Order repository methods

func (r *MemoryRepository) GetOrder(_ context.Context, id int64) (*models.Order, error) {
	s, unlock := r.read()
	defer unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &o, nil
}

func (r *MemoryRepository) GetUserOrders(_ context.Context, userID int64) ([]models.Order, error) {
	s, unlock := r.read()
	defer unlock()
	var orders []models.Order
	for _, o := range s.orders {
		if o.UserID == userID {
			orders = append(orders, o)
		}
	}
	sort.Slice(orders, func(i, j int) bool { return orders[i].ID > orders[j].ID })
	return orders, nil
}

func (r *MemoryRepository) GetOrderUnits(_ context.Context, orderID int64) ([]models.StockUnit, error) {
	s, unlock := r.read()
	defer unlock()
	var units []models.StockUnit
	for _, u := range s.units {
		if u.OrderID != nil && *u.OrderID == orderID {
			units = append(units, u)
		}
	}
	sort.Slice(units, func(i, j int) bool { return units[i].ID < units[j].ID })
	return units, nil
}

func (r *MemoryRepository) GetBalanceEntries(_ context.Context, userID int64) ([]models.BalanceEntry, error) {
	s, unlock := r.read()
	defer unlock()
	var entries []models.BalanceEntry
	for _, e := range s.entries {
		if e.UserID == userID {
			entries = append(entries, e)
		}
	}
	return entries, nil
}

// Top-up repository methods

func (r *MemoryRepository) CreateTopUp(_ context.Context, topUp *models.TopUp) error {
	s, unlock := r.read()
	defer unlock()
	if _, ok := s.users[topUp.UserID]; !ok {
		return ErrNotFound
	}
	topUp.ID = s.nextID()
	topUp.CreatedAt = r.now()
	s.topUps[topUp.ID] = *topUp
	return nil
}

func (r *MemoryRepository) GetTopUp(_ context.Context, id int64) (*models.TopUp, error) {
	s, unlock := r.read()
	defer unlock()
	t, ok := s.topUps[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &t, nil
}

func (r *MemoryRepository) GetUserTopUps(_ context.Context, userID int64) ([]models.TopUp, error) {
	s, unlock := r.read()
	defer unlock()
	var topUps []models.TopUp
	for _, t := range s.topUps {
		if t.UserID == userID {
			topUps = append(topUps, t)
		}
	}
	sort.Slice(topUps, func(i, j int) bool { return topUps[i].ID > topUps[j].ID })
	return topUps, nil
}

// Job queue methods

func (r *MemoryRepository) ClaimJobs(_ context.Context, now time.Time, lease time.Duration, limit int) ([]models.Job, error) {
	s, unlock := r.read()
	defer unlock()
	var due []models.Job
	for _, j := range s.jobs {
		queuedDue := j.Status == models.JobQueued && !j.RunAt.After(now)
		leaseExpired := j.Status == models.JobRunning && j.LockedUntil != nil && j.LockedUntil.Before(now)
		if queuedDue || leaseExpired {
			due = append(due, j)
		}
	}
	sort.Slice(due, func(i, k int) bool {
		if due[i].RunAt.Equal(due[k].RunAt) {
			return due[i].ID < due[k].ID
		}
		return due[i].RunAt.Before(due[k].RunAt)
	})
	if len(due) > limit {
		due = due[:limit]
	}
	lockedUntil := now.Add(lease)
	for i := range due {
		due[i].Status = models.JobRunning
		due[i].LockedUntil = &lockedUntil
		s.jobs[due[i].ID] = due[i]
	}
	return due, nil
}

func (r *MemoryRepository) updateJob(claimed models.Job, fn func(j *models.Job)) error {
	s, unlock := r.read()
	defer unlock()
	j, ok := s.jobs[claimed.ID]
	if !ok {
		return ErrNotFound
	}
	if j.Status != models.JobRunning || j.LockedUntil == nil || claimed.LockedUntil == nil ||
		!j.LockedUntil.Equal(*claimed.LockedUntil) {
		return ErrLeaseLost
	}
	fn(&j)
	j.LockedUntil = nil
	s.jobs[j.ID] = j
	return nil
}

func (r *MemoryRepository) RequeueJob(_ context.Context, job models.Job, attempt int, runAt time.Time, lastErr string) error {
	return r.updateJob(job, func(j *models.Job) {
		j.Status = models.JobQueued
		j.Attempt = attempt
		j.RunAt = runAt
		j.LastError = lastErr
	})
}

func (r *MemoryRepository) CompleteJob(_ context.Context, job models.Job) error {
	return r.updateJob(job, func(j *models.Job) { j.Status = models.JobDone })
}

func (r *MemoryRepository) KillJob(_ context.Context, job models.Job, reason string) error {
	return r.updateJob(job, func(j *models.Job) {
		j.Status = models.JobDead
		j.LastError = reason
	})
}

func (r *MemoryRepository) GetJobsByOrder(_ context.Context, orderID int64) ([]models.Job, error) {
	s, unlock := r.read()
	defer unlock()
	var jobs []models.Job
	for _, j := range s.jobs {
		if j.OrderID == orderID {
			jobs = append(jobs, j)
		}
	}
	sort.Slice(jobs, func(i, k int) bool { return jobs[i].ID < jobs[k].ID })
	return jobs, nil
}

// memoryTx implements Tx on a working copy of the state
type memoryTx struct {
	s   *memState
	now func() time.Time
}

func (t *memoryTx) LockUser(_ context.Context, id int64) (*models.User, error) {
	u, ok := t.s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &u, nil
}

func (t *memoryTx) SetUserBalance(_ context.Context, userID int64, balance decimal.Decimal) error {
	u, ok := t.s.users[userID]
	if !ok {
		return ErrNotFound
	}
	u.Balance = balance
	t.s.users[userID] = u
	return nil
}

func (t *memoryTx) InsertBalanceEntry(_ context.Context, e *models.BalanceEntry) error {
	for _, existing := range t.s.entries {
		if e.OrderID != nil && existing.OrderID != nil && *existing.OrderID == *e.OrderID && existing.Kind == e.Kind {
			return ErrAlreadyExists
		}
		if e.TopUpID != nil && existing.TopUpID != nil && *existing.TopUpID == *e.TopUpID {
			return ErrAlreadyExists
		}
	}
	e.ID = t.s.nextID()
	e.CreatedAt = t.now()
	t.s.entries = append(t.s.entries, *e)
	return nil
}

func (t *memoryTx) GetItem(_ context.Context, id int64) (*models.Item, error) {
	it, ok := t.s.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &it, nil
}

func (t *memoryTx) availableUnits(itemID int64) []models.StockUnit {
	var units []models.StockUnit
	for _, u := range t.s.units {
		if u.ItemID == itemID && u.OrderID == nil {
			units = append(units, u)
		}
	}
	sort.Slice(units, func(i, j int) bool {
		if units[i].IsPriority != units[j].IsPriority {
			return units[i].IsPriority
		}
		return units[i].ID < units[j].ID
	})
	return units
}

func (t *memoryTx) CountAvailableStock(_ context.Context, itemID int64) (int, error) {
	return len(t.availableUnits(itemID)), nil
}

func (t *memoryTx) AssignStock(_ context.Context, itemID, orderID int64, quantity int) ([]models.StockUnit, error) {
	units := t.availableUnits(itemID)
	if len(units) > quantity {
		units = units[:quantity]
	}
	now := t.now()
	for i := range units {
		id := orderID
		units[i].OrderID = &id
		units[i].AssignedAt = &now
		t.s.units[units[i].ID] = units[i]
	}
	return units, nil
}

func (t *memoryTx) CreateOrder(_ context.Context, o *models.Order) error {
	if _, ok := t.s.users[o.UserID]; !ok {
		return ErrNotFound
	}
	o.ID = t.s.nextID()
	o.CreatedAt = t.now()
	t.s.orders[o.ID] = *o
	return nil
}

func (t *memoryTx) LockOrder(_ context.Context, id int64) (*models.Order, error) {
	o, ok := t.s.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &o, nil
}

func (t *memoryTx) UpdateOrder(_ context.Context, o *models.Order) error {
	existing, ok := t.s.orders[o.ID]
	if !ok {
		return ErrNotFound
	}
	existing.State = o.State
	existing.ProviderTransactionID = o.ProviderTransactionID
	existing.CompletedAt = o.CompletedAt
	t.s.orders[o.ID] = existing
	return nil
}

func (t *memoryTx) LockTopUp(_ context.Context, id int64) (*models.TopUp, error) {
	tp, ok := t.s.topUps[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &tp, nil
}

func (t *memoryTx) UpdateTopUp(_ context.Context, topUp *models.TopUp) error {
	if _, ok := t.s.topUps[topUp.ID]; !ok {
		return ErrNotFound
	}
	t.s.topUps[topUp.ID] = *topUp
	return nil
}

func (t *memoryTx) EnqueueJob(_ context.Context, job *models.Job) error {
	if job.Status == "" {
		job.Status = models.JobQueued
	}
	job.ID = t.s.nextID()
	job.CreatedAt = t.now()
	t.s.jobs[job.ID] = *job
	return nil
}
