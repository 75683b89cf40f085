package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/25x8/digital-storefront/internal/storefront/models"
	"github.com/25x8/digital-storefront/internal/storefront/provider"
	"github.com/25x8/digital-storefront/internal/storefront/repository"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type sentMessage struct {
	chatID int64
	text   string
}

type recordingNotifier struct {
	mu    sync.Mutex
	user  []sentMessage
	admin []string
}

func (n *recordingNotifier) NotifyUser(_ context.Context, chatID int64, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.user = append(n.user, sentMessage{chatID: chatID, text: text})
	return nil
}

func (n *recordingNotifier) NotifyAdmin(_ context.Context, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.admin = append(n.admin, text)
	return nil
}

func (n *recordingNotifier) userMessages() []sentMessage {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]sentMessage(nil), n.user...)
}

func (n *recordingNotifier) adminMessages() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.admin...)
}

type statusReply struct {
	status *provider.TransactionStatus
	err    error
}

func reply(status string) statusReply {
	return statusReply{status: &provider.TransactionStatus{Status: status}}
}

// scriptedGateway plays back canned provider answers. The last status reply
// repeats once the script runs out.
type scriptedGateway struct {
	mu        sync.Mutex
	players   map[string]*provider.PlayerInfo
	trxID     string
	createErr error
	statuses  []statusReply
	panics    bool
	polls     int
	topUps    int
}

func (g *scriptedGateway) GetPlayerInfo(_ context.Context, playerID string) (*provider.PlayerInfo, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.players[playerID], nil
}

func (g *scriptedGateway) CreateTopUp(_ context.Context, _ string, _ int64) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.topUps++
	return g.trxID, g.createErr
}

func (g *scriptedGateway) GetTransactionStatus(_ context.Context, _ string) (*provider.TransactionStatus, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.polls++
	if g.panics {
		panic("provider client blew up")
	}
	if len(g.statuses) == 0 {
		return nil, nil
	}
	r := g.statuses[0]
	if len(g.statuses) > 1 {
		g.statuses = g.statuses[1:]
	}
	return r.status, r.err
}

type fixture struct {
	repo       *repository.MemoryRepository
	notifier   *recordingNotifier
	dispatcher *Dispatcher
	finalizer  *Finalizer
	orders     *OrderService
	user       *models.User
}

func newFixture(t *testing.T, balance string) *fixture {
	t.Helper()
	repo := repository.NewMemoryRepository()
	notifier := &recordingNotifier{}
	dispatcher := NewDispatcher(repo, notifier, nil)
	finalizer := NewFinalizer(repo)

	user := &models.User{Login: "player", ChatID: 1001, Balance: decimal.RequireFromString(balance)}
	require.NoError(t, repo.CreateUser(context.Background(), user))

	return &fixture{
		repo:       repo,
		notifier:   notifier,
		dispatcher: dispatcher,
		finalizer:  finalizer,
		orders:     NewOrderService(repo, finalizer, dispatcher, nil),
		user:       user,
	}
}

func (f *fixture) createItem(t *testing.T, item models.Item) *models.Item {
	t.Helper()
	item.IsActive = true
	require.NoError(t, f.repo.CreateItem(context.Background(), &item))
	return &item
}

func (f *fixture) addCodes(t *testing.T, itemID int64, codes ...string) {
	t.Helper()
	units := make([]models.StockUnit, 0, len(codes))
	for _, c := range codes {
		units = append(units, models.StockUnit{ItemID: itemID, Code: c})
	}
	added, err := f.repo.AddStockUnits(context.Background(), units)
	require.NoError(t, err)
	require.Equal(t, len(codes), added)
}

func (f *fixture) balance(t *testing.T) decimal.Decimal {
	t.Helper()
	u, err := f.repo.GetUserByID(context.Background(), f.user.ID)
	require.NoError(t, err)
	return u.Balance
}

func (f *fixture) entries(t *testing.T, kind models.EntryKind) []models.BalanceEntry {
	t.Helper()
	all, err := f.repo.GetBalanceEntries(context.Background(), f.user.ID)
	require.NoError(t, err)
	var out []models.BalanceEntry
	for _, e := range all {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

func (f *fixture) order(t *testing.T, id int64) *models.Order {
	t.Helper()
	o, err := f.repo.GetOrder(context.Background(), id)
	require.NoError(t, err)
	return o
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// drain runs the worker with a clock that jumps an hour per round until no job
// is due, so every requeued job runs.
func drain(t *testing.T, w *Worker) {
	t.Helper()
	clock := time.Now()
	for i := 0; i < 50; i++ {
		clock = clock.Add(time.Hour)
		now := clock
		w.now = func() time.Time { return now }
		n, err := w.RunOnce(context.Background())
		require.NoError(t, err)
		if n == 0 {
			return
		}
	}
	t.Fatal("jobs still due after 50 rounds")
}
