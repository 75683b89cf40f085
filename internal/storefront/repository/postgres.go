package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/25x8/digital-storefront/internal/storefront/models"
	"github.com/jackc/pgconn"
	_ "github.com/jackc/pgx/v4/stdlib"
	"github.com/shopspring/decimal"
)

// PostgresRepository implements Repository using PostgreSQL
type PostgresRepository struct {
	db *sql.DB
}

var _ Repository = (*PostgresRepository)(nil)

// NewPostgresRepository creates a new PostgreSQL repository
func NewPostgresRepository() *PostgresRepository {
	return &PostgresRepository{}
}

// InitDB opens the connection and applies migrations
func (r *PostgresRepository) InitDB(databaseURI string) error {
	db, err := sql.Open("pgx", databaseURI)
	if err != nil {
		return err
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return err
	}

	if err := DoMigrations(db); err != nil {
		db.Close()
		return err
	}

	r.db = db
	return nil
}

// Close closes the database connection
func (r *PostgresRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// querier is satisfied by both *sql.DB and *sql.Tx
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type scanner interface {
	Scan(dest ...any) error
}

func (r *PostgresRepository) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	sqlTx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction error: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&postgresTx{tx: sqlTx}); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit error: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

// User repository methods

const userColumns = "id, login, password_hash, chat_id, balance, created_at"

func scanUser(row scanner) (*models.User, error) {
	user := &models.User{}
	err := row.Scan(&user.ID, &user.Login, &user.PasswordHash, &user.ChatID, &user.Balance, &user.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return user, nil
}

func (r *PostgresRepository) CreateUser(ctx context.Context, user *models.User) error {
	err := r.db.QueryRowContext(
		ctx,
		"INSERT INTO users (login, password_hash, chat_id, balance) VALUES ($1, $2, $3, $4) RETURNING id, created_at",
		user.Login, user.PasswordHash, user.ChatID, user.Balance,
	).Scan(&user.ID, &user.CreatedAt)
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("insert user error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetUserByLogin(ctx context.Context, login string) (*models.User, error) {
	return scanUser(r.db.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE login = $1", login))
}

func (r *PostgresRepository) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	return scanUser(r.db.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE id = $1", id))
}

// Catalog repository methods

const itemColumns = "id, title, category, price, amount, buying_cost, is_active, provider_item_id, manager_chat_id, created_at"

func scanItem(row scanner) (*models.Item, error) {
	item := &models.Item{}
	err := row.Scan(
		&item.ID, &item.Title, &item.Category, &item.Price, &item.Amount, &item.BuyingCost,
		&item.IsActive, &item.ProviderItemID, &item.ManagerChatID, &item.CreatedAt,
	)
	if err != nil {
		return nil, notFound(err)
	}
	return item, nil
}

func getItem(ctx context.Context, q querier, id int64) (*models.Item, error) {
	return scanItem(q.QueryRowContext(ctx, "SELECT "+itemColumns+" FROM items WHERE id = $1", id))
}

func (r *PostgresRepository) CreateItem(ctx context.Context, item *models.Item) error {
	err := r.db.QueryRowContext(
		ctx,
		`INSERT INTO items (title, category, price, amount, buying_cost, is_active, provider_item_id, manager_chat_id)
         VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id, created_at`,
		item.Title, item.Category, item.Price, item.Amount, item.BuyingCost,
		item.IsActive, item.ProviderItemID, item.ManagerChatID,
	).Scan(&item.ID, &item.CreatedAt)
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("insert item error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetItem(ctx context.Context, id int64) (*models.Item, error) {
	return getItem(ctx, r.db, id)
}

func (r *PostgresRepository) SetItemActive(ctx context.Context, id int64, active bool) error {
	res, err := r.db.ExecContext(ctx, "UPDATE items SET is_active = $1 WHERE id = $2", active, id)
	if err != nil {
		return fmt.Errorf("update item error: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRepository) SetRegionPrice(ctx context.Context, price models.RegionPrice) error {
	_, err := r.db.ExecContext(
		ctx,
		`INSERT INTO region_prices (item_id, region_id, region_name, final_price, is_active)
         VALUES ($1, $2, $3, $4, $5)
         ON CONFLICT (item_id, region_id)
         DO UPDATE SET region_name = EXCLUDED.region_name, final_price = EXCLUDED.final_price, is_active = EXCLUDED.is_active`,
		price.ItemID, price.RegionID, price.RegionName, price.FinalPrice, price.IsActive,
	)
	if err != nil {
		return fmt.Errorf("upsert region price error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetRegionPrice(ctx context.Context, itemID, regionID int64) (*models.RegionPrice, error) {
	price := &models.RegionPrice{}
	err := r.db.QueryRowContext(
		ctx,
		"SELECT item_id, region_id, region_name, final_price, is_active FROM region_prices WHERE item_id = $1 AND region_id = $2",
		itemID, regionID,
	).Scan(&price.ItemID, &price.RegionID, &price.RegionName, &price.FinalPrice, &price.IsActive)
	if err != nil {
		return nil, notFound(err)
	}
	return price, nil
}

func (r *PostgresRepository) AddStockUnits(ctx context.Context, units []models.StockUnit) (int, error) {
	var added int
	err := r.WithTx(ctx, func(tx Tx) error {
		sqlTx := tx.(*postgresTx).tx
		for _, u := range units {
			res, err := sqlTx.ExecContext(
				ctx,
				`INSERT INTO stock_units (item_id, code, buying_cost, is_priority)
                 VALUES ($1, $2, $3, $4) ON CONFLICT (item_id, code) DO NOTHING`,
				u.ItemID, u.Code, u.BuyingCost, u.IsPriority,
			)
			if err != nil {
				return fmt.Errorf("insert stock unit error: %w", err)
			}
			n, _ := res.RowsAffected()
			added += int(n)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return added, nil
}

// Order repository methods

const orderColumns = `id, user_id, item_id, category, quantity, price, data, balance_before,
    player_id, player_name, provider_transaction_id, state, created_at, completed_at`

func scanOrder(row scanner) (*models.Order, error) {
	order := &models.Order{}
	var data []byte
	err := row.Scan(
		&order.ID, &order.UserID, &order.ItemID, &order.Category, &order.Quantity, &order.Price,
		&data, &order.BalanceBefore, &order.PlayerID, &order.PlayerName,
		&order.ProviderTransactionID, &order.State, &order.CreatedAt, &order.CompletedAt,
	)
	if err != nil {
		return nil, notFound(err)
	}
	order.Data = data
	return order, nil
}

func (r *PostgresRepository) GetOrder(ctx context.Context, id int64) (*models.Order, error) {
	return scanOrder(r.db.QueryRowContext(ctx, "SELECT "+orderColumns+" FROM orders WHERE id = $1", id))
}

func (r *PostgresRepository) GetUserOrders(ctx context.Context, userID int64) ([]models.Order, error) {
	rows, err := r.db.QueryContext(
		ctx,
		"SELECT "+orderColumns+" FROM orders WHERE user_id = $1 ORDER BY created_at DESC",
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []models.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *order)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}
	return orders, nil
}

const unitColumns = "id, item_id, code, buying_cost, is_priority, order_id, created_at, assigned_at"

func scanUnits(rows *sql.Rows) ([]models.StockUnit, error) {
	defer rows.Close()
	var units []models.StockUnit
	for rows.Next() {
		var u models.StockUnit
		if err := rows.Scan(&u.ID, &u.ItemID, &u.Code, &u.BuyingCost, &u.IsPriority, &u.OrderID, &u.CreatedAt, &u.AssignedAt); err != nil {
			return nil, err
		}
		units = append(units, u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return units, nil
}

func (r *PostgresRepository) GetOrderUnits(ctx context.Context, orderID int64) ([]models.StockUnit, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT "+unitColumns+" FROM stock_units WHERE order_id = $1 ORDER BY id", orderID)
	if err != nil {
		return nil, err
	}
	return scanUnits(rows)
}

func (r *PostgresRepository) GetBalanceEntries(ctx context.Context, userID int64) ([]models.BalanceEntry, error) {
	rows, err := r.db.QueryContext(
		ctx,
		`SELECT id, user_id, order_id, topup_id, kind, amount, balance_before, balance_after, created_at
         FROM balance_entries WHERE user_id = $1 ORDER BY id`,
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []models.BalanceEntry
	for rows.Next() {
		var e models.BalanceEntry
		if err := rows.Scan(&e.ID, &e.UserID, &e.OrderID, &e.TopUpID, &e.Kind, &e.Amount, &e.BalanceBefore, &e.BalanceAfter, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

// Top-up repository methods

const topUpColumns = "id, user_id, amount, currency, is_paid, is_topped, credited_amount, created_at, paid_at"

func scanTopUp(row scanner) (*models.TopUp, error) {
	t := &models.TopUp{}
	err := row.Scan(&t.ID, &t.UserID, &t.Amount, &t.Currency, &t.IsPaid, &t.IsTopped, &t.CreditedAmount, &t.CreatedAt, &t.PaidAt)
	if err != nil {
		return nil, notFound(err)
	}
	return t, nil
}

func (r *PostgresRepository) CreateTopUp(ctx context.Context, topUp *models.TopUp) error {
	err := r.db.QueryRowContext(
		ctx,
		"INSERT INTO topups (user_id, amount, currency) VALUES ($1, $2, $3) RETURNING id, created_at",
		topUp.UserID, topUp.Amount, topUp.Currency,
	).Scan(&topUp.ID, &topUp.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert topup error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetTopUp(ctx context.Context, id int64) (*models.TopUp, error) {
	return scanTopUp(r.db.QueryRowContext(ctx, "SELECT "+topUpColumns+" FROM topups WHERE id = $1", id))
}

func (r *PostgresRepository) GetUserTopUps(ctx context.Context, userID int64) ([]models.TopUp, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT "+topUpColumns+" FROM topups WHERE user_id = $1 ORDER BY created_at DESC", userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var topUps []models.TopUp
	for rows.Next() {
		t, err := scanTopUp(rows)
		if err != nil {
			return nil, err
		}
		topUps = append(topUps, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return topUps, nil
}

// Job queue methods

const jobColumns = "id, kind, order_id, attempt, status, run_at, locked_until, last_error, created_at"

func scanJobs(rows *sql.Rows) ([]models.Job, error) {
	defer rows.Close()
	var jobs []models.Job
	for rows.Next() {
		var j models.Job
		if err := rows.Scan(&j.ID, &j.Kind, &j.OrderID, &j.Attempt, &j.Status, &j.RunAt, &j.LockedUntil, &j.LastError, &j.CreatedAt); err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return jobs, nil
}

// ClaimJobs leases due jobs. Running jobs whose lease expired are claimed again.
func (r *PostgresRepository) ClaimJobs(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]models.Job, error) {
	rows, err := r.db.QueryContext(
		ctx,
		`UPDATE jobs SET status = $2, locked_until = $3, updated_at = $1
         WHERE id IN (
             SELECT id FROM jobs
             WHERE (status = $4 AND run_at <= $1) OR (status = $2 AND locked_until < $1)
             ORDER BY run_at
             LIMIT $5
             FOR UPDATE SKIP LOCKED
         )
         RETURNING `+jobColumns,
		now, models.JobRunning, now.Add(lease), models.JobQueued, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("claim jobs error: %w", err)
	}
	return scanJobs(rows)
}

// settleJob applies an update to a job only while the caller's lease holds.
func (r *PostgresRepository) settleJob(ctx context.Context, job models.Job, set string, args ...any) error {
	if job.LockedUntil == nil {
		return ErrLeaseLost
	}
	args = append([]any{job.ID, models.JobRunning, *job.LockedUntil}, args...)
	res, err := r.db.ExecContext(
		ctx,
		"UPDATE jobs SET "+set+", locked_until = NULL, updated_at = now() WHERE id = $1 AND status = $2 AND locked_until = $3",
		args...,
	)
	if err != nil {
		return fmt.Errorf("update job %d error: %w", job.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrLeaseLost
	}
	return nil
}

func (r *PostgresRepository) RequeueJob(ctx context.Context, job models.Job, attempt int, runAt time.Time, lastErr string) error {
	return r.settleJob(ctx, job, "status = $4, attempt = $5, run_at = $6, last_error = $7",
		models.JobQueued, attempt, runAt, lastErr)
}

func (r *PostgresRepository) CompleteJob(ctx context.Context, job models.Job) error {
	return r.settleJob(ctx, job, "status = $4", models.JobDone)
}

func (r *PostgresRepository) KillJob(ctx context.Context, job models.Job, reason string) error {
	return r.settleJob(ctx, job, "status = $4, last_error = $5", models.JobDead, reason)
}

func (r *PostgresRepository) GetJobsByOrder(ctx context.Context, orderID int64) ([]models.Job, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT "+jobColumns+" FROM jobs WHERE order_id = $1 ORDER BY id", orderID)
	if err != nil {
		return nil, err
	}
	return scanJobs(rows)
}

// postgresTx implements Tx on top of *sql.Tx
type postgresTx struct {
	tx *sql.Tx
}

func (t *postgresTx) LockUser(ctx context.Context, id int64) (*models.User, error) {
	return scanUser(t.tx.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE id = $1 FOR UPDATE", id))
}

func (t *postgresTx) SetUserBalance(ctx context.Context, userID int64, balance decimal.Decimal) error {
	_, err := t.tx.ExecContext(ctx, "UPDATE users SET balance = $1 WHERE id = $2", balance, userID)
	if err != nil {
		return fmt.Errorf("update balance error: %w", err)
	}
	return nil
}

func (t *postgresTx) InsertBalanceEntry(ctx context.Context, e *models.BalanceEntry) error {
	err := t.tx.QueryRowContext(
		ctx,
		`INSERT INTO balance_entries (user_id, order_id, topup_id, kind, amount, balance_before, balance_after)
         VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id, created_at`,
		e.UserID, e.OrderID, e.TopUpID, e.Kind, e.Amount, e.BalanceBefore, e.BalanceAfter,
	).Scan(&e.ID, &e.CreatedAt)
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("insert balance entry error: %w", err)
	}
	return nil
}

func (t *postgresTx) GetItem(ctx context.Context, id int64) (*models.Item, error) {
	return getItem(ctx, t.tx, id)
}

func (t *postgresTx) CountAvailableStock(ctx context.Context, itemID int64) (int, error) {
	var n int
	err := t.tx.QueryRowContext(ctx, "SELECT count(*) FROM stock_units WHERE item_id = $1 AND order_id IS NULL", itemID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count stock error: %w", err)
	}
	return n, nil
}

func (t *postgresTx) AssignStock(ctx context.Context, itemID, orderID int64, quantity int) ([]models.StockUnit, error) {
	rows, err := t.tx.QueryContext(
		ctx,
		`UPDATE stock_units SET order_id = $2, assigned_at = now()
         WHERE id IN (
             SELECT id FROM stock_units
             WHERE item_id = $1 AND order_id IS NULL
             ORDER BY is_priority DESC, id
             LIMIT $3
             FOR UPDATE SKIP LOCKED
         )
         RETURNING `+unitColumns,
		itemID, orderID, quantity,
	)
	if err != nil {
		return nil, fmt.Errorf("assign stock error: %w", err)
	}
	return scanUnits(rows)
}

func (t *postgresTx) CreateOrder(ctx context.Context, o *models.Order) error {
	err := t.tx.QueryRowContext(
		ctx,
		`INSERT INTO orders (user_id, item_id, category, quantity, price, data, balance_before,
                             player_id, player_name, provider_transaction_id, state)
         VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11) RETURNING id, created_at`,
		o.UserID, o.ItemID, o.Category, o.Quantity, o.Price, []byte(o.Data), o.BalanceBefore,
		o.PlayerID, o.PlayerName, o.ProviderTransactionID, o.State,
	).Scan(&o.ID, &o.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert order error: %w", err)
	}
	return nil
}

func (t *postgresTx) LockOrder(ctx context.Context, id int64) (*models.Order, error) {
	return scanOrder(t.tx.QueryRowContext(ctx, "SELECT "+orderColumns+" FROM orders WHERE id = $1 FOR UPDATE", id))
}

func (t *postgresTx) UpdateOrder(ctx context.Context, o *models.Order) error {
	_, err := t.tx.ExecContext(
		ctx,
		"UPDATE orders SET state = $1, provider_transaction_id = $2, completed_at = $3 WHERE id = $4",
		o.State, o.ProviderTransactionID, o.CompletedAt, o.ID,
	)
	if err != nil {
		return fmt.Errorf("update order error: %w", err)
	}
	return nil
}

func (t *postgresTx) LockTopUp(ctx context.Context, id int64) (*models.TopUp, error) {
	return scanTopUp(t.tx.QueryRowContext(ctx, "SELECT "+topUpColumns+" FROM topups WHERE id = $1 FOR UPDATE", id))
}

func (t *postgresTx) UpdateTopUp(ctx context.Context, topUp *models.TopUp) error {
	_, err := t.tx.ExecContext(
		ctx,
		"UPDATE topups SET is_paid = $1, is_topped = $2, credited_amount = $3, paid_at = $4 WHERE id = $5",
		topUp.IsPaid, topUp.IsTopped, topUp.CreditedAmount, topUp.PaidAt, topUp.ID,
	)
	if err != nil {
		return fmt.Errorf("update topup error: %w", err)
	}
	return nil
}

func (t *postgresTx) EnqueueJob(ctx context.Context, job *models.Job) error {
	if job.Status == "" {
		job.Status = models.JobQueued
	}
	err := t.tx.QueryRowContext(
		ctx,
		"INSERT INTO jobs (kind, order_id, attempt, status, run_at) VALUES ($1, $2, $3, $4, $5) RETURNING id, created_at",
		job.Kind, job.OrderID, job.Attempt, job.Status, job.RunAt,
	).Scan(&job.ID, &job.CreatedAt)
	if err != nil {
		return fmt.Errorf("enqueue job error: %w", err)
	}
	return nil
}
