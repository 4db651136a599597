package db

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"

	"github.com/xtrntr/cryptop2p/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const (
	orderColumns = "id, side, fiat_currency, crypto_currency, amount::text, price::text, status, " +
		"maker_id, taker_id, maker_confirmed, taker_confirmed, created_at, updated_at"
	txColumns = "id, user_id, network_code, tx_hash, signed_tx, to_address, from_address, amount::text, " +
		"status, created_at, updated_at"
	networkColumns = "id, code, name, native_symbol, is_token, parent_chain"

	uniqueViolation = "23505"
)

// DB wraps a PostgreSQL connection pool
type DB struct {
	Pool *pgxpool.Pool
}

// NewDB initializes a new database connection pool
func NewDB(ctx context.Context, connString string) (*DB, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	return &DB{Pool: pool}, nil
}

// Close closes the database connection pool
func (db *DB) Close(ctx context.Context) error {
	db.Pool.Close()
	return nil
}

// Ping checks connectivity
func (db *DB) Ping(ctx context.Context) error {
	return db.Pool.Ping(ctx)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanOrder(row scanner) (*models.Order, error) {
	var (
		o             models.Order
		side, status  string
		amount, price string
	)
	err := row.Scan(&o.ID, &side, &o.FiatCurrency, &o.CryptoCurrency, &amount, &price, &status,
		&o.MakerID, &o.TakerID, &o.MakerConfirmed, &o.TakerConfirmed, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}
	o.Side = models.Side(side)
	o.Status = models.OrderStatus(status)
	if o.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("failed to parse amount: %w", err)
	}
	if o.Price, err = decimal.NewFromString(price); err != nil {
		return nil, fmt.Errorf("failed to parse price: %w", err)
	}
	return &o, nil
}

// CreateUser inserts a new user
func (db *DB) CreateUser(ctx context.Context, email, passwordHash string) (*models.User, error) {
	user := &models.User{}
	err := db.Pool.QueryRow(ctx,
		"INSERT INTO users (email, password_hash) VALUES ($1, $2) RETURNING id, email, password_hash, created_at",
		email, passwordHash).Scan(&user.ID, &user.Email, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, fmt.Errorf("%w: email %q already registered", models.ErrConflict, email)
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return user, nil
}

// GetUserByEmail retrieves a user by email
func (db *DB) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return db.getUser(ctx, "email = $1", email)
}

// GetUserByID retrieves a user by id
func (db *DB) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	return db.getUser(ctx, "id = $1", id)
}

func (db *DB) getUser(ctx context.Context, where string, arg any) (*models.User, error) {
	user := &models.User{}
	err := db.Pool.QueryRow(ctx,
		"SELECT id, email, password_hash, created_at FROM users WHERE "+where,
		arg).Scan(&user.ID, &user.Email, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: user", models.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// InsertOrder inserts a new order in its initial state
func (db *DB) InsertOrder(ctx context.Context, order *models.Order) (*models.Order, error) {
	row := db.Pool.QueryRow(ctx,
		"INSERT INTO p2p_orders (side, fiat_currency, crypto_currency, amount, price, status, maker_id) "+
			"VALUES ($1, $2, $3, $4::numeric, $5::numeric, $6, $7) RETURNING "+orderColumns,
		string(order.Side), order.FiatCurrency, order.CryptoCurrency,
		order.Amount.String(), order.Price.String(), string(order.Status), order.MakerID)
	newOrder, err := scanOrder(row)
	if err != nil {
		return nil, fmt.Errorf("failed to create order: %w", err)
	}
	return newOrder, nil
}

// GetOrder retrieves an order by id
func (db *DB) GetOrder(ctx context.Context, id int64) (*models.Order, error) {
	order, err := scanOrder(db.Pool.QueryRow(ctx, "SELECT "+orderColumns+" FROM p2p_orders WHERE id = $1", id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: order %d", models.ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	return order, nil
}

// CompareAndSwapOrder locks the order row, verifies pre and applies mutate
func (db *DB) CompareAndSwapOrder(
	ctx context.Context,
	id int64,
	pre models.Precondition,
	mutate func(*models.Order) error,
) (*models.Order, error) {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	// Lock the row for update to prevent concurrent modifications
	current, err := scanOrder(tx.QueryRow(ctx,
		"SELECT "+orderColumns+" FROM p2p_orders WHERE id = $1 FOR UPDATE", id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: order %d", models.ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	if !pre.Holds(current) {
		return nil, fmt.Errorf("%w: order %d is %s", models.ErrConflict, id, current.Status)
	}

	next := *current
	if err := mutate(&next); err != nil {
		return nil, err
	}

	updated, err := scanOrder(tx.QueryRow(ctx,
		"UPDATE p2p_orders SET status = $2, taker_id = $3, maker_confirmed = $4, taker_confirmed = $5, updated_at = NOW() "+
			"WHERE id = $1 AND status = $6 AND (taker_id IS NULL) = $7 RETURNING "+orderColumns,
		id, string(next.Status), next.TakerID, next.MakerConfirmed, next.TakerConfirmed,
		string(pre.Status), pre.TakerEmpty))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: order %d changed concurrently", models.ErrConflict, id)
		}
		return nil, fmt.Errorf("failed to update order: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return updated, nil
}

// QueryOrders streams the orders matching filter
func (db *DB) QueryOrders(ctx context.Context, filter models.OrderFilter) iter.Seq2[models.Order, error] {
	return func(yield func(models.Order, error) bool) {
		query, args := buildOrderQuery(filter)
		rows, err := db.Pool.Query(ctx, query, args...)
		if err != nil {
			yield(models.Order{}, fmt.Errorf("failed to query orders: %w", err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			order, err := scanOrder(rows)
			if err != nil {
				yield(models.Order{}, fmt.Errorf("failed to scan order: %w", err))
				return
			}
			if !yield(*order, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(models.Order{}, fmt.Errorf("failed to read orders: %w", err))
		}
	}
}

func buildOrderQuery(filter models.OrderFilter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.Status != "" {
		conds = append(conds, "status = "+arg(string(filter.Status)))
	}
	if filter.ExcludeMakerID != 0 {
		conds = append(conds, "maker_id <> "+arg(filter.ExcludeMakerID))
	}
	if filter.ParticipantID != 0 {
		p := arg(filter.ParticipantID)
		conds = append(conds, "(maker_id = "+p+" OR taker_id = "+p+")")
	}

	query := "SELECT " + orderColumns + " FROM p2p_orders"
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	if filter.Sort == models.SortIDDesc {
		query += " ORDER BY id DESC"
	} else {
		query += " ORDER BY id ASC"
	}
	return query, args
}

func scanTransaction(row scanner) (*models.Transaction, error) {
	var (
		t      models.Transaction
		amount *string
		status string
	)
	err := row.Scan(&t.ID, &t.UserID, &t.NetworkCode, &t.TxHash, &t.SignedTx, &t.ToAddress, &t.FromAddress,
		&amount, &status, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	t.Status = models.TxStatus(status)
	if amount != nil {
		d, err := decimal.NewFromString(*amount)
		if err != nil {
			return nil, fmt.Errorf("failed to parse amount: %w", err)
		}
		t.Amount = &d
	}
	return &t, nil
}

// InsertTransaction records a broadcast transaction
func (db *DB) InsertTransaction(ctx context.Context, t *models.Transaction) (*models.Transaction, error) {
	var amount *string
	if t.Amount != nil {
		s := t.Amount.String()
		amount = &s
	}
	row := db.Pool.QueryRow(ctx,
		"INSERT INTO transactions (user_id, network_code, tx_hash, signed_tx, to_address, from_address, amount, status) "+
			"VALUES ($1, $2, $3, $4, $5, $6, $7::numeric, $8) RETURNING "+txColumns,
		t.UserID, t.NetworkCode, t.TxHash, t.SignedTx, t.ToAddress, t.FromAddress, amount, string(t.Status))
	newTx, err := scanTransaction(row)
	if err != nil {
		return nil, fmt.Errorf("failed to create transaction: %w", err)
	}
	return newTx, nil
}

// GetTransaction retrieves the earliest transaction recorded for (network, hash)
func (db *DB) GetTransaction(ctx context.Context, network, hash string) (*models.Transaction, error) {
	t, err := scanTransaction(db.Pool.QueryRow(ctx,
		"SELECT "+txColumns+" FROM transactions WHERE network_code = $1 AND tx_hash = $2 ORDER BY id LIMIT 1",
		network, hash))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: transaction %s/%s", models.ErrNotFound, network, hash)
		}
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}
	return t, nil
}

// AdvanceTransactionStatus moves pending rows for (network, hash) to status
func (db *DB) AdvanceTransactionStatus(ctx context.Context, network, hash string, status models.TxStatus) (*models.Transaction, error) {
	if status == models.TxPending {
		return db.GetTransaction(ctx, network, hash)
	}
	_, err := db.Pool.Exec(ctx,
		"UPDATE transactions SET status = $3, updated_at = NOW() "+
			"WHERE network_code = $1 AND tx_hash = $2 AND status = 'pending'",
		network, hash, string(status))
	if err != nil {
		return nil, fmt.Errorf("failed to update transaction status: %w", err)
	}
	return db.GetTransaction(ctx, network, hash)
}

// ListTransactions retrieves every row recorded for (network, hash)
func (db *DB) ListTransactions(ctx context.Context, network, hash string) ([]models.Transaction, error) {
	rows, err := db.Pool.Query(ctx,
		"SELECT "+txColumns+" FROM transactions WHERE network_code = $1 AND tx_hash = $2 ORDER BY id",
		network, hash)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	txs := []models.Transaction{}
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		txs = append(txs, *t)
	}
	return txs, rows.Err()
}

// ListNetworks retrieves the network reference table
func (db *DB) ListNetworks(ctx context.Context) ([]models.Network, error) {
	rows, err := db.Pool.Query(ctx, "SELECT "+networkColumns+" FROM networks ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to list networks: %w", err)
	}
	defer rows.Close()

	networks := []models.Network{}
	for rows.Next() {
		var n models.Network
		if err := rows.Scan(&n.ID, &n.Code, &n.Name, &n.NativeSymbol, &n.IsToken, &n.ParentChain); err != nil {
			return nil, fmt.Errorf("failed to scan network: %w", err)
		}
		networks = append(networks, n)
	}
	return networks, rows.Err()
}

// GetNetwork retrieves a network by code
func (db *DB) GetNetwork(ctx context.Context, code string) (*models.Network, error) {
	var n models.Network
	err := db.Pool.QueryRow(ctx, "SELECT "+networkColumns+" FROM networks WHERE code = $1", code).
		Scan(&n.ID, &n.Code, &n.Name, &n.NativeSymbol, &n.IsToken, &n.ParentChain)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", models.ErrUnknownNetwork, code)
		}
		return nil, fmt.Errorf("failed to get network: %w", err)
	}
	return &n, nil
}

// UpsertNetwork inserts a network or refreshes its descriptive fields
func (db *DB) UpsertNetwork(ctx context.Context, n *models.Network) error {
	_, err := db.Pool.Exec(ctx,
		"INSERT INTO networks (code, name, native_symbol, is_token, parent_chain) VALUES ($1, $2, $3, $4, $5) "+
			"ON CONFLICT (code) DO UPDATE SET name = EXCLUDED.name, native_symbol = EXCLUDED.native_symbol, "+
			"is_token = EXCLUDED.is_token, parent_chain = EXCLUDED.parent_chain",
		n.Code, n.Name, n.NativeSymbol, n.IsToken, n.ParentChain)
	if err != nil {
		return fmt.Errorf("failed to upsert network: %w", err)
	}
	return nil
}
