package db

import (
	"context"
	"iter"

	"github.com/xtrntr/cryptop2p/internal/models"
)

// Compile-time interface checks.
var (
	_ OrderStore       = (*DB)(nil)
	_ TransactionStore = (*DB)(nil)
	_ NetworkStore     = (*DB)(nil)
	_ UserStore        = (*DB)(nil)
	_ OrderStore       = (*MemoryStore)(nil)
	_ TransactionStore = (*MemoryStore)(nil)
	_ NetworkStore     = (*MemoryStore)(nil)
	_ UserStore        = (*MemoryStore)(nil)
)

// OrderStore persists P2P orders.
type OrderStore interface {
	// InsertOrder stores a new order and returns it with its assigned id.
	InsertOrder(ctx context.Context, order *models.Order) (*models.Order, error)
	// GetOrder returns models.ErrNotFound when no order has the given id.
	GetOrder(ctx context.Context, id int64) (*models.Order, error)
	// CompareAndSwapOrder atomically checks pre against the persisted row and,
	// if it still holds, applies mutate to the current row and persists the
	// result. It returns models.ErrConflict when pre does not hold. Errors
	// returned by mutate are passed through and nothing is written.
	// Only status, taker and confirmation flags are persisted.
	CompareAndSwapOrder(ctx context.Context, id int64, pre models.Precondition, mutate func(*models.Order) error) (*models.Order, error)
	// QueryOrders returns a finite sequence that runs the query against the
	// current state each time it is ranged over.
	QueryOrders(ctx context.Context, filter models.OrderFilter) iter.Seq2[models.Order, error]
}

// TransactionStore persists broadcast transactions.
type TransactionStore interface {
	InsertTransaction(ctx context.Context, tx *models.Transaction) (*models.Transaction, error)
	// GetTransaction returns the earliest row for (network, hash) or
	// models.ErrNotFound.
	GetTransaction(ctx context.Context, network, hash string) (*models.Transaction, error)
	// AdvanceTransactionStatus moves the still pending rows for
	// (network, hash) to status and returns the earliest row afterwards.
	// Rows that are already confirmed or failed are left untouched.
	AdvanceTransactionStatus(ctx context.Context, network, hash string, status models.TxStatus) (*models.Transaction, error)
	ListTransactions(ctx context.Context, network, hash string) ([]models.Transaction, error)
}

// NetworkStore serves the recognized network reference table.
type NetworkStore interface {
	ListNetworks(ctx context.Context) ([]models.Network, error)
	GetNetwork(ctx context.Context, code string) (*models.Network, error)
	UpsertNetwork(ctx context.Context, network *models.Network) error
}

// UserStore persists registered users.
type UserStore interface {
	CreateUser(ctx context.Context, email, passwordHash string) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	GetUserByID(ctx context.Context, id int64) (*models.User, error)
}

// CollectOrders drains seq into a slice.
func CollectOrders(seq iter.Seq2[models.Order, error]) ([]models.Order, error) {
	orders := []models.Order{}
	for order, err := range seq {
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	return orders, nil
}
