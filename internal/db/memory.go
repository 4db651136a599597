package db

import (
	"context"
	"fmt"
	"iter"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xtrntr/cryptop2p/internal/models"
)

// MemoryStore keeps everything in process memory. Every order row and every
// (network, hash) transaction bucket has its own lock, so concurrent callers
// only contend on the rows they touch.
type MemoryStore struct {
	orderSeq   atomic.Int64
	orders     sync.Map // int64 -> *orderRow
	txSeq      atomic.Int64
	txs        sync.Map // txKey -> *txBucket
	networkSeq atomic.Int64
	networks   sync.Map // code -> models.Network
	userSeq    atomic.Int64
	users      sync.Map // int64 -> models.User
	emails     sync.Map // email -> int64

	now func() time.Time
}

type orderRow struct {
	mu    sync.Mutex
	order models.Order
}

type txKey struct {
	network, hash string
}

type txBucket struct {
	mu   sync.Mutex
	rows []*models.Transaction
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{now: func() time.Time { return time.Now().UTC() }}
}

// InsertOrder stores a new order and assigns its id and timestamps
func (m *MemoryStore) InsertOrder(_ context.Context, order *models.Order) (*models.Order, error) {
	now := m.now()
	row := &orderRow{order: *order}
	row.order.ID = m.orderSeq.Add(1)
	row.order.CreatedAt = now
	row.order.UpdatedAt = now
	m.orders.Store(row.order.ID, row)

	out := row.order
	return &out, nil
}

// GetOrder returns a copy of the order with the given id
func (m *MemoryStore) GetOrder(_ context.Context, id int64) (*models.Order, error) {
	v, ok := m.orders.Load(id)
	if !ok {
		return nil, fmt.Errorf("%w: order %d", models.ErrNotFound, id)
	}
	row := v.(*orderRow)
	row.mu.Lock()
	out := row.order
	row.mu.Unlock()
	return &out, nil
}

// CompareAndSwapOrder applies mutate under the row lock when pre still holds
func (m *MemoryStore) CompareAndSwapOrder(
	_ context.Context,
	id int64,
	pre models.Precondition,
	mutate func(*models.Order) error,
) (*models.Order, error) {
	v, ok := m.orders.Load(id)
	if !ok {
		return nil, fmt.Errorf("%w: order %d", models.ErrNotFound, id)
	}
	row := v.(*orderRow)
	row.mu.Lock()
	defer row.mu.Unlock()

	if !pre.Holds(&row.order) {
		return nil, fmt.Errorf("%w: order %d is %s", models.ErrConflict, id, row.order.Status)
	}

	next := row.order
	if err := mutate(&next); err != nil {
		return nil, err
	}

	row.order.Status = next.Status
	row.order.TakerID = next.TakerID
	row.order.MakerConfirmed = next.MakerConfirmed
	row.order.TakerConfirmed = next.TakerConfirmed
	row.order.UpdatedAt = m.now()

	out := row.order
	return &out, nil
}

// QueryOrders yields a snapshot of the orders matching filter
func (m *MemoryStore) QueryOrders(_ context.Context, filter models.OrderFilter) iter.Seq2[models.Order, error] {
	return func(yield func(models.Order, error) bool) {
		var matched []models.Order
		m.orders.Range(func(_, v any) bool {
			row := v.(*orderRow)
			row.mu.Lock()
			order := row.order
			row.mu.Unlock()
			if filter.Match(&order) {
				matched = append(matched, order)
			}
			return true
		})

		sort.Slice(matched, func(i, j int) bool {
			if filter.Sort == models.SortIDDesc {
				return matched[i].ID > matched[j].ID
			}
			return matched[i].ID < matched[j].ID
		})
		for _, order := range matched {
			if !yield(order, nil) {
				return
			}
		}
	}
}

func (m *MemoryStore) bucket(network, hash string) *txBucket {
	v, _ := m.txs.LoadOrStore(txKey{network, hash}, &txBucket{})
	return v.(*txBucket)
}

// InsertTransaction appends a row for (network, hash)
func (m *MemoryStore) InsertTransaction(_ context.Context, t *models.Transaction) (*models.Transaction, error) {
	now := m.now()
	row := *t
	row.ID = m.txSeq.Add(1)
	row.CreatedAt = now
	row.UpdatedAt = now

	b := m.bucket(t.NetworkCode, t.TxHash)
	b.mu.Lock()
	b.rows = append(b.rows, &row)
	b.mu.Unlock()

	out := row
	return &out, nil
}

// GetTransaction returns the earliest row recorded for (network, hash)
func (m *MemoryStore) GetTransaction(_ context.Context, network, hash string) (*models.Transaction, error) {
	v, ok := m.txs.Load(txKey{network, hash})
	if !ok {
		return nil, fmt.Errorf("%w: transaction %s/%s", models.ErrNotFound, network, hash)
	}
	b := v.(*txBucket)
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.rows) == 0 {
		return nil, fmt.Errorf("%w: transaction %s/%s", models.ErrNotFound, network, hash)
	}
	out := *b.rows[0]
	return &out, nil
}

// AdvanceTransactionStatus moves pending rows for (network, hash) to status
func (m *MemoryStore) AdvanceTransactionStatus(ctx context.Context, network, hash string, status models.TxStatus) (*models.Transaction, error) {
	v, ok := m.txs.Load(txKey{network, hash})
	if !ok {
		return nil, fmt.Errorf("%w: transaction %s/%s", models.ErrNotFound, network, hash)
	}
	if status != models.TxPending {
		b := v.(*txBucket)
		now := m.now()
		b.mu.Lock()
		for _, row := range b.rows {
			if row.Status == models.TxPending {
				row.Status = status
				row.UpdatedAt = now
			}
		}
		b.mu.Unlock()
	}
	return m.GetTransaction(ctx, network, hash)
}

// ListTransactions returns every row recorded for (network, hash)
func (m *MemoryStore) ListTransactions(_ context.Context, network, hash string) ([]models.Transaction, error) {
	txs := []models.Transaction{}
	v, ok := m.txs.Load(txKey{network, hash})
	if !ok {
		return txs, nil
	}
	b := v.(*txBucket)
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, row := range b.rows {
		txs = append(txs, *row)
	}
	return txs, nil
}

// ListNetworks returns the reference table ordered by id
func (m *MemoryStore) ListNetworks(_ context.Context) ([]models.Network, error) {
	networks := []models.Network{}
	m.networks.Range(func(_, v any) bool {
		networks = append(networks, v.(models.Network))
		return true
	})
	sort.Slice(networks, func(i, j int) bool { return networks[i].ID < networks[j].ID })
	return networks, nil
}

// GetNetwork looks up a network by code
func (m *MemoryStore) GetNetwork(_ context.Context, code string) (*models.Network, error) {
	v, ok := m.networks.Load(code)
	if !ok {
		return nil, fmt.Errorf("%w: %s", models.ErrUnknownNetwork, code)
	}
	n := v.(models.Network)
	return &n, nil
}

// UpsertNetwork inserts or replaces a network, keeping an existing id
func (m *MemoryStore) UpsertNetwork(_ context.Context, n *models.Network) error {
	stored := *n
	if v, ok := m.networks.Load(n.Code); ok {
		stored.ID = v.(models.Network).ID
	} else {
		stored.ID = m.networkSeq.Add(1)
	}
	m.networks.Store(n.Code, stored)
	return nil
}

// CreateUser registers a user; a taken email is a conflict
func (m *MemoryStore) CreateUser(_ context.Context, email, passwordHash string) (*models.User, error) {
	if _, ok := m.emails.Load(email); ok {
		return nil, fmt.Errorf("%w: email %q already registered", models.ErrConflict, email)
	}
	id := m.userSeq.Add(1)
	user := models.User{ID: id, Email: email, PasswordHash: passwordHash, CreatedAt: m.now()}
	// The row must exist before the email resolves to it.
	m.users.Store(id, user)
	if _, loaded := m.emails.LoadOrStore(email, id); loaded {
		m.users.Delete(id)
		return nil, fmt.Errorf("%w: email %q already registered", models.ErrConflict, email)
	}
	return &user, nil
}

// GetUserByEmail looks up a user by email
func (m *MemoryStore) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	v, ok := m.emails.Load(email)
	if !ok {
		return nil, fmt.Errorf("%w: user", models.ErrNotFound)
	}
	return m.GetUserByID(ctx, v.(int64))
}

// GetUserByID looks up a user by id
func (m *MemoryStore) GetUserByID(_ context.Context, id int64) (*models.User, error) {
	v, ok := m.users.Load(id)
	if !ok {
		return nil, fmt.Errorf("%w: user", models.ErrNotFound)
	}
	user := v.(models.User)
	return &user, nil
}
