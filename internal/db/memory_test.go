package db

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xtrntr/cryptop2p/internal/models"
)

func TestMemoryStore_CompareAndSwapOrder(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	order, err := store.InsertOrder(ctx, newTestOrder(1))
	require.NoError(t, err)
	assert.Equal(t, int64(1), order.ID)

	taker := int64(2)
	pre := models.Precondition{Status: models.OrderActive, TakerEmpty: true}
	accept := func(o *models.Order) error {
		o.TakerID = &taker
		o.Status = models.OrderInProgress
		o.Amount = o.Amount.Mul(o.Amount).Add(o.Amount)
		return nil
	}

	updated, err := store.CompareAndSwapOrder(ctx, order.ID, pre, accept)
	require.NoError(t, err)
	assert.Equal(t, models.OrderInProgress, updated.Status)
	assert.Equal(t, int64(2), *updated.TakerID)
	assert.True(t, updated.Amount.Equal(order.Amount), "only lifecycle fields are persisted")

	_, err = store.CompareAndSwapOrder(ctx, order.ID, pre, accept)
	assert.ErrorIs(t, err, models.ErrConflict)

	_, err = store.CompareAndSwapOrder(ctx, 42, pre, accept)
	assert.ErrorIs(t, err, models.ErrNotFound)

	boom := errors.New("boom")
	_, err = store.CompareAndSwapOrder(ctx, order.ID,
		models.Precondition{Status: models.OrderInProgress},
		func(o *models.Order) error {
			o.Status = models.OrderCancelled
			return boom
		})
	assert.ErrorIs(t, err, boom)

	got, err := store.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderInProgress, got.Status)
}

func TestMemoryStore_CompareAndSwapOrder_Concurrent(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	order, err := store.InsertOrder(ctx, newTestOrder(1))
	require.NoError(t, err)

	var wg sync.WaitGroup
	n := 50
	wg.Add(n)
	successCount := 0
	var winner int64
	mu := sync.Mutex{}

	for i := 0; i < n; i++ {
		taker := int64(2 + i)
		go func() {
			defer wg.Done()
			_, err := store.CompareAndSwapOrder(ctx, order.ID,
				models.Precondition{Status: models.OrderActive, TakerEmpty: true},
				func(o *models.Order) error {
					o.TakerID = &taker
					o.Status = models.OrderInProgress
					return nil
				})
			if err == nil {
				mu.Lock()
				successCount++
				winner = taker
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successCount)
	got, err := store.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, winner, *got.TakerID)
}

func TestMemoryStore_QueryOrders(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	for _, maker := range []int64{1, 2, 1, 3} {
		_, err := store.InsertOrder(ctx, newTestOrder(maker))
		require.NoError(t, err)
	}
	taker := int64(2)
	_, err := store.CompareAndSwapOrder(ctx, 3,
		models.Precondition{Status: models.OrderActive, TakerEmpty: true},
		func(o *models.Order) error {
			o.TakerID = &taker
			o.Status = models.OrderInProgress
			return nil
		})
	require.NoError(t, err)

	open, err := CollectOrders(store.QueryOrders(ctx, models.OrderFilter{Status: models.OrderActive, ExcludeMakerID: 1}))
	require.NoError(t, err)
	require.Len(t, open, 2)
	assert.Equal(t, int64(2), open[0].ID)
	assert.Equal(t, int64(4), open[1].ID)

	history, err := CollectOrders(store.QueryOrders(ctx, models.OrderFilter{ParticipantID: 2, Sort: models.SortIDDesc}))
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, int64(3), history[0].ID)
	assert.Equal(t, int64(2), history[1].ID)

	// the sequence re-runs against the current state on every range
	seq := store.QueryOrders(ctx, models.OrderFilter{Status: models.OrderActive})
	first, err := CollectOrders(seq)
	require.NoError(t, err)
	_, err = store.InsertOrder(ctx, newTestOrder(3))
	require.NoError(t, err)
	second, err := CollectOrders(seq)
	require.NoError(t, err)
	assert.Len(t, second, len(first)+1)
}

func TestMemoryStore_Transactions(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	_, err := store.GetTransaction(ctx, "BTC", "abc")
	assert.ErrorIs(t, err, models.ErrNotFound)

	for i := 0; i < 2; i++ {
		_, err := store.InsertTransaction(ctx, &models.Transaction{
			NetworkCode: "BTC", TxHash: "abc", SignedTx: "deadbeef", Status: models.TxPending,
		})
		require.NoError(t, err)
	}
	txs, err := store.ListTransactions(ctx, "BTC", "abc")
	require.NoError(t, err)
	assert.Len(t, txs, 2)

	tx, err := store.AdvanceTransactionStatus(ctx, "BTC", "abc", models.TxFailed)
	require.NoError(t, err)
	assert.Equal(t, models.TxFailed, tx.Status)

	tx, err = store.AdvanceTransactionStatus(ctx, "BTC", "abc", models.TxConfirmed)
	require.NoError(t, err)
	assert.Equal(t, models.TxFailed, tx.Status)

	_, err = store.AdvanceTransactionStatus(ctx, "ETH", "abc", models.TxConfirmed)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestMemoryStore_NetworksAndUsers(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	require.NoError(t, store.UpsertNetwork(ctx, &models.Network{Code: "BTC", Name: "Bitcoin", NativeSymbol: "BTC"}))
	require.NoError(t, store.UpsertNetwork(ctx, &models.Network{Code: "ETH", Name: "Ethereum", NativeSymbol: "ETH"}))
	require.NoError(t, store.UpsertNetwork(ctx, &models.Network{Code: "BTC", Name: "Bitcoin Core", NativeSymbol: "BTC"}))

	networks, err := store.ListNetworks(ctx)
	require.NoError(t, err)
	require.Len(t, networks, 2)
	assert.Equal(t, "Bitcoin Core", networks[0].Name)
	_, err = store.GetNetwork(ctx, "DOGE")
	assert.ErrorIs(t, err, models.ErrUnknownNetwork)

	user, err := store.CreateUser(ctx, "alice@example.com", "hash")
	require.NoError(t, err)
	_, err = store.CreateUser(ctx, "alice@example.com", "hash")
	assert.ErrorIs(t, err, models.ErrConflict)
	next, err := store.CreateUser(ctx, "bob@example.com", "hash")
	require.NoError(t, err)
	assert.Equal(t, user.ID+1, next.ID)
	got, err := store.GetUserByEmail(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, user.ID, got.ID)
}

func TestMemoryStore_CreateUser_Concurrent(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	const workers = 20
	var wg sync.WaitGroup
	var mu sync.Mutex
	var created []int64
	for i := 0; i < workers; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			user, err := store.CreateUser(ctx, "bob@example.com", "hash")
			if err != nil {
				assert.ErrorIs(t, err, models.ErrConflict)
				return
			}
			mu.Lock()
			created = append(created, user.ID)
			mu.Unlock()
		}()
		go func() {
			defer wg.Done()
			user, err := store.GetUserByEmail(ctx, "bob@example.com")
			if err != nil {
				assert.ErrorIs(t, err, models.ErrNotFound)
				return
			}
			assert.Equal(t, "bob@example.com", user.Email)
		}()
	}
	wg.Wait()

	require.Len(t, created, 1)
	got, err := store.GetUserByEmail(ctx, "bob@example.com")
	require.NoError(t, err)
	assert.Equal(t, created[0], got.ID)
}

func TestSeedNetworks(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	require.NoError(t, SeedNetworks(ctx, store))
	require.NoError(t, SeedNetworks(ctx, store))

	networks, err := store.ListNetworks(ctx)
	require.NoError(t, err)
	require.Len(t, networks, len(DefaultNetworks))
	for i, n := range networks {
		assert.Equal(t, DefaultNetworks[i].Code, n.Code)
	}

	usdt, err := store.GetNetwork(ctx, "USDT_TRC20")
	require.NoError(t, err)
	assert.True(t, usdt.IsToken)
	require.NotNil(t, usdt.ParentChain)
	assert.Equal(t, "TRX", *usdt.ParentChain)
}
