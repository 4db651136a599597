package txrelay

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"github.com/xtrntr/cryptop2p/internal/chain"
	"github.com/xtrntr/cryptop2p/internal/db"
	"github.com/xtrntr/cryptop2p/internal/metrics"
	"github.com/xtrntr/cryptop2p/internal/models"
)

// BroadcastRequest is a signed transaction submitted for relay.
type BroadcastRequest struct {
	Network     string
	SignedTx    string
	ToAddress   *string
	FromAddress *string
	Amount      *decimal.Decimal
	// UserID is nil for anonymous broadcasts.
	UserID *int64
}

// Reconciler relays signed transactions through a chain gateway and keeps
// their persisted status in line with what the chain reports.
type Reconciler struct {
	networks db.NetworkStore
	txs      db.TransactionStore
	gateway  chain.Gateway
	metrics  *metrics.Metrics
}

// NewReconciler returns a reconciler persisting to txs through gateway.
func NewReconciler(networks db.NetworkStore, txs db.TransactionStore, gateway chain.Gateway, m *metrics.Metrics) *Reconciler {
	return &Reconciler{
		networks: networks,
		txs:      txs,
		gateway:  gateway,
		metrics:  m,
	}
}

// Broadcast submits req to the gateway and records a pending transaction.
// Without a configured provider the hash is derived from the payload, so
// identical submissions yield the same hash. Every call inserts a new row.
func (r *Reconciler) Broadcast(ctx context.Context, req BroadcastRequest) (*models.TxRef, error) {
	network := strings.ToUpper(strings.TrimSpace(req.Network))
	if req.SignedTx == "" {
		return nil, fmt.Errorf("%w: signed_tx is required", models.ErrInvalidArgument)
	}
	if req.Amount != nil && req.Amount.IsNegative() {
		return nil, fmt.Errorf("%w: amount must not be negative", models.ErrInvalidArgument)
	}
	if _, err := r.networks.GetNetwork(ctx, network); err != nil {
		return nil, err
	}

	hash, err := r.gateway.Submit(ctx, network, req.SignedTx)
	switch {
	case errors.Is(err, models.ErrGatewayNotConfigured):
		hash = chain.PlaceholderHash(req.SignedTx)
	case err != nil:
		log.WithError(err).WithField("network", network).Error("transaction broadcast failed")
		return nil, err
	}

	tx, err := r.txs.InsertTransaction(ctx, &models.Transaction{
		UserID:      req.UserID,
		NetworkCode: network,
		TxHash:      hash,
		SignedTx:    req.SignedTx,
		ToAddress:   req.ToAddress,
		FromAddress: req.FromAddress,
		Amount:      req.Amount,
		Status:      models.TxPending,
	})
	if err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{
		"network": network,
		"tx_hash": hash,
		"id":      tx.ID,
	}).Info("transaction broadcast")
	return &models.TxRef{Network: network, TxHash: hash, Status: tx.Status}, nil
}

// GetStatus returns the status of (network, hash). Known transactions are
// re-polled and moved forward from pending when the chain reports a final
// status; a failing re-poll falls back to the persisted status. Unknown
// transactions are looked up on the chain without being persisted.
func (r *Reconciler) GetStatus(ctx context.Context, network, hash string) (*models.TxRef, error) {
	network = strings.ToUpper(strings.TrimSpace(network))

	tx, err := r.txs.GetTransaction(ctx, network, hash)
	if errors.Is(err, models.ErrNotFound) {
		status, err := r.gateway.Status(ctx, network, hash)
		if errors.Is(err, models.ErrGatewayNotConfigured) {
			return nil, fmt.Errorf("%w: transaction %s on %s", models.ErrNotFound, hash, network)
		}
		if err != nil {
			return nil, err
		}
		return &models.TxRef{Network: network, TxHash: hash, Status: status}, nil
	}
	if err != nil {
		return nil, err
	}

	ref := &models.TxRef{Network: network, TxHash: hash, Status: tx.Status}
	if tx.Status.Final() {
		return ref, nil
	}

	status, err := r.gateway.Status(ctx, network, hash)
	if err != nil {
		if !errors.Is(err, models.ErrGatewayNotConfigured) {
			log.WithError(err).WithFields(log.Fields{
				"network": network,
				"tx_hash": hash,
			}).Warn("status re-poll failed, keeping persisted status")
		}
		return ref, nil
	}
	if status == tx.Status || !status.Final() {
		return ref, nil
	}

	updated, err := r.txs.AdvanceTransactionStatus(ctx, network, hash, status)
	if err != nil {
		return nil, err
	}
	r.metrics.TransactionAdvanced(string(updated.Status))
	ref.Status = updated.Status
	return ref, nil
}
