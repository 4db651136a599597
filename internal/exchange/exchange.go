package exchange

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"github.com/xtrntr/cryptop2p/internal/db"
	"github.com/xtrntr/cryptop2p/internal/metrics"
	"github.com/xtrntr/cryptop2p/internal/models"
)

// Exchange runs the P2P order lifecycle on top of an order store.
// ACTIVE -> IN_PROGRESS -> COMPLETED, with CANCELLED reachable from both
// non-terminal states. All mutations go through the store's compare-and-swap.
type Exchange struct {
	store         db.OrderStore
	metrics       *metrics.Metrics
	strictConfirm bool
	notify        func()
}

// Option customizes an Exchange.
type Option func(*Exchange)

// WithStrictConfirm rejects confirmations on orders that have no taker yet.
func WithStrictConfirm(strict bool) Option {
	return func(e *Exchange) { e.strictConfirm = strict }
}

// WithMetrics records an outcome counter for every operation.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Exchange) { e.metrics = m }
}

// WithNotifier registers fn to run after every successful order change.
func WithNotifier(fn func()) Option {
	return func(e *Exchange) { e.notify = fn }
}

// NewExchange creates a new exchange
func NewExchange(store db.OrderStore, opts ...Option) *Exchange {
	e := &Exchange{store: store}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// OrderRequest holds the maker supplied fields of a new order.
type OrderRequest struct {
	Side           models.Side
	FiatCurrency   string
	CryptoCurrency string
	Amount         decimal.Decimal
	Price          decimal.Decimal
}

func (r *OrderRequest) normalize() error {
	r.FiatCurrency = strings.ToUpper(strings.TrimSpace(r.FiatCurrency))
	r.CryptoCurrency = strings.ToUpper(strings.TrimSpace(r.CryptoCurrency))

	if !r.Side.Valid() {
		return fmt.Errorf("%w: side must be buy or sell", models.ErrInvalidArgument)
	}
	if r.FiatCurrency == "" || r.CryptoCurrency == "" {
		return fmt.Errorf("%w: fiat_currency and crypto_currency are required", models.ErrInvalidArgument)
	}
	if !r.Amount.IsPositive() {
		return fmt.Errorf("%w: amount must be positive", models.ErrInvalidArgument)
	}
	if !r.Price.IsPositive() {
		return fmt.Errorf("%w: price must be positive", models.ErrInvalidArgument)
	}
	return nil
}

// CreateOrder places a new ACTIVE order owned by makerID.
func (e *Exchange) CreateOrder(ctx context.Context, makerID int64, req OrderRequest) (order *models.Order, err error) {
	defer e.record("create", &err)

	if err := requireUser(makerID); err != nil {
		return nil, err
	}
	if err := req.normalize(); err != nil {
		return nil, err
	}

	order, err = e.store.InsertOrder(ctx, &models.Order{
		Side:           req.Side,
		FiatCurrency:   req.FiatCurrency,
		CryptoCurrency: req.CryptoCurrency,
		Amount:         req.Amount,
		Price:          req.Price,
		Status:         models.OrderActive,
		MakerID:        makerID,
	})
	if err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{
		"order_id": order.ID,
		"maker_id": makerID,
		"side":     order.Side,
		"pair":     order.CryptoCurrency + "/" + order.FiatCurrency,
	}).Info("order created")
	e.changed()
	return order, nil
}

// ListOpenOrders returns ACTIVE orders not made by userID, oldest first.
func (e *Exchange) ListOpenOrders(ctx context.Context, userID int64) ([]models.Order, error) {
	if err := requireUser(userID); err != nil {
		return nil, err
	}
	return db.CollectOrders(e.store.QueryOrders(ctx, models.OrderFilter{
		Status:         models.OrderActive,
		ExcludeMakerID: userID,
		Sort:           models.SortIDAsc,
	}))
}

// OpenOrders returns every ACTIVE order, oldest first.
func (e *Exchange) OpenOrders(ctx context.Context) ([]models.Order, error) {
	return db.CollectOrders(e.store.QueryOrders(ctx, models.OrderFilter{
		Status: models.OrderActive,
		Sort:   models.SortIDAsc,
	}))
}

// History returns the orders userID made or took, newest first.
func (e *Exchange) History(ctx context.Context, userID int64) ([]models.Order, error) {
	if err := requireUser(userID); err != nil {
		return nil, err
	}
	return db.CollectOrders(e.store.QueryOrders(ctx, models.OrderFilter{
		ParticipantID: userID,
		Sort:          models.SortIDDesc,
	}))
}

// AcceptOrder makes userID the taker of an ACTIVE order. Of several
// concurrent accepts at most one succeeds; the others get ErrConflict.
func (e *Exchange) AcceptOrder(ctx context.Context, orderID, userID int64) (order *models.Order, err error) {
	defer e.record("accept", &err)

	if err := requireUser(userID); err != nil {
		return nil, err
	}
	current, err := e.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	switch {
	case current.MakerID == userID:
		return nil, fmt.Errorf("%w: cannot accept your own order", models.ErrConflict)
	case current.Status != models.OrderActive:
		return nil, fmt.Errorf("%w: order %d is %s", models.ErrConflict, orderID, current.Status)
	case current.HasTaker():
		return nil, fmt.Errorf("%w: order %d already has a taker", models.ErrConflict, orderID)
	}

	pre := models.Precondition{Status: models.OrderActive, TakerEmpty: true}
	order, err = e.store.CompareAndSwapOrder(ctx, orderID, pre, func(o *models.Order) error {
		taker := userID
		o.TakerID = &taker
		o.Status = models.OrderInProgress
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{"order_id": orderID, "taker_id": userID}).Info("order accepted")
	e.changed()
	return order, nil
}

// ConfirmOrder records that userID, maker or taker, considers the trade done.
// The order completes once both sides confirmed. Confirming again is a no-op.
func (e *Exchange) ConfirmOrder(ctx context.Context, orderID, userID int64) (order *models.Order, err error) {
	defer e.record("confirm", &err)

	if err := requireUser(userID); err != nil {
		return nil, err
	}
	current, err := e.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if current.Status != models.OrderActive && current.Status != models.OrderInProgress {
		return nil, fmt.Errorf("%w: order %d is %s", models.ErrConflict, orderID, current.Status)
	}
	if !current.IsParticipant(userID) {
		return nil, fmt.Errorf("%w: not a participant of order %d", models.ErrForbidden, orderID)
	}
	if e.strictConfirm && !current.HasTaker() {
		return nil, fmt.Errorf("%w: order %d has not been accepted", models.ErrConflict, orderID)
	}

	isMaker := current.MakerID == userID
	if (isMaker && current.MakerConfirmed) || (!isMaker && current.TakerConfirmed) {
		return current, nil
	}

	pre := models.Precondition{Status: current.Status, TakerEmpty: !current.HasTaker()}
	order, err = e.store.CompareAndSwapOrder(ctx, orderID, pre, func(o *models.Order) error {
		if isMaker {
			o.MakerConfirmed = true
		} else {
			o.TakerConfirmed = true
		}
		if o.MakerConfirmed && o.TakerConfirmed && o.HasTaker() {
			o.Status = models.OrderCompleted
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{
		"order_id": orderID,
		"user_id":  userID,
		"status":   order.Status,
	}).Info("order confirmed")
	e.changed()
	return order, nil
}

// CancelOrder lets the maker withdraw a non-terminal order.
func (e *Exchange) CancelOrder(ctx context.Context, orderID, userID int64) (order *models.Order, err error) {
	defer e.record("cancel", &err)

	if err := requireUser(userID); err != nil {
		return nil, err
	}
	current, err := e.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if current.MakerID != userID {
		return nil, fmt.Errorf("%w: only the maker can cancel order %d", models.ErrForbidden, orderID)
	}
	if current.Status.Terminal() {
		return nil, fmt.Errorf("%w: order %d is %s", models.ErrConflict, orderID, current.Status)
	}

	pre := models.Precondition{Status: current.Status, TakerEmpty: !current.HasTaker()}
	order, err = e.store.CompareAndSwapOrder(ctx, orderID, pre, func(o *models.Order) error {
		o.Status = models.OrderCancelled
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{"order_id": orderID}).Info("order cancelled")
	e.changed()
	return order, nil
}

func (e *Exchange) changed() {
	if e.notify != nil {
		e.notify()
	}
}

func (e *Exchange) record(op string, err *error) {
	e.metrics.OrderOperation(op, outcome(*err))
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, models.ErrInvalidArgument):
		return "invalid"
	case errors.Is(err, models.ErrNotFound):
		return "not_found"
	case errors.Is(err, models.ErrForbidden):
		return "forbidden"
	case errors.Is(err, models.ErrConflict):
		return "conflict"
	case errors.Is(err, models.ErrUnauthorized):
		return "unauthorized"
	}
	return "error"
}

func requireUser(userID int64) error {
	if userID <= 0 {
		return fmt.Errorf("%w: no acting user", models.ErrUnauthorized)
	}
	return nil
}
