package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// User represents a registered user
type User struct {
	ID           int64     `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// Side of a P2P order
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Valid reports whether s is a known side
func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

// OrderStatus is a state of the order lifecycle
type OrderStatus string

const (
	OrderActive     OrderStatus = "active"
	OrderInProgress OrderStatus = "in_progress"
	OrderCompleted  OrderStatus = "completed"
	OrderCancelled  OrderStatus = "cancelled"
)

// Terminal reports whether no further transition is allowed from s
func (s OrderStatus) Terminal() bool {
	return s == OrderCompleted || s == OrderCancelled
}

// Order represents a P2P trade offer between a maker and an optional taker
type Order struct {
	ID             int64           `json:"id"`
	Side           Side            `json:"side"`
	FiatCurrency   string          `json:"fiat_currency"`
	CryptoCurrency string          `json:"crypto_currency"`
	Amount         decimal.Decimal `json:"amount"`
	Price          decimal.Decimal `json:"price"`
	Status         OrderStatus     `json:"status"`
	MakerID        int64           `json:"maker_id"`
	TakerID        *int64          `json:"taker_id"`
	MakerConfirmed bool            `json:"maker_confirmed"`
	TakerConfirmed bool            `json:"taker_confirmed"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// HasTaker reports whether the order was accepted by a counter-party
func (o *Order) HasTaker() bool {
	return o.TakerID != nil
}

// IsParticipant reports whether userID is the maker or the taker
func (o *Order) IsParticipant(userID int64) bool {
	return o.MakerID == userID || (o.TakerID != nil && *o.TakerID == userID)
}

// Precondition is what CompareAndSwapOrder checks against the persisted row
// before applying a mutation.
type Precondition struct {
	Status     OrderStatus
	TakerEmpty bool
}

// Holds reports whether o still satisfies p
func (p Precondition) Holds(o *Order) bool {
	return o.Status == p.Status && p.TakerEmpty == (o.TakerID == nil)
}

// OrderSort is the ordering applied to QueryOrders results
type OrderSort int

const (
	SortIDAsc OrderSort = iota
	SortIDDesc
)

// OrderFilter selects orders. Zero-valued fields are ignored.
type OrderFilter struct {
	Status         OrderStatus
	ExcludeMakerID int64
	ParticipantID  int64
	Sort           OrderSort
}

// Match reports whether o passes the filter
func (f OrderFilter) Match(o *Order) bool {
	if f.Status != "" && o.Status != f.Status {
		return false
	}
	if f.ExcludeMakerID != 0 && o.MakerID == f.ExcludeMakerID {
		return false
	}
	if f.ParticipantID != 0 && !o.IsParticipant(f.ParticipantID) {
		return false
	}
	return true
}

// TxStatus is the normalized settlement status of a broadcast transaction
type TxStatus string

const (
	TxPending   TxStatus = "pending"
	TxConfirmed TxStatus = "confirmed"
	TxFailed    TxStatus = "failed"
)

// Final reports whether s can no longer change
func (s TxStatus) Final() bool {
	return s == TxConfirmed || s == TxFailed
}

// Transaction represents one broadcast attempt and its observed status
type Transaction struct {
	ID          int64            `json:"id"`
	UserID      *int64           `json:"user_id,omitempty"`
	NetworkCode string           `json:"network"`
	TxHash      string           `json:"tx_hash"`
	SignedTx    string           `json:"-"`
	ToAddress   *string          `json:"to_address,omitempty"`
	FromAddress *string          `json:"from_address,omitempty"`
	Amount      *decimal.Decimal `json:"amount,omitempty"`
	Status      TxStatus         `json:"status"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// TxRef is what callers get back from broadcast and status queries
type TxRef struct {
	Network string   `json:"network"`
	TxHash  string   `json:"tx_hash"`
	Status  TxStatus `json:"status"`
}

// Network is an entry of the recognized network reference table
type Network struct {
	ID           int64   `json:"-"`
	Code         string  `json:"code"`
	Name         string  `json:"name"`
	NativeSymbol string  `json:"native_symbol"`
	IsToken      bool    `json:"is_token"`
	ParentChain  *string `json:"parent_chain"`
}
