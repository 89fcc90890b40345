package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DefaultCurrency is applied when a creation request omits the currency code.
const DefaultCurrency = "AOA"

// TransactionStatus is the lifecycle state of an escrow transaction.
type TransactionStatus string

const (
	StatusPending         TransactionStatus = "PENDING"
	StatusSellerConfirmed TransactionStatus = "SELLER_CONFIRMED"
	StatusReleased        TransactionStatus = "RELEASED"
	StatusDisputed        TransactionStatus = "DISPUTED"
)

// Valid reports whether s is one of the supported lifecycle states.
func (s TransactionStatus) Valid() bool {
	switch s {
	case StatusPending, StatusSellerConfirmed, StatusReleased, StatusDisputed:
		return true
	default:
		return false
	}
}

// Terminal reports whether no further transitions are allowed from s.
// Dispute resolution happens outside this service.
func (s TransactionStatus) Terminal() bool {
	return s == StatusReleased || s == StatusDisputed
}

// PaymentTransaction is the escrow record between a buyer and a seller.
// Rows are append-only: they are mutated through the engine's confirm,
// release and dispute operations and never deleted.
type PaymentTransaction struct {
	ID              uuid.UUID         `json:"id"`
	BuyerID         uuid.UUID         `json:"buyer_id"`
	SellerID        uuid.UUID         `json:"seller_id"`
	Amount          decimal.Decimal   `json:"amount"`
	Currency        string            `json:"currency"`
	Status          TransactionStatus `json:"status"`
	BuyerConfirmed  bool              `json:"buyer_confirmed"`
	SellerConfirmed bool              `json:"seller_confirmed"`
	DisputeReason   *string           `json:"dispute_reason,omitempty"`
	ReleasedAt      *time.Time        `json:"released_at,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

// WalletBalance is the per-user accumulation of released escrow funds.
// The balance only ever grows in this service; there is no debit path.
type WalletBalance struct {
	UserID    uuid.UUID       `json:"user_id"`
	Balance   decimal.Decimal `json:"balance"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// User is the minimal identity record the escrow core needs: enough to
// reject transactions that reference unknown parties. Full account
// management lives in the wider platform.
type User struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// CreateTransactionRequest is the payload for opening an escrow transaction.
type CreateTransactionRequest struct {
	BuyerID  uuid.UUID       `json:"buyer_id"`
	SellerID uuid.UUID       `json:"seller_id"`
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
}

// DisputeRequest carries the reason recorded for out-of-band resolution.
type DisputeRequest struct {
	Reason string `json:"reason"`
}

// TransactionFilter narrows List results. Nil fields match everything.
type TransactionFilter struct {
	BuyerID  *uuid.UUID
	SellerID *uuid.UUID
	Status   *TransactionStatus
}

// TransactionPatch is a partial update applied by the engine inside a
// storage transaction. Nil fields are left untouched.
type TransactionPatch struct {
	Status          *TransactionStatus
	BuyerConfirmed  *bool
	SellerConfirmed *bool
	DisputeReason   *string
	ReleasedAt      *time.Time
}
