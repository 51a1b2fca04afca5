package transaction

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// Kind represents the direction of a transaction
type Kind string

const (
	// KindBuy collects fiat via mobile money and credits sats
	KindBuy Kind = "buy"
	// KindPayout collects sats and disburses fiat via mobile money
	KindPayout Kind = "payout"
	// KindAirtime collects sats and delivers airtime
	KindAirtime Kind = "airtime"
)

// Status represents transaction status
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusRefunded   Status = "refunded"
)

// Terminal reports whether no further transition is allowed out of s.
// Refunded is reachable FROM completed/failed, so those two still
// admit exactly one outgoing edge; everything else about them is
// frozen.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusRefunded
}

// CanTransition reports whether the state machine allows from -> to.
// The status only ever moves forward; duplicate deliveries that try to
// re-enter a terminal state are no-ops, not errors.
func CanTransition(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusProcessing || to == StatusFailed
	case StatusProcessing:
		return to == StatusCompleted || to == StatusFailed
	case StatusCompleted, StatusFailed:
		return to == StatusRefunded
	default:
		return false
	}
}

// Transaction is the unit of work moving between the mobile-money rail
// and the Lightning rail. The row doubles as the job-queue record and
// the client-visible status store.
type Transaction struct {
	ID       uuid.UUID `db:"id" json:"id"`
	UserID   uuid.UUID `db:"user_id" json:"user_id"`
	Kind     Kind      `db:"kind" json:"kind"`
	Status   Status    `db:"status" json:"status"`
	Phone    string    `db:"phone" json:"phone"`
	Currency string    `db:"currency" json:"currency"`

	AmountFiat float64       `db:"amount_fiat" json:"amount_fiat"`
	AmountSats sql.NullInt64 `db:"amount_sats" json:"amount_sats,omitempty"`

	// ExchangeRate is the fiat-per-BTC snapshot fixed at conversion
	// time; never recomputed for this transaction.
	ExchangeRate sql.NullFloat64 `db:"exchange_rate" json:"exchange_rate,omitempty"`

	// ExternalRef is the provider correlation id (checkout request id,
	// conversation id, airtime request id); the reconciliation key.
	ExternalRef sql.NullString `db:"external_ref" json:"external_ref,omitempty"`

	// ReceiptNumber is the fiat-side proof (e.g. M-Pesa receipt)
	ReceiptNumber sql.NullString `db:"receipt_number" json:"receipt_number,omitempty"`
	// LightningRef is the crypto-side proof (payment hash)
	LightningRef sql.NullString `db:"lightning_ref" json:"lightning_ref,omitempty"`
	// LightningDest is where credited or refunded sats go
	LightningDest sql.NullString `db:"lightning_dest" json:"lightning_dest,omitempty"`
	// FundingInvoice is the invoice issued at intake for payout/airtime
	// kinds to collect the crypto leg
	FundingInvoice sql.NullString `db:"funding_invoice" json:"funding_invoice,omitempty"`

	FailureReason sql.NullString `db:"failure_reason" json:"failure_reason,omitempty"`
	Attempts      int            `db:"attempts" json:"attempts"`

	CreatedAt    time.Time    `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time    `db:"updated_at" json:"updated_at"`
	DispatchedAt sql.NullTime `db:"dispatched_at" json:"dispatched_at,omitempty"`
	CompletedAt  sql.NullTime `db:"completed_at" json:"completed_at,omitempty"`
}

// Progress maps status to a rough client-facing percentage
func (t *Transaction) Progress() int {
	switch t.Status {
	case StatusPending:
		return 10
	case StatusProcessing:
		return 50
	default:
		return 100
	}
}

// CryptoLegCollected reports whether sats were already taken from the
// user, which is what obligates a compensating refund on late failure.
func (t *Transaction) CryptoLegCollected() bool {
	return (t.Kind == KindPayout || t.Kind == KindAirtime) && t.AmountSats.Valid
}
