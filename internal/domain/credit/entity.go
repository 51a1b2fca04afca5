package credit

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// Status represents a credit record's settlement state
type Status string

const (
	StatusPending Status = "pending"
	StatusSettled Status = "settled"
	StatusFailed  Status = "failed"
)

// Credit is one attempted issue of Lightning value against a fiat
// proof. The UNIQUE constraint on receipt_number is the idempotency
// guarantee: one receipt can never fund two settlements, no matter how
// many times its webhook is delivered.
type Credit struct {
	ID            uuid.UUID       `db:"id" json:"id"`
	TransactionID uuid.UUID       `db:"transaction_id" json:"transaction_id"`
	ReceiptNumber string          `db:"receipt_number" json:"receipt_number"`
	AmountFiat    float64         `db:"amount_fiat" json:"amount_fiat"`
	Currency      string          `db:"currency" json:"currency"`
	AmountSats    int64           `db:"amount_sats" json:"amount_sats"`
	ExchangeRate  float64         `db:"exchange_rate" json:"exchange_rate"`
	Destination   string          `db:"destination" json:"destination"`
	LightningRef  sql.NullString  `db:"lightning_ref" json:"lightning_ref,omitempty"`
	Status        Status          `db:"status" json:"status"`
	FailureReason sql.NullString  `db:"failure_reason" json:"failure_reason,omitempty"`
	CreatedAt     time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time       `db:"updated_at" json:"updated_at"`
}
