package credit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// pq unique_violation
const uniqueViolation = "23505"

// Repository defines credit ledger data access
type Repository interface {
	// Insert records a pending credit; returns ErrDuplicateReceipt if
	// the receipt number was ever used before
	Insert(ctx context.Context, c *Credit) error
	GetByReceipt(ctx context.Context, receiptNumber string) (*Credit, error)
	MarkSettled(ctx context.Context, id uuid.UUID, lightningRef string) error
	MarkFailed(ctx context.Context, id uuid.UUID, reason string) error
}

type repository struct {
	db *sqlx.DB
}

// NewRepository creates credit repository
func NewRepository(db *sqlx.DB) Repository {
	return &repository{db: db}
}

func (r *repository) Insert(ctx context.Context, c *Credit) error {
	query := `
		INSERT INTO credits (
			id, transaction_id, receipt_number, amount_fiat, currency,
			amount_sats, exchange_rate, destination, status, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW(), NOW())
	`
	_, err := r.db.ExecContext(ctx, query,
		c.ID, c.TransactionID, c.ReceiptNumber, c.AmountFiat, c.Currency,
		c.AmountSats, c.ExchangeRate, c.Destination, c.Status,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation {
			return ErrDuplicateReceipt
		}
		return fmt.Errorf("failed to insert credit: %w", err)
	}
	return nil
}

func (r *repository) GetByReceipt(ctx context.Context, receiptNumber string) (*Credit, error) {
	query := `SELECT * FROM credits WHERE receipt_number = $1`
	var c Credit
	err := r.db.GetContext(ctx, &c, query, receiptNumber)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &c, nil
}

func (r *repository) MarkSettled(ctx context.Context, id uuid.UUID, lightningRef string) error {
	query := `
		UPDATE credits
		SET status = 'settled', lightning_ref = $2, updated_at = NOW()
		WHERE id = $1
	`
	_, err := r.db.ExecContext(ctx, query, id, lightningRef)
	return err
}

func (r *repository) MarkFailed(ctx context.Context, id uuid.UUID, reason string) error {
	if len(reason) > 2000 {
		reason = reason[:2000]
	}
	query := `
		UPDATE credits
		SET status = 'failed', failure_reason = $2, updated_at = NOW()
		WHERE id = $1
	`
	_, err := r.db.ExecContext(ctx, query, id, reason)
	return err
}
