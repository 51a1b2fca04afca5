package transaction

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// Proof carries the settlement evidence recorded on completion. Nil
// fields keep whatever the row already holds, so the payout flow
// (sats fixed at intake) and the buy flow (sats fixed at crediting)
// share one code path.
type Proof struct {
	ReceiptNumber *string
	AmountSats    *int64
	ExchangeRate  *float64
	LightningRef  *string
}

// Repository defines transaction data access. Every status mutation is
// a guarded compare-and-set: the WHERE clause re-checks the source
// status so a race loser becomes a no-op (applied=false), never an
// overwrite of a terminal state.
type Repository interface {
	Create(ctx context.Context, t *Transaction) error
	GetByID(ctx context.Context, id uuid.UUID) (*Transaction, error)
	GetByExternalRef(ctx context.Context, externalRef string) (*Transaction, error)

	// ClaimNext atomically claims the oldest pending job for a worker
	ClaimNext(ctx context.Context) (*Transaction, bool, error)
	// RecordAttempt persists the dispatch attempt counter mid-retry
	RecordAttempt(ctx context.Context, id uuid.UUID, attempts int) error
	// SetDispatched records the provider correlation id after a
	// successful adapter call; the job stays processing
	SetDispatched(ctx context.Context, id uuid.UUID, externalRef string, attempts int) (bool, error)

	MarkCompleted(ctx context.Context, id uuid.UUID, proof Proof) (bool, error)
	MarkFailed(ctx context.Context, id uuid.UUID, reason string) (bool, error)
	MarkRefunded(ctx context.Context, id uuid.UUID, refundRef string) (bool, error)

	// ListStale returns transactions sitting in status since before cutoff
	ListStale(ctx context.Context, status Status, cutoff time.Time, limit int) ([]*Transaction, error)
}

type repository struct {
	db *sqlx.DB
}

// NewRepository creates transaction repository
func NewRepository(db *sqlx.DB) Repository {
	return &repository{db: db}
}

func (r *repository) Create(ctx context.Context, t *Transaction) error {
	query := `
		INSERT INTO transactions (
			id, user_id, kind, status, phone, currency, amount_fiat,
			amount_sats, exchange_rate, lightning_dest, funding_invoice,
			attempts, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, 0, NOW(), NOW())
	`
	_, err := r.db.ExecContext(ctx, query,
		t.ID,
		t.UserID,
		t.Kind,
		t.Status,
		t.Phone,
		t.Currency,
		t.AmountFiat,
		t.AmountSats,
		t.ExchangeRate,
		t.LightningDest,
		t.FundingInvoice,
	)
	if err != nil {
		return fmt.Errorf("failed to create transaction: %w", err)
	}
	return nil
}

func (r *repository) GetByID(ctx context.Context, id uuid.UUID) (*Transaction, error) {
	query := `SELECT * FROM transactions WHERE id = $1`
	var t Transaction
	err := r.db.GetContext(ctx, &t, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &t, nil
}

func (r *repository) GetByExternalRef(ctx context.Context, externalRef string) (*Transaction, error) {
	query := `SELECT * FROM transactions WHERE external_ref = $1`
	var t Transaction
	err := r.db.GetContext(ctx, &t, query, externalRef)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &t, nil
}

// ClaimNext claims the oldest pending transaction. SKIP LOCKED keeps
// concurrent workers from ever holding the same job.
func (r *repository) ClaimNext(ctx context.Context) (*Transaction, bool, error) {
	query := `
		UPDATE transactions
		SET status = 'processing', updated_at = NOW()
		WHERE id = (
			SELECT id FROM transactions
			WHERE status = 'pending'
			ORDER BY created_at ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING *
	`
	var t Transaction
	err := r.db.GetContext(ctx, &t, query)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return &t, true, nil
}

func (r *repository) RecordAttempt(ctx context.Context, id uuid.UUID, attempts int) error {
	query := `UPDATE transactions SET attempts = $2, updated_at = NOW() WHERE id = $1`
	_, err := r.db.ExecContext(ctx, query, id, attempts)
	return err
}

func (r *repository) SetDispatched(ctx context.Context, id uuid.UUID, externalRef string, attempts int) (bool, error) {
	query := `
		UPDATE transactions
		SET external_ref = $2, attempts = $3, dispatched_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status = 'processing' AND external_ref IS NULL
	`
	result, err := r.db.ExecContext(ctx, query, id, externalRef, attempts)
	if err != nil {
		return false, fmt.Errorf("failed to record dispatch: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

func (r *repository) MarkCompleted(ctx context.Context, id uuid.UUID, proof Proof) (bool, error) {
	query := `
		UPDATE transactions
		SET status = 'completed',
		    receipt_number = COALESCE($2, receipt_number),
		    amount_sats = COALESCE($3, amount_sats),
		    exchange_rate = COALESCE($4, exchange_rate),
		    lightning_ref = COALESCE($5, lightning_ref),
		    completed_at = NOW(),
		    updated_at = NOW()
		WHERE id = $1 AND status = 'processing'
	`
	result, err := r.db.ExecContext(ctx, query, id,
		proof.ReceiptNumber, proof.AmountSats, proof.ExchangeRate, proof.LightningRef)
	if err != nil {
		return false, fmt.Errorf("failed to complete transaction: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

func (r *repository) MarkFailed(ctx context.Context, id uuid.UUID, reason string) (bool, error) {
	if len(reason) > 2000 {
		reason = reason[:2000]
	}
	query := `
		UPDATE transactions
		SET status = 'failed', failure_reason = $2, updated_at = NOW()
		WHERE id = $1 AND status IN ('pending', 'processing')
	`
	result, err := r.db.ExecContext(ctx, query, id, reason)
	if err != nil {
		return false, fmt.Errorf("failed to fail transaction: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

func (r *repository) MarkRefunded(ctx context.Context, id uuid.UUID, refundRef string) (bool, error) {
	query := `
		UPDATE transactions
		SET status = 'refunded', lightning_ref = $2, updated_at = NOW()
		WHERE id = $1 AND status IN ('completed', 'failed')
	`
	result, err := r.db.ExecContext(ctx, query, id, refundRef)
	if err != nil {
		return false, fmt.Errorf("failed to refund transaction: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

func (r *repository) ListStale(ctx context.Context, status Status, cutoff time.Time, limit int) ([]*Transaction, error) {
	query := `
		SELECT * FROM transactions
		WHERE status = $1 AND updated_at < $2
		ORDER BY updated_at ASC
		LIMIT $3
	`
	var txs []*Transaction
	err := r.db.SelectContext(ctx, &txs, query, status, cutoff, limit)
	return txs, err
}
