package webhook

import (
	"context"
	"errors"
	"expvar"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/pesasats/pesasats-api/internal/domain/credit"
	"github.com/pesasats/pesasats-api/internal/domain/transaction"
	"github.com/pesasats/pesasats-api/internal/pkg/keymutex"
)

var (
	statProcessed  = expvar.NewInt("webhook_processed")
	statDuplicates = expvar.NewInt("webhook_duplicates")
	statUnknownRef = expvar.NewInt("webhook_unknown_ref")
	statRefunds    = expvar.NewInt("webhook_refunds")

	statMalformed     = expvar.NewInt("webhook_malformed")
	statProcessErrors = expvar.NewInt("webhook_process_errors")
)

// CreditService is the slice of the crediting engine the reconciler
// drives.
type CreditService interface {
	Credit(ctx context.Context, req credit.Request) (*credit.Result, error)
	Refund(ctx context.Context, txID uuid.UUID, amountSats int64, destination, reason string) (*credit.Result, error)
}

// Archiver stores raw callback bodies for audit
type Archiver interface {
	StoreCallback(ctx context.Context, provider, externalRef string, body []byte) (string, error)
}

// Service reconciles provider callbacks against the transaction store.
// Deliveries are at-least-once and unordered, so every path here must
// tolerate replays: terminal transactions ack as no-ops, and the credit
// layer's receipt uniqueness backstops anything that slips through the
// per-reference lock.
type Service struct {
	repo    transaction.Repository
	credits CreditService
	archive Archiver
	locks   *keymutex.KeyMutex
}

// NewService creates the reconciliation service. archive may be nil.
func NewService(repo transaction.Repository, credits CreditService, archive Archiver) *Service {
	return &Service{
		repo:    repo,
		credits: credits,
		archive: archive,
		locks:   keymutex.New(64),
	}
}

// Process applies one verified callback. Errors are internal faults
// worth a provider retry; business outcomes (unknown ref, duplicate,
// failed payment) all resolve to nil so the provider stops redelivering.
func (s *Service) Process(ctx context.Context, event *Event, rawBody []byte) error {
	if s.archive != nil {
		if _, err := s.archive.StoreCallback(ctx, event.Provider, event.ExternalRef, rawBody); err != nil {
			log.Warn().Err(err).Str("external_ref", event.ExternalRef).Msg("Failed to archive callback body")
		}
	}

	// Serialize concurrent deliveries for the same reference so the
	// lookup-then-transition below stays race-free in-process.
	s.locks.Lock(event.ExternalRef)
	defer s.locks.Unlock(event.ExternalRef)

	tx, err := s.repo.GetByExternalRef(ctx, event.ExternalRef)
	if err != nil {
		return err
	}
	if tx == nil {
		statUnknownRef.Add(1)
		log.Warn().
			Str("provider", event.Provider).
			Str("external_ref", event.ExternalRef).
			Msg("Callback references no known transaction")
		return nil
	}

	if tx.Status.Terminal() {
		statDuplicates.Add(1)
		log.Debug().
			Str("transaction_id", tx.ID.String()).
			Str("status", string(tx.Status)).
			Msg("Duplicate callback for settled transaction")
		return nil
	}

	if event.Success {
		err = s.settle(ctx, tx, event)
	} else {
		err = s.fail(ctx, tx, event)
	}
	if err != nil {
		return err
	}

	statProcessed.Add(1)
	return nil
}

func (s *Service) settle(ctx context.Context, tx *transaction.Transaction, event *Event) error {
	proof := transaction.Proof{ReceiptNumber: &event.ReceiptNumber}

	if tx.Kind == transaction.KindBuy {
		res, err := s.credits.Credit(ctx, credit.Request{
			TransactionID: tx.ID,
			AmountFiat:    tx.AmountFiat,
			Currency:      tx.Currency,
			ReceiptNumber: event.ReceiptNumber,
			Destination:   tx.LightningDest.String,
		})
		switch {
		case errors.Is(err, credit.ErrDuplicateReceipt):
			statDuplicates.Add(1)
			log.Debug().
				Str("transaction_id", tx.ID.String()).
				Str("receipt", event.ReceiptNumber).
				Msg("Receipt already credited")
			return nil
		case errors.Is(err, credit.ErrRailSettlement):
			// Fiat is in hand but sats did not move. Leave the
			// transaction processing for reconciliation instead of
			// completing without the crypto leg.
			return nil
		case errors.Is(err, credit.ErrBelowMinimum):
			_, ferr := s.repo.MarkFailed(ctx, tx.ID, "credited amount below minimum")
			return ferr
		case err != nil:
			return err
		}
		proof.AmountSats = &res.AmountSats
		proof.ExchangeRate = &res.ExchangeRate
		proof.LightningRef = &res.LightningRef
	}

	applied, err := s.repo.MarkCompleted(ctx, tx.ID, proof)
	if err != nil {
		return err
	}
	if !applied {
		statDuplicates.Add(1)
		return nil
	}

	log.Info().
		Str("transaction_id", tx.ID.String()).
		Str("kind", string(tx.Kind)).
		Str("receipt", event.ReceiptNumber).
		Msg("Transaction completed")
	return nil
}

func (s *Service) fail(ctx context.Context, tx *transaction.Transaction, event *Event) error {
	applied, err := s.repo.MarkFailed(ctx, tx.ID, event.ResultDesc)
	if err != nil {
		return err
	}
	if !applied {
		statDuplicates.Add(1)
		return nil
	}

	log.Info().
		Str("transaction_id", tx.ID.String()).
		Str("kind", string(tx.Kind)).
		Int("result_code", event.ResultCode).
		Str("reason", event.ResultDesc).
		Msg("Transaction failed at provider")

	if !tx.CryptoLegCollected() {
		return nil
	}

	// Fiat leg failed after sats were taken: send them back.
	res, err := s.credits.Refund(ctx, tx.ID, tx.AmountSats.Int64, tx.LightningDest.String, event.ResultDesc)
	if err != nil {
		if errors.Is(err, credit.ErrDuplicateReceipt) {
			statDuplicates.Add(1)
			return nil
		}
		log.Error().Err(err).
			Str("transaction_id", tx.ID.String()).
			Msg("Compensating refund failed; manual reconciliation required")
		return err
	}

	if _, err := s.repo.MarkRefunded(ctx, tx.ID, res.LightningRef); err != nil {
		return err
	}
	statRefunds.Add(1)
	return nil
}
