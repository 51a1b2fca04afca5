package transaction

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/pesasats/pesasats-api/internal/domain/rates"
	"github.com/pesasats/pesasats-api/internal/pkg/lightning"
)

// Enqueuer hands an accepted transaction to the dispatch queue
type Enqueuer interface {
	Enqueue(ctx context.Context, t *Transaction) error
}

// RateProvider supplies the cached fiat-per-BTC quote at intake
type RateProvider interface {
	Rate(currency string) (rates.Quote, error)
}

// Invoicer issues the funding invoice collecting the crypto leg of
// payout and airtime transactions.
type Invoicer interface {
	FundingInvoice(ctx context.Context, amountSats int64, memo string) (*lightning.Invoice, error)
}

// Service owns transaction intake. Buy transactions convert at credit
// time; payout and airtime fix their sats amount and rate here, at
// intake, because that is the price the user's invoice is quoted at.
type Service struct {
	repo             Repository
	queue            Enqueuer
	ratesvc          RateProvider
	invoicer         Invoicer
	airtimeMinAmount float64
}

// NewService creates transaction service
func NewService(repo Repository, queue Enqueuer, ratesvc RateProvider, invoicer Invoicer, airtimeMinAmount float64) *Service {
	return &Service{
		repo:             repo,
		queue:            queue,
		ratesvc:          ratesvc,
		invoicer:         invoicer,
		airtimeMinAmount: airtimeMinAmount,
	}
}

// Submit validates and accepts a transaction of the given kind. The
// returned transaction is pending; dispatch happens asynchronously.
func (s *Service) Submit(ctx context.Context, userID uuid.UUID, kind Kind, req *SubmitRequest) (*Transaction, error) {
	if kind == KindAirtime && req.AmountFiat < s.airtimeMinAmount {
		return nil, fmt.Errorf("%w: airtime minimum is %.2f %s", ErrBelowMinimum, s.airtimeMinAmount, req.Currency)
	}

	t := &Transaction{
		ID:            uuid.New(),
		UserID:        userID,
		Kind:          kind,
		Status:        StatusPending,
		Phone:         req.Phone,
		Currency:      req.Currency,
		AmountFiat:    req.AmountFiat,
		LightningDest: sql.NullString{String: req.LightningDest, Valid: true},
	}

	if kind == KindPayout || kind == KindAirtime {
		quote, err := s.ratesvc.Rate(req.Currency)
		if err != nil {
			return nil, fmt.Errorf("intake conversion: %w", err)
		}
		amountSats := rates.ToSats(req.AmountFiat, quote.Rate)
		if amountSats <= 0 {
			return nil, fmt.Errorf("%w: amount converts to zero sats", ErrBelowMinimum)
		}

		invoice, err := s.invoicer.FundingInvoice(ctx, amountSats,
			fmt.Sprintf("%s %s %.2f %s", kind, t.ID, req.AmountFiat, req.Currency))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrRailUnavailable, err)
		}

		t.AmountSats = sql.NullInt64{Int64: amountSats, Valid: true}
		t.ExchangeRate = sql.NullFloat64{Float64: quote.Rate, Valid: true}
		t.FundingInvoice = sql.NullString{String: invoice.PaymentRequest, Valid: true}
	}

	if err := s.queue.Enqueue(ctx, t); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrQueueUnavailable, err)
	}

	log.Info().
		Str("transaction_id", t.ID.String()).
		Str("kind", string(kind)).
		Str("currency", req.Currency).
		Float64("amount_fiat", req.AmountFiat).
		Msg("Transaction accepted")
	return t, nil
}

// Get returns a transaction by id
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Transaction, error) {
	t, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, ErrNotFound
	}
	return t, nil
}
