package credit

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/pesasats/pesasats-api/internal/domain/rates"
	"github.com/pesasats/pesasats-api/internal/pkg/lightning"
)

// Rail is the request/response surface of the Lightning settlement
// engine this service depends on.
type Rail interface {
	CreateInvoice(ctx context.Context, amountSats int64, memo string) (*lightning.Invoice, error)
	SendPayment(ctx context.Context, destination string, amountSats int64) (*lightning.Payment, error)
}

// RateProvider supplies the fiat-per-BTC quote used for conversion
type RateProvider interface {
	Rate(currency string) (rates.Quote, error)
}

// Service issues Lightning value against confirmed fiat payments,
// exactly once per receipt.
type Service struct {
	repo          Repository
	rail          Rail
	rateProvider  RateProvider
	minCreditSats int64
}

// NewService creates crediting service
func NewService(repo Repository, rail Rail, rateProvider RateProvider, minCreditSats int64) *Service {
	return &Service{
		repo:          repo,
		rail:          rail,
		rateProvider:  rateProvider,
		minCreditSats: minCreditSats,
	}
}

// Request carries one credit attempt
type Request struct {
	TransactionID uuid.UUID
	AmountFiat    float64
	Currency      string
	ReceiptNumber string
	Destination   string
}

// Result reports a settled credit
type Result struct {
	AmountSats   int64
	ExchangeRate float64
	LightningRef string
}

// Credit converts the confirmed fiat amount at the current cached rate
// and sends the sats over the Lightning rail.
//
// Ordering is deliberate: the credit row is inserted (claiming the
// receipt) before the rail call, so a concurrent duplicate fails on the
// unique constraint instead of double-paying. If the rail call then
// fails, the row is marked failed and ErrRailSettlement is returned; the
// caller leaves the transaction recoverable rather than completed.
func (s *Service) Credit(ctx context.Context, req Request) (*Result, error) {
	quote, err := s.rateProvider.Rate(req.Currency)
	if err != nil {
		return nil, fmt.Errorf("credit conversion: %w", err)
	}

	amountSats := rates.ToSats(req.AmountFiat, quote.Rate)
	if amountSats < s.minCreditSats {
		return nil, fmt.Errorf("%w: %d < %d", ErrBelowMinimum, amountSats, s.minCreditSats)
	}

	record := &Credit{
		ID:            uuid.New(),
		TransactionID: req.TransactionID,
		ReceiptNumber: req.ReceiptNumber,
		AmountFiat:    req.AmountFiat,
		Currency:      req.Currency,
		AmountSats:    amountSats,
		ExchangeRate:  quote.Rate,
		Destination:   req.Destination,
		Status:        StatusPending,
	}
	if err := s.repo.Insert(ctx, record); err != nil {
		return nil, err
	}

	payment, err := s.rail.SendPayment(ctx, req.Destination, amountSats)
	if err != nil {
		if markErr := s.repo.MarkFailed(ctx, record.ID, err.Error()); markErr != nil {
			log.Error().Err(markErr).Str("credit_id", record.ID.String()).Msg("Failed to record credit failure")
		}
		log.Error().
			Err(err).
			Str("transaction_id", req.TransactionID.String()).
			Str("receipt", req.ReceiptNumber).
			Int64("amount_sats", amountSats).
			Msg("Lightning send failed after fiat confirmation; manual reconciliation required")
		return nil, fmt.Errorf("%w: %v", ErrRailSettlement, err)
	}

	if err := s.repo.MarkSettled(ctx, record.ID, payment.PaymentHash); err != nil {
		log.Error().Err(err).Str("credit_id", record.ID.String()).Msg("Failed to record credit settlement")
	}

	return &Result{
		AmountSats:   amountSats,
		ExchangeRate: quote.Rate,
		LightningRef: payment.PaymentHash,
	}, nil
}

// Refund sends already-collected sats back to the user after a failed
// fiat leg. Idempotent per transaction: the synthetic receipt
// "refund:<id>" rides the same unique constraint as credits.
func (s *Service) Refund(ctx context.Context, txID uuid.UUID, amountSats int64, destination, reason string) (*Result, error) {
	if amountSats <= 0 {
		return nil, fmt.Errorf("refund amount must be > 0")
	}

	record := &Credit{
		ID:            uuid.New(),
		TransactionID: txID,
		ReceiptNumber: "refund:" + txID.String(),
		AmountFiat:    0,
		Currency:      "",
		AmountSats:    amountSats,
		Destination:   destination,
		Status:        StatusPending,
	}
	if err := s.repo.Insert(ctx, record); err != nil {
		return nil, err
	}

	payment, err := s.rail.SendPayment(ctx, destination, amountSats)
	if err != nil {
		if markErr := s.repo.MarkFailed(ctx, record.ID, err.Error()); markErr != nil {
			log.Error().Err(markErr).Str("credit_id", record.ID.String()).Msg("Failed to record refund failure")
		}
		return nil, fmt.Errorf("%w: %v", ErrRailSettlement, err)
	}

	if err := s.repo.MarkSettled(ctx, record.ID, payment.PaymentHash); err != nil {
		log.Error().Err(err).Str("credit_id", record.ID.String()).Msg("Failed to record refund settlement")
	}

	log.Info().
		Str("transaction_id", txID.String()).
		Int64("amount_sats", amountSats).
		Str("reason", reason).
		Msg("Compensating refund settled")

	return &Result{AmountSats: amountSats, LightningRef: payment.PaymentHash}, nil
}

// FundingInvoice issues an invoice collecting the crypto leg of a
// payout/airtime transaction.
func (s *Service) FundingInvoice(ctx context.Context, amountSats int64, memo string) (*lightning.Invoice, error) {
	return s.rail.CreateInvoice(ctx, amountSats, memo)
}
