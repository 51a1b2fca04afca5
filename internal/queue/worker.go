package queue

import (
	"context"
	"expvar"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/pesasats/pesasats-api/internal/domain/credit"
	"github.com/pesasats/pesasats-api/internal/domain/transaction"
	"github.com/pesasats/pesasats-api/internal/pkg/gateway"
)

var (
	statDispatched   = expvar.NewInt("worker_dispatched")
	statDispatchFail = expvar.NewInt("worker_dispatch_failed")
)

const pollInterval = 5 * time.Second

// Refunder compensates a funded transaction whose dispatch failed for
// good.
type Refunder interface {
	Refund(ctx context.Context, txID uuid.UUID, amountSats int64, destination, reason string) (*credit.Result, error)
}

// PoolConfig tunes the worker pool
type PoolConfig struct {
	Workers         int
	MaxAttempts     int
	DispatchTimeout time.Duration
	RetryBackoff    time.Duration
}

// Pool runs N claim loops against the transactions table. Claims use
// SKIP LOCKED so pool instances can run in every API process without
// coordination.
type Pool struct {
	repo     transaction.Repository
	adapters map[transaction.Kind]gateway.Adapter
	refunder Refunder
	cfg      PoolConfig

	wg sync.WaitGroup
}

// NewPool creates the worker pool. refunder may be nil when no kind in
// adapters collects sats up front.
func NewPool(repo transaction.Repository, adapters map[transaction.Kind]gateway.Adapter, refunder Refunder, cfg PoolConfig) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	return &Pool{repo: repo, adapters: adapters, refunder: refunder, cfg: cfg}
}

// Start launches the workers. They stop when ctx is cancelled; Wait
// blocks until in-flight dispatches finish.
func (p *Pool) Start(ctx context.Context, redisClient *redis.Client) {
	wake := Wake(ctx, redisClient)
	for i := 0; i < p.cfg.Workers; i++ {
		p.wg.Add(1)
		go p.run(ctx, i, wake)
	}
	log.Info().Int("workers", p.cfg.Workers).Msg("Worker pool started")
}

// Wait blocks until all workers have exited
func (p *Pool) Wait() {
	p.wg.Wait()
}

func (p *Pool) run(ctx context.Context, id int, wake <-chan struct{}) {
	defer p.wg.Done()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		claimed, err := p.claimAndDispatch(ctx)
		if err != nil {
			log.Error().Err(err).Int("worker", id).Msg("Claim failed")
		}
		if claimed {
			// Drain the backlog before sleeping again
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-wake:
		case <-ticker.C:
		}
	}
}

func (p *Pool) claimAndDispatch(ctx context.Context) (bool, error) {
	tx, ok, err := p.repo.ClaimNext(ctx)
	if err != nil || !ok {
		return false, err
	}

	p.dispatch(ctx, tx)
	return true, nil
}

// dispatch pushes one claimed transaction to its provider, retrying
// transient failures in place. The job row stays processing on success;
// the provider's webhook decides the final state.
func (p *Pool) dispatch(ctx context.Context, tx *transaction.Transaction) {
	adapter, ok := p.adapters[tx.Kind]
	if !ok {
		p.failForGood(ctx, tx, fmt.Sprintf("no dispatch adapter for kind %s", tx.Kind))
		return
	}

	req := gateway.InitiateRequest{
		TransactionID: tx.ID.String(),
		Phone:         tx.Phone,
		Amount:        tx.AmountFiat,
		Currency:      tx.Currency,
		AccountRef:    tx.ID.String(),
		Description:   string(tx.Kind),
	}

	var lastErr error
	for attempt := tx.Attempts + 1; attempt <= p.cfg.MaxAttempts; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, p.cfg.DispatchTimeout)
		res, err := adapter.Initiate(callCtx, req)
		cancel()

		if err == nil {
			applied, serr := p.repo.SetDispatched(ctx, tx.ID, res.ProviderRef, attempt)
			if serr != nil {
				log.Error().Err(serr).Str("transaction_id", tx.ID.String()).Msg("Failed to record dispatch")
				return
			}
			if !applied {
				log.Warn().Str("transaction_id", tx.ID.String()).Msg("Dispatch recorded elsewhere; provider ref dropped")
				return
			}
			statDispatched.Add(1)
			log.Info().
				Str("transaction_id", tx.ID.String()).
				Str("provider", adapter.Name()).
				Str("provider_ref", res.ProviderRef).
				Int("attempt", attempt).
				Msg("Transaction dispatched")
			return
		}

		lastErr = err
		if !gateway.IsTransient(err) {
			break
		}
		if rerr := p.repo.RecordAttempt(ctx, tx.ID, attempt); rerr != nil {
			log.Warn().Err(rerr).Str("transaction_id", tx.ID.String()).Msg("Failed to persist attempt counter")
		}
		if attempt == p.cfg.MaxAttempts {
			break
		}

		delay := gateway.Backoff(p.cfg.RetryBackoff, attempt)
		log.Warn().Err(err).
			Str("transaction_id", tx.ID.String()).
			Int("attempt", attempt).
			Dur("backoff", delay).
			Msg("Transient dispatch failure, retrying")
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}

	p.failForGood(ctx, tx, fmt.Sprintf("dispatch failed: %v", lastErr))
}

func (p *Pool) failForGood(ctx context.Context, tx *transaction.Transaction, reason string) {
	statDispatchFail.Add(1)
	applied, err := p.repo.MarkFailed(ctx, tx.ID, reason)
	if err != nil {
		log.Error().Err(err).Str("transaction_id", tx.ID.String()).Msg("Failed to mark transaction failed")
		return
	}
	if !applied {
		return
	}
	log.Warn().
		Str("transaction_id", tx.ID.String()).
		Str("kind", string(tx.Kind)).
		Str("reason", reason).
		Msg("Transaction failed before dispatch completed")

	if p.refunder == nil || !tx.CryptoLegCollected() {
		return
	}
	res, err := p.refunder.Refund(ctx, tx.ID, tx.AmountSats.Int64, tx.LightningDest.String, reason)
	if err != nil {
		log.Error().Err(err).Str("transaction_id", tx.ID.String()).Msg("Compensating refund failed; manual reconciliation required")
		return
	}
	if _, err := p.repo.MarkRefunded(ctx, tx.ID, res.LightningRef); err != nil {
		log.Error().Err(err).Str("transaction_id", tx.ID.String()).Msg("Failed to mark transaction refunded")
	}
}
