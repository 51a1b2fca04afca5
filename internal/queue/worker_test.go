package queue

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/pesasats/pesasats-api/internal/domain/credit"
	"github.com/pesasats/pesasats-api/internal/domain/transaction"
	"github.com/pesasats/pesasats-api/internal/pkg/gateway"
)

type memRepo struct {
	mu      sync.Mutex
	pending []*transaction.Transaction
	txs     map[uuid.UUID]*transaction.Transaction
}

func newMemRepo() *memRepo {
	return &memRepo{txs: make(map[uuid.UUID]*transaction.Transaction)}
}

func (r *memRepo) Create(ctx context.Context, t *transaction.Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.txs[t.ID] = t
	if t.Status == transaction.StatusPending {
		r.pending = append(r.pending, t)
	}
	return nil
}

func (r *memRepo) GetByID(ctx context.Context, id uuid.UUID) (*transaction.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.txs[id], nil
}

func (r *memRepo) GetByExternalRef(ctx context.Context, ref string) (*transaction.Transaction, error) {
	return nil, nil
}

func (r *memRepo) ClaimNext(ctx context.Context) (*transaction.Transaction, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.pending) == 0 {
		return nil, false, nil
	}
	t := r.pending[0]
	r.pending = r.pending[1:]
	t.Status = transaction.StatusProcessing
	copied := *t
	return &copied, true, nil
}

func (r *memRepo) RecordAttempt(ctx context.Context, id uuid.UUID, attempts int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.txs[id]; ok {
		t.Attempts = attempts
	}
	return nil
}

func (r *memRepo) SetDispatched(ctx context.Context, id uuid.UUID, ref string, attempts int) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.txs[id]
	if !ok || t.Status != transaction.StatusProcessing || t.ExternalRef.Valid {
		return false, nil
	}
	t.ExternalRef = sql.NullString{String: ref, Valid: true}
	t.Attempts = attempts
	return true, nil
}

func (r *memRepo) MarkCompleted(ctx context.Context, id uuid.UUID, proof transaction.Proof) (bool, error) {
	return false, nil
}

func (r *memRepo) MarkFailed(ctx context.Context, id uuid.UUID, reason string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.txs[id]
	if !ok || (t.Status != transaction.StatusPending && t.Status != transaction.StatusProcessing) {
		return false, nil
	}
	t.Status = transaction.StatusFailed
	t.FailureReason = sql.NullString{String: reason, Valid: true}
	return true, nil
}

func (r *memRepo) MarkRefunded(ctx context.Context, id uuid.UUID, ref string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.txs[id]
	if !ok || (t.Status != transaction.StatusCompleted && t.Status != transaction.StatusFailed) {
		return false, nil
	}
	t.Status = transaction.StatusRefunded
	t.LightningRef = sql.NullString{String: ref, Valid: true}
	return true, nil
}

func (r *memRepo) ListStale(ctx context.Context, status transaction.Status, cutoff time.Time, limit int) ([]*transaction.Transaction, error) {
	return nil, nil
}

func (r *memRepo) get(id uuid.UUID) *transaction.Transaction {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.txs[id]
}

// scriptAdapter returns its scripted errors in order, then succeeds.
type scriptAdapter struct {
	mu     sync.Mutex
	errs   []error
	calls  int
	ref    string
}

func (a *scriptAdapter) Name() string { return "script" }

func (a *scriptAdapter) Initiate(ctx context.Context, req gateway.InitiateRequest) (*gateway.InitiateResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	if len(a.errs) > 0 {
		err := a.errs[0]
		a.errs = a.errs[1:]
		return nil, err
	}
	return &gateway.InitiateResult{ProviderRef: a.ref, RawStatus: "accepted"}, nil
}

func (a *scriptAdapter) Status(ctx context.Context, providerRef string) (*gateway.StatusResult, error) {
	return &gateway.StatusResult{ProviderRef: providerRef, State: "pending"}, nil
}

func (a *scriptAdapter) callCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

type countRefunder struct {
	mu      sync.Mutex
	refunds int
}

func (r *countRefunder) Refund(ctx context.Context, txID uuid.UUID, amountSats int64, destination, reason string) (*credit.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refunds++
	return &credit.Result{AmountSats: amountSats, LightningRef: "hash-refund"}, nil
}

func pendingTx(kind transaction.Kind) *transaction.Transaction {
	t := &transaction.Transaction{
		ID:       uuid.New(),
		UserID:   uuid.New(),
		Kind:     kind,
		Status:   transaction.StatusPending,
		Phone:    "254708374149",
		Currency: "KES",

		AmountFiat:    1000,
		LightningDest: sql.NullString{String: "lnbc1dest", Valid: true},
	}
	if kind != transaction.KindBuy {
		t.AmountSats = sql.NullInt64{Int64: 10_000, Valid: true}
	}
	return t
}

func testPool(repo transaction.Repository, adapter gateway.Adapter, refunder Refunder, maxAttempts int) *Pool {
	return NewPool(repo,
		map[transaction.Kind]gateway.Adapter{
			transaction.KindBuy:    adapter,
			transaction.KindPayout: adapter,
		},
		refunder,
		PoolConfig{
			Workers:         1,
			MaxAttempts:     maxAttempts,
			DispatchTimeout: time.Second,
			RetryBackoff:    time.Millisecond,
		})
}

func TestDispatchSuccessStaysProcessing(t *testing.T) {
	repo := newMemRepo()
	tx := pendingTx(transaction.KindBuy)
	if err := repo.Create(context.Background(), tx); err != nil {
		t.Fatal(err)
	}

	adapter := &scriptAdapter{ref: "ws_CO_abc"}
	pool := testPool(repo, adapter, nil, 3)

	claimed, err := pool.claimAndDispatch(context.Background())
	if err != nil || !claimed {
		t.Fatalf("claimAndDispatch() = %v, %v", claimed, err)
	}

	got := repo.get(tx.ID)
	if got.Status != transaction.StatusProcessing {
		t.Errorf("status = %s, want processing until webhook", got.Status)
	}
	if !got.ExternalRef.Valid || got.ExternalRef.String != "ws_CO_abc" {
		t.Errorf("ExternalRef = %+v, want ws_CO_abc", got.ExternalRef)
	}
}

func TestDispatchRetriesTransient(t *testing.T) {
	repo := newMemRepo()
	tx := pendingTx(transaction.KindBuy)
	repo.Create(context.Background(), tx)

	adapter := &scriptAdapter{
		ref:  "ws_CO_retry",
		errs: []error{gateway.Transient("script", errors.New("timeout"))},
	}
	pool := testPool(repo, adapter, nil, 3)

	pool.claimAndDispatch(context.Background())

	if adapter.callCount() != 2 {
		t.Errorf("adapter calls = %d, want 2 (one retry)", adapter.callCount())
	}
	got := repo.get(tx.ID)
	if got.Status != transaction.StatusProcessing {
		t.Errorf("status = %s, want processing", got.Status)
	}
}

func TestDispatchPermanentFailsWithoutRetry(t *testing.T) {
	repo := newMemRepo()
	tx := pendingTx(transaction.KindBuy)
	repo.Create(context.Background(), tx)

	adapter := &scriptAdapter{errs: []error{
		gateway.Permanent("script", "400", errors.New("invalid msisdn")),
		gateway.Permanent("script", "400", errors.New("invalid msisdn")),
	}}
	pool := testPool(repo, adapter, nil, 3)

	pool.claimAndDispatch(context.Background())

	if adapter.callCount() != 1 {
		t.Errorf("adapter calls = %d, want 1 for permanent error", adapter.callCount())
	}
	if got := repo.get(tx.ID); got.Status != transaction.StatusFailed {
		t.Errorf("status = %s, want failed", got.Status)
	}
}

func TestDispatchExhaustedRefundsFundedKind(t *testing.T) {
	repo := newMemRepo()
	tx := pendingTx(transaction.KindPayout)
	repo.Create(context.Background(), tx)

	transient := gateway.Transient("script", errors.New("provider down"))
	adapter := &scriptAdapter{errs: []error{transient, transient, transient}}
	refunder := &countRefunder{}
	pool := testPool(repo, adapter, refunder, 3)

	pool.claimAndDispatch(context.Background())

	if adapter.callCount() != 3 {
		t.Errorf("adapter calls = %d, want 3", adapter.callCount())
	}
	if refunder.refunds != 1 {
		t.Errorf("refunds = %d, want 1", refunder.refunds)
	}
	if got := repo.get(tx.ID); got.Status != transaction.StatusRefunded {
		t.Errorf("status = %s, want refunded", got.Status)
	}
}

func TestDispatchExhaustedBuyNoRefund(t *testing.T) {
	repo := newMemRepo()
	tx := pendingTx(transaction.KindBuy)
	repo.Create(context.Background(), tx)

	transient := gateway.Transient("script", errors.New("provider down"))
	adapter := &scriptAdapter{errs: []error{transient, transient, transient}}
	refunder := &countRefunder{}
	pool := testPool(repo, adapter, refunder, 3)

	pool.claimAndDispatch(context.Background())

	if refunder.refunds != 0 {
		t.Errorf("refunds = %d, want 0 for buy", refunder.refunds)
	}
	if got := repo.get(tx.ID); got.Status != transaction.StatusFailed {
		t.Errorf("status = %s, want failed", got.Status)
	}
}

func TestDispatchUnknownKindFails(t *testing.T) {
	repo := newMemRepo()
	tx := pendingTx(transaction.KindAirtime)
	repo.Create(context.Background(), tx)

	pool := testPool(repo, &scriptAdapter{}, &countRefunder{}, 3)

	pool.claimAndDispatch(context.Background())

	got := repo.get(tx.ID)
	if got.Status != transaction.StatusRefunded {
		t.Errorf("status = %s, want refunded (funded kind, no adapter)", got.Status)
	}
}

func TestEnqueuePersistsBeforeWake(t *testing.T) {
	repo := newMemRepo()
	q := New(repo, nil)

	tx := pendingTx(transaction.KindBuy)
	if err := q.Enqueue(context.Background(), tx); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	if repo.get(tx.ID) == nil {
		t.Fatal("transaction not persisted")
	}
}
