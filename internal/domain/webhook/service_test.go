package webhook

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/pesasats/pesasats-api/internal/domain/credit"
	"github.com/pesasats/pesasats-api/internal/domain/transaction"
)

// memRepo mirrors the guarded compare-and-set behavior of the real
// repository so races resolve the same way they would against Postgres.
type memRepo struct {
	mu  sync.Mutex
	txs map[uuid.UUID]*transaction.Transaction
}

func newMemRepo(txs ...*transaction.Transaction) *memRepo {
	r := &memRepo{txs: make(map[uuid.UUID]*transaction.Transaction)}
	for _, t := range txs {
		r.txs[t.ID] = t
	}
	return r
}

func (r *memRepo) Create(ctx context.Context, t *transaction.Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.txs[t.ID] = t
	return nil
}

func (r *memRepo) GetByID(ctx context.Context, id uuid.UUID) (*transaction.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.txs[id]; ok {
		copied := *t
		return &copied, nil
	}
	return nil, nil
}

func (r *memRepo) GetByExternalRef(ctx context.Context, ref string) (*transaction.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.txs {
		if t.ExternalRef.Valid && t.ExternalRef.String == ref {
			copied := *t
			return &copied, nil
		}
	}
	return nil, nil
}

func (r *memRepo) ClaimNext(ctx context.Context) (*transaction.Transaction, bool, error) {
	return nil, false, nil
}

func (r *memRepo) RecordAttempt(ctx context.Context, id uuid.UUID, attempts int) error {
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
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.txs[id]
	if !ok || t.Status != transaction.StatusProcessing {
		return false, nil
	}
	t.Status = transaction.StatusCompleted
	if proof.ReceiptNumber != nil {
		t.ReceiptNumber = sql.NullString{String: *proof.ReceiptNumber, Valid: true}
	}
	if proof.AmountSats != nil {
		t.AmountSats = sql.NullInt64{Int64: *proof.AmountSats, Valid: true}
	}
	if proof.ExchangeRate != nil {
		t.ExchangeRate = sql.NullFloat64{Float64: *proof.ExchangeRate, Valid: true}
	}
	if proof.LightningRef != nil {
		t.LightningRef = sql.NullString{String: *proof.LightningRef, Valid: true}
	}
	return true, nil
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

func (r *memRepo) MarkRefunded(ctx context.Context, id uuid.UUID, refundRef string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.txs[id]
	if !ok || (t.Status != transaction.StatusCompleted && t.Status != transaction.StatusFailed) {
		return false, nil
	}
	t.Status = transaction.StatusRefunded
	t.LightningRef = sql.NullString{String: refundRef, Valid: true}
	return true, nil
}

func (r *memRepo) ListStale(ctx context.Context, status transaction.Status, cutoff time.Time, limit int) ([]*transaction.Transaction, error) {
	return nil, nil
}

func (r *memRepo) status(id uuid.UUID) transaction.Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.txs[id].Status
}

type fakeCredits struct {
	mu       sync.Mutex
	receipts map[string]bool
	credits  int
	refunds  int
}

func newFakeCredits() *fakeCredits {
	return &fakeCredits{receipts: make(map[string]bool)}
}

func (f *fakeCredits) Credit(ctx context.Context, req credit.Request) (*credit.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.receipts[req.ReceiptNumber] {
		return nil, credit.ErrDuplicateReceipt
	}
	f.receipts[req.ReceiptNumber] = true
	f.credits++
	return &credit.Result{AmountSats: 10_000, ExchangeRate: 10_000_000, LightningRef: "hash-credit"}, nil
}

func (f *fakeCredits) Refund(ctx context.Context, txID uuid.UUID, amountSats int64, destination, reason string) (*credit.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := "refund:" + txID.String()
	if f.receipts[key] {
		return nil, credit.ErrDuplicateReceipt
	}
	f.receipts[key] = true
	f.refunds++
	return &credit.Result{AmountSats: amountSats, LightningRef: "hash-refund"}, nil
}

func processingTx(kind transaction.Kind, ref string) *transaction.Transaction {
	t := &transaction.Transaction{
		ID:            uuid.New(),
		UserID:        uuid.New(),
		Kind:          kind,
		Status:        transaction.StatusProcessing,
		Phone:         "254708374149",
		Currency:      "KES",
		AmountFiat:    1000,
		ExternalRef:   sql.NullString{String: ref, Valid: true},
		LightningDest: sql.NullString{String: "lnbc1dest", Valid: true},
	}
	if kind != transaction.KindBuy {
		t.AmountSats = sql.NullInt64{Int64: 10_000, Valid: true}
	}
	return t
}

func TestProcessBuySuccessCreditsAndCompletes(t *testing.T) {
	tx := processingTx(transaction.KindBuy, "ws_CO_1")
	repo := newMemRepo(tx)
	credits := newFakeCredits()
	svc := NewService(repo, credits, nil)

	event := &Event{Provider: "mpesa-stk", ExternalRef: "ws_CO_1", Success: true, ReceiptNumber: "NLJ7RT61SV", AmountFiat: 1000}
	if err := svc.Process(context.Background(), event, nil); err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	if got := repo.status(tx.ID); got != transaction.StatusCompleted {
		t.Errorf("status = %s, want completed", got)
	}
	if credits.credits != 1 {
		t.Errorf("credits issued = %d, want 1", credits.credits)
	}
	stored, _ := repo.GetByID(context.Background(), tx.ID)
	if !stored.AmountSats.Valid || stored.AmountSats.Int64 != 10_000 {
		t.Errorf("AmountSats = %+v, want 10000", stored.AmountSats)
	}
	if !stored.LightningRef.Valid {
		t.Error("LightningRef not recorded")
	}
}

func TestProcessPayoutFailureRefunds(t *testing.T) {
	tx := processingTx(transaction.KindPayout, "AG_1")
	repo := newMemRepo(tx)
	credits := newFakeCredits()
	svc := NewService(repo, credits, nil)

	event := &Event{Provider: "mpesa-b2c", ExternalRef: "AG_1", Success: false, ResultCode: 2001, ResultDesc: "Initiator credentials invalid"}
	if err := svc.Process(context.Background(), event, nil); err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	if got := repo.status(tx.ID); got != transaction.StatusRefunded {
		t.Errorf("status = %s, want refunded", got)
	}
	if credits.refunds != 1 {
		t.Errorf("refunds issued = %d, want 1", credits.refunds)
	}
}

func TestProcessBuyFailureNoRefund(t *testing.T) {
	tx := processingTx(transaction.KindBuy, "ws_CO_2")
	repo := newMemRepo(tx)
	credits := newFakeCredits()
	svc := NewService(repo, credits, nil)

	event := &Event{Provider: "mpesa-stk", ExternalRef: "ws_CO_2", Success: false, ResultCode: 1032, ResultDesc: "Request cancelled by user"}
	if err := svc.Process(context.Background(), event, nil); err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	if got := repo.status(tx.ID); got != transaction.StatusFailed {
		t.Errorf("status = %s, want failed", got)
	}
	if credits.refunds != 0 {
		t.Errorf("refunds issued = %d, want 0 for buy", credits.refunds)
	}
}

func TestProcessUnknownRefAcks(t *testing.T) {
	repo := newMemRepo()
	svc := NewService(repo, newFakeCredits(), nil)

	event := &Event{Provider: "mpesa-stk", ExternalRef: "ws_CO_missing", Success: true, ReceiptNumber: "ABC123"}
	if err := svc.Process(context.Background(), event, nil); err != nil {
		t.Fatalf("Process() error = %v for unknown ref, want nil ack", err)
	}
}

func TestProcessDuplicateAfterTerminalIsNoop(t *testing.T) {
	tx := processingTx(transaction.KindBuy, "ws_CO_3")
	tx.Status = transaction.StatusCompleted
	repo := newMemRepo(tx)
	credits := newFakeCredits()
	svc := NewService(repo, credits, nil)

	event := &Event{Provider: "mpesa-stk", ExternalRef: "ws_CO_3", Success: true, ReceiptNumber: "DUP123"}
	if err := svc.Process(context.Background(), event, nil); err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if credits.credits != 0 {
		t.Errorf("credits issued = %d for terminal transaction, want 0", credits.credits)
	}
}

func TestProcessConcurrentDuplicateDeliveries(t *testing.T) {
	tx := processingTx(transaction.KindBuy, "ws_CO_4")
	repo := newMemRepo(tx)
	credits := newFakeCredits()
	svc := NewService(repo, credits, nil)

	event := &Event{Provider: "mpesa-stk", ExternalRef: "ws_CO_4", Success: true, ReceiptNumber: "RACE123", AmountFiat: 1000}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := svc.Process(context.Background(), event, nil); err != nil {
				t.Errorf("Process() error = %v", err)
			}
		}()
	}
	wg.Wait()

	if credits.credits != 1 {
		t.Errorf("credits issued = %d under concurrent delivery, want 1", credits.credits)
	}
	if got := repo.status(tx.ID); got != transaction.StatusCompleted {
		t.Errorf("status = %s, want completed", got)
	}
}
