package application

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"schoolfees-cloud/internal/audit"
	"schoolfees-cloud/internal/auth"
	"schoolfees-cloud/internal/fees/application/events"
	fees "schoolfees-cloud/internal/fees/domain"
	"schoolfees-cloud/internal/fees/infrastructure/memory"
)

type countingFeeStructure struct {
	mu     sync.Mutex
	amount float64
	err    error
	calls  int
}

func (c *countingFeeStructure) ResolveTotalDue(_ context.Context, _ string, _ fees.Period) (float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.err != nil {
		return 0, c.err
	}
	return c.amount, nil
}

func (c *countingFeeStructure) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

type stubAccounts struct {
	err error
}

func (s stubAccounts) EnsureAccountTenant(_ context.Context, _ string, _ string) error {
	return s.err
}

type failingAuditLogger struct{}

func (failingAuditLogger) Log(_ context.Context, _ audit.Entry) error {
	return errors.New("audit sink down")
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.PaymentRecorded
	err    error
}

func (p *recordingPublisher) PublishPaymentRecorded(_ context.Context, event events.PaymentRecorded) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

type fixedClock struct {
	now time.Time
}

func (f fixedClock) Now() time.Time { return f.now }

func testClock() fixedClock {
	return fixedClock{now: time.Date(2025, 10, 6, 9, 0, 0, 0, time.UTC)}
}

func newTestPaymentService(
	t *testing.T,
	store *memory.Store,
	provider FeeStructureProvider,
	accounts auth.AccountTenantChecker,
	publisher PaymentPublisher,
	auditLogger audit.Logger,
) *PaymentService {
	t.Helper()
	service, err := NewPaymentService(
		store,
		store,
		memory.NewReceiptAllocator(""),
		provider,
		accounts,
		publisher,
		auditLogger,
		testClock(),
		log.New(io.Discard, "", 0),
		"tenant-a",
	)
	if err != nil {
		t.Fatalf("new payment service: %v", err)
	}
	return service
}

func cashCommand(accountID string, amount float64) RecordPaymentCommand {
	return RecordPaymentCommand{
		AccountID:  accountID,
		Term:       "First Term",
		Session:    "2025/2026",
		Amount:     amount,
		Method:     fees.MethodCash,
		RecordedBy: "bursar-1",
	}
}

func TestPaymentService_RecordPaymentUpdatesSnapshot(t *testing.T) {
	store := memory.NewStore()
	service := newTestPaymentService(t, store, &countingFeeStructure{amount: 150000}, nil, nil, nil)

	snapshot, receipt, err := service.RecordPayment(context.Background(), cashCommand("stu-0001", 50000))
	if err != nil {
		t.Fatalf("record payment: %v", err)
	}
	if receipt != "RCP-2025-2026-000001" {
		t.Fatalf("expected receipt RCP-2025-2026-000001, got %s", receipt)
	}
	if snapshot.TotalDue() != 150000 {
		t.Fatalf("expected total due 150000, got %.2f", snapshot.TotalDue())
	}
	if snapshot.TotalPaid() != 50000 {
		t.Fatalf("expected total paid 50000, got %.2f", snapshot.TotalPaid())
	}
	if snapshot.Balance() != 100000 {
		t.Fatalf("expected balance 100000, got %.2f", snapshot.Balance())
	}
	if snapshot.Status() != fees.StatusPartial {
		t.Fatalf("expected status partial, got %s", snapshot.Status())
	}

	stored, err := store.FindByKey(context.Background(), snapshot.Key())
	if err != nil {
		t.Fatalf("find by key: %v", err)
	}
	if stored == nil {
		t.Fatal("expected snapshot readable immediately after record")
	}
	if stored.TotalPaid() != 50000 {
		t.Fatalf("expected stored total paid 50000, got %.2f", stored.TotalPaid())
	}
	if store.EventCount() != 1 {
		t.Fatalf("expected 1 ledger event, got %d", store.EventCount())
	}
}

func TestPaymentService_ConservationAcrossMethods(t *testing.T) {
	store := memory.NewStore()
	service := newTestPaymentService(t, store, &countingFeeStructure{amount: 150000}, nil, nil, nil)
	ctx := context.Background()

	if _, _, err := service.RecordPayment(ctx, cashCommand("stu-0001", 20000)); err != nil {
		t.Fatalf("record cash: %v", err)
	}

	transfer := cashCommand("stu-0001", 30000)
	transfer.Method = fees.MethodBankTransfer
	transfer.Details = []byte(`{"bank_name":"GTB","transfer_ref":"TRF-889"}`)
	if _, _, err := service.RecordPayment(ctx, transfer); err != nil {
		t.Fatalf("record transfer: %v", err)
	}

	pos := cashCommand("stu-0001", 10000)
	pos.Method = fees.MethodPOS
	pos.Details = []byte(`{"terminal_id":"POS-02"}`)
	snapshot, receipt, err := service.RecordPayment(ctx, pos)
	if err != nil {
		t.Fatalf("record pos: %v", err)
	}
	if receipt != "RCP-2025-2026-000003" {
		t.Fatalf("expected third receipt RCP-2025-2026-000003, got %s", receipt)
	}
	if snapshot.TotalPaid() != 60000 {
		t.Fatalf("expected total paid 60000, got %.2f", snapshot.TotalPaid())
	}

	payments, err := store.ListByKey(ctx, snapshot.Key())
	if err != nil {
		t.Fatalf("list by key: %v", err)
	}
	var sum float64
	for _, payment := range payments {
		sum += payment.Amount
	}
	if sum != snapshot.TotalPaid() {
		t.Fatalf("ledger sum %.2f must equal snapshot total paid %.2f", sum, snapshot.TotalPaid())
	}
}

func TestPaymentService_ConcurrentRecordsBothLand(t *testing.T) {
	store := memory.NewStore()
	service := newTestPaymentService(t, store, &countingFeeStructure{amount: 150000}, nil, nil, nil)

	type result struct {
		receipt string
		err     error
	}
	var wg sync.WaitGroup
	results := make(chan result, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, receipt, err := service.RecordPayment(context.Background(), cashCommand("stu-0001", 10000))
			results <- result{receipt: receipt, err: err}
		}()
	}
	wg.Wait()
	close(results)
	receipts := make(map[string]bool)
	for res := range results {
		if res.err != nil {
			t.Fatalf("concurrent record: %v", res.err)
		}
		if receipts[res.receipt] {
			t.Fatalf("duplicate receipt %s issued concurrently", res.receipt)
		}
		receipts[res.receipt] = true
	}
	for _, want := range []string{"RCP-2025-2026-000001", "RCP-2025-2026-000002"} {
		if !receipts[want] {
			t.Fatalf("expected receipt %s to be issued, got %v", want, receipts)
		}
	}

	key, err := fees.BuildAccountPeriodKey("stu-0001", fees.NormalizePeriod("first", "2025-2026"))
	if err != nil {
		t.Fatalf("build key: %v", err)
	}
	snapshot, err := store.FindByKey(context.Background(), key)
	if err != nil {
		t.Fatalf("find by key: %v", err)
	}
	if snapshot == nil {
		t.Fatal("expected snapshot after concurrent records")
	}
	if snapshot.TotalPaid() != 20000 {
		t.Fatalf("expected total paid 20000 after both records, got %.2f", snapshot.TotalPaid())
	}
	if store.EventCount() != 2 {
		t.Fatalf("expected 2 ledger events, got %d", store.EventCount())
	}
}

func TestPaymentService_AccountNotFound(t *testing.T) {
	store := memory.NewStore()
	service := newTestPaymentService(t, store, &countingFeeStructure{amount: 150000}, stubAccounts{err: auth.ErrNotFound}, nil, nil)

	_, _, err := service.RecordPayment(context.Background(), cashCommand("stu-missing", 10000))
	if !errors.Is(err, fees.ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
	if store.EventCount() != 0 {
		t.Fatalf("expected no ledger events, got %d", store.EventCount())
	}
	if store.SnapshotCount() != 0 {
		t.Fatalf("expected no snapshots, got %d", store.SnapshotCount())
	}
}

func TestPaymentService_FeeStructureMissing(t *testing.T) {
	store := memory.NewStore()
	provider := &countingFeeStructure{err: fees.ErrFeeStructureMissing}
	service := newTestPaymentService(t, store, provider, nil, nil, nil)

	_, _, err := service.RecordPayment(context.Background(), cashCommand("stu-0001", 10000))
	if !errors.Is(err, fees.ErrFeeStructureMissing) {
		t.Fatalf("expected ErrFeeStructureMissing, got %v", err)
	}
	if store.EventCount() != 0 {
		t.Fatalf("expected no ledger events, got %d", store.EventCount())
	}
	if store.SnapshotCount() != 0 {
		t.Fatalf("expected no snapshots, got %d", store.SnapshotCount())
	}
}

func TestPaymentService_ExistingSnapshotSkipsFeeStructure(t *testing.T) {
	store := memory.NewStore()
	provider := &countingFeeStructure{amount: 150000}
	service := newTestPaymentService(t, store, provider, nil, nil, nil)
	ctx := context.Background()

	if _, _, err := service.RecordPayment(ctx, cashCommand("stu-0001", 10000)); err != nil {
		t.Fatalf("first record: %v", err)
	}
	if provider.Calls() != 1 {
		t.Fatalf("expected 1 fee structure lookup, got %d", provider.Calls())
	}
	if _, _, err := service.RecordPayment(ctx, cashCommand("stu-0001", 10000)); err != nil {
		t.Fatalf("second record: %v", err)
	}
	if provider.Calls() != 1 {
		t.Fatalf("expected fee structure untouched on existing snapshot, got %d lookups", provider.Calls())
	}
}

func TestPaymentService_NormalizedPeriodsShareSnapshot(t *testing.T) {
	store := memory.NewStore()
	service := newTestPaymentService(t, store, &countingFeeStructure{amount: 150000}, nil, nil, nil)
	ctx := context.Background()

	first := cashCommand("stu-0001", 10000)
	first.Term = "First Term"
	first.Session = "2025/2026"
	if _, _, err := service.RecordPayment(ctx, first); err != nil {
		t.Fatalf("record slash session: %v", err)
	}

	second := cashCommand("stu-0001", 15000)
	second.Term = "first"
	second.Session = "2025-2026"
	snapshot, _, err := service.RecordPayment(ctx, second)
	if err != nil {
		t.Fatalf("record dash session: %v", err)
	}

	if store.SnapshotCount() != 1 {
		t.Fatalf("expected a single shared snapshot, got %d", store.SnapshotCount())
	}
	if snapshot.TotalPaid() != 25000 {
		t.Fatalf("expected merged total paid 25000, got %.2f", snapshot.TotalPaid())
	}
}

func TestPaymentService_ValidationRejections(t *testing.T) {
	store := memory.NewStore()
	service := newTestPaymentService(t, store, &countingFeeStructure{amount: 150000}, nil, nil, nil)
	ctx := context.Background()

	zero := cashCommand("stu-0001", 0)
	if _, _, err := service.RecordPayment(ctx, zero); !errors.Is(err, fees.ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount for zero amount, got %v", err)
	}

	unknown := cashCommand("stu-0001", 10000)
	unknown.Method = fees.Method("transfer")
	if _, _, err := service.RecordPayment(ctx, unknown); !errors.Is(err, fees.ErrUnknownMethod) {
		t.Fatalf("expected ErrUnknownMethod, got %v", err)
	}

	badTerm := cashCommand("stu-0001", 10000)
	badTerm.Term = "spring"
	if _, _, err := service.RecordPayment(ctx, badTerm); !errors.Is(err, fees.ErrInvalidPeriod) {
		t.Fatalf("expected ErrInvalidPeriod, got %v", err)
	}

	badDetails := cashCommand("stu-0001", 10000)
	badDetails.Method = fees.MethodBankTransfer
	if _, _, err := service.RecordPayment(ctx, badDetails); !errors.Is(err, fees.ErrInvalidDetails) {
		t.Fatalf("expected ErrInvalidDetails for missing transfer ref, got %v", err)
	}

	if store.EventCount() != 0 {
		t.Fatalf("expected no ledger events after rejections, got %d", store.EventCount())
	}
}

func TestPaymentService_AuditFailureSwallowed(t *testing.T) {
	store := memory.NewStore()
	service := newTestPaymentService(t, store, &countingFeeStructure{amount: 150000}, nil, nil, failingAuditLogger{})

	snapshot, _, err := service.RecordPayment(context.Background(), cashCommand("stu-0001", 10000))
	if err != nil {
		t.Fatalf("expected audit failure swallowed, got %v", err)
	}
	if snapshot.TotalPaid() != 10000 {
		t.Fatalf("expected total paid 10000, got %.2f", snapshot.TotalPaid())
	}
	if store.EventCount() != 1 {
		t.Fatalf("expected 1 ledger event, got %d", store.EventCount())
	}
}

func TestPaymentService_PublishFailureSwallowed(t *testing.T) {
	store := memory.NewStore()
	publisher := &recordingPublisher{err: errors.New("outbox down")}
	service := newTestPaymentService(t, store, &countingFeeStructure{amount: 150000}, nil, publisher, nil)

	if _, _, err := service.RecordPayment(context.Background(), cashCommand("stu-0001", 10000)); err != nil {
		t.Fatalf("expected publish failure swallowed, got %v", err)
	}
	if store.EventCount() != 1 {
		t.Fatalf("expected 1 ledger event, got %d", store.EventCount())
	}
}

func TestPaymentService_PublishesPaymentRecorded(t *testing.T) {
	store := memory.NewStore()
	publisher := &recordingPublisher{}
	service := newTestPaymentService(t, store, &countingFeeStructure{amount: 150000}, nil, publisher, nil)

	_, receipt, err := service.RecordPayment(context.Background(), cashCommand("stu-0001", 50000))
	if err != nil {
		t.Fatalf("record payment: %v", err)
	}
	if publisher.Count() != 1 {
		t.Fatalf("expected 1 published event, got %d", publisher.Count())
	}
	event := publisher.events[0]
	if event.AccountID != "stu-0001" {
		t.Fatalf("expected account stu-0001, got %s", event.AccountID)
	}
	if event.Amount != 50000 {
		t.Fatalf("expected amount 50000, got %.2f", event.Amount)
	}
	if event.ReceiptNumber != receipt {
		t.Fatalf("expected receipt %s, got %s", receipt, event.ReceiptNumber)
	}
	if event.Term != "first" || event.Session != "2025-2026" {
		t.Fatalf("expected canonical period, got %s/%s", event.Term, event.Session)
	}
	if event.Balance != 100000 {
		t.Fatalf("expected balance 100000, got %.2f", event.Balance)
	}
}
