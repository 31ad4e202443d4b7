package integration_test

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	fees "schoolfees-cloud/internal/fees/domain"
	feesrepo "schoolfees-cloud/internal/fees/infrastructure/postgres"

	_ "github.com/jackc/pgx/v5/stdlib"
)

const testTenant = "tenant-fees-it"

func openTestDB(t *testing.T, tables ...string) *sql.DB {
	t.Helper()
	dsn := os.Getenv("PG_DSN")
	if dsn == "" {
		t.Skip("PG_DSN not set")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	for _, table := range tables {
		if !tableExists(db, table) {
			t.Skipf("missing table %s; run migrations", table)
		}
	}
	return db
}

func cleanTenant(t *testing.T, db *sql.DB, tables ...string) {
	t.Helper()
	ctx := context.Background()
	for _, table := range tables {
		if _, err := db.ExecContext(ctx, "DELETE FROM "+table+" WHERE tenant_id = $1", testTenant); err != nil {
			t.Fatalf("clean %s: %v", table, err)
		}
	}
}

func tableExists(db *sql.DB, table string) bool {
	var exists bool
	err := db.QueryRow(`
SELECT EXISTS (
	SELECT 1
	FROM information_schema.tables
	WHERE table_schema = 'public' AND table_name = $1
)`, table).Scan(&exists)
	if err != nil {
		return false
	}
	return exists
}

func mustEvent(t *testing.T, id, accountID, term, session string, amount float64, receipt string, paidAt time.Time) fees.PaymentEvent {
	t.Helper()
	period, err := fees.NewPeriod(term, session)
	if err != nil {
		t.Fatalf("new period: %v", err)
	}
	event, err := fees.NewPaymentEvent(id, testTenant, accountID, period, amount, fees.CashDetails{TellerName: "it"}, paidAt, receipt, "bursar:it")
	if err != nil {
		t.Fatalf("new payment event: %v", err)
	}
	return event
}

func ledgerCount(t *testing.T, db *sql.DB, accountID string) int {
	t.Helper()
	var count int
	err := db.QueryRow(
		"SELECT COUNT(*) FROM payment_events WHERE tenant_id = $1 AND account_id = $2",
		testTenant, accountID,
	).Scan(&count)
	if err != nil {
		t.Fatalf("count ledger: %v", err)
	}
	return count
}

func TestPaymentStore_AtomicRecord(t *testing.T) {
	db := openTestDB(t, "payment_events", "fee_status_snapshots")
	cleanTenant(t, db, "payment_events", "fee_status_snapshots")
	ctx := context.Background()

	store := feesrepo.NewPaymentStore(db, feesrepo.WithPaymentTenantID(testTenant))
	snapshots := feesrepo.NewSnapshotRepository(db, feesrepo.WithSnapshotTenantID(testTenant))

	paidAt := time.Date(2026, time.February, 2, 9, 0, 0, 0, time.UTC)
	event := mustEvent(t, "evt-it-001", "stu-it-1", "First Term", "2025/2026", 40000, "RCP-IT-001", paidAt)

	snapshot, err := fees.NewFeeStatusSnapshot("stu-it-1", fees.NormalizePeriod(event.Term, event.Session), 100000)
	if err != nil {
		t.Fatalf("new snapshot: %v", err)
	}
	if err := snapshot.ApplyPayment(event.Amount, event.ReceiptNumber, event.PaidAt); err != nil {
		t.Fatalf("apply payment: %v", err)
	}
	if err := store.RecordPayment(ctx, event, snapshot); err != nil {
		t.Fatalf("record payment: %v", err)
	}
	if snapshot.Version() != 1 || snapshot.IsNew() {
		t.Fatalf("expected persisted version 1, got version=%d new=%v", snapshot.Version(), snapshot.IsNew())
	}

	stored, err := snapshots.FindByKey(ctx, snapshot.Key())
	if err != nil {
		t.Fatalf("find snapshot: %v", err)
	}
	if stored == nil {
		t.Fatal("expected stored snapshot")
	}
	if stored.TotalPaid() != 40000 || stored.Balance() != 60000 || stored.Status() != fees.StatusPartial {
		t.Fatalf("unexpected snapshot paid=%.2f balance=%.2f status=%s", stored.TotalPaid(), stored.Balance(), stored.Status())
	}
	if got := ledgerCount(t, db, "stu-it-1"); got != 1 {
		t.Fatalf("expected 1 ledger row, got %d", got)
	}
}

func TestPaymentStore_ConflictLeavesNoLedgerRow(t *testing.T) {
	db := openTestDB(t, "payment_events", "fee_status_snapshots")
	cleanTenant(t, db, "payment_events", "fee_status_snapshots")
	ctx := context.Background()

	store := feesrepo.NewPaymentStore(db, feesrepo.WithPaymentTenantID(testTenant))
	snapshots := feesrepo.NewSnapshotRepository(db, feesrepo.WithSnapshotTenantID(testTenant))

	paidAt := time.Date(2026, time.February, 2, 9, 0, 0, 0, time.UTC)
	first := mustEvent(t, "evt-it-010", "stu-it-2", "first", "2025-2026", 30000, "RCP-IT-010", paidAt)
	snapshot, err := fees.NewFeeStatusSnapshot("stu-it-2", fees.NormalizePeriod(first.Term, first.Session), 100000)
	if err != nil {
		t.Fatalf("new snapshot: %v", err)
	}
	if err := snapshot.ApplyPayment(first.Amount, first.ReceiptNumber, first.PaidAt); err != nil {
		t.Fatalf("apply payment: %v", err)
	}
	if err := store.RecordPayment(ctx, first, snapshot); err != nil {
		t.Fatalf("record first payment: %v", err)
	}

	// Two readers load version 1; the writer that lands second must fail
	// whole, leaving the ledger untouched.
	fresh, err := snapshots.FindByKey(ctx, snapshot.Key())
	if err != nil || fresh == nil {
		t.Fatalf("load fresh snapshot: %v", err)
	}
	stale, err := snapshots.FindByKey(ctx, snapshot.Key())
	if err != nil || stale == nil {
		t.Fatalf("load stale snapshot: %v", err)
	}

	second := mustEvent(t, "evt-it-011", "stu-it-2", "first", "2025-2026", 20000, "RCP-IT-011", paidAt.Add(time.Hour))
	if err := fresh.ApplyPayment(second.Amount, second.ReceiptNumber, second.PaidAt); err != nil {
		t.Fatalf("apply payment: %v", err)
	}
	if err := store.RecordPayment(ctx, second, fresh); err != nil {
		t.Fatalf("record second payment: %v", err)
	}

	conflicting := mustEvent(t, "evt-it-012", "stu-it-2", "first", "2025-2026", 10000, "RCP-IT-012", paidAt.Add(2*time.Hour))
	if err := stale.ApplyPayment(conflicting.Amount, conflicting.ReceiptNumber, conflicting.PaidAt); err != nil {
		t.Fatalf("apply payment: %v", err)
	}
	if err := store.RecordPayment(ctx, conflicting, stale); !errors.Is(err, fees.ErrVersionConflict) {
		t.Fatalf("expected ErrVersionConflict, got %v", err)
	}

	if got := ledgerCount(t, db, "stu-it-2"); got != 2 {
		t.Fatalf("expected conflict to leave 2 ledger rows, got %d", got)
	}
	stored, err := snapshots.FindByKey(ctx, snapshot.Key())
	if err != nil || stored == nil {
		t.Fatalf("load snapshot: %v", err)
	}
	if stored.TotalPaid() != 50000 || stored.Version() != 2 {
		t.Fatalf("expected paid 50000 at version 2, got paid=%.2f version=%d", stored.TotalPaid(), stored.Version())
	}
}

func TestSnapshotRepository_RoundTripAndOutstanding(t *testing.T) {
	db := openTestDB(t, "fee_status_snapshots")
	cleanTenant(t, db, "fee_status_snapshots")
	ctx := context.Background()

	repo := feesrepo.NewSnapshotRepository(db, feesrepo.WithSnapshotTenantID(testTenant))

	key, err := fees.BuildAccountPeriodKey("stu-it-3", fees.NormalizePeriod("second", "2025-2026"))
	if err != nil {
		t.Fatalf("build key: %v", err)
	}
	missing, err := repo.FindByKey(ctx, key)
	if err != nil {
		t.Fatalf("find missing: %v", err)
	}
	if missing != nil {
		t.Fatalf("expected nil for missing snapshot, got %+v", missing)
	}

	open, err := fees.NewFeeStatusSnapshot("stu-it-3", fees.NormalizePeriod("second", "2025-2026"), 80000)
	if err != nil {
		t.Fatalf("new snapshot: %v", err)
	}
	if err := open.ApplyPayment(30000, "RCP-IT-020", time.Date(2026, time.February, 3, 8, 0, 0, 0, time.UTC)); err != nil {
		t.Fatalf("apply payment: %v", err)
	}
	if err := repo.Save(ctx, open); err != nil {
		t.Fatalf("save open: %v", err)
	}

	settled, err := fees.NewFeeStatusSnapshot("stu-it-4", fees.NormalizePeriod("second", "2025-2026"), 50000)
	if err != nil {
		t.Fatalf("new snapshot: %v", err)
	}
	if err := settled.ApplyPayment(50000, "RCP-IT-021", time.Date(2026, time.February, 3, 9, 0, 0, 0, time.UTC)); err != nil {
		t.Fatalf("apply payment: %v", err)
	}
	if err := repo.Save(ctx, settled); err != nil {
		t.Fatalf("save settled: %v", err)
	}

	outstanding, err := repo.ListOutstanding(ctx)
	if err != nil {
		t.Fatalf("list outstanding: %v", err)
	}
	if len(outstanding) != 1 {
		t.Fatalf("expected 1 outstanding snapshot, got %d", len(outstanding))
	}
	if outstanding[0].AccountID() != "stu-it-3" {
		t.Fatalf("unexpected outstanding account %s", outstanding[0].AccountID())
	}
	if outstanding[0].Version() != 1 {
		t.Fatalf("expected loaded version 1, got %d", outstanding[0].Version())
	}
}

func TestLedgerRepository_RederivesLegacySpellings(t *testing.T) {
	db := openTestDB(t, "payment_events")
	cleanTenant(t, db, "payment_events")
	ctx := context.Background()

	// Legacy rows written before normalization existed: same obligation,
	// three spellings.
	rows := []struct {
		id      string
		term    string
		session string
		amount  float64
		receipt string
	}{
		{"evt-it-030", "First Term", "2025/2026", 20000, "RCP-IT-030"},
		{"evt-it-031", "first", "2025-2026", 15000, "RCP-IT-031"},
		{"evt-it-032", "FIRST", " 2025 / 2026 ", 5000, "RCP-IT-032"},
	}
	base := time.Date(2026, time.February, 4, 10, 0, 0, 0, time.UTC)
	for i, row := range rows {
		_, err := db.ExecContext(ctx, `
INSERT INTO payment_events (id, tenant_id, account_id, term, session, amount, method, details, paid_at, receipt_number, recorded_by)
VALUES ($1, $2, $3, $4, $5, $6, 'cash', '{}', $7, $8, 'bursar:legacy')`,
			row.id, testTenant, "stu-it-5", row.term, row.session, row.amount, base.Add(time.Duration(i)*time.Hour), row.receipt)
		if err != nil {
			t.Fatalf("insert legacy row: %v", err)
		}
	}

	ledger := feesrepo.NewLedgerRepository(db, feesrepo.WithLedgerTenantID(testTenant))
	key, err := fees.BuildAccountPeriodKey("stu-it-5", fees.NormalizePeriod("first", "2025-2026"))
	if err != nil {
		t.Fatalf("build key: %v", err)
	}
	events, err := ledger.ListByKey(ctx, key)
	if err != nil {
		t.Fatalf("list by key: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected all 3 spellings under one key, got %d", len(events))
	}
	var total float64
	for _, event := range events {
		total += event.Amount
	}
	if total != 40000 {
		t.Fatalf("expected merged total 40000, got %.2f", total)
	}

	found, err := ledger.FindByReceipt(ctx, "RCP-IT-031")
	if err != nil {
		t.Fatalf("find by receipt: %v", err)
	}
	if found == nil || found.ID != "evt-it-031" {
		t.Fatalf("unexpected receipt lookup result %+v", found)
	}
	if _, err := ledger.FindByReceipt(ctx, "RCP-IT-NOPE"); !errors.Is(err, fees.ErrReceiptNotFound) {
		t.Fatalf("expected ErrReceiptNotFound, got %v", err)
	}

	scanned, err := ledger.ScanRange(ctx, "stu-it-5", "stu-it-6")
	if err != nil {
		t.Fatalf("scan range: %v", err)
	}
	if len(scanned) != 3 {
		t.Fatalf("expected 3 scanned events, got %d", len(scanned))
	}
	outside, err := ledger.ScanRange(ctx, "stu-it-6", "")
	if err != nil {
		t.Fatalf("scan outside: %v", err)
	}
	if len(outside) != 0 {
		t.Fatalf("expected empty scan outside range, got %d", len(outside))
	}
}

func TestReceiptSequence_PerSessionCounters(t *testing.T) {
	db := openTestDB(t, "receipt_sequences")
	cleanTenant(t, db, "receipt_sequences")
	ctx := context.Background()

	seq := feesrepo.NewReceiptSequence(db, feesrepo.WithReceiptTenantID(testTenant))

	first, err := seq.Next(ctx, "2025-2026")
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if first != "RCP-2025-2026-000001" {
		t.Fatalf("unexpected first number %s", first)
	}
	second, err := seq.Next(ctx, "2025-2026")
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if second != "RCP-2025-2026-000002" {
		t.Fatalf("unexpected second number %s", second)
	}

	other, err := seq.Next(ctx, "2024-2025")
	if err != nil {
		t.Fatalf("next other session: %v", err)
	}
	if !strings.HasPrefix(other, "RCP-2024-2025-") || !strings.HasSuffix(other, "000001") {
		t.Fatalf("expected independent counter per session, got %s", other)
	}
}
