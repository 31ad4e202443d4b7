package interfaces

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"schoolfees-cloud/internal/auth"
	fees "schoolfees-cloud/internal/fees/domain"
	"schoolfees-cloud/internal/fees/infrastructure/memory"
	"schoolfees-cloud/internal/reconcile/application"
)

type ledgerStub struct {
	events []fees.PaymentEvent
}

func (l *ledgerStub) ScanRange(_ context.Context, _, _ string) ([]fees.PaymentEvent, error) {
	return l.events, nil
}

type failingSnapshots struct {
	*memory.Store
}

func (f *failingSnapshots) SaveBatch(_ context.Context, _ []*fees.FeeStatusSnapshot) error {
	return errors.New("snapshot store down")
}

func newReconcileHandler(t *testing.T, ledger application.LedgerScanner, snapshots application.SnapshotStore) *Handler {
	t.Helper()
	runner, err := application.NewRunner(
		ledger,
		snapshots,
		nil,
		application.Config{Tolerance: 0.01, DefaultTotalDue: 100000},
		nil,
		nil,
		nil,
		nil,
		log.New(io.Discard, "", 0),
		"tenant-a",
	)
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}
	handler, err := NewHandler(runner, nil, "tenant-a")
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}
	return handler
}

func adminRequest(method, target, body string) *http.Request {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	ctx := auth.WithIdentity(req.Context(), "tenant-a", auth.RoleAdmin, "admin-1")
	return req.WithContext(ctx)
}

func TestHandler_RunRepairsDrift(t *testing.T) {
	store := memory.NewStore()
	snapshot, err := fees.NewFeeStatusSnapshot("stu-001", fees.NormalizePeriod("first", "2025/2026"), 100000)
	if err != nil {
		t.Fatalf("new snapshot: %v", err)
	}
	if err := snapshot.ApplyPayment(50000, "RCP-1", time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC)); err != nil {
		t.Fatalf("apply payment: %v", err)
	}
	if err := store.Save(context.Background(), snapshot); err != nil {
		t.Fatalf("save snapshot: %v", err)
	}

	ledger := &ledgerStub{events: []fees.PaymentEvent{
		{
			ID: "evt-1", TenantID: "tenant-a", AccountID: "stu-001",
			Term: "first", Session: "2025-2026", Amount: 50000,
			Method: fees.MethodCash, ReceiptNumber: "RCP-1",
			PaidAt: time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC),
		},
		{
			ID: "evt-2", TenantID: "tenant-a", AccountID: "stu-001",
			Term: "First Term", Session: "2025/2026", Amount: 30000,
			Method: fees.MethodCash, ReceiptNumber: "RCP-2",
			PaidAt: time.Date(2026, 1, 6, 10, 0, 0, 0, time.UTC),
		},
	}}

	handler := newReconcileHandler(t, ledger, store)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, adminRequest(http.MethodPost, "/api/v1/reconcile/run", `{"tenant_id":"tenant-a"}`))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		RunID        string  `json:"run_id"`
		Scanned      int     `json:"scanned"`
		Updated      int     `json:"updated"`
		DriftPaidMax float64 `json:"drift_paid_max"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.RunID == "" || resp.Scanned != 2 || resp.Updated != 1 {
		t.Fatalf("unexpected response %+v", resp)
	}
	if resp.DriftPaidMax != 30000 {
		t.Fatalf("expected drift 30000, got %.2f", resp.DriftPaidMax)
	}

	key, err := fees.BuildAccountPeriodKey("stu-001", fees.NormalizePeriod("first", "2025-2026"))
	if err != nil {
		t.Fatalf("build key: %v", err)
	}
	repaired, err := store.FindByKey(context.Background(), key)
	if err != nil || repaired == nil {
		t.Fatalf("load repaired snapshot: %v", err)
	}
	if repaired.TotalPaid() != 80000 {
		t.Fatalf("expected total paid 80000, got %.2f", repaired.TotalPaid())
	}

	// An empty body defaults to the caller's tenant.
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, adminRequest(http.MethodPost, "/api/v1/reconcile/run", ""))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for empty body, got %d", rec.Code)
	}
}

func TestHandler_RunRejectsForeignTenant(t *testing.T) {
	handler := newReconcileHandler(t, &ledgerStub{}, memory.NewStore())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, adminRequest(http.MethodPost, "/api/v1/reconcile/run", `{"tenant_id":"tenant-b"}`))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestHandler_RunMapsBatchFailure(t *testing.T) {
	store := memory.NewStore()
	ledger := &ledgerStub{events: []fees.PaymentEvent{
		{
			ID: "evt-1", TenantID: "tenant-a", AccountID: "stu-001",
			Term: "first", Session: "2025-2026", Amount: 50000,
			Method: fees.MethodCash, ReceiptNumber: "RCP-1",
			PaidAt: time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC),
		},
	}}

	handler := newReconcileHandler(t, ledger, &failingSnapshots{Store: store})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, adminRequest(http.MethodPost, "/api/v1/reconcile/run", ""))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "batch failure") {
		t.Fatalf("expected batch failure body, got %q", rec.Body.String())
	}
}

func TestHandler_MethodAndPathGuards(t *testing.T) {
	handler := newReconcileHandler(t, &ledgerStub{}, memory.NewStore())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, adminRequest(http.MethodGet, "/api/v1/reconcile/run", ""))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405 for GET run, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, adminRequest(http.MethodGet, "/api/v1/reconcile/nope", ""))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown path, got %d", rec.Code)
	}
}

func TestHandler_HistoryUnavailableWithoutStore(t *testing.T) {
	handler := newReconcileHandler(t, &ledgerStub{}, memory.NewStore())

	for _, target := range []string{
		"/api/v1/reconcile/runs",
		"/api/v1/reconcile/reports?from=2026-01-01T00:00:00Z&to=2026-02-01T00:00:00Z",
		"/api/v1/reconcile/reports/report-1",
		"/api/v1/reconcile/reports/report-1/download",
	} {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, adminRequest(http.MethodGet, target, ""))
		if rec.Code != http.StatusServiceUnavailable {
			t.Fatalf("%s: expected 503, got %d", target, rec.Code)
		}
	}
}
