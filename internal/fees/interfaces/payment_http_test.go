package interfaces

import (
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"schoolfees-cloud/internal/auth"
	feesapp "schoolfees-cloud/internal/fees/application"
	"schoolfees-cloud/internal/fees/infrastructure/feestructure"
	"schoolfees-cloud/internal/fees/infrastructure/memory"
)

type handlerFixture struct {
	payments   *PaymentHandler
	statements *StatementHandler
	receipts   *ReceiptHandler
}

func newHandlerFixture(t *testing.T) handlerFixture {
	t.Helper()
	store := memory.NewStore()
	provider, err := feestructure.NewFixedAmountProvider(150000)
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	logger := log.New(io.Discard, "", 0)
	paymentService, err := feesapp.NewPaymentService(store, store, memory.NewReceiptAllocator(""), provider, nil, nil, nil, nil, logger, "tenant-a")
	if err != nil {
		t.Fatalf("new payment service: %v", err)
	}
	statementService, err := feesapp.NewStatementService(store, store)
	if err != nil {
		t.Fatalf("new statement service: %v", err)
	}
	paymentHandler, err := NewPaymentHandler(paymentService)
	if err != nil {
		t.Fatalf("new payment handler: %v", err)
	}
	statementHandler, err := NewStatementHandler(statementService, nil, nil)
	if err != nil {
		t.Fatalf("new statement handler: %v", err)
	}
	receiptHandler, err := NewReceiptHandler(statementService, nil)
	if err != nil {
		t.Fatalf("new receipt handler: %v", err)
	}
	return handlerFixture{payments: paymentHandler, statements: statementHandler, receipts: receiptHandler}
}

func authedRequest(method, target, body string) *http.Request {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	ctx := auth.WithIdentity(req.Context(), "tenant-a", auth.RoleBursar, "bursar-1")
	return req.WithContext(ctx)
}

func TestPaymentHandler_RecordThenStatement(t *testing.T) {
	fixture := newHandlerFixture(t)

	body := `{"account_id":"stu-001","term":"First Term","session":"2025/2026","amount":60000,"method":"cash"}`
	rec := httptest.NewRecorder()
	fixture.payments.ServeHTTP(rec, authedRequest(http.MethodPost, "/api/v1/payments", body))
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var created struct {
		ReceiptNumber string `json:"receipt_number"`
		Snapshot      struct {
			Term    string  `json:"term"`
			Session string  `json:"session"`
			Balance float64 `json:"balance"`
			Status  string  `json:"status"`
		} `json:"snapshot"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if created.ReceiptNumber != "RCP-2025-2026-000001" {
		t.Fatalf("expected first receipt, got %s", created.ReceiptNumber)
	}
	if created.Snapshot.Term != "first" || created.Snapshot.Session != "2025-2026" {
		t.Fatalf("expected canonical period, got %s/%s", created.Snapshot.Term, created.Snapshot.Session)
	}
	if created.Snapshot.Balance != 90000 || created.Snapshot.Status != "partial" {
		t.Fatalf("expected partial 90000, got %s %.2f", created.Snapshot.Status, created.Snapshot.Balance)
	}

	// The statement path form resolves the same obligation.
	rec = httptest.NewRecorder()
	fixture.statements.ServeHTTP(rec, authedRequest(http.MethodGet, "/api/v1/statements/stu-001/first/2025-2026", ""))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var statement struct {
		Snapshot struct {
			TotalPaid float64 `json:"total_paid"`
		} `json:"snapshot"`
		Payments []struct {
			ReceiptNumber string `json:"receipt_number"`
		} `json:"payments"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &statement); err != nil {
		t.Fatalf("decode statement: %v", err)
	}
	if statement.Snapshot.TotalPaid != 60000 || len(statement.Payments) != 1 {
		t.Fatalf("expected one payment of 60000, got %.2f with %d payments", statement.Snapshot.TotalPaid, len(statement.Payments))
	}

	// Receipt lookup by number.
	rec = httptest.NewRecorder()
	fixture.receipts.ServeHTTP(rec, authedRequest(http.MethodGet, "/api/v1/receipts/"+created.ReceiptNumber, ""))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var receipt struct {
		Payment struct {
			Amount float64 `json:"amount"`
		} `json:"payment"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &receipt); err != nil {
		t.Fatalf("decode receipt: %v", err)
	}
	if receipt.Payment.Amount != 60000 {
		t.Fatalf("expected amount 60000, got %.2f", receipt.Payment.Amount)
	}
}

func TestPaymentHandler_ValidationStatusCodes(t *testing.T) {
	fixture := newHandlerFixture(t)

	cases := []struct {
		name string
		body string
		want int
	}{
		{"zero amount", `{"account_id":"stu-001","term":"first","session":"2025-2026","amount":0,"method":"cash"}`, http.StatusBadRequest},
		{"unknown method", `{"account_id":"stu-001","term":"first","session":"2025-2026","amount":1000,"method":"transfer"}`, http.StatusBadRequest},
		{"bad term", `{"account_id":"stu-001","term":"spring","session":"2025-2026","amount":1000,"method":"cash"}`, http.StatusBadRequest},
		{"transfer without ref", `{"account_id":"stu-001","term":"first","session":"2025-2026","amount":1000,"method":"bank_transfer"}`, http.StatusBadRequest},
		{"bad json", `{`, http.StatusBadRequest},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		fixture.payments.ServeHTTP(rec, authedRequest(http.MethodPost, "/api/v1/payments", tc.body))
		if rec.Code != tc.want {
			t.Fatalf("%s: expected %d, got %d", tc.name, tc.want, rec.Code)
		}
	}
}

func TestStatementHandler_MissingSnapshot(t *testing.T) {
	fixture := newHandlerFixture(t)

	rec := httptest.NewRecorder()
	fixture.statements.ServeHTTP(rec, authedRequest(http.MethodGet, "/api/v1/statements/stu-404/first/2025-2026", ""))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestReceiptHandler_OtherTenantHidden(t *testing.T) {
	fixture := newHandlerFixture(t)

	body := `{"account_id":"stu-001","term":"first","session":"2025-2026","amount":5000,"method":"cash"}`
	rec := httptest.NewRecorder()
	fixture.payments.ServeHTTP(rec, authedRequest(http.MethodPost, "/api/v1/payments", body))
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/receipts/RCP-2025-2026-000001", nil)
	ctx := auth.WithIdentity(req.Context(), "tenant-b", auth.RoleViewer, "viewer-9")
	rec = httptest.NewRecorder()
	fixture.receipts.ServeHTTP(rec, req.WithContext(ctx))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for foreign tenant, got %d", rec.Code)
	}
}
