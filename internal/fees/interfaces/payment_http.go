package interfaces

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"schoolfees-cloud/internal/auth"
	feesapp "schoolfees-cloud/internal/fees/application"
	fees "schoolfees-cloud/internal/fees/domain"
)

// PaymentHandler handles payment recording over HTTP.
type PaymentHandler struct {
	service *feesapp.PaymentService
}

// NewPaymentHandler constructs a handler.
func NewPaymentHandler(service *feesapp.PaymentService) (*PaymentHandler, error) {
	if service == nil {
		return nil, errors.New("payment handler: nil service")
	}
	return &PaymentHandler{service: service}, nil
}

// ServeHTTP handles POST /api/v1/payments.
func (h *PaymentHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		TenantID  string          `json:"tenant_id"`
		AccountID string          `json:"account_id"`
		Term      string          `json:"term"`
		Session   string          `json:"session"`
		Amount    float64         `json:"amount"`
		Method    string          `json:"method"`
		Details   json.RawMessage `json:"details"`
		PaidAt    string          `json:"paid_at"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	tenantID := auth.TenantIDFromContext(r.Context())
	if tenantID != "" && req.TenantID != "" && req.TenantID != tenantID {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	var paidAt time.Time
	if req.PaidAt != "" {
		parsed, err := time.Parse(time.RFC3339, req.PaidAt)
		if err != nil {
			http.Error(w, "invalid paid_at", http.StatusBadRequest)
			return
		}
		paidAt = parsed
	}

	cmd := feesapp.RecordPaymentCommand{
		TenantID:   req.TenantID,
		AccountID:  req.AccountID,
		Term:       req.Term,
		Session:    req.Session,
		Amount:     req.Amount,
		Method:     fees.Method(req.Method),
		Details:    req.Details,
		RecordedBy: auth.SubjectFromContext(r.Context()),
		PaidAt:     paidAt,
	}
	snapshot, receiptNumber, err := h.service.RecordPayment(r.Context(), cmd)
	if err != nil {
		respondFeeError(w, err)
		return
	}

	resp := struct {
		ReceiptNumber string        `json:"receipt_number"`
		Snapshot      *snapshotView `json:"snapshot"`
	}{ReceiptNumber: receiptNumber, Snapshot: newSnapshotView(snapshot)}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(resp)
}
