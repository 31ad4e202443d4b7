package interfaces

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"schoolfees-cloud/internal/audit"
	"schoolfees-cloud/internal/auth"
	feesapp "schoolfees-cloud/internal/fees/application"
	"schoolfees-cloud/internal/observability/metrics"
)

// ReceiptHandler serves receipt lookups and receipt PDF exports.
type ReceiptHandler struct {
	service     *feesapp.StatementService
	auditLogger audit.Logger
}

// NewReceiptHandler constructs a handler.
func NewReceiptHandler(service *feesapp.StatementService, auditLogger audit.Logger) (*ReceiptHandler, error) {
	if service == nil {
		return nil, errors.New("receipt handler: nil service")
	}
	return &ReceiptHandler{service: service, auditLogger: auditLogger}, nil
}

// ServeHTTP handles receipt routes under /api/v1/receipts.
func (h *ReceiptHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path
	if !strings.HasPrefix(path, "/api/v1/receipts/") || r.Method != http.MethodGet {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	rest := strings.TrimPrefix(path, "/api/v1/receipts/")
	if rest == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	parts := strings.Split(rest, "/")
	if len(parts) == 1 {
		h.handleGet(w, r, parts[0])
		return
	}
	if len(parts) == 2 && parts[1] == "export.pdf" {
		h.handleExportPDF(w, r, parts[0])
		return
	}
	w.WriteHeader(http.StatusNotFound)
}

func (h *ReceiptHandler) handleGet(w http.ResponseWriter, r *http.Request, receiptNumber string) {
	receipt, err := h.loadReceipt(w, r, receiptNumber)
	if err != nil {
		return
	}
	resp := struct {
		Payment  paymentView   `json:"payment"`
		Snapshot *snapshotView `json:"snapshot,omitempty"`
	}{Payment: newPaymentView(receipt.Payment), Snapshot: newSnapshotView(receipt.Snapshot)}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (h *ReceiptHandler) handleExportPDF(w http.ResponseWriter, r *http.Request, receiptNumber string) {
	start := time.Now()
	result := metrics.ResultSuccess
	defer func() {
		metrics.ObserveReceiptExport("pdf", result, time.Since(start))
	}()

	receipt, err := h.loadReceipt(w, r, receiptNumber)
	if err != nil {
		result = metrics.ResultError
		return
	}
	data, err := BuildReceiptPDF(receipt.Payment, receipt.Snapshot)
	if err != nil {
		result = metrics.ResultError
		http.Error(w, "export pdf error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
	h.logAudit(r, receipt)
}

// loadReceipt fetches the receipt and hides it from other tenants.
func (h *ReceiptHandler) loadReceipt(w http.ResponseWriter, r *http.Request, receiptNumber string) (*feesapp.Receipt, error) {
	receipt, err := h.service.Receipt(r.Context(), receiptNumber)
	if err != nil {
		respondFeeError(w, err)
		return nil, err
	}
	tenantID := auth.TenantIDFromContext(r.Context())
	if tenantID != "" && receipt.Payment.TenantID != "" && receipt.Payment.TenantID != tenantID {
		http.Error(w, "not found", http.StatusNotFound)
		return nil, auth.ErrNotFound
	}
	return receipt, nil
}

func (h *ReceiptHandler) logAudit(r *http.Request, receipt *feesapp.Receipt) {
	if h.auditLogger == nil {
		return
	}
	tenantID := auth.TenantIDFromContext(r.Context())
	if tenantID == "" {
		return
	}
	payload, _ := json.Marshal(map[string]any{
		"format":         "pdf",
		"receipt_number": receipt.Payment.ReceiptNumber,
		"amount":         receipt.Payment.Amount,
	})
	_ = h.auditLogger.Log(r.Context(), audit.Entry{
		TenantID:     tenantID,
		Actor:        auth.SubjectFromContext(r.Context()),
		Role:         string(auth.RoleFromContext(r.Context())),
		Action:       "receipt.export",
		ResourceType: "receipt",
		ResourceID:   receipt.Payment.ReceiptNumber,
		AccountID:    receipt.Payment.AccountID,
		Metadata:     payload,
		IP:           audit.ClientIP(r),
		UserAgent:    r.UserAgent(),
	})
}
