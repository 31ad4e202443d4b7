package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"time"

	"schoolfees-cloud/internal/audit"
	feesapp "schoolfees-cloud/internal/fees/application"
	fees "schoolfees-cloud/internal/fees/domain"
	"schoolfees-cloud/internal/observability/metrics"
)

// IngestHandler records online payments posted by a payment gateway webhook.
// The HMAC middleware guards the route; by the time a request lands here it
// carries a valid gateway signature.
type IngestHandler struct {
	service     *feesapp.PaymentService
	auditLogger audit.Logger
	logger      *log.Logger
}

// NewIngestHandler constructs an ingest handler.
func NewIngestHandler(service *feesapp.PaymentService, auditLogger audit.Logger, logger *log.Logger) (*IngestHandler, error) {
	if service == nil {
		return nil, errors.New("gateway ingest: nil service")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &IngestHandler{service: service, auditLogger: auditLogger, logger: logger}, nil
}

// ServeHTTP ingests one gateway payment notification.
func (h *IngestHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	result := metrics.IngestResultSuccess
	defer func() {
		metrics.ObserveIngest(result, time.Since(start))
	}()

	if r.Method != http.MethodPost {
		result = metrics.IngestResultError
		metrics.IncIngestError("method_not_allowed")
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.logger.Printf("gateway ingest: read body error: %v", err)
		result = metrics.IngestResultError
		metrics.IncIngestError("read_body")
		http.Error(w, "read body error", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	var req ingestRequest
	if err := json.Unmarshal(body, &req); err != nil {
		h.logger.Printf("gateway ingest: decode error: %v", err)
		result = metrics.IngestResultError
		metrics.IncIngestError("invalid_json")
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	cmd, err := req.toCommand()
	if err != nil {
		h.logger.Printf("gateway ingest: invalid payload: %v", err)
		result = metrics.IngestResultError
		metrics.IncIngestError("invalid_payload")
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	snapshot, receiptNumber, err := h.service.RecordPayment(r.Context(), cmd)
	if err != nil {
		h.logger.Printf("gateway ingest: record error: %v", err)
		result = metrics.IngestResultError
		respondRecordError(w, err)
		return
	}

	h.logAudit(r, req, receiptNumber)

	resp := map[string]any{
		"receipt_number": receiptNumber,
		"balance":        snapshot.Balance(),
		"status":         snapshot.Status(),
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (h *IngestHandler) logAudit(r *http.Request, req ingestRequest, receiptNumber string) {
	if h.auditLogger == nil {
		return
	}
	meta, _ := json.Marshal(map[string]any{
		"provider":       req.Provider,
		"provider_ref":   req.ProviderRef,
		"amount":         req.Amount,
		"receipt_number": receiptNumber,
	})
	_ = h.auditLogger.Log(r.Context(), audit.Entry{
		TenantID:     req.TenantID,
		Actor:        "gateway:" + req.Provider,
		Action:       "payment.gateway",
		ResourceType: "payment",
		ResourceID:   receiptNumber,
		AccountID:    req.AccountID,
		Metadata:     meta,
		IP:           audit.ClientIP(r),
		UserAgent:    r.UserAgent(),
	})
}

func respondRecordError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, fees.ErrAccountNotFound):
		metrics.IncIngestError("account_not_found")
		http.Error(w, "account not found", http.StatusNotFound)
	case errors.Is(err, fees.ErrFeeStructureMissing):
		metrics.IncIngestError("fee_structure_missing")
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	case errors.Is(err, fees.ErrInvalidAmount),
		errors.Is(err, fees.ErrInvalidPeriod),
		errors.Is(err, fees.ErrInvalidDetails),
		errors.Is(err, fees.ErrEmptyAccountID):
		metrics.IncIngestError("invalid_payload")
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, fees.ErrVersionConflict):
		metrics.IncIngestError("version_conflict")
		http.Error(w, "version conflict", http.StatusConflict)
	default:
		metrics.IncIngestError("record_error")
		http.Error(w, "record error", http.StatusServiceUnavailable)
	}
}

type ingestRequest struct {
	TenantID    string  `json:"tenant_id"`
	AccountID   string  `json:"account_id"`
	Term        string  `json:"term"`
	Session     string  `json:"session"`
	Amount      float64 `json:"amount"`
	Provider    string  `json:"provider"`
	ProviderRef string  `json:"provider_ref"`
	PaidAt      int64   `json:"paid_at"`
}

func (r ingestRequest) toCommand() (feesapp.RecordPaymentCommand, error) {
	if r.AccountID == "" {
		return feesapp.RecordPaymentCommand{}, errors.New("missing account_id")
	}
	if r.Provider == "" || r.ProviderRef == "" {
		return feesapp.RecordPaymentCommand{}, errors.New("missing provider/provider_ref")
	}

	var paidAt time.Time
	if r.PaidAt != 0 {
		parsed, err := parseTimestamp(r.PaidAt)
		if err != nil {
			return feesapp.RecordPaymentCommand{}, err
		}
		paidAt = parsed
	}

	details, err := json.Marshal(fees.OnlineDetails{Provider: r.Provider, ProviderRef: r.ProviderRef})
	if err != nil {
		return feesapp.RecordPaymentCommand{}, err
	}

	return feesapp.RecordPaymentCommand{
		TenantID:   r.TenantID,
		AccountID:  r.AccountID,
		Term:       r.Term,
		Session:    r.Session,
		Amount:     r.Amount,
		Method:     fees.MethodOnline,
		Details:    details,
		RecordedBy: "gateway:" + r.Provider,
		PaidAt:     paidAt,
	}, nil
}

func parseTimestamp(value int64) (time.Time, error) {
	if value <= 0 {
		return time.Time{}, errors.New("invalid paid_at")
	}
	// Accept milliseconds or seconds.
	if value > 1_000_000_000_000 {
		return time.UnixMilli(value).UTC(), nil
	}
	return time.Unix(value, 0).UTC(), nil
}
