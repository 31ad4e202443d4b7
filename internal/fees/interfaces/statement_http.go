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
	fees "schoolfees-cloud/internal/fees/domain"
	"schoolfees-cloud/internal/observability/metrics"
)

// StatementHandler handles statement APIs.
type StatementHandler struct {
	service        *feesapp.StatementService
	accountChecker auth.AccountTenantChecker
	auditLogger    audit.Logger
}

// NewStatementHandler constructs a handler.
func NewStatementHandler(service *feesapp.StatementService, accountChecker auth.AccountTenantChecker, auditLogger audit.Logger) (*StatementHandler, error) {
	if service == nil {
		return nil, errors.New("statement handler: nil service")
	}
	return &StatementHandler{service: service, accountChecker: accountChecker, auditLogger: auditLogger}, nil
}

// ServeHTTP handles statement routes under /api/v1/statements.
func (h *StatementHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path
	if path == "/api/v1/statements" && r.Method == http.MethodGet {
		query := r.URL.Query()
		h.handleStatement(w, r, query.Get("account_id"), query.Get("term"), query.Get("session"))
		return
	}
	if strings.HasPrefix(path, "/api/v1/statements/") {
		rest := strings.TrimPrefix(path, "/api/v1/statements/")
		h.handleByPath(w, r, rest)
		return
	}
	w.WriteHeader(http.StatusNotFound)
}

func (h *StatementHandler) handleByPath(w http.ResponseWriter, r *http.Request, rest string) {
	if rest == "" || r.Method != http.MethodGet {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	parts := strings.Split(rest, "/")
	if len(parts) == 3 {
		h.handleStatement(w, r, parts[0], parts[1], parts[2])
		return
	}
	if len(parts) == 4 {
		switch parts[3] {
		case "export.pdf":
			h.handleExportPDF(w, r, parts[0], parts[1], parts[2])
			return
		case "export.xlsx":
			h.handleExportXLSX(w, r, parts[0], parts[1], parts[2])
			return
		}
	}
	w.WriteHeader(http.StatusNotFound)
}

func (h *StatementHandler) handleStatement(w http.ResponseWriter, r *http.Request, accountID, term, session string) {
	statement, err := h.loadStatement(w, r, accountID, term, session)
	if err != nil {
		return
	}
	resp := struct {
		Snapshot *snapshotView `json:"snapshot"`
		Payments []paymentView `json:"payments"`
	}{Snapshot: newSnapshotView(statement.Snapshot), Payments: newPaymentViews(statement.Payments)}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (h *StatementHandler) handleExportPDF(w http.ResponseWriter, r *http.Request, accountID, term, session string) {
	start := time.Now()
	result := metrics.ResultSuccess
	defer func() {
		metrics.ObserveStatementExport("pdf", result, time.Since(start))
	}()

	statement, err := h.loadStatement(w, r, accountID, term, session)
	if err != nil {
		result = metrics.ResultError
		return
	}
	data, err := BuildStatementPDF(statement.Snapshot, statement.Payments)
	if err != nil {
		result = metrics.ResultError
		http.Error(w, "export pdf error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
	h.logAudit(r, statement.Snapshot, "statement.export", map[string]any{"format": "pdf"})
}

func (h *StatementHandler) handleExportXLSX(w http.ResponseWriter, r *http.Request, accountID, term, session string) {
	start := time.Now()
	result := metrics.ResultSuccess
	defer func() {
		metrics.ObserveStatementExport("xlsx", result, time.Since(start))
	}()

	statement, err := h.loadStatement(w, r, accountID, term, session)
	if err != nil {
		result = metrics.ResultError
		return
	}
	data, err := BuildStatementXLSX(statement.Snapshot, statement.Payments)
	if err != nil {
		result = metrics.ResultError
		http.Error(w, "export xlsx error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
	h.logAudit(r, statement.Snapshot, "statement.export", map[string]any{"format": "xlsx"})
}

// loadStatement runs the tenant check and the lookup, writing the error
// response itself so export paths only handle rendering.
func (h *StatementHandler) loadStatement(w http.ResponseWriter, r *http.Request, accountID, term, session string) (*feesapp.Statement, error) {
	tenantID := auth.TenantIDFromContext(r.Context())
	if tenantID != "" {
		if err := ensureAccountTenant(r, h.accountChecker, tenantID, accountID); err != nil {
			respondTenantError(w, err)
			return nil, err
		}
	}
	statement, err := h.service.Statement(r.Context(), accountID, term, session)
	if err != nil {
		respondFeeError(w, err)
		return nil, err
	}
	return statement, nil
}

func (h *StatementHandler) logAudit(r *http.Request, snapshot *fees.FeeStatusSnapshot, action string, meta map[string]any) {
	if h.auditLogger == nil || snapshot == nil {
		return
	}
	tenantID := auth.TenantIDFromContext(r.Context())
	if tenantID == "" {
		return
	}
	meta["term"] = snapshot.Period().Term
	meta["session"] = snapshot.Period().Session
	payload, _ := json.Marshal(meta)
	_ = h.auditLogger.Log(r.Context(), audit.Entry{
		TenantID:     tenantID,
		Actor:        auth.SubjectFromContext(r.Context()),
		Role:         string(auth.RoleFromContext(r.Context())),
		Action:       action,
		ResourceType: "statement",
		ResourceID:   string(snapshot.Key()),
		AccountID:    snapshot.AccountID(),
		Metadata:     payload,
		IP:           audit.ClientIP(r),
		UserAgent:    r.UserAgent(),
	})
}

func ensureAccountTenant(r *http.Request, checker auth.AccountTenantChecker, tenantID, accountID string) error {
	if checker == nil || tenantID == "" || accountID == "" {
		return nil
	}
	return checker.EnsureAccountTenant(r.Context(), tenantID, accountID)
}

func respondTenantError(w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	if errors.Is(err, auth.ErrTenantMismatch) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	if errors.Is(err, auth.ErrNotFound) {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	http.Error(w, "tenant check failed", http.StatusInternalServerError)
}

// respondFeeError maps domain sentinels to status codes. Anything outside
// the known set is treated as a storage fault.
func respondFeeError(w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, auth.ErrTenantMismatch):
		http.Error(w, "forbidden", http.StatusForbidden)
	case errors.Is(err, fees.ErrAccountNotFound),
		errors.Is(err, fees.ErrSnapshotNotFound),
		errors.Is(err, fees.ErrReceiptNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	case errors.Is(err, fees.ErrFeeStructureMissing):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	case errors.Is(err, fees.ErrVersionConflict):
		http.Error(w, "version conflict", http.StatusConflict)
	case errors.Is(err, fees.ErrInvalidAmount),
		errors.Is(err, fees.ErrUnknownMethod),
		errors.Is(err, fees.ErrInvalidDetails),
		errors.Is(err, fees.ErrInvalidPeriod),
		errors.Is(err, fees.ErrInvalidTimestamp),
		errors.Is(err, fees.ErrEmptyAccountID),
		errors.Is(err, fees.ErrEmptyReceiptNumber),
		errors.Is(err, fees.ErrEmptyRecordedBy):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		http.Error(w, "storage error", http.StatusServiceUnavailable)
	}
}
