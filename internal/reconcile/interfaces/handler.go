package interfaces

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"schoolfees-cloud/internal/auth"
	"schoolfees-cloud/internal/reconcile/application"
	"schoolfees-cloud/internal/reconcile/infrastructure/postgres"
)

// Handler serves the reconciliation admin surface: trigger runs, list run
// history, and fetch drift reports.
type Handler struct {
	runner   *application.Runner
	repo     *postgres.Repository
	tenantID string
}

// NewHandler constructs a handler. The repository is optional; without it the
// history and report routes answer 503.
func NewHandler(runner *application.Runner, repo *postgres.Repository, tenantID string) (*Handler, error) {
	if runner == nil {
		return nil, errors.New("reconcile handler: nil runner")
	}
	return &Handler{runner: runner, repo: repo, tenantID: tenantID}, nil
}

// ServeHTTP routes requests under /api/v1/reconcile.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path
	switch {
	case path == "/api/v1/reconcile/run":
		h.handleRun(w, r)
	case path == "/api/v1/reconcile/runs":
		h.handleListRuns(w, r)
	case path == "/api/v1/reconcile/reports":
		h.handleListReports(w, r)
	case strings.HasPrefix(path, "/api/v1/reconcile/reports/"):
		rest := strings.TrimPrefix(path, "/api/v1/reconcile/reports/")
		parts := strings.Split(rest, "/")
		if len(parts) == 1 && parts[0] != "" {
			h.handleGetReport(w, r, parts[0])
			return
		}
		if len(parts) == 2 && parts[1] == "download" {
			h.handleDownload(w, r, parts[0])
			return
		}
		w.WriteHeader(http.StatusNotFound)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		TenantID    string `json:"tenant_id"`
		AccountFrom string `json:"account_from"`
		AccountTo   string `json:"account_to"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	tenantID := auth.TenantIDFromContext(r.Context())
	if tenantID != "" && req.TenantID != "" && req.TenantID != tenantID {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	if req.TenantID == "" {
		req.TenantID = tenantID
	}

	report, err := h.runner.Run(r.Context(), req.TenantID, application.RunOptions{
		AccountFrom: req.AccountFrom,
		AccountTo:   req.AccountTo,
	})
	if err != nil {
		if errors.Is(err, application.ErrBatchFailure) {
			http.Error(w, "batch failure", http.StatusInternalServerError)
			return
		}
		http.Error(w, "reconcile run error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(newRunReportView(report))
}

func (h *Handler) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h.repo == nil {
		http.Error(w, "server not ready", http.StatusServiceUnavailable)
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = parsed
	}

	runs, err := h.repo.ListRuns(r.Context(), limit)
	if err != nil {
		http.Error(w, "list runs error", http.StatusInternalServerError)
		return
	}
	views := make([]runView, 0, len(runs))
	for _, run := range runs {
		views = append(views, newRunView(run))
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(views)
}

func (h *Handler) handleListReports(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h.repo == nil {
		http.Error(w, "server not ready", http.StatusServiceUnavailable)
		return
	}

	from, err := time.Parse(time.RFC3339, r.URL.Query().Get("from"))
	if err != nil {
		http.Error(w, "invalid from", http.StatusBadRequest)
		return
	}
	to, err := time.Parse(time.RFC3339, r.URL.Query().Get("to"))
	if err != nil {
		http.Error(w, "invalid to", http.StatusBadRequest)
		return
	}
	if !to.After(from) {
		http.Error(w, "to must be after from", http.StatusBadRequest)
		return
	}

	reports, err := h.repo.ListReports(r.Context(), from, to)
	if err != nil {
		http.Error(w, "list reports error", http.StatusInternalServerError)
		return
	}
	views := make([]reportView, 0, len(reports))
	for _, report := range reports {
		views = append(views, newReportView(report))
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(views)
}

func (h *Handler) handleGetReport(w http.ResponseWriter, r *http.Request, id string) {
	report, ok := h.loadReport(w, r, id)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(newReportView(report))
}

func (h *Handler) handleDownload(w http.ResponseWriter, r *http.Request, id string) {
	report, ok := h.loadReport(w, r, id)
	if !ok {
		return
	}
	if report.Location == "" {
		http.Error(w, "report file not found", http.StatusNotFound)
		return
	}
	if _, err := os.Stat(report.Location); err != nil {
		http.Error(w, "report file not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Disposition", `attachment; filename="report.zip"`)
	http.ServeFile(w, r, report.Location)
}

// loadReport fetches the report and hides it from other tenants.
func (h *Handler) loadReport(w http.ResponseWriter, r *http.Request, id string) (*application.Report, bool) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return nil, false
	}
	if h.repo == nil {
		http.Error(w, "server not ready", http.StatusServiceUnavailable)
		return nil, false
	}
	report, err := h.repo.GetReport(r.Context(), id)
	if err != nil {
		http.Error(w, "get report error", http.StatusInternalServerError)
		return nil, false
	}
	if report == nil {
		http.Error(w, "report not found", http.StatusNotFound)
		return nil, false
	}
	tenantID := auth.TenantIDFromContext(r.Context())
	if tenantID != "" && report.TenantID != "" && report.TenantID != tenantID {
		http.Error(w, "report not found", http.StatusNotFound)
		return nil, false
	}
	return report, true
}

type runView struct {
	ID          string     `json:"id"`
	TenantID    string     `json:"tenant_id"`
	AccountFrom string     `json:"account_from,omitempty"`
	AccountTo   string     `json:"account_to,omitempty"`
	Status      string     `json:"status"`
	Attempts    int        `json:"attempts"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	EndedAt     *time.Time `json:"ended_at,omitempty"`
}

func newRunView(run *application.Run) runView {
	return runView{
		ID:          run.ID,
		TenantID:    run.TenantID,
		AccountFrom: run.AccountFrom,
		AccountTo:   run.AccountTo,
		Status:      run.Status,
		Attempts:    run.Attempts,
		Error:       run.Error,
		CreatedAt:   run.CreatedAt,
		UpdatedAt:   run.UpdatedAt,
		StartedAt:   run.StartedAt,
		EndedAt:     run.EndedAt,
	}
}

type reportView struct {
	ID           string          `json:"id"`
	RunID        string          `json:"run_id"`
	TenantID     string          `json:"tenant_id"`
	AccountFrom  string          `json:"account_from,omitempty"`
	AccountTo    string          `json:"account_to,omitempty"`
	Status       string          `json:"status"`
	Location     string          `json:"location,omitempty"`
	DriftSummary json.RawMessage `json:"drift_summary,omitempty"`
	Scanned      int             `json:"scanned"`
	Groups       int             `json:"groups"`
	Created      int             `json:"created"`
	Updated      int             `json:"updated"`
	Skipped      int             `json:"skipped"`
	DriftKeys    int             `json:"drift_keys"`
	DriftPaidMax float64         `json:"drift_paid_max"`
	CreatedAt    time.Time       `json:"created_at"`
}

func newReportView(report *application.Report) reportView {
	return reportView{
		ID:           report.ID,
		RunID:        report.RunID,
		TenantID:     report.TenantID,
		AccountFrom:  report.AccountFrom,
		AccountTo:    report.AccountTo,
		Status:       report.Status,
		Location:     report.Location,
		DriftSummary: json.RawMessage(report.DriftSummary),
		Scanned:      report.Scanned,
		Groups:       report.Groups,
		Created:      report.Created,
		Updated:      report.Updated,
		Skipped:      report.Skipped,
		DriftKeys:    report.DriftKeys,
		DriftPaidMax: report.DriftPaidMax,
		CreatedAt:    report.CreatedAt,
	}
}

type runReportView struct {
	RunID        string  `json:"run_id"`
	ReportID     string  `json:"report_id"`
	Location     string  `json:"location,omitempty"`
	Scanned      int     `json:"scanned"`
	Groups       int     `json:"groups"`
	Created      int     `json:"created"`
	Updated      int     `json:"updated"`
	Skipped      int     `json:"skipped"`
	DriftKeys    int     `json:"drift_keys"`
	DriftPaidMax float64 `json:"drift_paid_max"`
}

func newRunReportView(report *application.RunReport) runReportView {
	return runReportView{
		RunID:        report.RunID,
		ReportID:     report.ReportID,
		Location:     report.Location,
		Scanned:      report.Scanned,
		Groups:       report.Groups,
		Created:      report.Created,
		Updated:      report.Updated,
		Skipped:      report.Skipped,
		DriftKeys:    report.DriftKeys,
		DriftPaidMax: report.DriftPaidMax,
	}
}
