package apihttp

import (
	"context"
	"database/sql"
	"encoding/csv"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"schoolfees-cloud/internal/auth"
	fees "schoolfees-cloud/internal/fees/domain"
)

const timeLayout = time.RFC3339

// Dashboard read endpoints. Everything here reads the snapshot table only;
// the ledger is never scanned to answer a query.

// FeeStatusHandler serves single-obligation snapshot lookups.
type FeeStatusHandler struct {
	db       *sql.DB
	tenantID string
}

// NewFeeStatusHandler constructs a FeeStatusHandler.
func NewFeeStatusHandler(db *sql.DB, tenantID string) *FeeStatusHandler {
	return &FeeStatusHandler{db: db, tenantID: tenantID}
}

// ServeHTTP handles GET /api/v1/fees/status.
func (h *FeeStatusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h == nil || h.db == nil {
		http.Error(w, "server not ready", http.StatusServiceUnavailable)
		return
	}
	tenantID := resolveTenant(r, h.tenantID)
	if tenantID == "" {
		http.Error(w, "tenant_id is required", http.StatusServiceUnavailable)
		return
	}

	accountID := r.URL.Query().Get("account_id")
	if accountID == "" {
		http.Error(w, "account_id is required", http.StatusBadRequest)
		return
	}
	period, err := fees.NewPeriod(r.URL.Query().Get("term"), r.URL.Query().Get("session"))
	if err != nil {
		http.Error(w, "invalid term or session", http.StatusBadRequest)
		return
	}
	key, err := fees.BuildAccountPeriodKey(accountID, period)
	if err != nil {
		http.Error(w, "account_id is required", http.StatusBadRequest)
		return
	}

	row, err := querySnapshot(r.Context(), h.db, tenantID, key.String())
	if err != nil {
		http.Error(w, "query snapshot error", http.StatusInternalServerError)
		return
	}
	if row == nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(row)
}

// OutstandingHandler lists snapshots that still carry a balance.
type OutstandingHandler struct {
	db       *sql.DB
	tenantID string
}

// NewOutstandingHandler constructs an OutstandingHandler.
func NewOutstandingHandler(db *sql.DB, tenantID string) *OutstandingHandler {
	return &OutstandingHandler{db: db, tenantID: tenantID}
}

// ServeHTTP handles GET /api/v1/fees/outstanding.
func (h *OutstandingHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h == nil || h.db == nil {
		http.Error(w, "server not ready", http.StatusServiceUnavailable)
		return
	}
	tenantID := resolveTenant(r, h.tenantID)
	if tenantID == "" {
		http.Error(w, "tenant_id is required", http.StatusServiceUnavailable)
		return
	}

	filter := periodFilter(r)
	rows, err := querySnapshots(r.Context(), h.db, tenantID, filter, true)
	if err != nil {
		http.Error(w, "query snapshots error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(rows)
}

// FeeStatsHandler serves per-status counts and amount totals.
type FeeStatsHandler struct {
	db       *sql.DB
	tenantID string
}

// NewFeeStatsHandler constructs a FeeStatsHandler.
func NewFeeStatsHandler(db *sql.DB, tenantID string) *FeeStatsHandler {
	return &FeeStatsHandler{db: db, tenantID: tenantID}
}

// ServeHTTP handles GET /api/v1/fees/stats.
func (h *FeeStatsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h == nil || h.db == nil {
		http.Error(w, "server not ready", http.StatusServiceUnavailable)
		return
	}
	tenantID := resolveTenant(r, h.tenantID)
	if tenantID == "" {
		http.Error(w, "tenant_id is required", http.StatusServiceUnavailable)
		return
	}

	stats, err := queryStats(r.Context(), h.db, tenantID, periodFilter(r))
	if err != nil {
		http.Error(w, "query stats error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(stats)
}

// ExportFeesCSVHandler serves fee status CSV exports.
type ExportFeesCSVHandler struct {
	db       *sql.DB
	tenantID string
}

// NewExportFeesCSVHandler constructs an ExportFeesCSVHandler.
func NewExportFeesCSVHandler(db *sql.DB, tenantID string) *ExportFeesCSVHandler {
	return &ExportFeesCSVHandler{db: db, tenantID: tenantID}
}

// ServeHTTP handles GET /api/v1/exports/fees.csv.
func (h *ExportFeesCSVHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h == nil || h.db == nil {
		http.Error(w, "server not ready", http.StatusServiceUnavailable)
		return
	}
	tenantID := resolveTenant(r, h.tenantID)
	if tenantID == "" {
		http.Error(w, "tenant_id is required", http.StatusServiceUnavailable)
		return
	}

	rows, err := querySnapshots(r.Context(), h.db, tenantID, periodFilter(r), false)
	if err != nil {
		http.Error(w, "query snapshots error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	writer := csv.NewWriter(w)
	_ = writer.Write([]string{
		"tenant_id",
		"account_id",
		"term",
		"session",
		"total_due",
		"total_paid",
		"balance",
		"status",
		"last_payment_ref",
		"last_payment_at",
		"version",
		"updated_at",
	})
	for _, row := range rows {
		_ = writer.Write([]string{
			row.TenantID,
			row.AccountID,
			row.Term,
			row.Session,
			formatFloat(row.TotalDue),
			formatFloat(row.TotalPaid),
			formatFloat(row.Balance),
			row.Status,
			row.LastPaymentRef,
			formatNullableTime(row.LastPaymentAt),
			formatInt(row.Version),
			formatTime(row.UpdatedAt),
		})
	}
	writer.Flush()
}

type snapshotRow struct {
	TenantID       string     `json:"tenant_id"`
	AccountID      string     `json:"account_id"`
	Term           string     `json:"term"`
	Session        string     `json:"session"`
	TotalDue       float64    `json:"total_due"`
	TotalPaid      float64    `json:"total_paid"`
	Balance        float64    `json:"balance"`
	Status         string     `json:"status"`
	LastPaymentRef string     `json:"last_payment_ref,omitempty"`
	LastPaymentAt  *time.Time `json:"last_payment_at,omitempty"`
	Version        int        `json:"version"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

type statusStats struct {
	Counts       map[string]int `json:"counts"`
	Accounts     int            `json:"accounts"`
	TotalDue     float64        `json:"total_due"`
	TotalPaid    float64        `json:"total_paid"`
	TotalBalance float64        `json:"total_balance"`
}

type snapshotFilter struct {
	term    string
	session string
}

// periodFilter normalizes optional term and session query parameters. Stored
// rows carry canonical values only, so a filter that fails normalization
// simply matches nothing.
func periodFilter(r *http.Request) snapshotFilter {
	period := fees.NormalizePeriod(r.URL.Query().Get("term"), r.URL.Query().Get("session"))
	return snapshotFilter{term: period.Term, session: period.Session}
}

func resolveTenant(r *http.Request, fallback string) string {
	if tenantID := auth.TenantIDFromContext(r.Context()); tenantID != "" {
		return tenantID
	}
	return fallback
}

func querySnapshot(ctx context.Context, db *sql.DB, tenantID, key string) (*snapshotRow, error) {
	row := db.QueryRowContext(ctx, `
SELECT
	tenant_id,
	account_id,
	term,
	session,
	total_due,
	total_paid,
	balance,
	status,
	last_payment_ref,
	last_payment_at,
	version,
	updated_at
FROM fee_status_snapshots
WHERE tenant_id = $1 AND account_period_key = $2`, tenantID, key)

	result, err := scanSnapshotRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return result, nil
}

func querySnapshots(ctx context.Context, db *sql.DB, tenantID string, filter snapshotFilter, outstandingOnly bool) ([]snapshotRow, error) {
	query := `
SELECT
	tenant_id,
	account_id,
	term,
	session,
	total_due,
	total_paid,
	balance,
	status,
	last_payment_ref,
	last_payment_at,
	version,
	updated_at
FROM fee_status_snapshots
WHERE tenant_id = $1
	AND ($2 = '' OR term = $2)
	AND ($3 = '' OR session = $3)`
	if outstandingOnly {
		query += `
	AND balance > 0`
	}
	query += `
ORDER BY session ASC, term ASC, account_id ASC`

	rows, err := db.QueryContext(ctx, query, tenantID, filter.term, filter.session)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []snapshotRow
	for rows.Next() {
		row, err := scanSnapshotRow(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func queryStats(ctx context.Context, db *sql.DB, tenantID string, filter snapshotFilter) (*statusStats, error) {
	rows, err := db.QueryContext(ctx, `
SELECT
	status,
	COUNT(*),
	COALESCE(SUM(total_due), 0),
	COALESCE(SUM(total_paid), 0),
	COALESCE(SUM(balance), 0)
FROM fee_status_snapshots
WHERE tenant_id = $1
	AND ($2 = '' OR term = $2)
	AND ($3 = '' OR session = $3)
GROUP BY status`, tenantID, filter.term, filter.session)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := &statusStats{Counts: make(map[string]int)}
	for rows.Next() {
		var status string
		var count int
		var due, paid, balance float64
		if err := rows.Scan(&status, &count, &due, &paid, &balance); err != nil {
			return nil, err
		}
		stats.Counts[status] = count
		stats.Accounts += count
		stats.TotalDue += due
		stats.TotalPaid += paid
		stats.TotalBalance += balance
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return stats, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSnapshotRow(scanner rowScanner) (*snapshotRow, error) {
	var row snapshotRow
	var lastPaymentRef sql.NullString
	var lastPaymentAt sql.NullTime
	if err := scanner.Scan(
		&row.TenantID,
		&row.AccountID,
		&row.Term,
		&row.Session,
		&row.TotalDue,
		&row.TotalPaid,
		&row.Balance,
		&row.Status,
		&lastPaymentRef,
		&lastPaymentAt,
		&row.Version,
		&row.UpdatedAt,
	); err != nil {
		return nil, err
	}
	row.UpdatedAt = row.UpdatedAt.UTC()
	if lastPaymentRef.Valid {
		row.LastPaymentRef = lastPaymentRef.String
	}
	if lastPaymentAt.Valid {
		t := lastPaymentAt.Time.UTC()
		row.LastPaymentAt = &t
	}
	return &row, nil
}

func formatTime(value time.Time) string {
	if value.IsZero() {
		return ""
	}
	return value.UTC().Format(timeLayout)
}

func formatNullableTime(value *time.Time) string {
	if value == nil {
		return ""
	}
	return formatTime(*value)
}

func formatFloat(value float64) string {
	return strconv.FormatFloat(value, 'f', -1, 64)
}

func formatInt(value int) string {
	return strconv.Itoa(value)
}
