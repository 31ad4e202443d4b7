package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"schoolfees-cloud/internal/reconcile/application"
)

const (
	defaultRunsTable    = "reconciliation_runs"
	defaultReportsTable = "reconciliation_reports"
)

// Repository is the Postgres store for reconciliation runs and reports.
type Repository struct {
	db           *sql.DB
	runsTable    string
	reportsTable string
	tenantID     string
}

// Option configures the repository.
type Option func(*Repository)

// WithRunsTable overrides the default runs table.
func WithRunsTable(table string) Option {
	return func(repo *Repository) {
		if table != "" {
			repo.runsTable = table
		}
	}
}

// WithReportsTable overrides the default reports table.
func WithReportsTable(table string) Option {
	return func(repo *Repository) {
		if table != "" {
			repo.reportsTable = table
		}
	}
}

// WithTenantID sets the tenant id.
func WithTenantID(tenantID string) Option {
	return func(repo *Repository) {
		if tenantID != "" {
			repo.tenantID = tenantID
		}
	}
}

// NewRepository constructs a repository with defaults.
func NewRepository(db *sql.DB, opts ...Option) *Repository {
	repo := &Repository{
		db:           db,
		runsTable:    defaultRunsTable,
		reportsTable: defaultReportsTable,
	}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// CreateRun inserts a run in its initial state.
func (r *Repository) CreateRun(ctx context.Context, run *application.Run) error {
	if r == nil || r.db == nil {
		return errors.New("reconcile repo: nil db")
	}
	if r.tenantID == "" {
		return errors.New("reconcile repo: empty tenant id")
	}
	if run == nil {
		return errors.New("reconcile repo: nil run")
	}

	query := fmt.Sprintf(`
INSERT INTO %s (
	id,
	tenant_id,
	account_from,
	account_to,
	status,
	attempts,
	created_at,
	updated_at
) VALUES (
	$1, $2, $3, $4, $5, 0, NOW(), NOW()
)`, r.runsTable)
	_, err := r.db.ExecContext(
		ctx,
		query,
		run.ID,
		r.tenantID,
		run.AccountFrom,
		run.AccountTo,
		run.Status,
	)
	return err
}

// UpdateRunStatus advances a run's lifecycle state. Nil timestamps leave the
// stored values untouched.
func (r *Repository) UpdateRunStatus(ctx context.Context, id, status, errMsg string, startedAt, endedAt *time.Time, bumpAttempt bool) error {
	if r == nil || r.db == nil {
		return errors.New("reconcile repo: nil db")
	}
	if r.tenantID == "" {
		return errors.New("reconcile repo: empty tenant id")
	}

	attempts := "attempts"
	if bumpAttempt {
		attempts = "attempts + 1"
	}
	query := fmt.Sprintf(`
UPDATE %s SET
	status = $1,
	error = $2,
	started_at = COALESCE($3, started_at),
	finished_at = COALESCE($4, finished_at),
	attempts = %s,
	updated_at = NOW()
WHERE tenant_id = $5 AND id = $6`, r.runsTable, attempts)
	result, err := r.db.ExecContext(
		ctx,
		query,
		status,
		nullString(errMsg),
		nullTimePtr(startedAt),
		nullTimePtr(endedAt),
		r.tenantID,
		id,
	)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return errors.New("reconcile repo: run not found")
	}
	return nil
}

// GetRun loads a run, or (nil, nil) when none exists.
func (r *Repository) GetRun(ctx context.Context, id string) (*application.Run, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("reconcile repo: nil db")
	}
	if r.tenantID == "" {
		return nil, errors.New("reconcile repo: empty tenant id")
	}

	query := fmt.Sprintf(`
SELECT id, tenant_id, account_from, account_to, status, attempts, error, created_at, updated_at, started_at, finished_at
FROM %s
WHERE tenant_id = $1 AND id = $2
LIMIT 1`, r.runsTable)
	run, err := scanRun(r.db.QueryRowContext(ctx, query, r.tenantID, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return run, nil
}

// ListRuns returns the most recent runs, newest first.
func (r *Repository) ListRuns(ctx context.Context, limit int) ([]*application.Run, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("reconcile repo: nil db")
	}
	if r.tenantID == "" {
		return nil, errors.New("reconcile repo: empty tenant id")
	}
	if limit <= 0 {
		limit = 50
	}

	query := fmt.Sprintf(`
SELECT id, tenant_id, account_from, account_to, status, attempts, error, created_at, updated_at, started_at, finished_at
FROM %s
WHERE tenant_id = $1
ORDER BY created_at DESC
LIMIT $2`, r.runsTable)
	rows, err := r.db.QueryContext(ctx, query, r.tenantID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*application.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, run)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// CreateReport inserts a finished run's report record.
func (r *Repository) CreateReport(ctx context.Context, report *application.Report) error {
	if r == nil || r.db == nil {
		return errors.New("reconcile repo: nil db")
	}
	if r.tenantID == "" {
		return errors.New("reconcile repo: empty tenant id")
	}
	if report == nil {
		return errors.New("reconcile repo: nil report")
	}

	query := fmt.Sprintf(`
INSERT INTO %s (
	id,
	run_id,
	tenant_id,
	account_from,
	account_to,
	status,
	report_location,
	drift_summary,
	events_scanned,
	groups_total,
	created_count,
	updated_count,
	skipped_count,
	drift_keys,
	drift_paid_max,
	created_at
) VALUES (
	$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, NOW()
)`, r.reportsTable)
	_, err := r.db.ExecContext(
		ctx,
		query,
		report.ID,
		report.RunID,
		r.tenantID,
		report.AccountFrom,
		report.AccountTo,
		report.Status,
		nullString(report.Location),
		report.DriftSummary,
		report.Scanned,
		report.Groups,
		report.Created,
		report.Updated,
		report.Skipped,
		report.DriftKeys,
		report.DriftPaidMax,
	)
	return err
}

// GetReport loads a report, or (nil, nil) when none exists.
func (r *Repository) GetReport(ctx context.Context, id string) (*application.Report, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("reconcile repo: nil db")
	}
	if r.tenantID == "" {
		return nil, errors.New("reconcile repo: empty tenant id")
	}

	query := fmt.Sprintf(`
SELECT id, run_id, tenant_id, account_from, account_to, status, report_location, drift_summary, events_scanned, groups_total, created_count, updated_count, skipped_count, drift_keys, drift_paid_max, created_at
FROM %s
WHERE tenant_id = $1 AND id = $2
LIMIT 1`, r.reportsTable)
	report, err := scanReport(r.db.QueryRowContext(ctx, query, r.tenantID, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return report, nil
}

// ListReports returns reports generated in [from, to), newest first.
func (r *Repository) ListReports(ctx context.Context, from, to time.Time) ([]*application.Report, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("reconcile repo: nil db")
	}
	if r.tenantID == "" {
		return nil, errors.New("reconcile repo: empty tenant id")
	}

	query := fmt.Sprintf(`
SELECT id, run_id, tenant_id, account_from, account_to, status, report_location, drift_summary, events_scanned, groups_total, created_count, updated_count, skipped_count, drift_keys, drift_paid_max, created_at
FROM %s
WHERE tenant_id = $1 AND created_at >= $2 AND created_at < $3
ORDER BY created_at DESC`, r.reportsTable)
	rows, err := r.db.QueryContext(ctx, query, r.tenantID, from.UTC(), to.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*application.Report
	for rows.Next() {
		report, err := scanReport(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, report)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(scanner rowScanner) (*application.Run, error) {
	var (
		run        application.Run
		errMsg     sql.NullString
		startedAt  sql.NullTime
		finishedAt sql.NullTime
	)
	if err := scanner.Scan(
		&run.ID,
		&run.TenantID,
		&run.AccountFrom,
		&run.AccountTo,
		&run.Status,
		&run.Attempts,
		&errMsg,
		&run.CreatedAt,
		&run.UpdatedAt,
		&startedAt,
		&finishedAt,
	); err != nil {
		return nil, err
	}
	if errMsg.Valid {
		run.Error = errMsg.String
	}
	run.CreatedAt = run.CreatedAt.UTC()
	run.UpdatedAt = run.UpdatedAt.UTC()
	run.StartedAt = timePtr(startedAt)
	run.EndedAt = timePtr(finishedAt)
	return &run, nil
}

func scanReport(scanner rowScanner) (*application.Report, error) {
	var (
		report   application.Report
		location sql.NullString
	)
	if err := scanner.Scan(
		&report.ID,
		&report.RunID,
		&report.TenantID,
		&report.AccountFrom,
		&report.AccountTo,
		&report.Status,
		&location,
		&report.DriftSummary,
		&report.Scanned,
		&report.Groups,
		&report.Created,
		&report.Updated,
		&report.Skipped,
		&report.DriftKeys,
		&report.DriftPaidMax,
		&report.CreatedAt,
	); err != nil {
		return nil, err
	}
	if location.Valid {
		report.Location = location.String
	}
	report.CreatedAt = report.CreatedAt.UTC()
	return &report, nil
}

func nullString(value string) sql.NullString {
	if value == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: value, Valid: true}
}

func nullTimePtr(value *time.Time) sql.NullTime {
	if value == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: value.UTC(), Valid: true}
}

func timePtr(value sql.NullTime) *time.Time {
	if !value.Valid {
		return nil
	}
	t := value.Time.UTC()
	return &t
}
