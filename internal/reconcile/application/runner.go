package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"

	"schoolfees-cloud/internal/audit"
	"schoolfees-cloud/internal/auth"
	"schoolfees-cloud/internal/fees/application/events"
	fees "schoolfees-cloud/internal/fees/domain"
	"schoolfees-cloud/internal/observability/metrics"
	reconmetrics "schoolfees-cloud/internal/reconcile/metrics"
	"schoolfees-cloud/internal/reconcile/notify"
)

const (
	runStatusCreated   = "created"
	runStatusRunning   = "running"
	runStatusSucceeded = "succeeded"
	runStatusFailed    = "failed"
)

// ErrBatchFailure is returned when a snapshot batch fails its commit and the
// single whole-batch retry. Remaining batches are abandoned; committed ones
// stay, and a rerun is safe.
var ErrBatchFailure = errors.New("reconcile: batch failure")

// Run is the lifecycle record of one reconciliation run.
type Run struct {
	ID          string
	TenantID    string
	AccountFrom string
	AccountTo   string
	Status      string
	Attempts    int
	Error       string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	StartedAt   *time.Time
	EndedAt     *time.Time
}

// Report is the persisted outcome of a run.
type Report struct {
	ID           string
	RunID        string
	TenantID     string
	AccountFrom  string
	AccountTo    string
	Status       string
	Location     string
	DriftSummary []byte
	Scanned      int
	Groups       int
	Created      int
	Updated      int
	Skipped      int
	DriftKeys    int
	DriftPaidMax float64
	CreatedAt    time.Time
}

// RunStore persists run lifecycle and reports.
type RunStore interface {
	CreateRun(ctx context.Context, run *Run) error
	UpdateRunStatus(ctx context.Context, id, status, errMsg string, startedAt, endedAt *time.Time, bumpAttempt bool) error
	CreateReport(ctx context.Context, report *Report) error
}

// LedgerScanner reads raw ledger rows for an account range.
type LedgerScanner interface {
	ScanRange(ctx context.Context, from, to string) ([]fees.PaymentEvent, error)
}

// SnapshotStore loads snapshots and commits staged batches.
type SnapshotStore interface {
	FindByKey(ctx context.Context, key fees.AccountPeriodKey) (*fees.FeeStatusSnapshot, error)
	SaveBatch(ctx context.Context, snapshots []*fees.FeeStatusSnapshot) error
}

// RunPublisher emits reconciliation completed events.
type RunPublisher interface {
	PublishReconciliationCompleted(ctx context.Context, event events.ReconciliationCompleted) error
}

// RunOptions bounds a run to the half-open account range [AccountFrom,
// AccountTo). Empty bounds scan the full ledger. Disjoint ranges partition
// the ledger for independent parallel runs.
type RunOptions struct {
	AccountFrom string
	AccountTo   string
}

// RunReport carries the progress counters of a run. On a failed run it holds
// the progress made before the failure, so a rerun is informed.
type RunReport struct {
	RunID        string
	ReportID     string
	Location     string
	Scanned      int
	Groups       int
	Created      int
	Updated      int
	Skipped      int
	DriftKeys    int
	DriftPaidMax float64
}

// Runner rebuilds fee status snapshots from the payment ledger. It only
// creates or updates snapshots; it never deletes a ledger event or a
// snapshot, and it runs safely concurrent with live payment traffic.
type Runner struct {
	ledger      LedgerScanner
	snapshots   SnapshotStore
	runs        RunStore
	config      Config
	notifier    notify.Notifier
	publisher   RunPublisher
	metrics     *reconmetrics.Metrics
	auditLogger audit.Logger
	logger      *log.Logger
	tenantID    string
}

// NewRunner constructs a Runner. The run store, notifier, publisher, metrics
// and audit logger are optional.
func NewRunner(
	ledger LedgerScanner,
	snapshots SnapshotStore,
	runs RunStore,
	cfg Config,
	notifier notify.Notifier,
	publisher RunPublisher,
	m *reconmetrics.Metrics,
	auditLogger audit.Logger,
	logger *log.Logger,
	tenantID string,
) (*Runner, error) {
	if ledger == nil {
		return nil, errors.New("reconcile runner: nil ledger")
	}
	if snapshots == nil {
		return nil, errors.New("reconcile runner: nil snapshot store")
	}
	if tenantID == "" {
		return nil, errors.New("reconcile runner: empty tenant id")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Runner{
		ledger:      ledger,
		snapshots:   snapshots,
		runs:        runs,
		config:      cfg,
		notifier:    notifier,
		publisher:   publisher,
		metrics:     m,
		auditLogger: auditLogger,
		logger:      logger,
		tenantID:    tenantID,
	}, nil
}

// Run executes one reconciliation pass over the account range.
func (r *Runner) Run(ctx context.Context, tenantID string, opts RunOptions) (*RunReport, error) {
	if r == nil {
		return nil, errors.New("reconcile runner: nil")
	}
	if tenantID == "" {
		tenantID = r.tenantID
	}

	runID := fmt.Sprintf("rec-%d", time.Now().UTC().UnixNano())
	started := time.Now().UTC()
	if r.runs != nil {
		err := r.runs.CreateRun(ctx, &Run{
			ID:          runID,
			TenantID:    tenantID,
			AccountFrom: opts.AccountFrom,
			AccountTo:   opts.AccountTo,
			Status:      runStatusCreated,
		})
		if err != nil {
			return nil, err
		}
	}
	r.updateRun(ctx, runID, runStatusRunning, "", &started, nil, true)
	if r.metrics != nil {
		r.metrics.RunsTotal.WithLabelValues(runStatusRunning).Inc()
	}
	r.logger.Printf("event=reconcile_run_start run_id=%s tenant_id=%s from=%s to=%s", runID, tenantID, opts.AccountFrom, opts.AccountTo)

	report := &RunReport{RunID: runID}

	scanned, err := r.ledger.ScanRange(ctx, opts.AccountFrom, opts.AccountTo)
	if err != nil {
		r.failRun(runID, started, err)
		return report, err
	}
	report.Scanned = len(scanned)

	groups := r.groupEvents(scanned)
	report.Groups = len(groups)

	staged, driftMax, skipped, err := r.stageWrites(ctx, groups)
	if err != nil {
		r.failRun(runID, started, err)
		return report, err
	}
	report.Skipped = skipped
	report.DriftPaidMax = driftMax

	committed, err := r.commitBatches(ctx, staged, report)
	if err != nil {
		r.failRun(runID, started, err)
		return report, err
	}
	report.DriftKeys = len(committed)

	reportDir := ""
	if r.config.StorageRoot != "" {
		reportDir = filepath.Join(r.config.StorageRoot, tenantID, runID)
		if err := writeDriftFiles(reportDir, committed); err != nil {
			r.failRun(runID, started, err)
			return report, err
		}
	}

	summary := buildDriftSummary(runID, tenantID, opts, report, r.config.Tolerance)
	if reportDir != "" {
		_ = writeSummaryJSON(reportDir, summary)
		archivePath, err := writeArchive(reportDir)
		if err != nil {
			r.failRun(runID, started, err)
			return report, err
		}
		report.Location = archivePath
	}

	report.ReportID = "report-" + runID
	if r.runs != nil {
		summaryBytes, _ := json.Marshal(summary)
		err := r.runs.CreateReport(ctx, &Report{
			ID:           report.ReportID,
			RunID:        runID,
			TenantID:     tenantID,
			AccountFrom:  opts.AccountFrom,
			AccountTo:    opts.AccountTo,
			Status:       "generated",
			Location:     report.Location,
			DriftSummary: summaryBytes,
			Scanned:      report.Scanned,
			Groups:       report.Groups,
			Created:      report.Created,
			Updated:      report.Updated,
			Skipped:      report.Skipped,
			DriftKeys:    report.DriftKeys,
			DriftPaidMax: report.DriftPaidMax,
			CreatedAt:    time.Now().UTC(),
		})
		if err != nil {
			r.failRun(runID, started, err)
			return report, err
		}
	}

	r.logAudit(ctx, tenantID, opts, report)
	r.alert(ctx, tenantID, report)
	r.publish(ctx, tenantID, report)

	ended := time.Now().UTC()
	r.updateRun(ctx, runID, runStatusSucceeded, "", &started, &ended, false)
	if r.metrics != nil {
		r.metrics.RunsTotal.WithLabelValues(runStatusSucceeded).Inc()
		r.metrics.RunDuration.Observe(ended.Sub(started).Seconds())
		r.metrics.RepairedTotal.Add(float64(report.Created + report.Updated))
		r.metrics.DriftPaidMax.Set(report.DriftPaidMax)
		r.metrics.DriftKeys.Set(float64(report.DriftKeys))
		r.metrics.ReportsTotal.Inc()
	}
	metrics.SetSnapshotDrift(tenantID, report.DriftPaidMax)
	r.logger.Printf("event=reconcile_run_success run_id=%s scanned=%d groups=%d created=%d updated=%d skipped=%d drift_max=%.2f",
		runID, report.Scanned, report.Groups, report.Created, report.Updated, report.Skipped, report.DriftPaidMax)
	return report, nil
}

// ledgerGroup accumulates one obligation's ledger rows under the re-derived
// key, so historical period spellings merge into one group.
type ledgerGroup struct {
	key       fees.AccountPeriodKey
	accountID string
	period    fees.Period
	totalPaid float64
	lastRef   string
	lastAt    time.Time
}

// groupEvents folds the scanned rows into per-obligation groups. Rows whose
// period cannot validate after normalization identify no obligation; they are
// logged and left in the ledger untouched.
func (r *Runner) groupEvents(scanned []fees.PaymentEvent) map[fees.AccountPeriodKey]*ledgerGroup {
	groups := make(map[fees.AccountPeriodKey]*ledgerGroup)
	for _, event := range scanned {
		period, err := fees.NewPeriod(event.Term, event.Session)
		if err != nil {
			r.logger.Printf("event=reconcile_event_skipped payment_id=%s err=%v", event.ID, err)
			continue
		}
		key, err := fees.BuildAccountPeriodKey(event.AccountID, period)
		if err != nil {
			r.logger.Printf("event=reconcile_event_skipped payment_id=%s err=%v", event.ID, err)
			continue
		}
		group := groups[key]
		if group == nil {
			group = &ledgerGroup{
				key:       key,
				accountID: event.AccountID,
				period:    period,
			}
			groups[key] = group
		}
		group.totalPaid += event.Amount
		if group.lastRef == "" || !event.PaidAt.Before(group.lastAt) {
			group.lastRef = event.ReceiptNumber
			group.lastAt = event.PaidAt
		}
	}
	return groups
}

// stagedWrite is one pending snapshot upsert with the drift observed at scan
// time.
type stagedWrite struct {
	group      *ledgerGroup
	snapshot   *fees.FeeStatusSnapshot
	isNew      bool
	cachedPaid float64
}

func (r *Runner) stageWrites(ctx context.Context, groups map[fees.AccountPeriodKey]*ledgerGroup) ([]*stagedWrite, float64, int, error) {
	keys := make([]string, 0, len(groups))
	byKey := make(map[string]*ledgerGroup, len(groups))
	for key, group := range groups {
		keys = append(keys, key.String())
		byKey[key.String()] = group
	}
	sort.Strings(keys)

	var staged []*stagedWrite
	var driftMax float64
	skipped := 0
	for _, raw := range keys {
		group := byKey[raw]
		snapshot, err := r.snapshots.FindByKey(ctx, group.key)
		if err != nil {
			return nil, 0, 0, err
		}
		isNew := snapshot == nil
		cachedPaid := 0.0
		if isNew {
			snapshot, err = fees.NewFeeStatusSnapshot(group.accountID, group.period, r.config.DefaultDueFor(group.period.Session))
			if err != nil {
				return nil, 0, 0, err
			}
		} else {
			cachedPaid = snapshot.TotalPaid()
		}
		drift := abs(group.totalPaid - cachedPaid)
		if drift > driftMax {
			driftMax = drift
		}
		if !isNew && drift <= r.config.Tolerance {
			skipped++
			continue
		}
		if err := snapshot.Rebuild(group.totalPaid, group.lastRef, group.lastAt); err != nil {
			return nil, 0, 0, err
		}
		staged = append(staged, &stagedWrite{
			group:      group,
			snapshot:   snapshot,
			isNew:      isNew,
			cachedPaid: cachedPaid,
		})
	}
	return staged, driftMax, skipped, nil
}

// commitBatches saves staged writes in bounded batches, each one transaction.
// A key is never split across batches. A failed batch is retried once as a
// whole with freshly reloaded snapshot versions; a second failure aborts
// remaining batches. Counters on the report reflect committed writes only.
func (r *Runner) commitBatches(ctx context.Context, staged []*stagedWrite, report *RunReport) ([]*stagedWrite, error) {
	batchSize := r.config.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	var committed []*stagedWrite
	for start := 0; start < len(staged); start += batchSize {
		if err := ctx.Err(); err != nil {
			return committed, err
		}
		end := start + batchSize
		if end > len(staged) {
			end = len(staged)
		}
		batch := staged[start:end]

		if err := r.saveBatch(ctx, batch); err != nil {
			r.logger.Printf("event=reconcile_batch_retry start=%d size=%d err=%v", start, len(batch), err)
			reloaded, rerr := r.reloadBatch(ctx, batch)
			if rerr != nil {
				r.logger.Printf("event=reconcile_batch_failed start=%d err=%v", start, rerr)
				return committed, ErrBatchFailure
			}
			if err := r.saveBatch(ctx, reloaded); err != nil {
				r.logger.Printf("event=reconcile_batch_failed start=%d err=%v", start, err)
				return committed, ErrBatchFailure
			}
			batch = reloaded
		}

		for _, write := range batch {
			if write.isNew {
				report.Created++
			} else {
				report.Updated++
			}
			committed = append(committed, write)
		}
	}
	return committed, nil
}

func (r *Runner) saveBatch(ctx context.Context, batch []*stagedWrite) error {
	snapshots := make([]*fees.FeeStatusSnapshot, len(batch))
	for i, write := range batch {
		snapshots[i] = write.snapshot
	}
	return r.snapshots.SaveBatch(ctx, snapshots)
}

// reloadBatch rebuilds a failed batch against freshly read snapshot versions.
// A snapshot created concurrently since staging turns the write into an
// update; the recomputed ledger totals are reapplied unchanged.
func (r *Runner) reloadBatch(ctx context.Context, batch []*stagedWrite) ([]*stagedWrite, error) {
	reloaded := make([]*stagedWrite, 0, len(batch))
	for _, write := range batch {
		snapshot, err := r.snapshots.FindByKey(ctx, write.group.key)
		if err != nil {
			return nil, err
		}
		isNew := snapshot == nil
		if isNew {
			snapshot, err = fees.NewFeeStatusSnapshot(write.group.accountID, write.group.period, r.config.DefaultDueFor(write.group.period.Session))
			if err != nil {
				return nil, err
			}
		}
		if err := snapshot.Rebuild(write.group.totalPaid, write.group.lastRef, write.group.lastAt); err != nil {
			return nil, err
		}
		reloaded = append(reloaded, &stagedWrite{
			group:      write.group,
			snapshot:   snapshot,
			isNew:      isNew,
			cachedPaid: write.cachedPaid,
		})
	}
	return reloaded, nil
}

func (r *Runner) updateRun(ctx context.Context, id, status, errMsg string, startedAt, endedAt *time.Time, bumpAttempt bool) {
	if r.runs == nil {
		return
	}
	if err := r.runs.UpdateRunStatus(ctx, id, status, errMsg, startedAt, endedAt, bumpAttempt); err != nil {
		r.logger.Printf("event=reconcile_run_update_failed run_id=%s status=%s err=%v", id, status, err)
	}
}

// failRun records the failure. The status write uses a fresh context so it
// lands even when the run context is already canceled.
func (r *Runner) failRun(runID string, started time.Time, runErr error) {
	ended := time.Now().UTC()
	r.updateRun(context.Background(), runID, runStatusFailed, runErr.Error(), &started, &ended, false)
	if r.metrics != nil {
		r.metrics.RunsTotal.WithLabelValues(runStatusFailed).Inc()
	}
	r.logger.Printf("event=reconcile_run_failed run_id=%s err=%v", runID, runErr)
}

func (r *Runner) logAudit(ctx context.Context, tenantID string, opts RunOptions, report *RunReport) {
	if r.auditLogger == nil {
		return
	}
	actor := auth.SubjectFromContext(ctx)
	if actor == "" {
		actor = "system:reconcile"
	}
	meta, _ := json.Marshal(map[string]any{
		"scanned":        report.Scanned,
		"groups":         report.Groups,
		"created":        report.Created,
		"updated":        report.Updated,
		"skipped":        report.Skipped,
		"drift_keys":     report.DriftKeys,
		"drift_paid_max": report.DriftPaidMax,
		"account_from":   opts.AccountFrom,
		"account_to":     opts.AccountTo,
	})
	err := r.auditLogger.Log(ctx, audit.Entry{
		TenantID:     tenantID,
		Actor:        actor,
		Role:         string(auth.RoleFromContext(ctx)),
		Action:       "reconcile.run",
		ResourceType: "reconcile_run",
		ResourceID:   report.RunID,
		Metadata:     meta,
	})
	if err != nil {
		r.logger.Printf("event=audit_log_failed action=reconcile.run run_id=%s err=%v", report.RunID, err)
	}
}

func (r *Runner) alert(ctx context.Context, tenantID string, report *RunReport) {
	if r.notifier == nil || r.config.DriftAlert <= 0 || report.DriftPaidMax < r.config.DriftAlert {
		return
	}
	msg := notify.AlertMessage{
		TenantID:  tenantID,
		RunID:     report.RunID,
		ReportID:  report.ReportID,
		ReportURL: fmt.Sprintf("%s/api/v1/reconcile/reports/%s/download", r.config.PublicBaseURL, report.ReportID),
		DriftSummary: map[string]any{
			"scanned":        report.Scanned,
			"groups":         report.Groups,
			"created":        report.Created,
			"updated":        report.Updated,
			"skipped":        report.Skipped,
			"drift_keys":     report.DriftKeys,
			"drift_paid_max": report.DriftPaidMax,
		},
		Meta: map[string]string{"run_id": report.RunID},
	}
	if err := r.notifier.Notify(ctx, msg); err != nil {
		r.logger.Printf("event=reconcile_alert_failed run_id=%s err=%v", report.RunID, err)
		return
	}
	if r.metrics != nil {
		r.metrics.AlertsTotal.Inc()
	}
}

func (r *Runner) publish(ctx context.Context, tenantID string, report *RunReport) {
	if r.publisher == nil {
		return
	}
	err := r.publisher.PublishReconciliationCompleted(ctx, events.ReconciliationCompleted{
		EventID:      uuid.NewString(),
		TenantID:     tenantID,
		RunID:        report.RunID,
		Scanned:      report.Scanned,
		Groups:       report.Groups,
		Created:      report.Created,
		Updated:      report.Updated,
		Skipped:      report.Skipped,
		DriftPaidMax: report.DriftPaidMax,
		OccurredAt:   time.Now().UTC(),
	})
	if err != nil {
		r.logger.Printf("event=reconcile_publish_failed run_id=%s err=%v", report.RunID, err)
	}
}

func abs(value float64) float64 {
	if value < 0 {
		return -value
	}
	return value
}
