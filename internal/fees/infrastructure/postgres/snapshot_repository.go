package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	fees "schoolfees-cloud/internal/fees/domain"
)

const defaultSnapshotTable = "fee_status_snapshots"

// SnapshotRepository is the Postgres store for fee status snapshots. Every
// write is a compare-and-swap on the row version: a writer holding a stale
// version gets fees.ErrVersionConflict and retries its whole operation.
type SnapshotRepository struct {
	db       *sql.DB
	table    string
	tenantID string
}

// SnapshotOption configures the repository.
type SnapshotOption func(*SnapshotRepository)

// WithSnapshotTable overrides the default table.
func WithSnapshotTable(table string) SnapshotOption {
	return func(repo *SnapshotRepository) {
		if table != "" {
			repo.table = table
		}
	}
}

// WithSnapshotTenantID sets the tenant id.
func WithSnapshotTenantID(tenantID string) SnapshotOption {
	return func(repo *SnapshotRepository) {
		if tenantID != "" {
			repo.tenantID = tenantID
		}
	}
}

// NewSnapshotRepository constructs a repository with defaults.
func NewSnapshotRepository(db *sql.DB, opts ...SnapshotOption) *SnapshotRepository {
	repo := &SnapshotRepository{db: db, table: defaultSnapshotTable}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// FindByKey loads a snapshot, or (nil, nil) when none exists.
func (r *SnapshotRepository) FindByKey(ctx context.Context, key fees.AccountPeriodKey) (*fees.FeeStatusSnapshot, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("snapshot repo: nil db")
	}
	if r.tenantID == "" {
		return nil, errors.New("snapshot repo: empty tenant id")
	}

	query := fmt.Sprintf(`
SELECT account_id, term, session, total_due, total_paid, status, last_payment_ref, last_payment_at, version, updated_at
FROM %s
WHERE tenant_id = $1 AND account_period_key = $2
LIMIT 1`, r.table)

	row := r.db.QueryRowContext(ctx, query, r.tenantID, key.String())
	snapshot, err := scanSnapshot(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return snapshot, nil
}

// Save persists the snapshot with a version check.
func (r *SnapshotRepository) Save(ctx context.Context, snapshot *fees.FeeStatusSnapshot) error {
	if r == nil || r.db == nil {
		return errors.New("snapshot repo: nil db")
	}
	if r.tenantID == "" {
		return errors.New("snapshot repo: empty tenant id")
	}
	if err := writeSnapshot(ctx, r.db, r.table, r.tenantID, snapshot); err != nil {
		return err
	}
	snapshot.MarkPersisted()
	return nil
}

// SaveBatch persists all snapshots in one transaction, or none of them.
func (r *SnapshotRepository) SaveBatch(ctx context.Context, snapshots []*fees.FeeStatusSnapshot) error {
	if r == nil || r.db == nil {
		return errors.New("snapshot repo: nil db")
	}
	if r.tenantID == "" {
		return errors.New("snapshot repo: empty tenant id")
	}
	if len(snapshots) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	for _, snapshot := range snapshots {
		if err := writeSnapshot(ctx, tx, r.table, r.tenantID, snapshot); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	for _, snapshot := range snapshots {
		snapshot.MarkPersisted()
	}
	return nil
}

// ListOutstanding returns snapshots with an open balance that are not yet
// flagged overdue.
func (r *SnapshotRepository) ListOutstanding(ctx context.Context) ([]*fees.FeeStatusSnapshot, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("snapshot repo: nil db")
	}
	if r.tenantID == "" {
		return nil, errors.New("snapshot repo: empty tenant id")
	}

	query := fmt.Sprintf(`
SELECT account_id, term, session, total_due, total_paid, status, last_payment_ref, last_payment_at, version, updated_at
FROM %s
WHERE tenant_id = $1 AND balance > 0 AND status IN ('unpaid', 'partial')
ORDER BY account_id ASC`, r.table)

	rows, err := r.db.QueryContext(ctx, query, r.tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*fees.FeeStatusSnapshot
	for rows.Next() {
		snapshot, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, snapshot)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// writeSnapshot performs the CAS write without advancing the aggregate
// version; callers advance it once the surrounding transaction commits.
func writeSnapshot(ctx context.Context, db execer, table, tenantID string, snapshot *fees.FeeStatusSnapshot) error {
	if snapshot == nil {
		return fees.ErrNilSnapshot
	}

	if snapshot.IsNew() {
		query := fmt.Sprintf(`
INSERT INTO %s (
	tenant_id,
	account_period_key,
	account_id,
	term,
	session,
	total_due,
	total_paid,
	balance,
	status,
	last_payment_ref,
	last_payment_at,
	version
) VALUES (
	$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, 1
)
ON CONFLICT (tenant_id, account_period_key) DO NOTHING`, table)
		result, err := db.ExecContext(
			ctx,
			query,
			tenantID,
			snapshot.Key().String(),
			snapshot.AccountID(),
			snapshot.Period().Term,
			snapshot.Period().Session,
			snapshot.TotalDue(),
			snapshot.TotalPaid(),
			snapshot.Balance(),
			string(snapshot.Status()),
			snapshot.LastPaymentRef(),
			nullTime(snapshot.LastPaymentAt()),
		)
		if err != nil {
			return err
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return fees.ErrVersionConflict
		}
		return nil
	}

	query := fmt.Sprintf(`
UPDATE %s SET
	total_due = $1,
	total_paid = $2,
	balance = $3,
	status = $4,
	last_payment_ref = $5,
	last_payment_at = $6,
	version = $7,
	updated_at = NOW()
WHERE tenant_id = $8 AND account_period_key = $9 AND version = $10`, table)
	result, err := db.ExecContext(
		ctx,
		query,
		snapshot.TotalDue(),
		snapshot.TotalPaid(),
		snapshot.Balance(),
		string(snapshot.Status()),
		snapshot.LastPaymentRef(),
		nullTime(snapshot.LastPaymentAt()),
		snapshot.Version()+1,
		tenantID,
		snapshot.Key().String(),
		snapshot.Version(),
	)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fees.ErrVersionConflict
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSnapshot(scanner rowScanner) (*fees.FeeStatusSnapshot, error) {
	var (
		accountID      string
		term           string
		session        string
		totalDue       float64
		totalPaid      float64
		status         string
		lastPaymentRef sql.NullString
		lastPaymentAt  sql.NullTime
		version        int
		updatedAt      time.Time
	)
	if err := scanner.Scan(
		&accountID,
		&term,
		&session,
		&totalDue,
		&totalPaid,
		&status,
		&lastPaymentRef,
		&lastPaymentAt,
		&version,
		&updatedAt,
	); err != nil {
		return nil, err
	}

	var paidAt time.Time
	if lastPaymentAt.Valid {
		paidAt = lastPaymentAt.Time.UTC()
	}
	var ref string
	if lastPaymentRef.Valid {
		ref = lastPaymentRef.String
	}
	return fees.RestoreSnapshot(
		accountID,
		fees.NormalizePeriod(term, session),
		totalDue,
		totalPaid,
		fees.Status(status),
		ref,
		paidAt,
		version,
		updatedAt.UTC(),
	)
}

func nullTime(value time.Time) sql.NullTime {
	if value.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: value.UTC(), Valid: true}
}
