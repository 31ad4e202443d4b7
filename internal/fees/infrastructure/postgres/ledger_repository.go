package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	fees "schoolfees-cloud/internal/fees/domain"
)

const defaultEventsTable = "payment_events"

// LedgerRepository reads the append-only payment ledger. Nothing here
// updates or deletes a row.
type LedgerRepository struct {
	db       *sql.DB
	table    string
	tenantID string
}

// LedgerOption configures the repository.
type LedgerOption func(*LedgerRepository)

// WithLedgerTable overrides the default table.
func WithLedgerTable(table string) LedgerOption {
	return func(repo *LedgerRepository) {
		if table != "" {
			repo.table = table
		}
	}
}

// WithLedgerTenantID sets the tenant id.
func WithLedgerTenantID(tenantID string) LedgerOption {
	return func(repo *LedgerRepository) {
		if tenantID != "" {
			repo.tenantID = tenantID
		}
	}
}

// NewLedgerRepository constructs a repository with defaults.
func NewLedgerRepository(db *sql.DB, opts ...LedgerOption) *LedgerRepository {
	repo := &LedgerRepository{db: db, table: defaultEventsTable}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// ListByKey returns the account's events whose RE-DERIVED key matches, so
// rows written with historical period spellings still land in their group.
func (r *LedgerRepository) ListByKey(ctx context.Context, key fees.AccountPeriodKey) ([]fees.PaymentEvent, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("ledger repo: nil db")
	}
	if r.tenantID == "" {
		return nil, errors.New("ledger repo: empty tenant id")
	}
	accountID, _, found := strings.Cut(key.String(), "|")
	if !found || accountID == "" {
		return nil, fees.ErrEmptyAccountID
	}

	query := fmt.Sprintf(`
SELECT id, account_id, term, session, amount, method, details, paid_at, receipt_number, recorded_by, created_at
FROM %s
WHERE tenant_id = $1 AND account_id = $2
ORDER BY paid_at ASC`, r.table)

	rows, err := r.db.QueryContext(ctx, query, r.tenantID, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []fees.PaymentEvent
	for rows.Next() {
		event, err := r.scanEvent(rows)
		if err != nil {
			return nil, err
		}
		derived, err := event.Key()
		if err != nil {
			continue
		}
		if derived == key {
			result = append(result, event)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// FindByReceipt returns the event carrying a receipt number.
func (r *LedgerRepository) FindByReceipt(ctx context.Context, receiptNumber string) (*fees.PaymentEvent, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("ledger repo: nil db")
	}
	if r.tenantID == "" {
		return nil, errors.New("ledger repo: empty tenant id")
	}
	if receiptNumber == "" {
		return nil, fees.ErrEmptyReceiptNumber
	}

	query := fmt.Sprintf(`
SELECT id, account_id, term, session, amount, method, details, paid_at, receipt_number, recorded_by, created_at
FROM %s
WHERE tenant_id = $1 AND receipt_number = $2
LIMIT 1`, r.table)

	event, err := r.scanEvent(r.db.QueryRowContext(ctx, query, r.tenantID, receiptNumber))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fees.ErrReceiptNotFound
		}
		return nil, err
	}
	return &event, nil
}

// ScanRange returns events for accounts in the half-open range [from, to).
// Empty bounds are unbounded. This is the reconciliation read path.
func (r *LedgerRepository) ScanRange(ctx context.Context, from, to string) ([]fees.PaymentEvent, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("ledger repo: nil db")
	}
	if r.tenantID == "" {
		return nil, errors.New("ledger repo: empty tenant id")
	}

	query := fmt.Sprintf(`
SELECT id, account_id, term, session, amount, method, details, paid_at, receipt_number, recorded_by, created_at
FROM %s
WHERE tenant_id = $1`, r.table)
	args := []any{r.tenantID}
	if from != "" {
		args = append(args, from)
		query += fmt.Sprintf(" AND account_id >= $%d", len(args))
	}
	if to != "" {
		args = append(args, to)
		query += fmt.Sprintf(" AND account_id < $%d", len(args))
	}
	query += " ORDER BY account_id ASC, paid_at ASC"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []fees.PaymentEvent
	for rows.Next() {
		event, err := r.scanEvent(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, event)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *LedgerRepository) scanEvent(scanner rowScanner) (fees.PaymentEvent, error) {
	var (
		event   fees.PaymentEvent
		method  string
		details []byte
	)
	if err := scanner.Scan(
		&event.ID,
		&event.AccountID,
		&event.Term,
		&event.Session,
		&event.Amount,
		&method,
		&details,
		&event.PaidAt,
		&event.ReceiptNumber,
		&event.RecordedBy,
		&event.CreatedAt,
	); err != nil {
		return fees.PaymentEvent{}, err
	}
	event.TenantID = r.tenantID
	event.Method = fees.Method(method)
	event.PaidAt = event.PaidAt.UTC()
	event.CreatedAt = event.CreatedAt.UTC()
	decoded, err := fees.DecodeDetails(event.Method, details)
	if err == nil {
		event.Details = decoded
	}
	return event, nil
}
