package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	fees "schoolfees-cloud/internal/fees/domain"
)

// PaymentStore writes one payment as a single transaction: the ledger append
// and the snapshot compare-and-swap commit together or not at all.
type PaymentStore struct {
	db             *sql.DB
	eventsTable    string
	snapshotsTable string
	tenantID       string
}

// PaymentStoreOption configures the store.
type PaymentStoreOption func(*PaymentStore)

// WithPaymentEventsTable overrides the ledger table.
func WithPaymentEventsTable(table string) PaymentStoreOption {
	return func(store *PaymentStore) {
		if table != "" {
			store.eventsTable = table
		}
	}
}

// WithPaymentSnapshotsTable overrides the snapshot table.
func WithPaymentSnapshotsTable(table string) PaymentStoreOption {
	return func(store *PaymentStore) {
		if table != "" {
			store.snapshotsTable = table
		}
	}
}

// WithPaymentTenantID sets the tenant id.
func WithPaymentTenantID(tenantID string) PaymentStoreOption {
	return func(store *PaymentStore) {
		if tenantID != "" {
			store.tenantID = tenantID
		}
	}
}

// NewPaymentStore constructs a store with defaults.
func NewPaymentStore(db *sql.DB, opts ...PaymentStoreOption) *PaymentStore {
	store := &PaymentStore{
		db:             db,
		eventsTable:    defaultEventsTable,
		snapshotsTable: defaultSnapshotTable,
	}
	for _, opt := range opts {
		opt(store)
	}
	return store
}

// RecordPayment appends the event and saves the snapshot atomically. A stale
// snapshot version rolls the whole unit back with fees.ErrVersionConflict.
func (s *PaymentStore) RecordPayment(ctx context.Context, event fees.PaymentEvent, snapshot *fees.FeeStatusSnapshot) error {
	if s == nil || s.db == nil {
		return errors.New("payment store: nil db")
	}
	if s.tenantID == "" {
		return errors.New("payment store: empty tenant id")
	}
	if snapshot == nil {
		return fees.ErrNilSnapshot
	}

	details, err := json.Marshal(event.Details)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	insert := fmt.Sprintf(`
INSERT INTO %s (
	id,
	tenant_id,
	account_id,
	term,
	session,
	amount,
	method,
	details,
	paid_at,
	receipt_number,
	recorded_by
) VALUES (
	$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11
)`, s.eventsTable)
	if _, err := tx.ExecContext(
		ctx,
		insert,
		event.ID,
		s.tenantID,
		event.AccountID,
		event.Term,
		event.Session,
		event.Amount,
		string(event.Method),
		details,
		event.PaidAt.UTC(),
		event.ReceiptNumber,
		event.RecordedBy,
	); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := writeSnapshot(ctx, tx, s.snapshotsTable, s.tenantID, snapshot); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	snapshot.MarkPersisted()
	return nil
}
