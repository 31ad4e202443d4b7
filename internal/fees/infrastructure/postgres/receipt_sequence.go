package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	fees "schoolfees-cloud/internal/fees/domain"
)

const defaultReceiptTable = "receipt_sequences"

// ReceiptSequence issues receipt numbers from a per-session counter row. The
// increment is a single upsert, so concurrent allocations serialize on the
// row and numbers are unique and strictly increasing. A number allocated for
// a payment that later fails is a gap, never a reuse.
type ReceiptSequence struct {
	db       *sql.DB
	table    string
	tenantID string
	prefix   string
}

// ReceiptOption configures the sequence.
type ReceiptOption func(*ReceiptSequence)

// WithReceiptTable overrides the default table.
func WithReceiptTable(table string) ReceiptOption {
	return func(seq *ReceiptSequence) {
		if table != "" {
			seq.table = table
		}
	}
}

// WithReceiptPrefix overrides the receipt number prefix.
func WithReceiptPrefix(prefix string) ReceiptOption {
	return func(seq *ReceiptSequence) {
		if prefix != "" {
			seq.prefix = prefix
		}
	}
}

// WithReceiptTenantID sets the tenant id.
func WithReceiptTenantID(tenantID string) ReceiptOption {
	return func(seq *ReceiptSequence) {
		if tenantID != "" {
			seq.tenantID = tenantID
		}
	}
}

// NewReceiptSequence constructs a sequence with defaults.
func NewReceiptSequence(db *sql.DB, opts ...ReceiptOption) *ReceiptSequence {
	seq := &ReceiptSequence{db: db, table: defaultReceiptTable, prefix: "RCP"}
	for _, opt := range opts {
		opt(seq)
	}
	return seq
}

// Next returns the next receipt number for a session.
func (s *ReceiptSequence) Next(ctx context.Context, session string) (string, error) {
	if s == nil || s.db == nil {
		return "", errors.New("receipt sequence: nil db")
	}
	if s.tenantID == "" {
		return "", errors.New("receipt sequence: empty tenant id")
	}
	if session == "" {
		return "", fees.ErrInvalidPeriod
	}

	query := fmt.Sprintf(`
INSERT INTO %s (tenant_id, sequence_key, last_value)
VALUES ($1, $2, 1)
ON CONFLICT (tenant_id, sequence_key)
DO UPDATE SET last_value = %s.last_value + 1, updated_at = NOW()
RETURNING last_value`, s.table, s.table)

	var value int64
	if err := s.db.QueryRowContext(ctx, query, s.tenantID, session).Scan(&value); err != nil {
		return "", err
	}
	return fmt.Sprintf("%s-%s-%06d", s.prefix, session, value), nil
}
