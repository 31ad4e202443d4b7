package feestructure

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	fees "schoolfees-cloud/internal/fees/domain"
)

const (
	defaultFeeTable      = "fee_structures"
	defaultStudentsTable = "students"
)

// FeeTableProvider resolves the amount due from the fee structure table,
// keyed by the student's class level and the period.
type FeeTableProvider struct {
	db            *sql.DB
	tenantID      string
	feeTable      string
	studentsTable string
}

// FeeTableOption customises the provider.
type FeeTableOption func(*FeeTableProvider)

// WithFeeTable overrides the fee structure table name.
func WithFeeTable(table string) FeeTableOption {
	return func(p *FeeTableProvider) {
		if table != "" {
			p.feeTable = table
		}
	}
}

// WithStudentsTable overrides the students table name.
func WithStudentsTable(table string) FeeTableOption {
	return func(p *FeeTableProvider) {
		if table != "" {
			p.studentsTable = table
		}
	}
}

// NewFeeTableProvider constructs the provider.
func NewFeeTableProvider(db *sql.DB, tenantID string, opts ...FeeTableOption) (*FeeTableProvider, error) {
	if db == nil {
		return nil, errors.New("fee structure: nil db")
	}
	if tenantID == "" {
		return nil, errors.New("fee structure: empty tenant id")
	}
	p := &FeeTableProvider{
		db:            db,
		tenantID:      tenantID,
		feeTable:      defaultFeeTable,
		studentsTable: defaultStudentsTable,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// ResolveTotalDue looks up the student's class level, then the fee amount
// configured for that class level in the given period.
func (p *FeeTableProvider) ResolveTotalDue(ctx context.Context, accountID string, period fees.Period) (float64, error) {
	if accountID == "" {
		return 0, errors.New("fee structure: empty account id")
	}
	classLevel, err := p.loadClassLevel(ctx, accountID)
	if err != nil {
		return 0, err
	}
	return p.loadFeeAmount(ctx, classLevel, period)
}

func (p *FeeTableProvider) loadClassLevel(ctx context.Context, accountID string) (string, error) {
	query := fmt.Sprintf(`
		SELECT class_level
		FROM %s
		WHERE tenant_id = $1 AND id = $2
		LIMIT 1`, p.studentsTable)

	var classLevel string
	err := p.db.QueryRowContext(ctx, query, p.tenantID, accountID).Scan(&classLevel)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fees.ErrAccountNotFound
	}
	if err != nil {
		return "", err
	}
	return classLevel, nil
}

func (p *FeeTableProvider) loadFeeAmount(ctx context.Context, classLevel string, period fees.Period) (float64, error) {
	query := fmt.Sprintf(`
		SELECT amount
		FROM %s
		WHERE tenant_id = $1 AND class_level = $2 AND term = $3 AND session = $4
		LIMIT 1`, p.feeTable)

	var amount float64
	err := p.db.QueryRowContext(ctx, query, p.tenantID, classLevel, period.Term, period.Session).Scan(&amount)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fees.ErrFeeStructureMissing
	}
	if err != nil {
		return 0, err
	}
	return amount, nil
}
