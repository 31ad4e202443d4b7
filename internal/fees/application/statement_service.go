package application

import (
	"context"
	"errors"

	fees "schoolfees-cloud/internal/fees/domain"
)

// Statement is a printable view of one fee obligation: the snapshot plus
// every ledger event behind it.
type Statement struct {
	Snapshot *fees.FeeStatusSnapshot
	Payments []fees.PaymentEvent
}

// Receipt is a printable view of one recorded payment.
type Receipt struct {
	Payment  fees.PaymentEvent
	Snapshot *fees.FeeStatusSnapshot
}

// StatementService reads statements and receipts for export surfaces.
// Dashboards never use it; they read snapshots only.
type StatementService struct {
	ledger    fees.Ledger
	snapshots fees.SnapshotRepository
}

// NewStatementService constructs the service.
func NewStatementService(ledger fees.Ledger, snapshots fees.SnapshotRepository) (*StatementService, error) {
	if ledger == nil {
		return nil, errors.New("statement service: nil ledger")
	}
	if snapshots == nil {
		return nil, errors.New("statement service: nil snapshot repository")
	}
	return &StatementService{ledger: ledger, snapshots: snapshots}, nil
}

// Statement loads the snapshot and payments for an account period.
func (s *StatementService) Statement(ctx context.Context, accountID, term, session string) (*Statement, error) {
	period, err := fees.NewPeriod(term, session)
	if err != nil {
		return nil, err
	}
	key, err := fees.BuildAccountPeriodKey(accountID, period)
	if err != nil {
		return nil, err
	}

	snapshot, err := s.snapshots.FindByKey(ctx, key)
	if err != nil {
		return nil, err
	}
	if snapshot == nil {
		return nil, fees.ErrSnapshotNotFound
	}
	payments, err := s.ledger.ListByKey(ctx, key)
	if err != nil {
		return nil, err
	}
	return &Statement{Snapshot: snapshot, Payments: payments}, nil
}

// Receipt loads a single payment by receipt number, with the snapshot of its
// key when one exists.
func (s *StatementService) Receipt(ctx context.Context, receiptNumber string) (*Receipt, error) {
	if receiptNumber == "" {
		return nil, fees.ErrEmptyReceiptNumber
	}
	payment, err := s.ledger.FindByReceipt(ctx, receiptNumber)
	if err != nil {
		return nil, err
	}
	if payment == nil {
		return nil, fees.ErrReceiptNotFound
	}

	key, err := payment.Key()
	if err != nil {
		return nil, err
	}
	snapshot, err := s.snapshots.FindByKey(ctx, key)
	if err != nil {
		return nil, err
	}
	return &Receipt{Payment: *payment, Snapshot: snapshot}, nil
}
