package application

import (
	"context"
	"errors"
	"testing"

	fees "schoolfees-cloud/internal/fees/domain"
	"schoolfees-cloud/internal/fees/infrastructure/memory"
)

func TestStatementService_StatementAggregatesLedger(t *testing.T) {
	store := memory.NewStore()
	payments := newTestPaymentService(t, store, &countingFeeStructure{amount: 150000}, nil, nil, nil)
	ctx := context.Background()

	if _, _, err := payments.RecordPayment(ctx, cashCommand("stu-0001", 20000)); err != nil {
		t.Fatalf("record first: %v", err)
	}
	if _, _, err := payments.RecordPayment(ctx, cashCommand("stu-0001", 30000)); err != nil {
		t.Fatalf("record second: %v", err)
	}

	service, err := NewStatementService(store, store)
	if err != nil {
		t.Fatalf("new statement service: %v", err)
	}

	statement, err := service.Statement(ctx, "stu-0001", "First Term", "2025/2026")
	if err != nil {
		t.Fatalf("statement: %v", err)
	}
	if statement.Snapshot.TotalPaid() != 50000 {
		t.Fatalf("expected total paid 50000, got %.2f", statement.Snapshot.TotalPaid())
	}
	if len(statement.Payments) != 2 {
		t.Fatalf("expected 2 payments, got %d", len(statement.Payments))
	}

	if _, err := service.Statement(ctx, "stu-0002", "first", "2025-2026"); !errors.Is(err, fees.ErrSnapshotNotFound) {
		t.Fatalf("expected ErrSnapshotNotFound, got %v", err)
	}
}

func TestStatementService_ReceiptLookup(t *testing.T) {
	store := memory.NewStore()
	payments := newTestPaymentService(t, store, &countingFeeStructure{amount: 150000}, nil, nil, nil)
	ctx := context.Background()

	_, receiptNumber, err := payments.RecordPayment(ctx, cashCommand("stu-0001", 20000))
	if err != nil {
		t.Fatalf("record payment: %v", err)
	}

	service, err := NewStatementService(store, store)
	if err != nil {
		t.Fatalf("new statement service: %v", err)
	}

	receipt, err := service.Receipt(ctx, receiptNumber)
	if err != nil {
		t.Fatalf("receipt: %v", err)
	}
	if receipt.Payment.Amount != 20000 {
		t.Fatalf("expected amount 20000, got %.2f", receipt.Payment.Amount)
	}
	if receipt.Snapshot == nil {
		t.Fatal("expected snapshot attached to receipt")
	}

	if _, err := service.Receipt(ctx, "RCP-2025-2026-999999"); !errors.Is(err, fees.ErrReceiptNotFound) {
		t.Fatalf("expected ErrReceiptNotFound, got %v", err)
	}
}
