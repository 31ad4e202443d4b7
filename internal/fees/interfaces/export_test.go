package interfaces

import (
	"bytes"
	"testing"
	"time"

	fees "schoolfees-cloud/internal/fees/domain"
)

func exportFixture(t *testing.T) (*fees.FeeStatusSnapshot, []fees.PaymentEvent) {
	t.Helper()
	period := fees.NormalizePeriod("First Term", "2025/2026")
	snapshot, err := fees.NewFeeStatusSnapshot("stu-001", period, 150000)
	if err != nil {
		t.Fatalf("new snapshot: %v", err)
	}
	paidAt := time.Date(2025, time.October, 6, 9, 0, 0, 0, time.UTC)
	if err := snapshot.ApplyPayment(50000, "RCP-2025-2026-000001", paidAt); err != nil {
		t.Fatalf("apply payment: %v", err)
	}
	payment, err := fees.NewPaymentEvent(
		"pay-001", "tenant-a", "stu-001", period, 50000,
		fees.CashDetails{TellerName: "Ngozi"}, paidAt,
		"RCP-2025-2026-000001", "bursar-1",
	)
	if err != nil {
		t.Fatalf("new payment: %v", err)
	}
	return snapshot, []fees.PaymentEvent{payment}
}

func TestBuildStatementPDF(t *testing.T) {
	snapshot, payments := exportFixture(t)
	data, err := BuildStatementPDF(snapshot, payments)
	if err != nil {
		t.Fatalf("build pdf: %v", err)
	}
	if !bytes.HasPrefix(data, []byte("%PDF")) {
		t.Fatalf("expected PDF header, got %q", data[:8])
	}
}

func TestBuildReceiptPDF(t *testing.T) {
	snapshot, payments := exportFixture(t)
	data, err := BuildReceiptPDF(payments[0], snapshot)
	if err != nil {
		t.Fatalf("build pdf: %v", err)
	}
	if !bytes.HasPrefix(data, []byte("%PDF")) {
		t.Fatalf("expected PDF header, got %q", data[:8])
	}

	// A nil snapshot still renders the payment section.
	data, err = BuildReceiptPDF(payments[0], nil)
	if err != nil {
		t.Fatalf("build pdf without snapshot: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("expected pdf bytes")
	}
}

func TestBuildStatementXLSX(t *testing.T) {
	snapshot, payments := exportFixture(t)
	data, err := BuildStatementXLSX(snapshot, payments)
	if err != nil {
		t.Fatalf("build xlsx: %v", err)
	}
	// XLSX files are zip archives.
	if !bytes.HasPrefix(data, []byte("PK")) {
		t.Fatalf("expected zip header, got %q", data[:4])
	}
}
