package fees

import (
	"testing"
	"time"
)

func validEventArgs() (string, string, string, Period, float64, MethodDetails, time.Time, string, string) {
	period, _ := NewPeriod("first", "2025-2026")
	paidAt := time.Date(2025, time.September, 10, 9, 0, 0, 0, time.UTC)
	return "evt-1", "school-demo", "stu-0001", period, 50000, CashDetails{}, paidAt, "RCP-2025-2026-000001", "bursar-1"
}

func TestNewPaymentEvent_Valid(t *testing.T) {
	id, tenant, account, period, amount, details, paidAt, receipt, recordedBy := validEventArgs()
	event, err := NewPaymentEvent(id, tenant, account, period, amount, details, paidAt, receipt, recordedBy)
	if err != nil {
		t.Fatalf("valid event rejected: %v", err)
	}
	if event.Method != MethodCash {
		t.Fatalf("expected cash method, got %q", event.Method)
	}
	if event.Term != "first" || event.Session != "2025-2026" {
		t.Fatalf("period not canonical: %q %q", event.Term, event.Session)
	}
	key, err := event.Key()
	if err != nil {
		t.Fatalf("key: %v", err)
	}
	if key.String() != "stu-0001|first|2025-2026" {
		t.Fatalf("unexpected key: %q", key)
	}
}

func TestNewPaymentEvent_RejectsNonPositiveAmount(t *testing.T) {
	id, tenant, account, period, _, details, paidAt, receipt, recordedBy := validEventArgs()
	for _, amount := range []float64{0, -1, -50000} {
		if _, err := NewPaymentEvent(id, tenant, account, period, amount, details, paidAt, receipt, recordedBy); err != ErrInvalidAmount {
			t.Fatalf("amount %v: expected ErrInvalidAmount, got %v", amount, err)
		}
	}
}

func TestNewPaymentEvent_RejectsMissingFields(t *testing.T) {
	id, tenant, account, period, amount, details, paidAt, receipt, recordedBy := validEventArgs()
	if _, err := NewPaymentEvent("", tenant, account, period, amount, details, paidAt, receipt, recordedBy); err != ErrEmptyEventID {
		t.Fatalf("expected ErrEmptyEventID, got %v", err)
	}
	if _, err := NewPaymentEvent(id, tenant, "", period, amount, details, paidAt, receipt, recordedBy); err != ErrEmptyAccountID {
		t.Fatalf("expected ErrEmptyAccountID, got %v", err)
	}
	if _, err := NewPaymentEvent(id, tenant, account, period, amount, nil, paidAt, receipt, recordedBy); err != ErrUnknownMethod {
		t.Fatalf("expected ErrUnknownMethod, got %v", err)
	}
	if _, err := NewPaymentEvent(id, tenant, account, period, amount, details, time.Time{}, receipt, recordedBy); err != ErrInvalidTimestamp {
		t.Fatalf("expected ErrInvalidTimestamp, got %v", err)
	}
	if _, err := NewPaymentEvent(id, tenant, account, period, amount, details, paidAt, "", recordedBy); err != ErrEmptyReceiptNumber {
		t.Fatalf("expected ErrEmptyReceiptNumber, got %v", err)
	}
	if _, err := NewPaymentEvent(id, tenant, account, period, amount, details, paidAt, receipt, ""); err != ErrEmptyRecordedBy {
		t.Fatalf("expected ErrEmptyRecordedBy, got %v", err)
	}
}

func TestMethodDetails_Validation(t *testing.T) {
	if err := (BankTransferDetails{BankName: "GTB"}).Validate(); err != ErrInvalidDetails {
		t.Fatalf("transfer without reference: expected ErrInvalidDetails, got %v", err)
	}
	if err := (BankTransferDetails{BankName: "GTB", TransferRef: "TRX-991"}).Validate(); err != nil {
		t.Fatalf("valid transfer rejected: %v", err)
	}
	if err := (ChequeDetails{BankName: "UBA"}).Validate(); err != ErrInvalidDetails {
		t.Fatalf("cheque without number: expected ErrInvalidDetails, got %v", err)
	}
	if err := (POSDetails{AuthCode: "12"}).Validate(); err != ErrInvalidDetails {
		t.Fatalf("pos without terminal: expected ErrInvalidDetails, got %v", err)
	}
	if err := (OnlineDetails{Provider: "paystack"}).Validate(); err != ErrInvalidDetails {
		t.Fatalf("online without reference: expected ErrInvalidDetails, got %v", err)
	}
	if err := (OnlineDetails{Provider: "paystack", ProviderRef: "ps_123"}).Validate(); err != nil {
		t.Fatalf("valid online rejected: %v", err)
	}
}

func TestDecodeDetails(t *testing.T) {
	details, err := DecodeDetails(MethodBankTransfer, []byte(`{"bank_name":"GTB","transfer_ref":"TRX-1"}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	transfer, ok := details.(*BankTransferDetails)
	if !ok {
		t.Fatalf("expected *BankTransferDetails, got %T", details)
	}
	if transfer.TransferRef != "TRX-1" {
		t.Fatalf("expected TRX-1, got %q", transfer.TransferRef)
	}

	if _, err := DecodeDetails(Method("voucher"), nil); err != ErrUnknownMethod {
		t.Fatalf("expected ErrUnknownMethod, got %v", err)
	}
	empty, err := DecodeDetails(MethodCash, nil)
	if err != nil {
		t.Fatalf("decode empty: %v", err)
	}
	if empty.Method() != MethodCash {
		t.Fatalf("expected cash details, got %v", empty.Method())
	}
}
