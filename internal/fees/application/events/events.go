package events

import "time"

// PaymentRecorded is raised after a payment lands in the ledger.
type PaymentRecorded struct {
	EventID       string    `json:"event_id"`
	TenantID      string    `json:"tenant_id"`
	AccountID     string    `json:"account_id"`
	Term          string    `json:"term"`
	Session       string    `json:"session"`
	Amount        float64   `json:"amount"`
	Method        string    `json:"method"`
	ReceiptNumber string    `json:"receipt_number"`
	Balance       float64   `json:"balance"`
	Status        string    `json:"status"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// ReconciliationCompleted is raised after a reconciliation run finishes and
// its report is persisted.
type ReconciliationCompleted struct {
	EventID      string    `json:"event_id"`
	TenantID     string    `json:"tenant_id"`
	RunID        string    `json:"run_id"`
	Scanned      int       `json:"scanned"`
	Groups       int       `json:"groups"`
	Created      int       `json:"created"`
	Updated      int       `json:"updated"`
	Skipped      int       `json:"skipped"`
	DriftPaidMax float64   `json:"drift_paid_max"`
	OccurredAt   time.Time `json:"occurred_at"`
}
