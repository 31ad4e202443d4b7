package interfaces

import (
	"time"

	fees "schoolfees-cloud/internal/fees/domain"
)

// snapshotView is the JSON shape of a fee status snapshot. Domain snapshots
// keep their fields unexported, so handlers build this explicitly.
type snapshotView struct {
	AccountID      string    `json:"account_id"`
	Term           string    `json:"term"`
	Session        string    `json:"session"`
	TotalDue       float64   `json:"total_due"`
	TotalPaid      float64   `json:"total_paid"`
	Balance        float64   `json:"balance"`
	Status         string    `json:"status"`
	LastPaymentRef string    `json:"last_payment_ref,omitempty"`
	LastPaymentAt  string    `json:"last_payment_at,omitempty"`
	Version        int       `json:"version"`
	LastUpdated    time.Time `json:"last_updated"`
}

func newSnapshotView(snapshot *fees.FeeStatusSnapshot) *snapshotView {
	if snapshot == nil {
		return nil
	}
	view := &snapshotView{
		AccountID:   snapshot.AccountID(),
		Term:        snapshot.Period().Term,
		Session:     snapshot.Period().Session,
		TotalDue:    snapshot.TotalDue(),
		TotalPaid:   snapshot.TotalPaid(),
		Balance:     snapshot.Balance(),
		Status:      string(snapshot.Status()),
		Version:     snapshot.Version(),
		LastUpdated: snapshot.LastUpdated(),
	}
	view.LastPaymentRef = snapshot.LastPaymentRef()
	if !snapshot.LastPaymentAt().IsZero() {
		view.LastPaymentAt = snapshot.LastPaymentAt().Format(time.RFC3339)
	}
	return view
}

// paymentView is the JSON shape of one ledger event.
type paymentView struct {
	ID            string    `json:"id"`
	AccountID     string    `json:"account_id"`
	Term          string    `json:"term"`
	Session       string    `json:"session"`
	Amount        float64   `json:"amount"`
	Method        string    `json:"method"`
	Details       any       `json:"details,omitempty"`
	PaidAt        time.Time `json:"paid_at"`
	ReceiptNumber string    `json:"receipt_number"`
	RecordedBy    string    `json:"recorded_by"`
}

func newPaymentView(payment fees.PaymentEvent) paymentView {
	return paymentView{
		ID:            payment.ID,
		AccountID:     payment.AccountID,
		Term:          payment.Term,
		Session:       payment.Session,
		Amount:        payment.Amount,
		Method:        string(payment.Method),
		Details:       payment.Details,
		PaidAt:        payment.PaidAt,
		ReceiptNumber: payment.ReceiptNumber,
		RecordedBy:    payment.RecordedBy,
	}
}

func newPaymentViews(payments []fees.PaymentEvent) []paymentView {
	views := make([]paymentView, 0, len(payments))
	for _, payment := range payments {
		views = append(views, newPaymentView(payment))
	}
	return views
}
