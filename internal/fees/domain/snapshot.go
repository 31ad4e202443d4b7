package fees

import "time"

// Status of a fee obligation.
type Status string

const (
	StatusUnpaid  Status = "unpaid"
	StatusPartial Status = "partial"
	StatusPaid    Status = "paid"
	StatusOverdue Status = "overdue"
)

// FeeStatusSnapshot is the aggregate answering "has this student paid".
// Identity: accountId + canonical period key. The ledger stays the source of
// truth; the snapshot is the serving view, kept current by the payment
// recorder and repaired by reconciliation. Writes are guarded by an
// optimistic version: a save against a stale version fails with
// ErrVersionConflict and the whole operation is retried.
type FeeStatusSnapshot struct {
	key       AccountPeriodKey
	accountID string
	period    Period

	totalDue       float64
	totalPaid      float64
	balance        float64
	status         Status
	lastPaymentRef string
	lastPaymentAt  time.Time

	version     int
	lastUpdated time.Time
	isNew       bool
}

// NewFeeStatusSnapshot establishes the snapshot for an obligation. totalDue
// is fixed here and never recomputed by later payment application.
func NewFeeStatusSnapshot(accountID string, period Period, totalDue float64) (*FeeStatusSnapshot, error) {
	key, err := BuildAccountPeriodKey(accountID, period)
	if err != nil {
		return nil, err
	}
	if totalDue < 0 {
		return nil, ErrNegativeDue
	}
	snapshot := &FeeStatusSnapshot{
		key:       key,
		accountID: accountID,
		period:    period,
		totalDue:  totalDue,
		status:    StatusUnpaid,
		isNew:     true,
	}
	snapshot.recompute()
	return snapshot, nil
}

// RestoreSnapshot rehydrates a persisted snapshot. The stored status is kept
// as-is so an overdue flag survives the round trip.
func RestoreSnapshot(accountID string, period Period, totalDue, totalPaid float64, status Status, lastPaymentRef string, lastPaymentAt time.Time, version int, lastUpdated time.Time) (*FeeStatusSnapshot, error) {
	key, err := BuildAccountPeriodKey(accountID, period)
	if err != nil {
		return nil, err
	}
	snapshot := &FeeStatusSnapshot{
		key:            key,
		accountID:      accountID,
		period:         period,
		totalDue:       totalDue,
		totalPaid:      totalPaid,
		status:         status,
		lastPaymentRef: lastPaymentRef,
		lastPaymentAt:  lastPaymentAt.UTC(),
		version:        version,
		lastUpdated:    lastUpdated.UTC(),
	}
	snapshot.balance = snapshot.totalDue - snapshot.totalPaid
	if snapshot.balance < 0 {
		snapshot.balance = 0
	}
	return snapshot, nil
}

// ApplyPayment folds one recorded payment into the snapshot.
func (s *FeeStatusSnapshot) ApplyPayment(amount float64, receiptNumber string, paidAt time.Time) error {
	if s == nil {
		return ErrNilSnapshot
	}
	if amount <= 0 {
		return ErrInvalidAmount
	}
	s.totalPaid += amount
	if s.lastPaymentRef == "" || !paidAt.Before(s.lastPaymentAt) {
		s.lastPaymentRef = receiptNumber
		s.lastPaymentAt = paidAt.UTC()
	}
	s.recompute()
	return nil
}

// Rebuild overwrites the paid side from a ledger recomputation. totalDue is
// left untouched.
func (s *FeeStatusSnapshot) Rebuild(totalPaid float64, lastPaymentRef string, lastPaymentAt time.Time) error {
	if s == nil {
		return ErrNilSnapshot
	}
	if totalPaid < 0 {
		return ErrInvalidAmount
	}
	s.totalPaid = totalPaid
	s.lastPaymentRef = lastPaymentRef
	s.lastPaymentAt = lastPaymentAt.UTC()
	s.recompute()
	return nil
}

// MarkOverdue flags an obligation whose due date has passed. Only unpaid and
// partial snapshots are eligible; the flag then survives recomputes until the
// balance reaches zero.
func (s *FeeStatusSnapshot) MarkOverdue() error {
	if s == nil {
		return ErrNilSnapshot
	}
	if s.status != StatusUnpaid && s.status != StatusPartial {
		return ErrOverdueIneligible
	}
	s.status = StatusOverdue
	return nil
}

// recompute derives balance and status. Balance never goes negative; an
// overdue flag holds until the balance clears.
func (s *FeeStatusSnapshot) recompute() {
	balance := s.totalDue - s.totalPaid
	if balance < 0 {
		balance = 0
	}
	s.balance = balance
	switch {
	case balance <= 0:
		s.status = StatusPaid
	case s.status == StatusOverdue:
	case s.totalPaid > 0:
		s.status = StatusPartial
	default:
		s.status = StatusUnpaid
	}
}

// Key returns the obligation identity.
func (s *FeeStatusSnapshot) Key() AccountPeriodKey { return s.key }

// AccountID returns the account id.
func (s *FeeStatusSnapshot) AccountID() string { return s.accountID }

// Period returns the canonical period.
func (s *FeeStatusSnapshot) Period() Period { return s.period }

// TotalDue returns the established amount owed for the period.
func (s *FeeStatusSnapshot) TotalDue() float64 { return s.totalDue }

// TotalPaid returns the accumulated payments.
func (s *FeeStatusSnapshot) TotalPaid() float64 { return s.totalPaid }

// Balance returns max(0, totalDue - totalPaid).
func (s *FeeStatusSnapshot) Balance() float64 { return s.balance }

// Status returns the current fee status.
func (s *FeeStatusSnapshot) Status() Status { return s.status }

// LastPaymentRef returns the receipt number of the latest payment.
func (s *FeeStatusSnapshot) LastPaymentRef() string { return s.lastPaymentRef }

// LastPaymentAt returns the timestamp of the latest payment.
func (s *FeeStatusSnapshot) LastPaymentAt() time.Time { return s.lastPaymentAt }

// Version returns the persisted optimistic version.
func (s *FeeStatusSnapshot) Version() int { return s.version }

// LastUpdated returns the storage timestamp of the last write.
func (s *FeeStatusSnapshot) LastUpdated() time.Time { return s.lastUpdated }

// IsNew reports whether the snapshot has never been persisted.
func (s *FeeStatusSnapshot) IsNew() bool { return s.isNew }

// MarkPersisted records a successful save, advancing the optimistic version.
func (s *FeeStatusSnapshot) MarkPersisted() {
	if s != nil {
		s.isNew = false
		s.version++
	}
}

// Clone returns a detached copy marked as persisted.
func (s *FeeStatusSnapshot) Clone() *FeeStatusSnapshot {
	if s == nil {
		return nil
	}
	copy := *s
	copy.isNew = false
	return &copy
}
