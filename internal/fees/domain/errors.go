package fees

import "errors"

var (
	// ErrEmptyAccountID is returned when an account id is empty.
	ErrEmptyAccountID = errors.New("fees: empty account id")
	// ErrEmptyEventID is returned when a ledger event id is empty.
	ErrEmptyEventID = errors.New("fees: empty event id")
	// ErrInvalidPeriod is returned when a term or session fails validation.
	ErrInvalidPeriod = errors.New("fees: invalid period")
	// ErrInvalidAmount is returned when a payment amount is not positive.
	ErrInvalidAmount = errors.New("fees: amount must be positive")
	// ErrUnknownMethod is returned for a payment method outside the closed set.
	ErrUnknownMethod = errors.New("fees: unknown payment method")
	// ErrInvalidDetails is returned when details do not satisfy their method.
	ErrInvalidDetails = errors.New("fees: invalid method details")
	// ErrInvalidTimestamp is returned when a payment timestamp is zero.
	ErrInvalidTimestamp = errors.New("fees: invalid payment timestamp")
	// ErrEmptyReceiptNumber is returned when a receipt number is empty.
	ErrEmptyReceiptNumber = errors.New("fees: empty receipt number")
	// ErrEmptyRecordedBy is returned when the recording actor is empty.
	ErrEmptyRecordedBy = errors.New("fees: empty recorded by")
	// ErrNegativeDue is returned when a total due amount is negative.
	ErrNegativeDue = errors.New("fees: negative total due")
	// ErrNilSnapshot is returned when operating on a nil snapshot.
	ErrNilSnapshot = errors.New("fees: nil snapshot")
	// ErrSnapshotNotFound is returned when no snapshot exists for a key.
	ErrSnapshotNotFound = errors.New("fees: snapshot not found")
	// ErrReceiptNotFound is returned when no event carries a receipt number.
	ErrReceiptNotFound = errors.New("fees: receipt not found")
	// ErrAccountNotFound is returned when the account directory has no account.
	ErrAccountNotFound = errors.New("fees: account not found")
	// ErrFeeStructureMissing is returned when no total due can be established.
	ErrFeeStructureMissing = errors.New("fees: no fee structure for period")
	// ErrVersionConflict is returned when an optimistic snapshot write loses.
	ErrVersionConflict = errors.New("fees: snapshot version conflict")
	// ErrOverdueIneligible is returned when marking a settled snapshot overdue.
	ErrOverdueIneligible = errors.New("fees: snapshot not eligible for overdue")
)
