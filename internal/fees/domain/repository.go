package fees

import "context"

// PaymentStore persists a ledger event and its snapshot update as one atomic
// unit. Implementations must guarantee no partial write survives: either
// both the event and the snapshot land, or neither does. A stale snapshot
// version fails the whole unit with ErrVersionConflict.
type PaymentStore interface {
	RecordPayment(ctx context.Context, event PaymentEvent, snapshot *FeeStatusSnapshot) error
}

// SnapshotRepository loads and saves fee status snapshots. FindByKey returns
// (nil, nil) when no snapshot exists. Save applies optimistic concurrency
// and returns ErrVersionConflict when the stored version moved.
type SnapshotRepository interface {
	FindByKey(ctx context.Context, key AccountPeriodKey) (*FeeStatusSnapshot, error)
	Save(ctx context.Context, snapshot *FeeStatusSnapshot) error
}

// Ledger reads recorded payment events back. The ledger has no update or
// delete surface anywhere.
type Ledger interface {
	ListByKey(ctx context.Context, key AccountPeriodKey) ([]PaymentEvent, error)
	FindByReceipt(ctx context.Context, receiptNumber string) (*PaymentEvent, error)
}

// ReceiptAllocator issues unique, monotonically increasing receipt numbers
// scoped to a session. Numbers allocated for operations that later fail are
// gaps, never reuses.
type ReceiptAllocator interface {
	Next(ctx context.Context, session string) (string, error)
}
