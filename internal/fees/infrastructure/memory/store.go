package memory

import (
	"context"
	"sync"
	"time"

	fees "schoolfees-cloud/internal/fees/domain"
)

// Store is an in-memory ledger plus snapshot store with the same atomicity
// and version semantics as the Postgres implementation.
type Store struct {
	mu        sync.RWMutex
	events    []fees.PaymentEvent
	snapshots map[string]*fees.FeeStatusSnapshot
}

// NewStore constructs an empty store.
func NewStore() *Store {
	return &Store{snapshots: make(map[string]*fees.FeeStatusSnapshot)}
}

// RecordPayment appends the event and saves the snapshot as one unit. On a
// version conflict nothing is written.
func (s *Store) RecordPayment(ctx context.Context, event fees.PaymentEvent, snapshot *fees.FeeStatusSnapshot) error {
	_ = ctx
	if snapshot == nil {
		return fees.ErrNilSnapshot
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.saveLocked(snapshot); err != nil {
		return err
	}
	event.CreatedAt = time.Now().UTC()
	s.events = append(s.events, event)
	return nil
}

// FindByKey loads a snapshot, or (nil, nil) when absent.
func (s *Store) FindByKey(ctx context.Context, key fees.AccountPeriodKey) (*fees.FeeStatusSnapshot, error) {
	_ = ctx
	s.mu.RLock()
	snapshot := s.snapshots[key.String()]
	s.mu.RUnlock()
	if snapshot == nil {
		return nil, nil
	}
	return snapshot.Clone(), nil
}

// Save persists a snapshot with a version check.
func (s *Store) Save(ctx context.Context, snapshot *fees.FeeStatusSnapshot) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked(snapshot)
}

// SaveBatch persists all snapshots or none of them.
func (s *Store) SaveBatch(ctx context.Context, snapshots []*fees.FeeStatusSnapshot) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, snapshot := range snapshots {
		if snapshot == nil {
			return fees.ErrNilSnapshot
		}
		stored := s.snapshots[snapshot.Key().String()]
		if snapshot.IsNew() {
			if stored != nil {
				return fees.ErrVersionConflict
			}
			continue
		}
		if stored == nil || stored.Version() != snapshot.Version() {
			return fees.ErrVersionConflict
		}
	}
	for _, snapshot := range snapshots {
		snapshot.MarkPersisted()
		s.snapshots[snapshot.Key().String()] = snapshot.Clone()
	}
	return nil
}

func (s *Store) saveLocked(snapshot *fees.FeeStatusSnapshot) error {
	if snapshot == nil {
		return fees.ErrNilSnapshot
	}
	stored := s.snapshots[snapshot.Key().String()]
	if snapshot.IsNew() {
		if stored != nil {
			return fees.ErrVersionConflict
		}
	} else {
		if stored == nil || stored.Version() != snapshot.Version() {
			return fees.ErrVersionConflict
		}
	}
	snapshot.MarkPersisted()
	s.snapshots[snapshot.Key().String()] = snapshot.Clone()
	return nil
}

// ListByKey returns the events whose re-derived key matches.
func (s *Store) ListByKey(ctx context.Context, key fees.AccountPeriodKey) ([]fees.PaymentEvent, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []fees.PaymentEvent
	for _, event := range s.events {
		derived, err := event.Key()
		if err != nil {
			continue
		}
		if derived == key {
			result = append(result, event)
		}
	}
	return result, nil
}

// FindByReceipt returns the event carrying a receipt number.
func (s *Store) FindByReceipt(ctx context.Context, receiptNumber string) (*fees.PaymentEvent, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := range s.events {
		if s.events[i].ReceiptNumber == receiptNumber {
			event := s.events[i]
			return &event, nil
		}
	}
	return nil, fees.ErrReceiptNotFound
}

// ScanRange returns events for accounts in the half-open range [from, to).
// Empty bounds are unbounded.
func (s *Store) ScanRange(ctx context.Context, from, to string) ([]fees.PaymentEvent, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []fees.PaymentEvent
	for _, event := range s.events {
		if from != "" && event.AccountID < from {
			continue
		}
		if to != "" && event.AccountID >= to {
			continue
		}
		result = append(result, event)
	}
	return result, nil
}

// ListOutstanding returns snapshots with an open balance that are not yet
// flagged overdue.
func (s *Store) ListOutstanding(ctx context.Context) ([]*fees.FeeStatusSnapshot, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []*fees.FeeStatusSnapshot
	for _, snapshot := range s.snapshots {
		if snapshot.Balance() <= 0 {
			continue
		}
		if status := snapshot.Status(); status != fees.StatusUnpaid && status != fees.StatusPartial {
			continue
		}
		result = append(result, snapshot.Clone())
	}
	return result, nil
}

// EventCount returns the ledger size for assertion convenience.
func (s *Store) EventCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}

// SnapshotCount returns the number of stored snapshots.
func (s *Store) SnapshotCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.snapshots)
}
