package application

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"schoolfees-cloud/internal/audit"
	fees "schoolfees-cloud/internal/fees/domain"
	"schoolfees-cloud/internal/observability/metrics"
)

// DueDates maps session and term to the payment due date.
type DueDates map[string]map[string]time.Time

// DueDateFor resolves the due date configured for a period.
func (d DueDates) DueDateFor(period fees.Period) (time.Time, bool) {
	terms, ok := d[period.Session]
	if !ok {
		return time.Time{}, false
	}
	due, ok := terms[period.Term]
	return due, ok
}

// OverdueStore lists outstanding snapshots and persists markings.
type OverdueStore interface {
	ListOutstanding(ctx context.Context) ([]*fees.FeeStatusSnapshot, error)
	Save(ctx context.Context, snapshot *fees.FeeStatusSnapshot) error
}

// OverdueService owns the overdue transition. A sweep lists outstanding
// snapshots and marks the due-passed ones; conflicting saves are skipped and
// picked up by the next sweep.
type OverdueService struct {
	store       OverdueStore
	dueDates    DueDates
	tenantID    string
	dailyAt     string
	auditLogger audit.Logger
	clock       Clock
	logger      *log.Logger
}

// NewOverdueService constructs the service.
func NewOverdueService(
	store OverdueStore,
	dueDates DueDates,
	tenantID string,
	dailyAt string,
	auditLogger audit.Logger,
	clock Clock,
	logger *log.Logger,
) (*OverdueService, error) {
	if store == nil {
		return nil, errors.New("overdue service: nil store")
	}
	if tenantID == "" {
		return nil, errors.New("overdue service: empty tenant id")
	}
	if clock == nil {
		clock = SystemClock{}
	}
	if logger == nil {
		logger = log.Default()
	}
	return &OverdueService{
		store:       store,
		dueDates:    dueDates,
		tenantID:    tenantID,
		dailyAt:     dailyAt,
		auditLogger: auditLogger,
		clock:       clock,
		logger:      logger,
	}, nil
}

// Sweep marks every due-passed outstanding snapshot overdue. Returns the
// number of snapshots marked.
func (s *OverdueService) Sweep(ctx context.Context) (int, error) {
	now := s.clock.Now().UTC()
	outstanding, err := s.store.ListOutstanding(ctx)
	if err != nil {
		return 0, err
	}

	marked := 0
	swept := 0
	for _, snapshot := range outstanding {
		due, ok := s.dueDates.DueDateFor(snapshot.Period())
		if !ok || now.Before(due) {
			continue
		}
		swept++
		if err := snapshot.MarkOverdue(); err != nil {
			continue
		}
		if err := s.store.Save(ctx, snapshot); err != nil {
			if errors.Is(err, fees.ErrVersionConflict) {
				s.logger.Printf("event=overdue_mark_conflict key=%s", snapshot.Key())
				continue
			}
			metrics.IncOverdueMarked(metrics.ResultError)
			s.logger.Printf("event=overdue_mark_failed key=%s err=%v", snapshot.Key(), err)
			continue
		}
		metrics.IncOverdueMarked(metrics.ResultSuccess)
		marked++
	}

	if marked > 0 {
		s.logAudit(ctx, marked, swept)
	}
	s.logger.Printf("event=overdue_sweep outstanding=%d due_passed=%d marked=%d", len(outstanding), swept, marked)
	return marked, nil
}

// Start runs the daily sweep loop until ctx is cancelled.
func (s *OverdueService) Start(ctx context.Context) {
	if s == nil || s.dailyAt == "" {
		return
	}
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if !s.shouldRun(now.UTC()) {
				continue
			}
			if _, err := s.Sweep(ctx); err != nil {
				s.logger.Printf("event=overdue_sweep_failed err=%v", err)
			}
		}
	}
}

func (s *OverdueService) shouldRun(now time.Time) bool {
	t, err := time.Parse("15:04", s.dailyAt)
	if err != nil {
		return false
	}
	return now.Hour() == t.Hour() && now.Minute() == t.Minute()
}

func (s *OverdueService) logAudit(ctx context.Context, marked, swept int) {
	if s.auditLogger == nil {
		return
	}
	meta, _ := json.Marshal(map[string]any{
		"marked":     marked,
		"due_passed": swept,
	})
	err := s.auditLogger.Log(ctx, audit.Entry{
		TenantID:     s.tenantID,
		Actor:        "system:overdue",
		Action:       "fees.overdue",
		ResourceType: "fee_snapshot",
		Metadata:     meta,
	})
	if err != nil {
		s.logger.Printf("event=audit_log_failed action=fees.overdue err=%v", err)
	}
}
