package application

import (
	"context"
	"log"
	"time"
)

// Scheduler triggers a full-range reconciliation run once a day at the
// configured wall-clock minute (UTC).
type Scheduler struct {
	runner   *Runner
	tenantID string
	dailyAt  string
	logger   *log.Logger
}

// NewScheduler constructs the daily schedule around a runner. An empty
// dailyAt disables the schedule.
func NewScheduler(runner *Runner, tenantID, dailyAt string, logger *log.Logger) *Scheduler {
	if logger == nil {
		logger = log.Default()
	}
	return &Scheduler{
		runner:   runner,
		tenantID: tenantID,
		dailyAt:  dailyAt,
		logger:   logger,
	}
}

// Start runs the schedule loop until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	if s == nil || s.runner == nil || s.dailyAt == "" {
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
			s.runOnce(ctx)
		}
	}
}

func (s *Scheduler) shouldRun(now time.Time) bool {
	t, err := time.Parse("15:04", s.dailyAt)
	if err != nil {
		return false
	}
	return now.Hour() == t.Hour() && now.Minute() == t.Minute()
}

func (s *Scheduler) runOnce(ctx context.Context) {
	report, err := s.runner.Run(ctx, s.tenantID, RunOptions{})
	if err != nil {
		s.logger.Printf("event=reconcile_schedule_failed tenant_id=%s err=%v", s.tenantID, err)
		return
	}
	s.logger.Printf("event=reconcile_schedule_done run_id=%s created=%d updated=%d skipped=%d", report.RunID, report.Created, report.Updated, report.Skipped)
}
