package interfaces

import (
	"context"
	"errors"
	"log"

	"schoolfees-cloud/internal/fees/application/events"
)

// LoggingPublisher logs payment recorded events.
type LoggingPublisher struct {
	logger *log.Logger
}

// NewLoggingPublisher constructs a logging publisher.
func NewLoggingPublisher(logger *log.Logger) *LoggingPublisher {
	if logger == nil {
		logger = log.Default()
	}
	return &LoggingPublisher{logger: logger}
}

// PublishPaymentRecorded logs the event.
func (p *LoggingPublisher) PublishPaymentRecorded(ctx context.Context, event events.PaymentRecorded) error {
	_ = ctx
	if p == nil {
		return errors.New("payment publisher: nil publisher")
	}
	p.logger.Printf("payment recorded: account=%s receipt=%s amount=%.2f balance=%.2f status=%s", event.AccountID, event.ReceiptNumber, event.Amount, event.Balance, event.Status)
	return nil
}

// PublishReconciliationCompleted logs the event.
func (p *LoggingPublisher) PublishReconciliationCompleted(ctx context.Context, event events.ReconciliationCompleted) error {
	_ = ctx
	if p == nil {
		return errors.New("payment publisher: nil publisher")
	}
	p.logger.Printf("reconciliation completed: run=%s scanned=%d created=%d updated=%d skipped=%d drift_max=%.2f", event.RunID, event.Scanned, event.Created, event.Updated, event.Skipped, event.DriftPaidMax)
	return nil
}
