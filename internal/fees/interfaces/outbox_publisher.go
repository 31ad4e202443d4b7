package interfaces

import (
	"context"

	"schoolfees-cloud/internal/eventing"
	"schoolfees-cloud/internal/fees/application/events"
	"schoolfees-cloud/internal/observability/metrics"
)

// OutboxPublisher writes fee events to the outbox.
type OutboxPublisher struct {
	publisher *eventing.Publisher
	tenantID  string
}

// NewOutboxPublisher constructs an outbox publisher.
func NewOutboxPublisher(publisher *eventing.Publisher, tenantID string) *OutboxPublisher {
	return &OutboxPublisher{publisher: publisher, tenantID: tenantID}
}

// PublishPaymentRecorded writes the event to the outbox.
func (p *OutboxPublisher) PublishPaymentRecorded(ctx context.Context, event events.PaymentRecorded) error {
	if p == nil || p.publisher == nil {
		return nil
	}
	ctx = eventing.WithTenantID(ctx, p.tenantID)
	ctx = eventing.WithEventID(ctx, event.EventID)
	if err := p.publisher.Publish(ctx, event); err != nil {
		return err
	}
	metrics.IncEventPublished("payment_recorded")
	return nil
}

// PublishReconciliationCompleted writes the event to the outbox.
func (p *OutboxPublisher) PublishReconciliationCompleted(ctx context.Context, event events.ReconciliationCompleted) error {
	if p == nil || p.publisher == nil {
		return nil
	}
	ctx = eventing.WithTenantID(ctx, p.tenantID)
	ctx = eventing.WithEventID(ctx, event.EventID)
	if err := p.publisher.Publish(ctx, event); err != nil {
		return err
	}
	metrics.IncEventPublished("reconciliation_completed")
	return nil
}
