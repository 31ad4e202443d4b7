package interfaces

import (
	"context"
	"log"

	"schoolfees-cloud/internal/eventing"
	"schoolfees-cloud/internal/eventing/eventbus"
	"schoolfees-cloud/internal/fees/application/events"
	"schoolfees-cloud/internal/observability/metrics"
)

const paymentRecordedConsumer = "payment-recorded-metrics"

// RegisterPaymentRecordedConsumer subscribes the metrics observer for
// recorded payments. The idempotency store keeps restarted processes from
// double counting redelivered outbox records.
func RegisterPaymentRecordedConsumer(bus eventbus.EventBus, processed eventing.ProcessedStore, logger *log.Logger) {
	if bus == nil {
		return
	}
	if logger == nil {
		logger = log.Default()
	}
	eventing.Subscribe(bus, eventbus.EventTypeOf[events.PaymentRecorded](), paymentRecordedConsumer, func(ctx context.Context, event any) error {
		payment, ok := event.(events.PaymentRecorded)
		if !ok {
			metrics.IncEventConsumed("payment_recorded", metrics.ResultError)
			return nil
		}
		metrics.IncEventConsumed("payment_recorded", metrics.ResultSuccess)
		logger.Printf("event=payment_recorded account=%s receipt=%s amount=%.2f status=%s", payment.AccountID, payment.ReceiptNumber, payment.Amount, payment.Status)
		return nil
	}, processed)
}
