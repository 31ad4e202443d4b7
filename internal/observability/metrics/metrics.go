package metrics

import (
	"database/sql"
	"log"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricPrefix = "platform_"

	resultSuccess = "success"
	resultError   = "error"
)

var (
	registerOnce sync.Once

	ingestRequests *prometheus.CounterVec
	ingestErrors   *prometheus.CounterVec
	ingestLatency  *prometheus.HistogramVec

	consumerLag *prometheus.GaugeVec

	paymentRecordTotal   *prometheus.CounterVec
	paymentRecordLatency *prometheus.HistogramVec
	versionConflictTotal prometheus.Counter
	receiptsIssuedTotal  prometheus.Counter

	statementExportTotal   *prometheus.CounterVec
	statementExportLatency *prometheus.HistogramVec
	receiptExportTotal     *prometheus.CounterVec
	receiptExportLatency   *prometheus.HistogramVec

	overdueMarkedTotal *prometheus.CounterVec

	snapshotDrift *prometheus.GaugeVec

	eventsPublished *prometheus.CounterVec
	eventsConsumed  *prometheus.CounterVec
)

// Init registers observability metrics and DB-backed gauges.
func Init(db *sql.DB, logger *log.Logger) {
	registerOnce.Do(func() {
		ingestRequests = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "ingest_requests_total",
				Help: "Total gateway ingest requests by result",
			},
			[]string{"result"},
		)
		ingestErrors = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "ingest_errors_total",
				Help: "Total gateway ingest errors by reason",
			},
			[]string{"reason"},
		)
		ingestLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "ingest_latency_seconds",
				Help:    "Gateway ingest latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)

		consumerLag = prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: metricPrefix + "event_consumer_lag_seconds",
				Help: "Consumer processing lag in seconds",
			},
			[]string{"consumer"},
		)

		paymentRecordTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "payment_record_total",
				Help: "Total payment record operations by result",
			},
			[]string{"result"},
		)
		paymentRecordLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "payment_record_latency_seconds",
				Help:    "Payment record latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)
		versionConflictTotal = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "snapshot_version_conflicts_total",
				Help: "Total snapshot save attempts rejected by version checks",
			},
		)
		receiptsIssuedTotal = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "receipts_issued_total",
				Help: "Total receipt numbers issued",
			},
		)

		statementExportTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "statement_export_total",
				Help: "Total statement export operations by format and result",
			},
			[]string{"format", "result"},
		)
		statementExportLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "statement_export_latency_seconds",
				Help:    "Statement export latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"format", "result"},
		)
		receiptExportTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "receipt_export_total",
				Help: "Total receipt export operations by format and result",
			},
			[]string{"format", "result"},
		)
		receiptExportLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "receipt_export_latency_seconds",
				Help:    "Receipt export latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"format", "result"},
		)

		overdueMarkedTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "fees_overdue_marked_total",
				Help: "Total snapshots marked overdue by result",
			},
			[]string{"result"},
		)

		snapshotDrift = prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: metricPrefix + "snapshot_drift_amount",
				Help: "Absolute drift between ledger and snapshot per tenant",
			},
			[]string{"tenant"},
		)

		eventsPublished = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "events_published_total",
				Help: "Total domain events published by type",
			},
			[]string{"event"},
		)
		eventsConsumed = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "events_consumed_total",
				Help: "Total domain events consumed by type and result",
			},
			[]string{"event", "result"},
		)

		prometheus.MustRegister(
			ingestRequests,
			ingestErrors,
			ingestLatency,
			consumerLag,
			paymentRecordTotal,
			paymentRecordLatency,
			versionConflictTotal,
			receiptsIssuedTotal,
			statementExportTotal,
			statementExportLatency,
			receiptExportTotal,
			receiptExportLatency,
			overdueMarkedTotal,
			snapshotDrift,
			eventsPublished,
			eventsConsumed,
		)

		if db != nil {
			registerDBMetrics(db, logger)
		}
	})
}

// ObserveIngest records gateway ingest duration and result.
func ObserveIngest(result string, duration time.Duration) {
	if result == "" {
		result = resultSuccess
	}
	if ingestRequests != nil {
		ingestRequests.WithLabelValues(result).Inc()
	}
	if ingestLatency != nil {
		ingestLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
}

// IncIngestError increments ingest error counter.
func IncIngestError(reason string) {
	if reason == "" {
		reason = "unknown"
	}
	if ingestErrors != nil {
		ingestErrors.WithLabelValues(reason).Inc()
	}
}

// ObserveConsumerLag sets consumer lag in seconds.
func ObserveConsumerLag(consumer string, lag time.Duration) {
	if consumer == "" {
		consumer = "unknown"
	}
	if lag < 0 {
		lag = 0
	}
	if consumerLag != nil {
		consumerLag.WithLabelValues(consumer).Set(lag.Seconds())
	}
}

// ObservePaymentRecord records payment record latency and result.
func ObservePaymentRecord(result string, duration time.Duration) {
	if result == "" {
		result = resultSuccess
	}
	if paymentRecordTotal != nil {
		paymentRecordTotal.WithLabelValues(result).Inc()
	}
	if paymentRecordLatency != nil {
		paymentRecordLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
}

// IncVersionConflict increments the snapshot version conflict counter.
func IncVersionConflict() {
	if versionConflictTotal != nil {
		versionConflictTotal.Inc()
	}
}

// IncReceiptIssued increments the issued receipt counter.
func IncReceiptIssued() {
	if receiptsIssuedTotal != nil {
		receiptsIssuedTotal.Inc()
	}
}

// ObserveStatementExport records statement export latency and result.
func ObserveStatementExport(format, result string, duration time.Duration) {
	if format == "" {
		format = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if statementExportTotal != nil {
		statementExportTotal.WithLabelValues(format, result).Inc()
	}
	if statementExportLatency != nil {
		statementExportLatency.WithLabelValues(format, result).Observe(duration.Seconds())
	}
}

// ObserveReceiptExport records receipt export latency and result.
func ObserveReceiptExport(format, result string, duration time.Duration) {
	if format == "" {
		format = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if receiptExportTotal != nil {
		receiptExportTotal.WithLabelValues(format, result).Inc()
	}
	if receiptExportLatency != nil {
		receiptExportLatency.WithLabelValues(format, result).Observe(duration.Seconds())
	}
}

// IncOverdueMarked increments the overdue marking counter.
func IncOverdueMarked(result string) {
	if result == "" {
		result = resultSuccess
	}
	if overdueMarkedTotal != nil {
		overdueMarkedTotal.WithLabelValues(result).Inc()
	}
}

// SetSnapshotDrift sets the observed drift amount for a tenant.
func SetSnapshotDrift(tenant string, amount float64) {
	if tenant == "" {
		tenant = "unknown"
	}
	if amount < 0 {
		amount = -amount
	}
	if snapshotDrift != nil {
		snapshotDrift.WithLabelValues(tenant).Set(amount)
	}
}

// IncEventPublished increments the published event counter.
func IncEventPublished(event string) {
	if event == "" {
		event = "unknown"
	}
	if eventsPublished != nil {
		eventsPublished.WithLabelValues(event).Inc()
	}
}

// IncEventConsumed increments the consumed event counter.
func IncEventConsumed(event, result string) {
	if event == "" {
		event = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if eventsConsumed != nil {
		eventsConsumed.WithLabelValues(event, result).Inc()
	}
}

// Exported constants for callers.
const (
	IngestResultSuccess = resultSuccess
	IngestResultError   = resultError

	ResultSuccess = resultSuccess
	ResultError   = resultError
)
