package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics bundles reconciliation metrics.
type Metrics struct {
	RunsTotal     *prometheus.CounterVec
	RunDuration   prometheus.Histogram
	RepairedTotal prometheus.Counter
	DriftPaidMax  prometheus.Gauge
	DriftKeys     prometheus.Gauge
	ReportsTotal  prometheus.Counter
	AlertsTotal   prometheus.Counter
}

// New constructs and registers metrics.
func New() *Metrics {
	m := &Metrics{
		RunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "platform_reconcile_runs_total",
				Help: "Total reconciliation runs by status",
			},
			[]string{"status"},
		),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "platform_reconcile_run_duration_seconds",
			Help:    "Reconciliation run duration in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		RepairedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "platform_reconcile_repaired_total",
			Help: "Total snapshots created or repaired by reconciliation",
		}),
		DriftPaidMax: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "platform_reconcile_drift_paid_max",
			Help: "Max total-paid drift observed in the last run",
		}),
		DriftKeys: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "platform_reconcile_drift_keys",
			Help: "Number of drifted keys repaired in the last run",
		}),
		ReportsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "platform_reconcile_reports_total",
			Help: "Total reconciliation reports",
		}),
		AlertsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "platform_reconcile_alerts_total",
			Help: "Total reconciliation drift alerts",
		}),
	}
	prometheus.MustRegister(
		m.RunsTotal,
		m.RunDuration,
		m.RepairedTotal,
		m.DriftPaidMax,
		m.DriftKeys,
		m.ReportsTotal,
		m.AlertsTotal,
	)
	return m
}
