// Package metrics holds the keeper's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "bondkeeper"

// ── Pipeline runs ──────────────────────────────────────────────────────

var (
	RunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "pipeline",
		Name:      "runs_total",
		Help:      "Pipeline invocations by terminal result.",
	}, []string{"pipeline", "result"})

	RunDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "pipeline",
		Name:      "run_duration_seconds",
		Help:      "Wall time of a pipeline invocation.",
		Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
	}, []string{"pipeline"})

	LastSuccess = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "pipeline",
		Name:      "last_success_timestamp",
		Help:      "Unix timestamp of the last successful run per pipeline.",
	}, []string{"pipeline"})
)

// ── Contract / keeper state ────────────────────────────────────────────

var (
	KeeperBalance = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "keeper",
		Name:      "balance",
		Help:      "Keeper native balance in whole units.",
	})

	PendingDistributions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "series",
		Name:      "pending_distributions",
		Help:      "Snapshots recorded without a coupon distribution.",
	})

	EmergencyMode = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "series",
		Name:      "emergency_mode",
		Help:      "1 while the series is in emergency mode.",
	})

	RecordCount = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "series",
		Name:      "record_count",
		Help:      "Snapshots recorded on-chain.",
	})
)

// ── Alert delivery ─────────────────────────────────────────────────────

var (
	AlertsSentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "alerts",
		Name:      "sent_total",
		Help:      "Notifications delivered to the webhook.",
	}, []string{"kind"})

	AlertsFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "alerts",
		Name:      "failed_total",
		Help:      "Notification delivery failures.",
	}, []string{"kind"})

	AlertsDeduplicatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "alerts",
		Name:      "deduplicated_total",
		Help:      "Notifications suppressed by deduplication.",
	}, []string{"kind"})
)
