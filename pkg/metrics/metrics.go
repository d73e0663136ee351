package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Pass-level metrics
	ReconciliationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fleetscaler_reconciliation_duration_seconds",
			Help:    "Time taken for one reconciliation pass in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	ReconciliationCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fleetscaler_reconciliation_cycles_total",
			Help: "Total number of reconciliation passes completed",
		},
	)

	ReconciliationFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fleetscaler_reconciliation_failures_total",
			Help: "Total number of reconciliation passes that returned an error or hit the top-level recover",
		},
	)

	// Demand/supply metrics
	DemandNodesByLabel = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fleetscaler_demand_nodes",
			Help: "Nodes requested by the demand analyzer this pass, by label",
		},
		[]string{"label"},
	)

	RetiredExecutorsByLabel = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fleetscaler_retired_executors",
			Help: "Executors selected for retirement this pass (supply plus faults, before the downscale cap), by label",
		},
		[]string{"label"},
	)

	FaultsByKind = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetscaler_faults_total",
			Help: "Faulty executors/VMs detected, by fault kind",
		},
		[]string{"kind"},
	)

	QueueItemsIgnoredTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetscaler_queue_items_ignored_total",
			Help: "Queue items the demand analyzer skipped, by reason",
		},
		[]string{"reason"},
	)

	// Scale-cap metrics
	UpscaleCapHitTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fleetscaler_upscale_cap_hit_total",
			Help: "Passes in which demand exceeded the per-round upscale cap",
		},
	)

	DownscaleCapHitTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fleetscaler_downscale_cap_hit_total",
			Help: "Passes in which retirements exceeded the per-round downscale cap",
		},
	)

	// External call metrics
	MasterRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetscaler_master_requests_total",
			Help: "Requests to the build master API, by operation and outcome",
		},
		[]string{"operation", "outcome"},
	)

	MasterRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fleetscaler_master_request_duration_seconds",
			Help:    "Build master request duration in seconds, by operation",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	VMRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetscaler_vm_requests_total",
			Help: "Requests to the VM provider API, by operation and outcome",
		},
		[]string{"operation", "outcome"},
	)

	VMRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fleetscaler_vm_request_duration_seconds",
			Help:    "VM provider request duration in seconds, by operation",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	RaceRecoveriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fleetscaler_race_recoveries_total",
			Help: "Executors re-enabled after flipping back online/non-idle between offline-mark and poll",
		},
	)
)

func init() {
	prometheus.MustRegister(
		ReconciliationDuration,
		ReconciliationCyclesTotal,
		ReconciliationFailuresTotal,
		DemandNodesByLabel,
		RetiredExecutorsByLabel,
		FaultsByKind,
		QueueItemsIgnoredTotal,
		UpscaleCapHitTotal,
		DownscaleCapHitTotal,
		MasterRequestsTotal,
		MasterRequestDuration,
		VMRequestsTotal,
		VMRequestDuration,
		RaceRecoveriesTotal,
	)
}

// Handler returns the Prometheus HTTP handler, exposed by the CLI's
// optional --metrics-addr listener for scrape-based deployments.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations against a histogram.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer, starting now.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
