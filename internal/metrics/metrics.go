// Package metrics declares maremma's Prometheus instrumentation: package
// level collectors registered at init time, exported through the same
// promhttp handler pattern the teacher package uses.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ServiceChecksByStatus is the gauge for the current count of
	// service-checks in each status. It is registered and exported, but
	// nothing in this repository sets it.
	ServiceChecksByStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "maremma_service_checks_total",
			Help: "Number of service-checks currently in each status",
		},
		[]string{"status"},
	)

	HostsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "maremma_hosts_total",
			Help: "Total number of configured hosts",
		},
	)

	ServicesTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "maremma_services_total",
			Help: "Total number of configured services",
		},
	)

	CheckDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "maremma_check_duration_seconds",
			Help:    "Time taken to execute a single probe, by service type",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"service_type"},
	)

	ChecksCompletedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "maremma_checks_completed_total",
			Help: "Total number of completed probe executions, by service type and resulting status",
		},
		[]string{"service_type", "status"},
	)

	ChecksOverdueTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "maremma_checks_overdue_total",
			Help: "Number of service-checks whose next_check has passed without yet being picked up",
		},
	)

	ReconciliationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "maremma_reconciliation_duration_seconds",
			Help:    "Time taken for a config-to-inventory reconciliation cycle",
			Buckets: prometheus.DefBuckets,
		},
	)

	ReconciliationCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "maremma_reconciliation_cycles_total",
			Help: "Total number of reconciliation cycles completed",
		},
	)

	SchedulerTickDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "maremma_scheduler_tick_duration_seconds",
			Help:    "Time taken for one scheduler dispatch tick",
			Buckets: prometheus.DefBuckets,
		},
	)

	InFlightChecks = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "maremma_checks_in_flight",
			Help: "Number of probe executions currently running",
		},
	)
)

func init() {
	prometheus.MustRegister(
		ServiceChecksByStatus,
		HostsTotal,
		ServicesTotal,
		CheckDuration,
		ChecksCompletedTotal,
		ChecksOverdueTotal,
		ReconciliationDuration,
		ReconciliationCyclesTotal,
		SchedulerTickDuration,
		InFlightChecks,
	)
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer times an in-flight operation for later observation against a
// histogram, mirroring the teacher package's helper of the same name.
type Timer struct {
	start time.Time
}

// NewTimer starts a timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the elapsed time against histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the elapsed time against a labeled histogram.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
