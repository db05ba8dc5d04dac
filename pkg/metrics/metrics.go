// Package metrics exposes initd's runtime state as Prometheus gauges
// and counters, in the same package-level-var-plus-init-registration
// shape the teacher repo uses for its own cluster metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ComponentsTotal counts live components by supervision state.
	ComponentsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "initd_components_total",
			Help: "Total number of components by supervision state",
		},
		[]string{"state"},
	)

	CapabilitiesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "initd_capabilities_total",
			Help: "Total number of capabilities by active/degraded status",
		},
		[]string{"status"},
	)

	RestartsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "initd_component_restarts_total",
			Help: "Total number of restart attempts by component",
		},
		[]string{"component"},
	)

	ResolverPassesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "initd_resolver_passes_total",
			Help: "Total number of fixed-point resolver passes run",
		},
	)

	ResolverConvergenceDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "initd_resolver_convergence_duration_seconds",
			Help:    "Time taken for the resolver to reach a fixed point",
			Buckets: prometheus.DefBuckets,
		},
	)

	ReadinessWaitDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "initd_readiness_wait_duration_seconds",
			Help:    "Time spent in READY_WAIT before promotion or timeout",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"component", "outcome"},
	)

	HealthProbeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "initd_health_probe_duration_seconds",
			Help:    "Time taken for a health probe to complete",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"component"},
	)

	UpgradesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "initd_upgrades_total",
			Help: "Total number of upgrade attempts by strategy and outcome",
		},
		[]string{"strategy", "outcome"},
	)

	UpgradeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "initd_upgrade_duration_seconds",
			Help:    "Time taken for an upgrade attempt by strategy",
			Buckets: []float64{.01, .05, .1, .5, 1, 5, 10, 30},
		},
		[]string{"strategy"},
	)

	ControlRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "initd_control_requests_total",
			Help: "Total number of control-socket requests by command",
		},
		[]string{"command"},
	)
)

func init() {
	prometheus.MustRegister(ComponentsTotal)
	prometheus.MustRegister(CapabilitiesTotal)
	prometheus.MustRegister(RestartsTotal)
	prometheus.MustRegister(ResolverPassesTotal)
	prometheus.MustRegister(ResolverConvergenceDuration)
	prometheus.MustRegister(ReadinessWaitDuration)
	prometheus.MustRegister(HealthProbeDuration)
	prometheus.MustRegister(UpgradesTotal)
	prometheus.MustRegister(UpgradeDuration)
	prometheus.MustRegister(ControlRequestsTotal)
}

// Handler returns the Prometheus scrape handler. cmd/initd mounts it
// on a loopback-only listener since the metrics endpoint is not part
// of the control protocol's authentication boundary.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer times one operation and reports its duration to a histogram
// or histogram vec on completion.
type Timer struct {
	start time.Time
}

// NewTimer starts a Timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the elapsed time to histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the elapsed time to a labeled histogram.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}
