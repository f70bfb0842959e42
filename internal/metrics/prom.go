package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name:        "fogpool_build_info",
			Help:        "Build information",
			ConstLabels: prometheus.Labels{"component": "server"},
		},
		[]string{"date", "sha", "version"},
	)

	clients = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fogpool_clients",
			Help: "Registered clients by state",
		},
		[]string{"state"},
	)

	clientTier = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fogpool_client_tier",
			Help: "Active clients by model tier",
		},
		[]string{"tier"},
	)

	dispatches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fogpool_dispatch_total",
			Help: "Number of dispatched queries",
		},
		[]string{"outcome"},
	)

	clientOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fogpool_client_outcomes_total",
			Help: "Per-client call outcomes",
		},
		[]string{"status"},
	)

	clientCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fogpool_client_call_seconds",
			Help:    "Per-client inference call latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"model"},
	)

	dispatchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fogpool_dispatch_seconds",
			Help:    "Wall time of a full fan-out dispatch",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
		},
	)

	reassignments = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fogpool_reassignments_total",
			Help: "Reassignment passes by trigger",
		},
		[]string{"reason"},
	)

	reassignmentChanges = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fogpool_reassignment_changes_total",
			Help: "Client tier or model changes applied by reassignment",
		},
	)
)

// Register registers all metrics with the provided registerer.
func Register(r prometheus.Registerer) {
	r.MustRegister(buildInfo, clients, clientTier, dispatches, clientOutcomes, clientCallDuration, dispatchDuration, reassignments, reassignmentChanges)
}

// SetServerBuildInfo sets the build info metric for the server.
func SetServerBuildInfo(version, sha, date string) {
	buildInfo.WithLabelValues(date, sha, version).Set(1)
}

// SetClientCounts replaces the per-state and per-tier client gauges.
func SetClientCounts(byState, byTier map[string]int) {
	clients.Reset()
	for s, n := range byState {
		clients.WithLabelValues(s).Set(float64(n))
	}
	clientTier.Reset()
	for t, n := range byTier {
		clientTier.WithLabelValues(t).Set(float64(n))
	}
}

// RecordDispatch counts a dispatch by outcome and observes its duration.
// A zero duration is not observed.
func RecordDispatch(outcome string, d time.Duration) {
	dispatches.WithLabelValues(outcome).Inc()
	if d > 0 {
		dispatchDuration.Observe(d.Seconds())
	}
}

// RecordClientOutcome counts one per-client result.
func RecordClientOutcome(model, status string, latency time.Duration) {
	clientOutcomes.WithLabelValues(status).Inc()
	if status == "SUCCESS" {
		clientCallDuration.WithLabelValues(model).Observe(latency.Seconds())
	}
}

// RecordReassignment counts a pass and the changes it applied.
func RecordReassignment(reason string, changed int) {
	reassignments.WithLabelValues(reason).Inc()
	reassignmentChanges.Add(float64(changed))
}
