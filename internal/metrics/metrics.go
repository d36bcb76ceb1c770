// Package metrics defines the Recorder interface ODCS's control loops and
// Worker report through, and a Prometheus-backed implementation. Grounded on
// crossplane's circuit.Metrics interface + NopMetrics/PrometheusMetrics pair
// (internal/circuit/circuit_metrics.go): a tiny interface, a no-op default,
// and a Prometheus implementation registering its own CounterVec/GaugeVec
// collectors.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Recorder is the metrics surface every other package depends on. Nothing
// in odcsd imports prometheus directly except this package's Prometheus
// implementation.
type Recorder interface {
	// ObserveTransition increments the counter for composes reaching state.
	ObserveTransition(state string)
	// ObserveToolRun records a tool invocation's outcome and duration.
	ObserveToolRun(outcome string, seconds float64)
	// SetInFlight reports the current size of a named worker pool's
	// in-flight set (tool or pulp).
	SetInFlight(pool string, count int)
	// ObserveSchedulerTick records how long one Scheduler tick took.
	ObserveSchedulerTick(seconds float64)
	// ObserveExpirerSweep records how long one Expirer sweep took and how
	// many composes it removed.
	ObserveExpirerSweep(seconds float64, removed int)
}

var (
	_ Recorder             = (*NopRecorder)(nil)
	_ Recorder             = (*PrometheusRecorder)(nil)
	_ prometheus.Collector = (*PrometheusRecorder)(nil)
)

// NopRecorder discards every observation; used where no Prometheus registry
// is configured (e.g. unit tests).
type NopRecorder struct{}

func (NopRecorder) ObserveTransition(string)             {}
func (NopRecorder) ObserveToolRun(string, float64)       {}
func (NopRecorder) SetInFlight(string, int)              {}
func (NopRecorder) ObserveSchedulerTick(float64)         {}
func (NopRecorder) ObserveExpirerSweep(float64, int)     {}

// PrometheusRecorder is the production Recorder.
type PrometheusRecorder struct {
	transitions  *prometheus.CounterVec
	toolRuns     *prometheus.CounterVec
	toolDuration *prometheus.HistogramVec
	inFlight     *prometheus.GaugeVec
	tickDuration prometheus.Histogram

	expirerDuration prometheus.Histogram
	expirerRemoved  prometheus.Counter
}

// NewPrometheusRecorder creates a PrometheusRecorder. Register it with a
// prometheus.Registerer before use.
func NewPrometheusRecorder() *PrometheusRecorder {
	return &PrometheusRecorder{
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Subsystem: "odcs",
			Name:      "compose_transitions_total",
			Help:      "Number of composes reaching each state.",
		}, []string{"state"}),

		toolRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Subsystem: "odcs",
			Name:      "tool_runs_total",
			Help:      "Number of external compose tool invocations by outcome.",
		}, []string{"outcome"}),

		toolDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Subsystem: "odcs",
			Name:      "tool_run_seconds",
			Help:      "Duration of external compose tool invocations.",
			Buckets:   prometheus.ExponentialBuckets(10, 2, 12),
		}, []string{"outcome"}),

		inFlight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Subsystem: "odcs",
			Name:      "worker_pool_in_flight",
			Help:      "Number of composes currently being processed per worker pool.",
		}, []string{"pool"}),

		tickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Subsystem: "odcs",
			Name:      "scheduler_tick_seconds",
			Help:      "Duration of a single Scheduler control-loop tick.",
			Buckets:   prometheus.DefBuckets,
		}),

		expirerDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Subsystem: "odcs",
			Name:      "expirer_sweep_seconds",
			Help:      "Duration of a single Expirer sweep.",
			Buckets:   prometheus.DefBuckets,
		}),

		expirerRemoved: prometheus.NewCounter(prometheus.CounterOpts{
			Subsystem: "odcs",
			Name:      "expirer_removed_total",
			Help:      "Number of composes transitioned to removed.",
		}),
	}
}

func (r *PrometheusRecorder) ObserveTransition(state string) {
	r.transitions.WithLabelValues(state).Inc()
}

func (r *PrometheusRecorder) ObserveToolRun(outcome string, seconds float64) {
	r.toolRuns.WithLabelValues(outcome).Inc()
	r.toolDuration.WithLabelValues(outcome).Observe(seconds)
}

func (r *PrometheusRecorder) SetInFlight(pool string, count int) {
	r.inFlight.WithLabelValues(pool).Set(float64(count))
}

func (r *PrometheusRecorder) ObserveSchedulerTick(seconds float64) {
	r.tickDuration.Observe(seconds)
}

func (r *PrometheusRecorder) ObserveExpirerSweep(seconds float64, removed int) {
	r.expirerDuration.Observe(seconds)
	r.expirerRemoved.Add(float64(removed))
}

// Describe implements prometheus.Collector.
func (r *PrometheusRecorder) Describe(ch chan<- *prometheus.Desc) {
	r.transitions.Describe(ch)
	r.toolRuns.Describe(ch)
	r.toolDuration.Describe(ch)
	r.inFlight.Describe(ch)
	r.tickDuration.Describe(ch)
	r.expirerDuration.Describe(ch)
	r.expirerRemoved.Describe(ch)
}

// Collect implements prometheus.Collector.
func (r *PrometheusRecorder) Collect(ch chan<- prometheus.Metric) {
	r.transitions.Collect(ch)
	r.toolRuns.Collect(ch)
	r.toolDuration.Collect(ch)
	r.inFlight.Collect(ch)
	r.tickDuration.Collect(ch)
	r.expirerDuration.Collect(ch)
	r.expirerRemoved.Collect(ch)
}
