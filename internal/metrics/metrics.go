package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for verification runs.
type Metrics struct {
	// Step latencies by step name
	StepLatency *prometheus.HistogramVec

	// Step outcomes: success, rejected, error
	StepOutcome *prometheus.CounterVec

	// Step attempts beyond the first
	StepRetries *prometheus.CounterVec

	// Terminal run outcomes by status
	RunOutcome *prometheus.CounterVec

	// End-to-end run latency
	RunLatency prometheus.Histogram

	// Runs currently in flight
	RunsInFlight prometheus.Gauge

	// Records removed by the expiry sweep
	Expired prometheus.Counter

	// Abandoned runs forced to FAILED
	Stale prometheus.Counter
}

// New registers every verification metric on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		StepLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "idverify_step_duration_seconds",
			Help:    "Duration of a single pipeline step including retries",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"step"}),

		StepOutcome: f.NewCounterVec(prometheus.CounterOpts{
			Name: "idverify_step_outcomes_total",
			Help: "Pipeline step outcomes by step and result",
		}, []string{"step", "result"}),

		StepRetries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "idverify_step_retries_total",
			Help: "Retried step attempts after transient failures",
		}, []string{"step"}),

		RunOutcome: f.NewCounterVec(prometheus.CounterOpts{
			Name: "idverify_runs_total",
			Help: "Completed verification runs by terminal status",
		}, []string{"status"}),

		RunLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "idverify_run_duration_seconds",
			Help:    "Duration of a full verification run",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}),

		RunsInFlight: f.NewGauge(prometheus.GaugeOpts{
			Name: "idverify_runs_in_flight",
			Help: "Verification runs currently executing",
		}),

		Expired: f.NewCounter(prometheus.CounterOpts{
			Name: "idverify_expired_records_total",
			Help: "Verification records removed after expiry",
		}),

		Stale: f.NewCounter(prometheus.CounterOpts{
			Name: "idverify_stale_runs_failed_total",
			Help: "Verifications marked failed after their run was abandoned",
		}),
	}
}

func (m *Metrics) ObserveStep(step, result string, d time.Duration) {
	if m != nil {
		m.StepLatency.WithLabelValues(step).Observe(d.Seconds())
		m.StepOutcome.WithLabelValues(step, result).Inc()
	}
}

func (m *Metrics) IncrementRetry(step string) {
	if m != nil {
		m.StepRetries.WithLabelValues(step).Inc()
	}
}

// RunStarted marks a run in flight and returns a func that records its end.
func (m *Metrics) RunStarted() func(status string) {
	if m == nil {
		return func(string) {}
	}
	start := time.Now()
	m.RunsInFlight.Inc()
	return func(status string) {
		m.RunsInFlight.Dec()
		m.RunOutcome.WithLabelValues(status).Inc()
		m.RunLatency.Observe(time.Since(start).Seconds())
	}
}

func (m *Metrics) AddExpired(n int) {
	if m != nil && n > 0 {
		m.Expired.Add(float64(n))
	}
}

func (m *Metrics) AddStale(n int) {
	if m != nil && n > 0 {
		m.Stale.Add(float64(n))
	}
}
