package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors for the audit pipeline.
type Metrics struct {
	JobsStarted   prometheus.Counter
	JobsFinished  *prometheus.CounterVec
	StageDuration *prometheus.HistogramVec
	ExpertCalls   *prometheus.CounterVec
	AIAttempts    *prometheus.CounterVec
	StaleSwept    prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg.
// A nil registerer leaves them unregistered, which is what tests want.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		JobsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ux_auditor",
			Name:      "jobs_started_total",
			Help:      "Audit jobs picked up by the processor.",
		}),
		JobsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ux_auditor",
			Name:      "jobs_finished_total",
			Help:      "Audit jobs that reached a terminal status.",
		}, []string{"status", "mode"}),
		StageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "ux_auditor",
			Name:      "stage_duration_seconds",
			Help:      "Wall time of pipeline stages.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}, []string{"stage"}),
		ExpertCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ux_auditor",
			Name:      "expert_calls_total",
			Help:      "Expert analyses by outcome.",
		}, []string{"expert", "outcome"}),
		AIAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ux_auditor",
			Name:      "ai_attempts_total",
			Help:      "Individual AI provider attempts by credential slot and outcome.",
		}, []string{"credential", "outcome"}),
		StaleSwept: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ux_auditor",
			Name:      "stale_jobs_swept_total",
			Help:      "Jobs failed by the stale-job sweep.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.JobsStarted, m.JobsFinished, m.StageDuration, m.ExpertCalls, m.AIAttempts, m.StaleSwept)
	}
	return m
}

// ObserveStage records how long a stage took since start.
func (m *Metrics) ObserveStage(stage string, start time.Time) {
	if m == nil {
		return
	}
	m.StageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}
