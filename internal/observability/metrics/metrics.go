// Package metrics exposes Prometheus instrumentation for the messaging
// pipeline. All methods are nil-receiver safe so callers can run without
// metrics wired.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// PipelineMetrics exposes counters/histograms for the queue workers and the
// reply generator.
type PipelineMetrics struct {
	jobsTotal      *prometheus.CounterVec
	jobLatency     *prometheus.HistogramVec
	modelLatency   *prometheus.HistogramVec
	episodesClosed *prometheus.CounterVec
}

func NewPipelineMetrics(reg prometheus.Registerer) *PipelineMetrics {
	m := &PipelineMetrics{
		jobsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sanamente",
			Subsystem: "pipeline",
			Name:      "jobs_total",
			Help:      "Total queue jobs by queue and outcome",
		}, []string{"queue", "outcome"}),
		jobLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "sanamente",
			Subsystem: "pipeline",
			Name:      "job_latency_seconds",
			Help:      "Latency of queue job handling",
			Buckets:   prometheus.DefBuckets,
		}, []string{"queue"}),
		modelLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "sanamente",
			Subsystem: "pipeline",
			Name:      "model_latency_seconds",
			Help:      "Latency of model completion calls",
			Buckets:   []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32},
		}, []string{"model"}),
		episodesClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sanamente",
			Subsystem: "pipeline",
			Name:      "episodes_closed_total",
			Help:      "Total AI episodes closed by reason",
		}, []string{"reason"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.jobsTotal, m.jobLatency, m.modelLatency, m.episodesClosed)
	return m
}

// ObserveJob records one handled queue job.
func (m *PipelineMetrics) ObserveJob(queue, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.jobsTotal.WithLabelValues(queue, outcome).Inc()
	m.jobLatency.WithLabelValues(queue).Observe(seconds)
}

// ObserveModelLatency records one model completion call.
func (m *PipelineMetrics) ObserveModelLatency(model string, seconds float64) {
	if m == nil {
		return
	}
	m.modelLatency.WithLabelValues(model).Observe(seconds)
}

// ObserveEpisodeClosed records a terminal episode state.
func (m *PipelineMetrics) ObserveEpisodeClosed(reason string) {
	if m == nil {
		return
	}
	m.episodesClosed.WithLabelValues(reason).Inc()
}
