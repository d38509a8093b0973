package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the detection engine. All methods are
// nil-safe so wiring metrics stays optional.
type Metrics struct {
	JobsTotal       *prometheus.CounterVec
	JobDuration     prometheus.Histogram
	DetectionsTotal *prometheus.CounterVec
	CandidatesTotal prometheus.Counter
	InputSkips      prometheus.Counter
}

// New registers and returns the engine metrics.
func New() *Metrics {
	return &Metrics{
		JobsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "conflict_engine_jobs_total",
			Help: "Detection jobs by result",
		}, []string{"result"}), // result: "ok", "noop", "error", "cancelled"

		JobDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "conflict_engine_job_duration_seconds",
			Help:    "Duration of one per-bill detection job",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),

		DetectionsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "conflict_engine_detections_total",
			Help: "Detections written by recommendation tier",
		}, []string{"tier"}),

		CandidatesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "conflict_engine_candidates_total",
			Help: "Candidate pairs produced by the matcher",
		}),

		InputSkips: promauto.NewCounter(prometheus.CounterOpts{
			Name: "conflict_engine_input_skips_total",
			Help: "Malformed input records skipped during detection",
		}),
	}
}

// ObserveJob records a finished job.
func (m *Metrics) ObserveJob(result string, d time.Duration) {
	if m != nil {
		m.JobsTotal.WithLabelValues(result).Inc()
		m.JobDuration.Observe(d.Seconds())
	}
}

// CountDetection records one written detection.
func (m *Metrics) CountDetection(tier string) {
	if m != nil {
		m.DetectionsTotal.WithLabelValues(tier).Inc()
	}
}

// CountCandidates records matcher output volume.
func (m *Metrics) CountCandidates(n int) {
	if m != nil {
		m.CandidatesTotal.Add(float64(n))
	}
}

// CountInputSkip records one skipped malformed record.
func (m *Metrics) CountInputSkip() {
	if m != nil {
		m.InputSkips.Inc()
	}
}
