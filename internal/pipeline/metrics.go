package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the Prometheus collectors for plan generation. A nil *Metrics
// records nothing.
type Metrics struct {
	runs          *prometheus.CounterVec
	fragments     prometheus.Counter
	fragmentBytes prometheus.Counter
	parseAttempts *prometheus.CounterVec
	duration      *prometheus.HistogramVec
	inflight      prometheus.Gauge
}

// NewMetrics registers the collectors on reg. A nil reg builds unregistered
// collectors, which is what tests use.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		runs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chatplan",
			Name:      "plan_runs_total",
			Help:      "Plan generation runs by terminal outcome.",
		}, []string{"outcome"}),
		fragments: f.NewCounter(prometheus.CounterOpts{
			Namespace: "chatplan",
			Name:      "plan_fragments_total",
			Help:      "Model output fragments consumed by the reconstructor.",
		}),
		fragmentBytes: f.NewCounter(prometheus.CounterOpts{
			Namespace: "chatplan",
			Name:      "plan_fragment_bytes_total",
			Help:      "Bytes of model output consumed by the reconstructor.",
		}),
		parseAttempts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chatplan",
			Name:      "plan_parse_attempts_total",
			Help:      "Whole-buffer JSON parse attempts by result.",
		}, []string{"result"}),
		duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "chatplan",
			Name:      "plan_run_duration_seconds",
			Help:      "Wall time from request start to terminal state.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30, 60, 120},
		}, []string{"outcome"}),
		inflight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "chatplan",
			Name:      "plan_runs_inflight",
			Help:      "Runs currently streaming.",
		}),
	}
}

func (m *Metrics) runStarted() {
	if m == nil {
		return
	}
	m.inflight.Inc()
}

func (m *Metrics) runFinished(o Outcome, seconds float64) {
	if m == nil {
		return
	}
	m.inflight.Dec()
	m.runs.WithLabelValues(string(o)).Inc()
	m.duration.WithLabelValues(string(o)).Observe(seconds)
}

// runObserver feeds reconstructor progress into the collectors and keeps a
// per-run fragment count for the run log.
type runObserver struct {
	m         *Metrics
	fragments int
}

func (o *runObserver) Fragment(size int) {
	o.fragments++
	if o.m == nil {
		return
	}
	o.m.fragments.Inc()
	o.m.fragmentBytes.Add(float64(size))
}

func (o *runObserver) ParseAttempt(ok bool) {
	if o.m == nil {
		return
	}
	result := "incomplete"
	if ok {
		result = "parsed"
	}
	o.m.parseAttempts.WithLabelValues(result).Inc()
}
