package metrics

import (
	"net/http"
	"time"

	"github.com/3-lines-studio/ingot"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder exports evaluation metrics to Prometheus. It implements
// ingot.MetricsRecorder.
type Recorder struct {
	gatherer prometheus.Gatherer

	evalTotal    *prometheus.CounterVec
	evalDuration *prometheus.HistogramVec
	evalBytes    *prometheus.HistogramVec
}

// NewRecorder registers the ingot collectors on reg. A nil reg uses a fresh
// registry.
func NewRecorder(reg *prometheus.Registry) *Recorder {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	return &Recorder{
		gatherer: reg,
		evalTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingot_eval_total",
				Help: "Total number of JavaScript evaluations",
			},
			[]string{"source", "outcome"},
		),
		evalDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ingot_eval_duration_seconds",
				Help:    "JavaScript evaluation duration in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"source"},
		),
		evalBytes: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ingot_eval_code_bytes",
				Help:    "Size of evaluated JavaScript in bytes",
				Buckets: prometheus.ExponentialBuckets(256, 4, 8),
			},
			[]string{"source"},
		),
	}
}

func (r *Recorder) RecordEval(source string, duration time.Duration, outcome ingot.EvalOutcome, codeBytes int) {
	r.evalTotal.WithLabelValues(source, string(outcome)).Inc()
	r.evalDuration.WithLabelValues(source).Observe(duration.Seconds())
	r.evalBytes.WithLabelValues(source).Observe(float64(codeBytes))
}

func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.gatherer, promhttp.HandlerOpts{})
}
