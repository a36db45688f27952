// Package metrics exposes import runs to Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/JonMunkholm/rowimport/internal/core"
	"github.com/JonMunkholm/rowimport/internal/importer"
)

const namespace = "rowimport"

// Recorder implements core.Observer.
type Recorder struct {
	gatherer prometheus.Gatherer

	runsTotal     *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec
	rowsTotal     *prometheus.CounterVec
	chunksTotal   *prometheus.CounterVec
	recordsTotal  *prometheus.CounterVec
	fallbackTotal *prometheus.CounterVec
	circuitOpen   *prometheus.CounterVec
}

// New registers the import metrics with reg. A nil reg uses the default
// registry.
func New(reg *prometheus.Registry) *Recorder {
	var (
		registerer prometheus.Registerer = prometheus.DefaultRegisterer
		gatherer   prometheus.Gatherer   = prometheus.DefaultGatherer
	)
	if reg != nil {
		registerer, gatherer = reg, reg
	}
	factory := promauto.With(registerer)

	return &Recorder{
		gatherer: gatherer,
		runsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Finished import runs.",
		}, []string{"profile", "status"}),
		runDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of finished import runs.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
		}, []string{"profile"}),
		rowsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_total",
			Help:      "Primary rows by final status.",
		}, []string{"profile", "status"}),
		chunksTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_total",
			Help:      "Committed chunks per step.",
		}, []string{"profile", "step"}),
		recordsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_total",
			Help:      "Records handed to commit functions, by result.",
		}, []string{"profile", "step", "result"}),
		fallbackTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fallback_chunks_total",
			Help:      "Chunks whose batch commit failed and were retried per record.",
		}, []string{"profile", "step"}),
		circuitOpen: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "circuit_open_chunks_total",
			Help:      "Chunks reported while the step's circuit breaker was open.",
		}, []string{"profile", "step"}),
	}
}

// ObserveEvent counts chunk events. Phase changes are ignored.
func (r *Recorder) ObserveEvent(profile string, e importer.Event) {
	if e.Chunk < 0 {
		return
	}
	r.chunksTotal.WithLabelValues(profile, e.Step).Inc()
	r.recordsTotal.WithLabelValues(profile, e.Step, "ok").Add(float64(e.Records - e.Failed))
	r.recordsTotal.WithLabelValues(profile, e.Step, "failed").Add(float64(e.Failed))
	if e.Fallback {
		r.fallbackTotal.WithLabelValues(profile, e.Step).Inc()
	}
	if e.CircuitOpen {
		r.circuitOpen.WithLabelValues(profile, e.Step).Inc()
	}
}

// ObserveRun records the outcome of a finished run.
func (r *Recorder) ObserveRun(res *core.RunResult) {
	r.runsTotal.WithLabelValues(res.Profile, res.Status()).Inc()
	r.runDuration.WithLabelValues(res.Profile).Observe(res.Duration.Seconds())

	counts := res.Summary.Rows
	r.rowsTotal.WithLabelValues(res.Profile, "done").Add(float64(counts.Done))
	r.rowsTotal.WithLabelValues(res.Profile, "error").Add(float64(counts.Error))
	r.rowsTotal.WithLabelValues(res.Profile, "duplicate").Add(float64(counts.Duplicates))
}

// Handler serves the registry in the Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.gatherer, promhttp.HandlerOpts{})
}

var _ core.Observer = (*Recorder)(nil)
