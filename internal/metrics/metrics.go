// Package metrics exposes Prometheus instruments for the profiling,
// extraction, validation and import passes.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ProfileRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "xml_profiler_profile_runs_total",
		Help: "Profiling passes by result",
	}, []string{"result"})

	ProfileElements = promauto.NewCounter(prometheus.CounterOpts{
		Name: "xml_profiler_profile_elements_total",
		Help: "Start elements read by profiling passes",
	})

	RecordsExtracted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "xml_profiler_records_extracted_total",
		Help: "Records emitted by the extractor",
	})

	RecordsValidated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "xml_profiler_records_validated_total",
		Help: "Records validated by outcome",
	}, []string{"result"})

	ValidationProblems = promauto.NewCounter(prometheus.CounterOpts{
		Name: "xml_profiler_validation_problems_total",
		Help: "Problems reported by the record validator",
	})

	NormalizeRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "xml_profiler_normalize_runs_total",
		Help: "Normalization runs by result",
	}, []string{"result"})

	ImportBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "xml_profiler_import_bytes_total",
		Help: "Uncompressed source bytes imported into data sets",
	})

	PassDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "xml_profiler_pass_duration_seconds",
		Help:    "Duration of completed passes",
		Buckets: []float64{0.01, 0.1, 1, 10, 60, 300, 1800},
	}, []string{"pass"})
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
