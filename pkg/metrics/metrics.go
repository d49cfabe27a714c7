package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors for a review session.
type Metrics struct {
	Fetches       *prometheus.CounterVec
	FetchDuration prometheus.Histogram
	RowsSkipped   prometheus.Counter
	Classified    *prometheus.CounterVec

	Submissions   *prometheus.CounterVec
	RemoteWrites  *prometheus.CounterVec
	WriteAttempts prometheus.Histogram
	WriteDuration prometheus.Histogram
}

// New registers all collectors on registry.
func New(registry prometheus.Registerer) *Metrics {
	factory := promauto.With(registry)

	return &Metrics{
		Fetches: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reverify_fetches_total",
				Help: "Total number of sheet fetches",
			},
			[]string{"success"},
		),
		FetchDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "reverify_fetch_duration_seconds",
				Help:    "Sheet fetch duration in seconds",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
		),
		RowsSkipped: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "reverify_rows_skipped_total",
				Help: "Rows dropped because their shape was not recognized",
			},
		),
		Classified: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reverify_rows_classified_total",
				Help: "Rows classified per bucket",
			},
			[]string{"bucket"},
		),

		Submissions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reverify_submissions_total",
				Help: "Submit attempts by result",
			},
			[]string{"result"},
		),
		RemoteWrites: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reverify_remote_writes_total",
				Help: "Background sheet writes by outcome",
			},
			[]string{"success"},
		),
		WriteAttempts: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "reverify_remote_write_attempts",
				Help:    "Attempts needed per background write",
				Buckets: []float64{1, 2, 3, 5, 8},
			},
		),
		WriteDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "reverify_remote_write_duration_seconds",
				Help:    "Background write duration in seconds, retries included",
				Buckets: prometheus.DefBuckets,
			},
		),
	}
}

// Nop returns collectors registered on a throwaway registry.
func Nop() *Metrics {
	return New(prometheus.NewRegistry())
}
