package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var transactionsCounter = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "fep_pipeline_transactions_total",
	Help: "counter of completed pipeline runs, by transaction type and response code",
}, []string{"type", "code"})

var durationHistogram = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "fep_pipeline_duration_seconds",
	Help:    "histogram of end-to-end pipeline durations, by transaction type",
	Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
}, []string{"type"})

var panicsCounter = promauto.NewCounter(prometheus.CounterOpts{
	Name: "fep_pipeline_handler_panics_total",
	Help: "counter of recovered handler panics",
})

var cancellationsCounter = promauto.NewCounter(prometheus.CounterOpts{
	Name: "fep_pipeline_cancellations_total",
	Help: "counter of runs cut short by context cancellation",
})
