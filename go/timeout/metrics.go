package timeout

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var trackedGauge = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "fep_timeout_tracked",
	Help: "current transactions under deadline tracking",
})

var warningsCounter = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "fep_timeout_warnings_total",
	Help: "counter of warning-threshold crossings, by transaction type",
}, []string{"type"})

var expirationsCounter = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "fep_timeout_expirations_total",
	Help: "counter of expired transactions, by transaction type",
}, []string{"type"})

var completionsCounter = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "fep_timeout_completions_total",
	Help: "counter of transactions completed before their deadline, by transaction type",
}, []string{"type"})
