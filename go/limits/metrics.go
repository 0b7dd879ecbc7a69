package limits

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var breachesCounter = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "fep_limits_breaches_total",
	Help: "counter of declined limit checks, by transaction type and reason",
}, []string{"type", "reason"})

var reversalsCounter = promauto.NewCounter(prometheus.CounterOpts{
	Name: "fep_limits_reversals_total",
	Help: "counter of reversed usage recordings",
})
