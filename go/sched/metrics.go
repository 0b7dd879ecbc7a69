package sched

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var schedulesCreated = promauto.NewCounter(prometheus.CounterOpts{
	Name: "fep_sched_created_total",
	Help: "counter of created scheduled transfers",
})

var executionsCounter = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "fep_sched_executions_total",
	Help: "counter of swept schedule executions, by response code",
}, []string{"code"})
