package process

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var processedCounter = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "fep_process_completed_total",
	Help: "counter of processor template runs completed without decline, by type",
}, []string{"type"})
