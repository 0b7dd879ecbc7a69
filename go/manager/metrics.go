package manager

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var reconcilesCounter = promauto.NewCounter(prometheus.CounterOpts{
	Name: "fep_manager_reconciles_total",
	Help: "counter of reconciliation passes against the registry",
})

var connectionsGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Name: "fep_manager_connections",
	Help: "current managed connections, by kind (client or server)",
}, []string{"kind"})
