package dedup

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var duplicatesCounter = promauto.NewCounter(prometheus.CounterOpts{
	Name: "fep_dedup_duplicates_total",
	Help: "counter of rejected duplicate transmissions",
})
