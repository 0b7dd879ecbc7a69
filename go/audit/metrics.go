package audit

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var recordsCounter = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "fep_audit_records_total",
	Help: "counter of persisted audit records, by final status",
}, []string{"status"})

var publishErrors = promauto.NewCounter(prometheus.CounterOpts{
	Name: "fep_audit_publish_errors_total",
	Help: "counter of failed audit stream publications",
})
