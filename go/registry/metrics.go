package registry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var configLoads = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "fep_registry_config_loads_total",
	Help: "counter of successful configuration loads, by document version",
}, []string{"version"})

var configReloadErrors = promauto.NewCounter(prometheus.CounterOpts{
	Name: "fep_registry_reload_errors_total",
	Help: "counter of failed configuration hot-reloads",
})

var bindingsGauge = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "fep_registry_bindings",
	Help: "current number of channel bindings held by the registry",
})

var profilesGauge = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "fep_registry_profiles",
	Help: "current number of connection profiles held by the registry",
})

func updateGauges(bindings, profiles int) {
	bindingsGauge.Set(float64(bindings))
	profilesGauge.Set(float64(profiles))
}
