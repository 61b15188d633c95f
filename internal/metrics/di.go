package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/samber/do/v2"
)

// RegisterDI provides a dedicated registry carrying the Go runtime and
// process collectors next to the service collectors.
func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(_ do.Injector) (*prometheus.Registry, error) {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		return reg, nil
	})
	do.Provide(injector, func(i do.Injector) (*Metrics, error) {
		reg := do.MustInvoke[*prometheus.Registry](i)
		return NewMetrics(reg), nil
	})
}
