package httpserver

import (
	"github.com/foxseedlab/streamscribe/internal/config"
	"github.com/foxseedlab/streamscribe/internal/metrics"
	"github.com/foxseedlab/streamscribe/internal/session"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/samber/do/v2"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (*Server, error) {
		c := do.MustInvoke[*config.Config](i)
		svc := do.MustInvoke[*session.Service](i)
		m := do.MustInvoke[*metrics.Metrics](i)
		reg := do.MustInvoke[*prometheus.Registry](i)
		return NewServer(c.HTTPAddress, svc, m, reg), nil
	})
}
