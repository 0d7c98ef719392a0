package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
)

// mount registers /metrics on the admin mux the health module already
// serves /livez, /readyz, and /healthz from.
func mount(mux *http.ServeMux) {
	mux.Handle("/metrics", promhttp.HandlerFor(Registry, promhttp.HandlerOpts{}))
}

func Module() fx.Option {
	return fx.Module("metrics",
		fx.Invoke(mount),
	)
}
