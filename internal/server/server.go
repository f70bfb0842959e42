// Package server assembles the coordinator's HTTP surface.
package server

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kabir325/fogpool/internal/api"
	"github.com/kabir325/fogpool/internal/config"
	"github.com/kabir325/fogpool/internal/ctrl"
	"github.com/kabir325/fogpool/internal/engine"
)

// Deps are the components served by New. MCP and Gatherer are optional.
type Deps struct {
	Engine   *engine.Engine
	Hub      *ctrl.Hub
	MCP      http.Handler
	Gatherer prometheus.Gatherer
}

// New constructs the HTTP handler for the server. /metrics is only served
// here when the metrics address is the API port.
func New(cfg config.ServerConfig, d Deps) http.Handler {
	r := chi.NewRouter()
	if len(cfg.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: cfg.AllowedOrigins,
			AllowedMethods: []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"*"},
		}))
	}
	for _, m := range api.MiddlewareChain() {
		r.Use(m)
	}

	impl := &api.API{Engine: d.Engine}
	r.Get("/healthz", impl.GetHealthz)
	r.Get("/state", StatusHandler())

	ar := api.NewRouter(d.Engine, api.Options{APIKey: cfg.APIKey})
	ar.Get("/ws", ctrl.WSHandler(d.Hub, d.Engine, ctrl.HandlerOptions{ClientKey: cfg.ClientKey}))
	r.Mount("/api", ar)

	if d.MCP != nil {
		r.Handle("/mcp", api.APIKeyMiddleware(cfg.APIKey)(d.MCP))
	}
	if d.Gatherer != nil && MetricsOnAPIPort(cfg) {
		r.Handle("/metrics", promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{}))
	}
	return r
}

// MetricsOnAPIPort reports whether metrics share the API listener.
func MetricsOnAPIPort(cfg config.ServerConfig) bool {
	return cfg.MetricsAddr == "" || cfg.MetricsAddr == fmt.Sprintf(":%d", cfg.Port)
}
