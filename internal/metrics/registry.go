// Package metrics owns the prometheus.Registry that subsystems register
// their collectors with, plus the HTTP endpoint that exposes it (spec.md
// §9, SPEC_FULL.md §4.2/§4.7). Through the db package only the Unified
// Cache registers; query metrics are built unregistered and the graph
// store exports none.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry wraps a prometheus.Registry pre-populated with the standard
// process and Go-runtime collectors, so every deployment gets baseline
// CPU/memory/GC visibility without each subsystem wiring it up itself.
type Registry struct {
	*prometheus.Registry
}

// NewRegistry builds a fresh registry with the standard collectors
// attached.
func NewRegistry() *Registry {
	r := prometheus.NewRegistry()
	r.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
	return &Registry{Registry: r}
}

// Handler returns an http.Handler serving this registry in the
// Prometheus text exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.Registry, promhttp.HandlerOpts{})
}

// Server is a minimal HTTP server exposing a Registry's /metrics
// endpoint, matching config.ServerConfig.MetricsAddr.
type Server struct {
	http *http.Server
}

// NewServer builds (but does not start) a metrics server bound to addr.
func NewServer(addr string, reg *Registry) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", reg.Handler())
	return &Server{http: &http.Server{Addr: addr, Handler: mux}}
}

// ListenAndServe blocks serving /metrics until the server errors or is
// shut down. http.ErrServerClosed is swallowed (expected on Shutdown).
func (s *Server) ListenAndServe() error {
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
