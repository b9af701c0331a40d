// Package metrics serves the relay daemon's Prometheus registry over HTTP.
//
// The relay worker registers its counters (notices published, notices
// deleted) on a registry at startup; this server exposes that registry on
// /metrics for scraping, alongside the handler's own request counters.
package metrics

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server exposes a metrics registry on a single /metrics route.
type Server struct {
	srv *http.Server

	mu   sync.RWMutex
	addr net.Addr
}

// Config holds the listen address and timeouts of the metrics endpoint.
type Config struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// New creates a metrics server for the given registry. The scrape handler is
// instrumented against the same registry, so its request and in-flight
// counters appear next to the relay's own.
func New(cfg Config, reg *prometheus.Registry) *Server {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.InstrumentMetricHandler(reg,
		promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))

	return &Server{
		srv: &http.Server{
			Addr:         net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
			Handler:      mux,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
	}
}

// ListenAndServe binds the configured address and serves scrapes until
// Shutdown or Close.
func (s *Server) ListenAndServe() error {
	listener, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.addr = listener.Addr()
	s.mu.Unlock()

	return s.srv.Serve(listener)
}

// Shutdown stops the server, letting in-flight scrapes finish.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// Close stops the server immediately.
func (s *Server) Close() error {
	return s.srv.Close()
}

// Addr returns the bound address, or the empty string before ListenAndServe.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.addr == nil {
		return ""
	}
	return s.addr.String()
}
