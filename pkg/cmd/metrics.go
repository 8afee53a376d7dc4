package cmd

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/pseudomuto/schemalock/pkg/lock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// metricsServer exposes the lock metrics of a single CLI invocation on /metrics.
type metricsServer struct {
	registry *prometheus.Registry
	lock     *lock.Metrics
	listener net.Listener
	server   *http.Server
}

func newMetricsServer(addr string) (*metricsServer, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to listen on %s", addr)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	return &metricsServer{
		registry: reg,
		lock:     lock.NewMetrics(reg),
		listener: ln,
		server: &http.Server{
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}, nil
}

// Addr is the address the server is listening on.
func (m *metricsServer) Addr() string {
	return m.listener.Addr().String()
}

func (m *metricsServer) serve() {
	if err := m.server.Serve(m.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Metrics server stopped", "err", err)
	}
}

func (e *Env) startMetrics() error {
	if e.Config == nil || e.Config.Metrics.Addr == "" || e.metrics != nil {
		return nil
	}

	srv, err := newMetricsServer(e.Config.Metrics.Addr)
	if err != nil {
		return err
	}

	e.metrics = srv
	go srv.serve()

	slog.Info("Serving metrics", "addr", srv.Addr())
	return nil
}

func (e *Env) stopMetrics(ctx context.Context) error {
	if e.metrics == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	srv := e.metrics
	e.metrics = nil
	return errors.Wrap(srv.server.Shutdown(ctx), "failed to stop metrics server")
}
