// Package metrics exposes lifecycle counters over Prometheus. The
// collector owns its registry so tests can create as many as they
// like without collisions.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector tracks mount-session lifecycle metrics.
type Collector struct {
	registry *prometheus.Registry

	mountState           prometheus.Gauge
	mountsTotal          prometheus.Counter
	unmountsTotal        prometheus.Counter
	unmountErrorsTotal   prometheus.Counter
	readinessConnections prometheus.Counter
	shutdownsTotal       *prometheus.CounterVec

	server *http.Server
}

// Shutdown causes recorded by RecordShutdown.
const (
	CauseSignal      = "signal"
	CauseServeEnded  = "serve_ended"
	CauseBindFailure = "bind_failure"
)

// NewCollector creates a collector with all metrics registered.
func NewCollector() *Collector {
	registry := prometheus.NewRegistry()

	c := &Collector{
		registry: registry,
		mountState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "driftfs",
			Name:      "mount_state",
			Help:      "1 while the filesystem is mounted, 0 otherwise.",
		}),
		mountsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "driftfs",
			Name:      "mounts_total",
			Help:      "Number of successful mount operations.",
		}),
		unmountsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "driftfs",
			Name:      "unmounts_total",
			Help:      "Number of release (unmount) attempts.",
		}),
		unmountErrorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "driftfs",
			Name:      "unmount_errors_total",
			Help:      "Number of release attempts that reported an error.",
		}),
		readinessConnections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "driftfs",
			Name:      "readiness_connections_total",
			Help:      "Connections accepted on the readiness socket.",
		}),
		shutdownsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "driftfs",
			Name:      "shutdowns_total",
			Help:      "Shutdown transitions by cause.",
		}, []string{"cause"}),
	}

	registry.MustRegister(
		c.mountState,
		c.mountsTotal,
		c.unmountsTotal,
		c.unmountErrorsTotal,
		c.readinessConnections,
		c.shutdownsTotal,
	)
	return c
}

// RecordMounted marks the filesystem as mounted.
func (c *Collector) RecordMounted() {
	c.mountState.Set(1)
	c.mountsTotal.Inc()
}

// RecordUnmount records a release attempt and its outcome.
func (c *Collector) RecordUnmount(err error) {
	c.mountState.Set(0)
	c.unmountsTotal.Inc()
	if err != nil {
		c.unmountErrorsTotal.Inc()
	}
}

// RecordReadinessConnection counts one accepted readiness connection.
func (c *Collector) RecordReadinessConnection() {
	c.readinessConnections.Inc()
}

// RecordShutdown records which event drove the shutdown transition.
func (c *Collector) RecordShutdown(cause string) {
	c.shutdownsTotal.WithLabelValues(cause).Inc()
}

// Registry returns the collector's registry, for tests and embedding.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Serve exposes /metrics on addr until the context is cancelled.
// Returns immediately after starting the server goroutine.
func (c *Collector) Serve(ctx context.Context, addr string, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{}))

	c.server = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("metrics server listening", "addr", addr)
		if err := c.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "error", err)
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = c.server.Shutdown(shutdownCtx)
	}()
}
