package export

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/pprof"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

const namespace = "statmirror"

// HealthConfig configures the Prometheus health metrics server.
type HealthConfig struct {
	// Addr is the listen address for the health metrics server.
	// Defaults to ":9090".
	Addr string `yaml:"addr"`
}

// HealthMetrics exposes Prometheus metrics for the mirror and serves them.
type HealthMetrics struct {
	log      logrus.FieldLogger
	addr     string
	server   *http.Server
	listener net.Listener
	registry *prometheus.Registry

	// Cache
	CacheEntries  prometheus.Gauge
	OnlinePlayers prometheus.Gauge
	NamesIndexed  prometheus.Gauge

	// Refresher
	RefreshTotal      *prometheus.CounterVec   // trigger, outcome
	RefreshDuration   *prometheus.HistogramVec // trigger
	CycleDuration     prometheus.Histogram
	PreloadDuration   prometheus.Gauge
	PreloadLoaded     prometheus.Gauge
	HostEventsTotal   *prometheus.CounterVec // type
	HostEventsDropped prometheus.Counter

	// Query API
	HTTPRequestsTotal   *prometheus.CounterVec   // route, code
	HTTPRequestDuration *prometheus.HistogramVec // route
	HTTPInFlight        prometheus.Gauge
	HTTPQueued          prometheus.Gauge

	// Host bridge
	BridgeConnections prometheus.Gauge
	BridgeMessages    *prometheus.CounterVec // type, status

	// History export
	HistoryRowsExported  *prometheus.CounterVec   // sink
	HistoryExportErrors  *prometheus.CounterVec   // sink, error_type
	HistoryFlushDuration *prometheus.HistogramVec // sink

	running atomic.Bool
}

// NewHealthMetrics creates a new health metrics server.
func NewHealthMetrics(
	log logrus.FieldLogger,
	cfg HealthConfig,
) *HealthMetrics {
	reg := prometheus.NewRegistry()

	h := &HealthMetrics{
		log:      log.WithField("component", "health"),
		addr:     cfg.Addr,
		registry: reg,

		CacheEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cache_entries",
			Help:      "Number of players with a cached stats document.",
		}),
		OnlinePlayers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "online_players",
			Help:      "Number of players currently reported online.",
		}),
		NamesIndexed: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "names_indexed",
			Help:      "Number of player names in the name index.",
		}),

		RefreshTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "refresh_total",
				Help:      "Document refreshes by trigger and outcome.",
			},
			[]string{"trigger", "outcome"},
		),
		RefreshDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "refresh_duration_seconds",
				Help:      "Time to fetch and store a single document by trigger.",
				Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1}, // 100us-100ms
			},
			[]string{"trigger"},
		),
		CycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "refresh_cycle_duration_seconds",
			Help:      "Time to refresh every online player.",
			Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}),
		PreloadDuration: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "preload_duration_seconds",
			Help:      "Duration of the startup preload.",
		}),
		PreloadLoaded: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "preload_loaded",
			Help:      "Number of documents loaded by the startup preload.",
		}),
		HostEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "host_events_total",
				Help:      "Join/leave notifications received from the host.",
			},
			[]string{"type"},
		),
		HostEventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "host_events_dropped_total",
			Help:      "Host notifications dropped because the event queue was full.",
		}),

		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Query API requests by route and status code.",
			},
			[]string{"route", "code"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "Query API request duration by route.",
				Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
			},
			[]string{"route"},
		),
		HTTPInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "http_requests_in_flight",
			Help:      "Query API requests currently holding a worker slot.",
		}),
		HTTPQueued: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "http_requests_queued",
			Help:      "Query API requests waiting for a worker slot.",
		}),

		BridgeConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "bridge_connections",
			Help:      "Open host bridge websocket connections.",
		}),
		BridgeMessages: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "bridge_messages_total",
				Help:      "Host bridge messages by type and status.",
			},
			[]string{"type", "status"},
		),

		HistoryRowsExported: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "history_rows_exported_total",
				Help:      "Snapshot rows exported by sink.",
			},
			[]string{"sink"},
		),
		HistoryExportErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "history_export_errors_total",
				Help:      "Snapshot export errors by sink and error type.",
			},
			[]string{"sink", "error_type"},
		),
		HistoryFlushDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "history_flush_duration_seconds",
				Help:      "Time to flush a snapshot batch by sink.",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1}, // 1ms-1s
			},
			[]string{"sink"},
		),
	}

	reg.MustRegister(
		h.CacheEntries,
		h.OnlinePlayers,
		h.NamesIndexed,
	)

	reg.MustRegister(
		h.RefreshTotal,
		h.RefreshDuration,
		h.CycleDuration,
		h.PreloadDuration,
		h.PreloadLoaded,
		h.HostEventsTotal,
		h.HostEventsDropped,
	)

	reg.MustRegister(
		h.HTTPRequestsTotal,
		h.HTTPRequestDuration,
		h.HTTPInFlight,
		h.HTTPQueued,
	)

	reg.MustRegister(
		h.BridgeConnections,
		h.BridgeMessages,
		h.HistoryRowsExported,
		h.HistoryExportErrors,
		h.HistoryFlushDuration,
	)

	return h
}

// Start begins serving the /metrics endpoint.
func (h *HealthMetrics) Start(_ context.Context) error {
	if h.addr == "" {
		h.addr = ":9090"
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(
		h.registry,
		promhttp.HandlerOpts{},
	))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "ok")
	})

	// pprof endpoints for CPU/memory profiling.
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	ln, err := net.Listen("tcp", h.addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", h.addr, err)
	}

	h.listener = ln

	h.server = &http.Server{
		Handler: mux,
	}

	h.running.Store(true)

	go func() {
		h.log.WithField("addr", ln.Addr().String()).
			Info("Health metrics server started")

		if err := h.server.Serve(ln); err != nil &&
			err != http.ErrServerClosed {
			h.log.WithError(err).
				Error("Health metrics server error")
		}

		h.running.Store(false)
	}()

	return nil
}

// Registry returns the registry the metrics are registered with.
func (h *HealthMetrics) Registry() *prometheus.Registry {
	return h.registry
}

// Addr returns the actual listener address. Useful when started
// with ":0" to get the OS-assigned port.
func (h *HealthMetrics) Addr() string {
	if h.listener != nil {
		return h.listener.Addr().String()
	}

	return h.addr
}

// Stop gracefully shuts down the health metrics server.
func (h *HealthMetrics) Stop() error {
	if h.server == nil {
		return nil
	}

	return h.server.Close()
}
