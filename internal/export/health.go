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

// HealthConfig configures the Prometheus health metrics server.
type HealthConfig struct {
	// Addr is the listen address for the health metrics server.
	// Defaults to ":9090".
	Addr string `yaml:"addr"`
}

// HealthMetrics exposes Prometheus metrics for profiler health.
type HealthMetrics struct {
	log      logrus.FieldLogger
	addr     string
	server   *http.Server
	listener net.Listener
	registry *prometheus.Registry

	// Session layer.
	SessionsActive  prometheus.Gauge
	SessionsEnabled prometheus.Counter
	SessionsFailed  prometheus.Counter

	// Collection layer.
	LaunchesObserved prometheus.Counter
	CorrelationDrops prometheus.Counter
	RangesDecoded    prometheus.Counter
	RecordsDecoded   prometheus.Counter
	DriverErrors     *prometheus.CounterVec // op

	// Activity layer.
	BuffersRequested prometheus.Counter
	BuffersCompleted prometheus.Counter
	BuffersDropped   prometheus.Counter
	ActivityRecords  prometheus.Counter

	// Export layer.
	ExportErrors        prometheus.Counter
	ExportBatchErrors   *prometheus.CounterVec   // sink, error_type
	ClickHouseConnected *prometheus.GaugeVec     // sink
	SinkFlushDuration   *prometheus.HistogramVec // sink
	SinkBatchSize       *prometheus.HistogramVec // sink
	SinkChannelLength   *prometheus.GaugeVec     // sink
	SinkChannelCapacity *prometheus.GaugeVec     // sink
	SinkRowsProcessed   *prometheus.CounterVec   // sink

	// Device layer.
	DevicesRegistered prometheus.Gauge
	MetricsConfigured prometheus.Gauge

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

		SessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "gpucounters",
			Name:      "sessions_active",
			Help:      "Number of contexts with a live profiling session.",
		}),
		SessionsEnabled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gpucounters",
			Name:      "sessions_enabled_total",
			Help:      "Total profiling sessions enabled.",
		}),
		SessionsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gpucounters",
			Name:      "sessions_failed_total",
			Help:      "Total sessions force-disabled by driver failures.",
		}),

		LaunchesObserved: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gpucounters",
			Name:      "launches_observed_total",
			Help:      "Total kernel launches intercepted.",
		}),
		CorrelationDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gpucounters",
			Name:      "correlation_drops_total",
			Help:      "Total launch records dropped on correlation queue overflow.",
		}),
		RangesDecoded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gpucounters",
			Name:      "ranges_decoded_total",
			Help:      "Total ranges decoded from counter data.",
		}),
		RecordsDecoded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gpucounters",
			Name:      "records_decoded_total",
			Help:      "Total raw counter records decoded.",
		}),
		DriverErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "gpucounters",
				Name:      "driver_errors_total",
				Help:      "Total driver errors by operation.",
			},
			[]string{"op"},
		),

		BuffersRequested: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gpucounters",
			Name:      "activity_buffers_requested_total",
			Help:      "Total activity buffers handed to the driver.",
		}),
		BuffersCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gpucounters",
			Name:      "activity_buffers_completed_total",
			Help:      "Total activity buffers returned by the driver.",
		}),
		BuffersDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gpucounters",
			Name:      "activity_buffers_dropped_total",
			Help:      "Total buffer requests refused for pool exhaustion.",
		}),
		ActivityRecords: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gpucounters",
			Name:      "activity_records_total",
			Help:      "Total kernel activity records parsed.",
		}),

		ExportErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gpucounters",
			Name:      "export_errors_total",
			Help:      "Total export errors across all sinks.",
		}),
		ExportBatchErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "gpucounters",
				Name:      "export_batch_errors_total",
				Help:      "Total export batch errors by sink and error type.",
			},
			[]string{"sink", "error_type"},
		),
		ClickHouseConnected: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "gpucounters",
				Name:      "clickhouse_connected",
				Help:      "Whether ClickHouse connection is established (1=yes, 0=no).",
			},
			[]string{"sink"},
		),
		SinkFlushDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "gpucounters",
				Name:      "sink_flush_duration_seconds",
				Help:      "Time to flush a batch by sink.",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1}, // 1ms-1s
			},
			[]string{"sink"},
		),
		SinkBatchSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "gpucounters",
				Name:      "sink_batch_size",
				Help:      "Number of rows per batch flush by sink.",
				Buckets:   []float64{10, 50, 100, 500, 1000, 5000, 10000},
			},
			[]string{"sink"},
		),
		SinkChannelLength: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "gpucounters",
				Name:      "sink_channel_length",
				Help:      "Current number of rows in sink channel.",
			},
			[]string{"sink"},
		),
		SinkChannelCapacity: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "gpucounters",
				Name:      "sink_channel_capacity",
				Help:      "Capacity of sink row channel.",
			},
			[]string{"sink"},
		),
		SinkRowsProcessed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "gpucounters",
				Name:      "sink_rows_processed_total",
				Help:      "Total rows processed by sink.",
			},
			[]string{"sink"},
		),

		DevicesRegistered: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "gpucounters",
			Name:      "devices_registered",
			Help:      "Number of devices with cached attributes.",
		}),
		MetricsConfigured: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "gpucounters",
			Name:      "metrics_configured",
			Help:      "Number of counter metrics in the active configuration.",
		}),
	}

	reg.MustRegister(
		h.SessionsActive,
		h.SessionsEnabled,
		h.SessionsFailed,
		h.LaunchesObserved,
		h.CorrelationDrops,
		h.RangesDecoded,
		h.RecordsDecoded,
		h.DriverErrors,
	)

	reg.MustRegister(
		h.BuffersRequested,
		h.BuffersCompleted,
		h.BuffersDropped,
		h.ActivityRecords,
	)

	reg.MustRegister(
		h.ExportErrors,
		h.ExportBatchErrors,
		h.ClickHouseConnected,
		h.SinkFlushDuration,
		h.SinkBatchSize,
		h.SinkChannelLength,
		h.SinkChannelCapacity,
		h.SinkRowsProcessed,
	)

	reg.MustRegister(
		h.DevicesRegistered,
		h.MetricsConfigured,
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
