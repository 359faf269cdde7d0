// Package metrics provides Prometheus metrics for the DAPNET proxy.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Namespace is the Prometheus namespace for proxy metrics.
const Namespace = "dapnet_proxy"

// Forwarding directions.
const (
	ToBackend  = "to_backend"
	ToFrontend = "to_frontend"
)

// Profile state gauge values.
const (
	StateOffline    = 0
	StateConnecting = 1
	StateOnline     = 2
)

// Collector holds all Prometheus metrics for the DAPNET proxy.
type Collector struct {
	// Forwarding metrics
	FramesForwarded  *prometheus.CounterVec
	BytesForwarded   *prometheus.CounterVec
	FramesSuppressed *prometheus.CounterVec

	// Session metrics
	ActiveSessions  prometheus.Gauge
	TotalSessions   prometheus.Counter
	SessionDuration prometheus.Histogram

	// Keepalive metrics
	ProbesSent        *prometheus.CounterVec
	ProbeLatency      *prometheus.HistogramVec
	KeepaliveTimeouts *prometheus.CounterVec

	// Error metrics
	SessionFailures *prometheus.CounterVec
	FramingErrors   *prometheus.CounterVec

	// Lifecycle metrics
	Reconnects   *prometheus.CounterVec
	ProfileState *prometheus.GaugeVec
}

// NewCollector creates a new, unregistered metrics collector.
func NewCollector() *Collector {
	c := &Collector{
		FramesForwarded: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "frames_forwarded_total",
				Help:      "Total number of frames forwarded between peers",
			},
			[]string{"profile", "direction"}, // "to_backend" or "to_frontend"
		),
		BytesForwarded: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "bytes_forwarded_total",
				Help:      "Total wire bytes forwarded between peers",
			},
			[]string{"profile", "direction"},
		),
		FramesSuppressed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "frames_suppressed_total",
				Help:      "Total number of keepalive reply frames withheld from the frontend",
			},
			[]string{"profile"},
		),
		ActiveSessions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Name:      "active_sessions",
				Help:      "Number of currently active sessions",
			},
		),
		TotalSessions: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "sessions_total",
				Help:      "Total number of sessions established",
			},
		),
		SessionDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Name:      "session_duration_seconds",
				Help:      "Lifetime of established sessions in seconds",
				Buckets:   prometheus.ExponentialBuckets(1, 4, 10), // 1s to ~3d
			},
		),
		ProbesSent: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "keepalive_probes_total",
				Help:      "Total number of keepalive probes sent to the backend",
			},
			[]string{"profile"},
		),
		ProbeLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Name:      "keepalive_probe_latency_seconds",
				Help:      "Time from sending a probe to its confirmation in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.001, 2, 15), // 1ms to ~16s
			},
			[]string{"profile"},
		),
		KeepaliveTimeouts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "keepalive_timeouts_total",
				Help:      "Total number of sessions closed by an unanswered probe",
			},
			[]string{"profile"},
		),
		SessionFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "session_failures_total",
				Help:      "Total number of failed dials and lost sessions by failure class",
			},
			[]string{"profile", "class"}, // "unreachable", "lost", "internal"
		),
		FramingErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "framing_errors_total",
				Help:      "Total number of oversized frames",
			},
			[]string{"profile", "peer"},
		),
		Reconnects: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "reconnects_total",
				Help:      "Total number of scheduled reconnects",
			},
			[]string{"profile"},
		),
		ProfileState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Name:      "profile_state",
				Help:      "Profile state (0 = offline, 1 = connecting, 2 = online)",
			},
			[]string{"profile"},
		),
	}

	return c
}

// Register registers all metrics with the given registry.
func (c *Collector) Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		c.FramesForwarded,
		c.BytesForwarded,
		c.FramesSuppressed,
		c.ActiveSessions,
		c.TotalSessions,
		c.SessionDuration,
		c.ProbesSent,
		c.ProbeLatency,
		c.KeepaliveTimeouts,
		c.SessionFailures,
		c.FramingErrors,
		c.Reconnects,
		c.ProfileState,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			return err
		}
	}

	return nil
}

// MustRegister registers all metrics and panics on error.
func (c *Collector) MustRegister(reg prometheus.Registerer) {
	if err := c.Register(reg); err != nil {
		panic(err)
	}
}

// RecordFrameForwarded records a frame written to the peer.
func (c *Collector) RecordFrameForwarded(profile, direction string, bytes int) {
	c.FramesForwarded.WithLabelValues(profile, direction).Inc()
	c.BytesForwarded.WithLabelValues(profile, direction).Add(float64(bytes))
}

// RecordFrameSuppressed records a keepalive reply that was not forwarded.
func (c *Collector) RecordFrameSuppressed(profile string) {
	c.FramesSuppressed.WithLabelValues(profile).Inc()
}

// RecordSessionCreated records a new session.
func (c *Collector) RecordSessionCreated() {
	c.ActiveSessions.Inc()
	c.TotalSessions.Inc()
}

// RecordSessionClosed records a session closure and its lifetime.
func (c *Collector) RecordSessionClosed(lifetime time.Duration) {
	c.ActiveSessions.Dec()
	c.SessionDuration.Observe(lifetime.Seconds())
}

// RecordProbeSent records a keepalive probe.
func (c *Collector) RecordProbeSent(profile string) {
	c.ProbesSent.WithLabelValues(profile).Inc()
}

// RecordProbeConfirmed records the round trip of a confirmed probe.
func (c *Collector) RecordProbeConfirmed(profile string, latency time.Duration) {
	c.ProbeLatency.WithLabelValues(profile).Observe(latency.Seconds())
}

// RecordKeepaliveTimeout records a session closed by the keepalive machine.
func (c *Collector) RecordKeepaliveTimeout(profile string) {
	c.KeepaliveTimeouts.WithLabelValues(profile).Inc()
}

// RecordSessionFailure records a failed dial or a lost session by failure
// class.
func (c *Collector) RecordSessionFailure(profile, class string) {
	c.SessionFailures.WithLabelValues(profile, class).Inc()
}

// RecordFramingError records an oversized frame from peer.
func (c *Collector) RecordFramingError(profile, peer string) {
	c.FramingErrors.WithLabelValues(profile, peer).Inc()
}

// RecordReconnect records a scheduled reconnect.
func (c *Collector) RecordReconnect(profile string) {
	c.Reconnects.WithLabelValues(profile).Inc()
}

// SetProfileState sets the profile state gauge.
func (c *Collector) SetProfileState(profile string, state int) {
	c.ProfileState.WithLabelValues(profile).Set(float64(state))
}

// Server is an HTTP server that exposes Prometheus metrics.
type Server struct {
	server    *http.Server
	collector *Collector
	registry  *prometheus.Registry
	addr      string
}

// ServerConfig holds configuration for the metrics server.
type ServerConfig struct {
	Addr string
	Path string
}

// DefaultServerConfig returns a ServerConfig with sensible defaults.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Addr: ":9090",
		Path: "/metrics",
	}
}

// NewServer creates a metrics server exposing collector. A nil collector
// gets a fresh one.
func NewServer(config *ServerConfig, collector *Collector) *Server {
	if config == nil {
		config = DefaultServerConfig()
	}
	if collector == nil {
		collector = NewCollector()
	}

	registry := NewRegistry(collector)

	mux := http.NewServeMux()
	mux.Handle(config.Path, Handler(registry))

	return &Server{
		server: &http.Server{
			Addr:         config.Addr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
		collector: collector,
		registry:  registry,
		addr:      config.Addr,
	}
}

// NewRegistry returns a registry holding collector plus the Go runtime and
// process collectors.
func NewRegistry(collector *Collector) *prometheus.Registry {
	registry := prometheus.NewRegistry()
	collector.MustRegister(registry)
	registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	registry.MustRegister(prometheus.NewGoCollector())
	return registry
}

// Collector returns the metrics collector.
func (s *Server) Collector() *Collector {
	return s.collector
}

// Registry returns the Prometheus registry.
func (s *Server) Registry() *prometheus.Registry {
	return s.registry
}

// Start starts the metrics server.
func (s *Server) Start() error {
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the metrics server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Addr returns the server address.
func (s *Server) Addr() string {
	return s.addr
}

// Handler returns an HTTP handler for the metrics endpoint.
func Handler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
