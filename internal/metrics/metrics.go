package metrics

import (
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	// Ingest metrics
	SessionsRecorded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adherence_sessions_recorded_total",
			Help: "Total usage sessions recorded",
		},
		[]string{"time_of_day"},
	)

	UsageMinutesRecorded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adherence_usage_minutes_recorded_total",
			Help: "Total device usage minutes recorded",
		},
		[]string{"time_of_day"},
	)

	RecordFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adherence_record_failures_total",
			Help: "Usage reports that could not be recorded",
		},
		[]string{"reason"},
	)

	// Query metrics
	ComplianceQueries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adherence_compliance_queries_total",
			Help: "Total aggregation queries",
		},
		[]string{"operation", "outcome"},
	)

	ComplianceQueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "adherence_compliance_query_duration_seconds",
			Help:    "Aggregation query duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
		[]string{"operation"},
	)

	RosterPlaceholders = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "adherence_roster_placeholders_total",
			Help: "Roster entries replaced by a zero-valued placeholder",
		},
	)

	// Realtime metrics
	RealtimeEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adherence_realtime_events_total",
			Help: "Realtime events by delivery outcome",
		},
		[]string{"outcome"},
	)

	RealtimeSubscribers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "adherence_realtime_subscribers",
			Help: "Number of active realtime subscribers",
		},
	)

	// HTTP metrics
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adherence_http_requests_total",
			Help: "Total API requests processed",
		},
		[]string{"method", "route", "status"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "adherence_http_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)

	// MQTT metrics
	MQTTMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adherence_mqtt_messages_total",
			Help: "MQTT usage messages by outcome",
		},
		[]string{"outcome"},
	)

	// Cache metrics
	IdentityCacheHits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "adherence_identity_cache_hits_total",
			Help: "Identity cache hits",
		},
	)

	IdentityCacheMisses = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "adherence_identity_cache_misses_total",
			Help: "Identity cache misses",
		},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(
		SessionsRecorded,
		UsageMinutesRecorded,
		RecordFailures,
		ComplianceQueries,
		ComplianceQueryDuration,
		RosterPlaceholders,
		RealtimeEvents,
		RealtimeSubscribers,
		RequestsTotal,
		RequestDuration,
		MQTTMessages,
		IdentityCacheHits,
		IdentityCacheMisses,
	)
}

// Server is the metrics HTTP server
type Server struct {
	server   *http.Server
	logger   zerolog.Logger
	listener net.Listener // Optional pre-created listener (for systemd socket activation)
}

// NewServer creates a new metrics server
func NewServer(addr string, logger zerolog.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	return &Server{
		server: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
		logger: logger.With().Str("component", "metrics").Logger(),
	}
}

// SetListener sets a pre-created listener for systemd socket activation
func (s *Server) SetListener(ln net.Listener) {
	s.listener = ln
}

// Start starts the metrics server
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("Starting metrics server")
	go func() {
		var err error
		if s.listener != nil {
			// Use systemd socket-activated listener
			s.logger.Debug().Msg("Using systemd socket-activated metrics listener")
			err = s.server.Serve(s.listener)
		} else {
			// Create and bind listener ourselves
			err = s.server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("Metrics server error")
		}
	}()
	return nil
}

// Stop stops the metrics server
func (s *Server) Stop() error {
	s.logger.Info().Msg("Stopping metrics server")
	return s.server.Close()
}
