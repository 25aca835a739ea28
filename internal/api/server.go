package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/goodtune/adherence/internal/compliance"
	"github.com/goodtune/adherence/internal/realtime"
	"github.com/goodtune/adherence/internal/storage"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Config holds the API server configuration.
type Config struct {
	ListenAddr           string
	JWTSecret            string
	TokenExpiration      time.Duration
	AllowedOrigins       []string
	DefaultAnalyticsDays int
}

// Backend groups the services the API exposes.
type Backend struct {
	Devices    storage.DeviceStore
	Identities storage.IdentityStore
	Recorder   *compliance.Recorder
	Aggregator *compliance.Aggregator
	Hub        *realtime.Hub
	Clock      compliance.Clock
}

// Server represents the patient and doctor API server.
type Server struct {
	config   Config
	backend  Backend
	tokens   *TokenService
	upgrader websocket.Upgrader
	router   *mux.Router
	handler  http.Handler
	server   *http.Server
	listener net.Listener
	logger   zerolog.Logger
}

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Code    int    `json:"code"`
}

// NewServer creates a new API server.
func NewServer(cfg Config, backend Backend, logger zerolog.Logger) *Server {
	if cfg.DefaultAnalyticsDays <= 0 {
		cfg.DefaultAnalyticsDays = compliance.ComplianceWindowDays
	}
	if backend.Clock == nil {
		backend.Clock = compliance.RealClock{}
	}

	s := &Server{
		config:  cfg,
		backend: backend,
		tokens:  NewTokenService(cfg.JWTSecret, cfg.TokenExpiration),
		router:  mux.NewRouter(),
		logger:  logger.With().Str("component", "api").Logger(),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || originAllowed(s.config.AllowedOrigins, origin)
		},
	}

	s.setupRoutes()

	s.handler = s.router
	if len(cfg.AllowedOrigins) > 0 {
		// Preflight requests must be answered before route matching.
		s.handler = CORSMiddleware(cfg.AllowedOrigins)(s.router)
	}

	s.server = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      s.handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	s.router.Use(LoggingMiddleware(s.logger))

	// Public routes
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/api/auth/login", s.handleLogin).Methods(http.MethodPost)

	authRouter := s.router.PathPrefix("/api").Subrouter()
	authRouter.Use(AuthMiddleware(s.tokens))

	authRouter.HandleFunc("/patients/{id}/devices", s.handleListDevices).Methods(http.MethodGet)
	authRouter.HandleFunc("/patients/{id}/devices", s.handleRegisterDevice).Methods(http.MethodPost)
	authRouter.HandleFunc("/patients/{id}/usage", s.handleUsage).Methods(http.MethodGet)
	authRouter.HandleFunc("/patients/{id}/compliance", s.handleCompliance).Methods(http.MethodGet)
	authRouter.HandleFunc("/patients/{id}/analytics", s.handleAnalytics).Methods(http.MethodGet)
	authRouter.HandleFunc("/bluetooth/data", s.handleBluetoothData).Methods(http.MethodPost)
	authRouter.HandleFunc("/doctors/{id}/patients", s.handleDoctorPatients).Methods(http.MethodGet)
	authRouter.HandleFunc("/ws/{id}", s.handleWebSocket).Methods(http.MethodGet)
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// SetListener sets a pre-created listener for systemd socket activation
func (s *Server) SetListener(ln net.Listener) {
	s.listener = ln
}

// Start starts the API server.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.config.ListenAddr).Msg("Starting API server")

	go func() {
		var err error
		if s.listener != nil {
			s.logger.Debug().Msg("Using systemd socket-activated API listener")
			err = s.server.Serve(s.listener)
		} else {
			err = s.server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("API server error")
		}
	}()

	return nil
}

// Stop gracefully stops the API server. Websocket connections are not
// tracked by the HTTP server; they end when the hub closes.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info().Msg("Stopping API server")

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("api server shutdown: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"time":   s.backend.Clock.Now().UTC(),
	})
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(data); err != nil {
		http.Error(w, `{"error":"Internal Server Error","message":"Failed to encode response"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_, _ = w.Write(buf.Bytes())
}

// writeError writes an error response.
func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
		Code:    statusCode,
	})
}
