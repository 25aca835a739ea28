package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/goodtune/adherence/internal/api"
	"github.com/goodtune/adherence/internal/compliance"
	"github.com/goodtune/adherence/internal/config"
	"github.com/goodtune/adherence/internal/ingest"
	"github.com/goodtune/adherence/internal/metrics"
	"github.com/goodtune/adherence/internal/realtime"
	"github.com/goodtune/adherence/internal/storage"
	"github.com/goodtune/adherence/internal/storage/bolt"
	"github.com/goodtune/adherence/internal/storage/postgres"
	"github.com/goodtune/adherence/internal/storage/redis"
	"github.com/goodtune/adherence/internal/systemd"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start Adherence server",
	Long:  `Start the Adherence API server, realtime hub, optional MQTT ingest and metrics endpoint.`,
	RunE:  runServer,
}

func init() {
	rootCmd.AddCommand(serverCmd)
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := setupLogger(cfg.Logging)
	log.Logger = logger

	logger.Info().
		Str("version", version).
		Str("config", configPath).
		Msg("Starting Adherence")

	sdListeners, err := systemd.GetListeners()
	if err != nil {
		return fmt.Errorf("failed to get systemd listeners: %w", err)
	}
	if sdListeners.Activated {
		logger.Info().Msg("Running with systemd socket activation")
	}

	store, err := openStorage(cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close storage")
		}
	}()

	logger.Info().Str("type", cfg.Storage.Type).Msg("Storage initialized")

	identities, err := storage.NewCachedIdentities(store.Identities(), cfg.Cache.IdentitySize)
	if err != nil {
		return fmt.Errorf("failed to initialize identity cache: %w", err)
	}

	hub := realtime.NewHub(realtime.Config{
		QueueSize:        cfg.Realtime.QueueSize,
		SubscriberBuffer: cfg.Realtime.SubscriberBuffer,
	}, logger)

	clock := compliance.RealClock{}
	recorder := compliance.NewRecorder(store.Sessions(), store.Devices(), hub, clock, logger)
	aggregator := compliance.NewAggregator(store.Sessions(), store.Devices(), identities, clock,
		compliance.Config{MaxAnalyticsDays: cfg.Analytics.MaxDays}, logger)

	jwtSecret := cfg.Auth.JWTSecret
	if jwtSecret == "" {
		jwtSecret = randomSecret()
		logger.Warn().Msg("auth.jwt_secret is not set; tokens will not survive a restart")
	}

	apiAddr := fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.APIPort)
	apiServer := api.NewServer(api.Config{
		ListenAddr:           apiAddr,
		JWTSecret:            jwtSecret,
		TokenExpiration:      config.ParseDuration(cfg.Auth.TokenExpiration, api.DefaultTokenExpiration),
		AllowedOrigins:       cfg.Auth.AllowedOrigins,
		DefaultAnalyticsDays: cfg.Analytics.DefaultDays,
	}, api.Backend{
		Devices:    store.Devices(),
		Identities: identities,
		Recorder:   recorder,
		Aggregator: aggregator,
		Hub:        hub,
		Clock:      clock,
	}, logger)

	if sdListeners.Activated && sdListeners.API != nil {
		apiServer.SetListener(sdListeners.API)
	}
	if err := apiServer.Start(); err != nil {
		return fmt.Errorf("failed to start API Server: %w", err)
	}

	metricsAddr := fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.MetricsPort)
	metricsServer := metrics.NewServer(metricsAddr, logger)
	if sdListeners.Activated && sdListeners.Metrics != nil {
		metricsServer.SetListener(sdListeners.Metrics)
	}
	if err := metricsServer.Start(); err != nil {
		return fmt.Errorf("failed to start Metrics Server: %w", err)
	}

	var subscriber *ingest.Subscriber
	if cfg.MQTT.Enabled {
		subscriber = ingest.NewSubscriber(cfg.MQTT, recorder, logger)
		if err := subscriber.Start(); err != nil {
			return fmt.Errorf("failed to start MQTT ingest: %w", err)
		}
		logger.Info().
			Str("broker", cfg.MQTT.Broker).
			Str("topic", cfg.MQTT.Topic).
			Msg("MQTT ingest started")
	}

	logger.Info().Msg("Adherence startup complete")
	logger.Info().Msgf("API: http://%s", apiAddr)
	logger.Info().Msgf("Metrics: http://%s/metrics", metricsAddr)

	if err := systemd.NotifyReady(); err != nil {
		logger.Warn().Err(err).Msg("Failed to send systemd ready notification")
	}

	watchdogCtx, stopWatchdog := context.WithCancel(context.Background())
	defer stopWatchdog()
	go systemd.RunWatchdog(watchdogCtx, logger)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)

	for sig := range sigChan {
		if sig != syscall.SIGHUP {
			logger.Info().Msg("Shutdown signal received, gracefully stopping...")
			break
		}
		logger.Info().Msg("SIGHUP received, reloading log level...")
		reloaded, err := config.Load(configPath)
		if err != nil {
			logger.Error().Err(err).Msg("Failed to reload configuration")
			continue
		}
		zerolog.SetGlobalLevel(parseLevel(reloaded.Logging.Level))
		logger.Info().Str("level", reloaded.Logging.Level).Msg("Log level reloaded")
	}

	if err := systemd.NotifyStopping(); err != nil {
		logger.Warn().Err(err).Msg("Failed to send systemd stopping notification")
	}
	stopWatchdog()

	if subscriber != nil {
		if err := subscriber.Stop(); err != nil {
			logger.Error().Err(err).Msg("Error stopping MQTT ingest")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(),
		config.ParseDuration(cfg.Server.ShutdownTimeout, 10*time.Second))
	defer cancel()
	if err := apiServer.Stop(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Error stopping API Server")
	}

	// Closing the hub ends the remaining websocket streams.
	hub.Close()

	if err := metricsServer.Stop(); err != nil {
		logger.Error().Err(err).Msg("Error stopping Metrics Server")
	}

	logger.Info().Msg("Adherence stopped")
	return nil
}

func openStorage(cfg config.StorageConfig) (storage.Store, error) {
	switch cfg.Type {
	case "", "bolt":
		store, err := bolt.Open(cfg.Path)
		if err != nil {
			return nil, err
		}
		return store, nil
	case "redis":
		store, err := redis.Open(cfg.Redis)
		if err != nil {
			return nil, err
		}
		return store, nil
	case "postgres":
		store, err := postgres.Open(cfg.Postgres)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Type)
	}
}

// setupLogger configures the logger based on configuration
func setupLogger(cfg config.LoggingConfig) zerolog.Logger {
	zerolog.SetGlobalLevel(parseLevel(cfg.Level))

	if cfg.Format == "text" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	// Default to JSON
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func parseLevel(level string) zerolog.Level {
	switch level {
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func randomSecret() string {
	buf := make([]byte, 32)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}
