// Package main provides the drone detection view service
package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/agile-defense/droneview/pkg/detection"
	"github.com/agile-defense/droneview/pkg/handler"
	"github.com/agile-defense/droneview/pkg/messages"
	"github.com/agile-defense/droneview/pkg/monitor"
	"github.com/agile-defense/droneview/pkg/telemetry"
)

const version = "1.0.0"

// Config holds the detection view configuration
type Config struct {
	// Server settings
	HTTPAddr string
	HTTPPort int
	Refresh  time.Duration

	// Backend connection
	BackendURL        string
	Variant           messages.Variant
	ClearOnDisconnect bool
	ReconnectInitial  time.Duration
	ReconnectMax      time.Duration
	ReconnectReset    time.Duration
	MaxFrameBytes     int64

	// CORS settings
	CORSOrigins []string

	// Tracing
	OTELEndpoint string

	// Logging
	LogLevel string
	LogJSON  bool
}

// LoadConfig reads configuration from the environment
func LoadConfig() (Config, error) {
	cfg := Config{
		HTTPAddr:          getEnv("HTTP_ADDR", "0.0.0.0"),
		BackendURL:        getEnv("BACKEND_URL", monitor.DefaultBackendURL),
		ClearOnDisconnect: getEnv("CLEAR_ON_DISCONNECT", "true") == "true",
		CORSOrigins:       strings.Split(getEnv("CORS_ORIGINS", "http://localhost:3000,http://127.0.0.1:3000"), ","),
		OTELEndpoint:      getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		LogJSON:           getEnv("LOG_JSON", "false") == "true",
	}

	var err error
	if cfg.HTTPPort, err = strconv.Atoi(getEnv("HTTP_PORT", "3000")); err != nil {
		return cfg, fmt.Errorf("invalid HTTP_PORT: %w", err)
	}
	if cfg.Variant, err = messages.ParseVariant(getEnv("VIEW_VARIANT", string(messages.VariantClassified))); err != nil {
		return cfg, fmt.Errorf("invalid VIEW_VARIANT: %w", err)
	}
	if cfg.Refresh, err = time.ParseDuration(getEnv("VIEW_REFRESH", "1s")); err != nil {
		return cfg, fmt.Errorf("invalid VIEW_REFRESH: %w", err)
	}
	if cfg.ReconnectInitial, err = time.ParseDuration(getEnv("RECONNECT_INITIAL", monitor.DefaultInitialDelay.String())); err != nil {
		return cfg, fmt.Errorf("invalid RECONNECT_INITIAL: %w", err)
	}
	if cfg.ReconnectMax, err = time.ParseDuration(getEnv("RECONNECT_MAX", monitor.DefaultMaxDelay.String())); err != nil {
		return cfg, fmt.Errorf("invalid RECONNECT_MAX: %w", err)
	}

	if cfg.ReconnectReset, err = time.ParseDuration(getEnv("RECONNECT_RESET_AFTER", monitor.DefaultResetAfter.String())); err != nil {
		return cfg, fmt.Errorf("invalid RECONNECT_RESET_AFTER: %w", err)
	}
	if cfg.MaxFrameBytes, err = strconv.ParseInt(getEnv("MAX_FRAME_BYTES", strconv.Itoa(monitor.DefaultMaxFrameBytes)), 10, 64); err != nil {
		return cfg, fmt.Errorf("invalid MAX_FRAME_BYTES: %w", err)
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	_ = godotenv.Load()

	cfg, err := LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	log.Logger = newLogger(cfg, os.Stdout)

	log.Info().
		Str("backend_url", cfg.BackendURL).
		Str("variant", string(cfg.Variant)).
		Int("http_port", cfg.HTTPPort).
		Msg("Starting drone detection view")

	// Create context that cancels on interrupt
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, telemetry.Config{
		Endpoint:       cfg.OTELEndpoint,
		ServiceName:    "droneview",
		ServiceVersion: version,
		Insecure:       true,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to set up tracing")
	}

	store := detection.NewStore()

	monCfg := monitor.DefaultConfig()
	monCfg.URL = cfg.BackendURL
	monCfg.Variant = cfg.Variant
	monCfg.ClearOnDisconnect = cfg.ClearOnDisconnect
	monCfg.Backoff.Initial = cfg.ReconnectInitial
	monCfg.Backoff.Max = cfg.ReconnectMax
	monCfg.Backoff.ResetAfter = cfg.ReconnectReset
	monCfg.MaxFrameBytes = cfg.MaxFrameBytes
	mon := monitor.New(monCfg, store, log.Logger)

	router := handler.NewRouter(handler.Options{
		Store:       store,
		Connection:  mon,
		Gatherer:    prometheus.Gatherers{mon.Metrics(), prometheus.DefaultGatherer},
		Refresh:     cfg.Refresh,
		CORSOrigins: cfg.CORSOrigins,
		Logger:      log.Logger,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.HTTPAddr, cfg.HTTPPort),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	g, gCtx := errgroup.WithContext(ctx)

	// Backend connection
	g.Go(func() error {
		return mon.Run(gCtx)
	})

	// Start HTTP server
	g.Go(func() error {
		log.Info().Str("addr", server.Addr).Msg("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown
	g.Go(func() error {
		<-gCtx.Done()
		log.Info().Msg("Shutting down HTTP server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := shutdownTracing(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("Failed to flush traces")
		}
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Server error")
	}

	log.Info().Msg("Drone detection view shutdown complete")
}

// newLogger builds the process logger. LOG_JSON selects machine output,
// otherwise the console writer is used.
func newLogger(cfg Config, out io.Writer) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if !cfg.LogJSON {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	return zerolog.New(out).With().
		Timestamp().
		Str("service", "detection-view").
		Str("variant", string(cfg.Variant)).
		Logger()
}
