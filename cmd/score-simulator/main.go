// Score Simulator
// Serves synthetic detection frames on /ws for developing the view without
// the inference backend
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/agile-defense/droneview/pkg/messages"
	"github.com/agile-defense/droneview/pkg/simulator"
)

func main() {
	_ = godotenv.Load()

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if lvl, err := zerolog.ParseLevel(getEnv("LOG_LEVEL", "info")); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()

	cfg := simulator.DefaultConfig()
	addr := getEnv("SIM_ADDR", ":3002")

	if v := getEnv("SIM_INTERVAL", ""); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			log.Fatal().Err(err).Msg("Invalid SIM_INTERVAL")
		}
		cfg.Interval = d
	}
	if v := getEnv("SIM_VARIANT", ""); v != "" {
		variant, err := messages.ParseVariant(v)
		if err != nil {
			log.Fatal().Err(err).Msg("Invalid SIM_VARIANT")
		}
		cfg.Variant = variant
	}
	if v := getEnv("SIM_SEED", ""); v != "" {
		seed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			log.Fatal().Err(err).Msg("Invalid SIM_SEED")
		}
		cfg.Seed = seed
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid simulator configuration")
	}

	r := chi.NewRouter()
	r.Handle("/ws", simulator.NewHandler(cfg, log.Logger))
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	server := &http.Server{Addr: addr, Handler: r}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	log.Info().
		Str("addr", addr).
		Dur("interval", cfg.Interval).
		Str("variant", string(cfg.Variant)).
		Msg("Score simulator listening")

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		fmt.Fprintf(os.Stderr, "server error: %v\n", err)
		os.Exit(1)
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
