// refdesk — bulk CSV ingestion and lookup service for reference datasets.
//
// Usage:
//
//	refdesk [--dev] [--config path] [--addr :8080]
//
// Flags:
//
//	--dev     Start in dev mode: in-process miniredis + in-memory sqlite (no external deps)
//	--config  Path to refdesk.yaml (default: configs/refdesk.yaml)
//	--addr    Override server.addr from config
//
// Environment:
//
//	REFDESK_API_TOKEN  API shared secret (required if not set in config)
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ruslano69/refdesk/internal/api"
	"github.com/ruslano69/refdesk/internal/infra"
	"github.com/ruslano69/refdesk/internal/ingest"
)

func main() {
	dev := flag.Bool("dev", false, "dev mode: in-process miniredis + in-memory sqlite")
	configPath := flag.String("config", "configs/refdesk.yaml", "path to config file")
	addrOverride := flag.String("addr", "", "listen address override (e.g. :8080)")
	flag.Parse()

	// Pretty console log; switch to JSON in production via log.Logger = zerolog.New(os.Stderr)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	cfg, err := infra.LoadConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Str("config", *configPath).Msg("config load failed")
	}
	if *addrOverride != "" {
		cfg.Server.Addr = *addrOverride
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	inf, err := infra.Setup(ctx, cfg, *dev)
	if err != nil {
		log.Fatal().Err(err).Msg("infrastructure setup failed")
	}
	defer inf.Close()

	if *dev {
		log.Warn().Msg("──────────────────────────────────────────────────────")
		log.Warn().Msg("  DEV MODE ACTIVE — miniredis + in-memory sqlite      ")
		log.Warn().Msg("  DO NOT use in production                            ")
		log.Warn().Msg("──────────────────────────────────────────────────────")
	}

	svc := ingest.NewService(inf.Sessions, inf.DB, inf.Publisher, log.Logger)
	router := api.NewRouter(api.Deps{
		Registry: inf.Registry,
		DB:       inf.DB,
		Ingest:   svc,
		Redis:    inf.Redis,
		Token:    cfg.Security.APIToken,
	})

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().
			Str("addr", cfg.Server.Addr).
			Bool("dev", *dev).
			Str("config", *configPath).
			Strs("datasets", inf.Registry.Names()).
			Msg("refdesk started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown error")
	}
	log.Info().Msg("stopped")
}
