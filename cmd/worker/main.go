package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/snarg/radioscribe/internal/config"
	"github.com/snarg/radioscribe/internal/database"
	"github.com/snarg/radioscribe/internal/queue"
	"github.com/snarg/radioscribe/internal/search"
	"github.com/snarg/radioscribe/internal/worker"
)

var version = "dev"

func main() {
	var overrides config.Overrides
	flag.StringVar(&overrides.EnvFile, "env", "", "path to .env file")
	flag.StringVar(&overrides.LogLevel, "log-level", "", "log level override")
	flag.Parse()

	cfg, err := config.Load(overrides)
	if err != nil {
		early := zerolog.New(os.Stderr).With().Timestamp().Logger()
		early.Fatal().Err(err).Msg("failed to load config")
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(os.Stdout).With().Timestamp().Logger().Level(level)
	log.Info().
		Str("version", version).
		Str("engine", cfg.WhisperImplementation).
		Str("model", cfg.WhisperModel).
		Int("concurrency", cfg.Concurrency).
		Msg("worker starting")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// The call store is optional on fleet instances; jobs without an id
	// skip persistence entirely.
	var db *database.DB
	if cfg.DatabaseURL != "" {
		dbLog := log.With().Str("component", "database").Logger()
		db, err = database.Connect(ctx, cfg.DatabaseURL, dbLog)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer db.Close()
	}

	broker, err := queue.Connect(cfg.BrokerURL, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to broker")
	}
	defer broker.Close()

	indexer := search.NewIndexer(cfg, log)

	w := worker.New(cfg, broker, db, indexer, log)
	if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		// Non-zero exit tells the fleet supervisor to replace this
		// instance.
		log.Fatal().Err(err).Msg("worker exited")
	}

	log.Info().Msg("worker stopped")
}
