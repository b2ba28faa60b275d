package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/snarg/radioscribe/internal/autoscaler"
	"github.com/snarg/radioscribe/internal/config"
	"github.com/snarg/radioscribe/internal/queue"
	"github.com/snarg/radioscribe/internal/vastai"
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
		Int("min", cfg.MinInstances).
		Int("max", cfg.MaxInstances).
		Dur("interval", cfg.AutoscaleInterval).
		Msg("autoscaler starting")

	if cfg.VastAPIKey == "" {
		log.Fatal().Msg("VAST_API_KEY is required")
	}
	if cfg.BrokerAPIURL == "" {
		log.Fatal().Msg("BROKER_API_URL is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	forbidden, err := autoscaler.LoadForbiddenSet(cfg.ForbiddenInstanceConfig)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load forbidden set")
	}
	log.Info().Int("forbidden_hosts", forbidden.Len()).Msg("forbidden set loaded")

	market := vastai.NewClient(cfg.VastAPIKey, log)
	broker := queue.NewTelemetryClient(cfg.BrokerAPIURL)
	telemetry := autoscaler.NewTelemetry(broker, queue.QueueTranscribe, cfg.AutoscaleInterval, log)

	go telemetry.Run(ctx)

	scaler := autoscaler.New(cfg, market, telemetry, broker, forbidden, log)
	scaler.Run(ctx)

	log.Info().Msg("autoscaler stopped")
}
