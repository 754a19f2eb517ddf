package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"federated-traffic-rl/internal/aggregator"
	"federated-traffic-rl/internal/config"
	"federated-traffic-rl/internal/policy"
)

func main() {
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	cfg := config.FromEnv()
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	agg := aggregator.New(aggregator.Config{
		Addr:            cfg.Addr(),
		NumLearners:     cfg.NumLearners,
		Rounds:          cfg.Rounds,
		Alpha:           cfg.Alpha,
		Patience:        cfg.Patience,
		MinDelta:        cfg.MinDelta,
		CheckpointEvery: cfg.CheckpointEvery,
		Hidden:          cfg.Hidden,
		Activation:      policy.Activation(cfg.Activation),
		ModelPath:       cfg.ModelPath,
		LogPath:         cfg.LogPath,
		Seed:            cfg.Seed,
	}, log)

	log.Info().Str("addr", cfg.Addr()).Int("learners", cfg.NumLearners).Int("rounds", cfg.Rounds).Msg("aggregator starting")
	if err := agg.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal().Err(err).Msg("aggregator failed")
	}
	log.Info().Msg("training complete")
}
