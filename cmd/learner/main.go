package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"federated-traffic-rl/internal/config"
	"federated-traffic-rl/internal/junction"
	"federated-traffic-rl/internal/learner"
	"federated-traffic-rl/internal/policy"
	"federated-traffic-rl/internal/sim"
)

func main() {
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	cfg := config.FromEnv()
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	junctionID := os.Getenv("JUNCTION_ID")
	if junctionID == "" {
		log.Fatal().Msg("JUNCTION_ID is required")
	}
	bridgeNetwork := getenv("BRIDGE_NETWORK", "unix")
	bridgeAddr := getenv("BRIDGE_ADDR", "/tmp/traffic_bridge.sock")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	bridge, err := sim.DialBridge(bridgeNetwork, bridgeAddr, log)
	if err != nil {
		log.Fatal().Err(err).Msg("simulator bridge unavailable")
	}
	defer bridge.Close()

	desc, err := bridge.Junction(junctionID)
	if err != nil {
		log.Fatal().Err(err).Str("junction", junctionID).Msg("junction lookup failed")
	}
	dims := junction.DimsFromMaxRoads(cfg.MaxRoads)
	if desc.Arity() > dims.MaxRoads {
		log.Fatal().Int("arity", desc.Arity()).Int("max_roads", dims.MaxRoads).Msg("junction arity exceeds universal model size")
	}
	bridge.Configure(dims)

	l := &learner.Learner{
		Junction:   desc,
		Dims:       dims,
		ServerAddr: cfg.Addr(),
		Sim:        bridge,
		Hidden:     cfg.Hidden,
		Activation: policy.Activation(cfg.Activation),
		Hyper: policy.Hyperparams{
			Gamma:       cfg.Gamma,
			ClipEpsilon: cfg.ClipEpsilon,
			ActorLR:     cfg.ActorLR,
			CriticLR:    cfg.CriticLR,
			EntropyCoef: cfg.EntropyCoef,
			KEpochs:     cfg.KEpochs,
		},
		K:              cfg.K,
		YellowTime:     cfg.YellowTime,
		GreenTime:      cfg.GreenTime,
		ConnectRetries: cfg.ConnectRetries,
		ConnectBackoff: cfg.ConnectBackoff,
		Seed:           cfg.Seed,
		Log:            log,
	}

	if err := l.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal().Err(err).Msg("learner failed")
	}
	log.Info().Str("junction", junctionID).Msg("learner finished")
}

func getenv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}
