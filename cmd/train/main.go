// Command train runs a whole federated training session in one process:
// the aggregator plus one synthetic-simulator learner per configured
// junction. Useful for local experiments without an external traffic
// simulator.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"federated-traffic-rl/internal/aggregator"
	"federated-traffic-rl/internal/config"
	"federated-traffic-rl/internal/junction"
	"federated-traffic-rl/internal/learner"
	"federated-traffic-rl/internal/policy"
	"federated-traffic-rl/internal/sim"
)

const simHorizon = 100000

func main() {
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	cfg := config.FromEnv()
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	descs, err := parseJunctions(getenv("JUNCTIONS", "J1:4,J2:2"))
	if err != nil {
		log.Fatal().Err(err).Msg("invalid JUNCTIONS spec")
	}
	dims, err := junction.DimsFor(descs)
	if err != nil {
		log.Fatal().Err(err).Msg("cannot size universal model")
	}
	log.Info().Int("junctions", len(descs)).Int("max_roads", dims.MaxRoads).Msg("universal model sized")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer cancel()
		agg := aggregator.New(aggregator.Config{
			Addr:            cfg.Addr(),
			NumLearners:     len(descs),
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
		if err := agg.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("aggregator failed")
		}
	}()

	for i, desc := range descs {
		// Staggered starts so the listener is up before the first dial.
		time.Sleep(200 * time.Millisecond)

		wg.Add(1)
		go func(i int, desc junction.Descriptor) {
			defer wg.Done()
			l := &learner.Learner{
				Junction:   desc,
				Dims:       dims,
				ServerAddr: cfg.Addr(),
				Sim:        sim.NewSynthetic(desc, dims, simHorizon, cfg.Seed+int64(i)),
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
				Seed:           cfg.Seed + int64(i) + 1000,
				Log:            log,
			}
			if err := l.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Str("junction", desc.ID).Msg("learner failed")
			}
		}(i, desc)
	}

	wg.Wait()
	log.Info().Msg("training finished")
}

// parseJunctions reads a comma-separated list of id:arity pairs and
// builds synthetic descriptors with one green phase per approach.
func parseJunctions(spec string) ([]junction.Descriptor, error) {
	var descs []junction.Descriptor
	for _, part := range strings.Split(spec, ",") {
		fields := strings.SplitN(strings.TrimSpace(part), ":", 2)
		if len(fields) != 2 {
			return nil, fmt.Errorf("malformed junction %q, want id:arity", part)
		}
		arity, err := strconv.Atoi(fields[1])
		if err != nil || arity < 2 {
			return nil, fmt.Errorf("junction %q: arity must be an integer >= 2", part)
		}
		roads := make([]string, arity)
		phases := make(map[int]int, arity)
		for i := 0; i < arity; i++ {
			roads[i] = fmt.Sprintf("%s_road%d", fields[0], i)
			phases[i] = i
		}
		descs = append(descs, junction.Descriptor{
			ID:            fields[0],
			IncomingRoads: roads,
			ActionToPhase: phases,
		})
	}
	return descs, nil
}

func getenv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}
