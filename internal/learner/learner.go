// Package learner runs the per-junction training loop: receive global
// weights, roll out K steps against the simulator, run the local PPO
// update, and report updated weights with diagnostics.
package learner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"time"

	"github.com/rs/zerolog"

	"federated-traffic-rl/internal/junction"
	"federated-traffic-rl/internal/mask"
	"federated-traffic-rl/internal/policy"
	"federated-traffic-rl/internal/sim"
	"federated-traffic-rl/internal/wire"
)

// Learner holds one junction's training state. Callers populate the
// exported fields and invoke Run.
type Learner struct {
	Junction   junction.Descriptor
	Dims       junction.Dims
	ServerAddr string
	Sim        sim.Simulator

	Hidden     []int
	Activation policy.Activation
	Hyper      policy.Hyperparams

	K          int
	YellowTime int
	GreenTime  int

	ConnectRetries int
	ConnectBackoff time.Duration

	Seed int64
	Log  zerolog.Logger
}

// Run executes rounds until the aggregator closes the transport (the
// stop signal) or the context is cancelled. Any in-round transport or
// decode failure terminates the learner with an error.
func (l *Learner) Run(ctx context.Context) error {
	if l.K <= 0 {
		return errors.New("learner: K must be > 0")
	}
	if l.ConnectRetries <= 0 {
		l.ConnectRetries = 15
	}
	if l.ConnectBackoff <= 0 {
		l.ConnectBackoff = 2 * time.Second
	}
	log := l.Log.With().Str("component", "learner").Str("junction", l.Junction.ID).Logger()

	conn, err := l.connect(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	meta := wire.Metadata{
		JunctionID: l.Junction.ID,
		StateDim:   l.Dims.StateDim,
		ActionDim:  l.Junction.Arity(),
	}
	if err := wire.WriteMsg(conn, meta); err != nil {
		return fmt.Errorf("learner: send metadata: %w", err)
	}
	log.Info().Int("arity", l.Junction.Arity()).Int("state_dim", l.Dims.StateDim).Msg("connected to aggregator")

	rng := rand.New(rand.NewSource(l.Seed))
	agent := policy.NewAgent(l.Dims, l.Hidden, l.Activation, l.Hyper, rng)
	buffer := policy.NewRolloutBuffer()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		var payload wire.WeightsPayload
		if err := wire.ReadMsg(conn, &payload); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				log.Info().Msg("aggregator closed transport, stopping")
				return nil
			}
			return fmt.Errorf("learner: receive global weights: %w", err)
		}
		global, err := wire.ToDense(payload.Weights)
		if err != nil {
			return fmt.Errorf("learner: decode global weights: %w", err)
		}
		// Actor and old-policy snapshot start each round identical so
		// importance ratios are computed against this baseline.
		if err := agent.LoadGlobal(global); err != nil {
			return fmt.Errorf("learner: load global weights: %w", err)
		}

		cumulative, err := l.rollout(agent, buffer, rng)
		if err != nil {
			return err
		}

		actorLoss, criticLoss := agent.Update(buffer)
		steps := buffer.Len()
		buffer.Clear()

		report := wire.Report{
			Round:   payload.Round,
			Weights: wire.FromDense(agent.Actor.Weights()),
			Log: wire.RoundDiagnostics{
				CumulativeReward: cumulative,
				ActorLoss:        actorLoss,
				CriticLoss:       criticLoss,
			},
		}
		if err := wire.WriteMsg(conn, report); err != nil {
			return fmt.Errorf("learner: send report: %w", err)
		}

		log.Debug().
			Int("round", payload.Round).
			Int("steps", steps).
			Float64("reward", cumulative).
			Float64("actor_loss", actorLoss).
			Float64("critic_loss", criticLoss).
			Msg("round reported")
	}
}

// rollout executes up to K interaction steps, exiting early when the
// simulator has no remaining entities.
func (l *Learner) rollout(agent *policy.Agent, buffer *policy.RolloutBuffer, rng *rand.Rand) (float64, error) {
	var cumulative float64
	for k := 0; k < l.K; k++ {
		remaining, err := l.Sim.HasRemainingEntities()
		if err != nil {
			return cumulative, fmt.Errorf("learner: query remaining entities: %w", err)
		}
		if !remaining {
			l.Log.Warn().Int("step", k).Msg("no remaining entities, ending rollout early")
			break
		}

		state, err := l.Sim.GetState(l.Junction.ID)
		if err != nil {
			return cumulative, fmt.Errorf("learner: get state: %w", err)
		}
		probs := agent.ActorOld.Probs(state)
		action, logProb := mask.SelectAction(l.Junction.Arity(), probs, rng)

		if err := l.Sim.SetPhase(l.Junction.ID, action, l.YellowTime, l.GreenTime); err != nil {
			return cumulative, fmt.Errorf("learner: set phase: %w", err)
		}
		reward, err := l.Sim.GetReward(l.Junction.ID)
		if err != nil {
			return cumulative, fmt.Errorf("learner: get reward: %w", err)
		}

		buffer.Append(policy.Transition{
			State:    state,
			Action:   action,
			LogProb:  logProb,
			Reward:   reward,
			Terminal: false,
		})
		cumulative += reward
	}
	return cumulative, nil
}

// connect dials the aggregator with bounded retries and fixed backoff.
// Exhausting the attempts is fatal for this learner.
func (l *Learner) connect(ctx context.Context) (net.Conn, error) {
	var lastErr error
	for attempt := 0; attempt < l.ConnectRetries; attempt++ {
		conn, err := net.Dial("tcp", l.ServerAddr)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		l.Log.Warn().
			Str("junction", l.Junction.ID).
			Int("attempt", attempt+1).
			Int("max", l.ConnectRetries).
			Err(err).
			Msg("connect failed, retrying")
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(l.ConnectBackoff):
		}
	}
	return nil, fmt.Errorf("learner: failed to connect after %d attempts: %w", l.ConnectRetries, lastErr)
}
