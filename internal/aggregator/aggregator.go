// Package aggregator coordinates federated training rounds: it accepts
// one connection per learner, broadcasts the global actor weights,
// gathers every learner's update at a round barrier, applies the
// momentum-blended federated average, and tracks early stopping.
package aggregator

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"federated-traffic-rl/internal/policy"
	"federated-traffic-rl/internal/wire"
)

// Config are the aggregator's tunables.
type Config struct {
	Addr            string
	NumLearners     int
	Rounds          int
	Alpha           float64
	Patience        int
	MinDelta        float64
	CheckpointEvery int
	Hidden          []int
	Activation      policy.Activation
	ModelPath       string
	LogPath         string
	Seed            int64
}

// RoundLog is one completed round's aggregate record. Append-only.
type RoundLog struct {
	Round            int     `json:"round"`
	CumulativeReward float64 `json:"cumulative_reward"`
	ActorLoss        float64 `json:"actor_loss"`
	CriticLoss       float64 `json:"critic_loss"`
}

type learnerConn struct {
	conn net.Conn
	meta wire.Metadata
}

type learnerReport struct {
	lc      *learnerConn
	weights map[string]*mat.Dense
	diag    wire.RoundDiagnostics
	err     error
}

// Aggregator owns the authoritative global model. The mutex guards the
// global weights and the per-round aggregation state; learner goroutines
// never touch either directly, they deliver reports over a channel.
type Aggregator struct {
	cfg   Config
	log   zerolog.Logger
	runID string

	mu     sync.Mutex
	global map[string]*mat.Dense
	logs   []RoundLog

	stateDim  int
	actionDim int
}

func New(cfg Config, log zerolog.Logger) *Aggregator {
	return &Aggregator{
		cfg:   cfg,
		log:   log.With().Str("component", "aggregator").Logger(),
		runID: uuid.New().String(),
	}
}

// Run accepts the configured number of learners and drives rounds until
// completion, early stop, or cancellation. Final weights and the full
// round log are persisted on every exit path.
func (a *Aggregator) Run(ctx context.Context) error {
	if err := checkWritable(a.cfg.ModelPath); err != nil {
		return err
	}
	if err := checkWritable(a.cfg.LogPath); err != nil {
		return err
	}

	listener, err := net.Listen("tcp", a.cfg.Addr)
	if err != nil {
		return fmt.Errorf("aggregator: listen %s: %w", a.cfg.Addr, err)
	}

	// Cancellation unblocks Accept and any in-flight learner reads.
	var learners []*learnerConn
	var closeOnce sync.Once
	closeAll := func() {
		closeOnce.Do(func() {
			listener.Close()
			for _, lc := range learners {
				lc.conn.Close()
			}
		})
	}
	stopWatch := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			closeAll()
		case <-stopWatch:
		}
	}()
	defer close(stopWatch)
	defer closeAll()

	learners, err = a.acceptLearners(ctx, listener)
	if err != nil {
		return err
	}
	a.log.Info().Int("learners", len(learners)).Str("run_id", a.runID).Msg("all learners connected, starting training")

	defer a.persistFinal()

	stop := newPatiencePolicy(a.cfg.Patience, a.cfg.MinDelta)
	live := learners

	for round := 1; round <= a.cfg.Rounds; round++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		reports, failed := a.runRound(round, live)
		for _, f := range failed {
			f.lc.conn.Close()
			a.log.Warn().
				Str("junction", f.lc.meta.JunctionID).
				Err(f.err).
				Int("remaining_learners", len(reports)).
				Msg("learner dropped mid-round, continuing with reduced party count")
		}
		live = lo.Map(reports, func(r learnerReport, _ int) *learnerConn { return r.lc })
		if len(reports) == 0 {
			return errors.New("aggregator: all learners lost, halting")
		}

		entry := a.aggregate(round, reports)
		a.persistRound(round, entry)

		if round%10 == 1 {
			a.log.Info().
				Int("round", round).
				Float64("reward", entry.CumulativeReward).
				Float64("actor_loss", entry.ActorLoss).
				Float64("critic_loss", entry.CriticLoss).
				Msg("round complete")
		}

		if stop.Observe(entry.CumulativeReward) {
			a.log.Info().Int("round", round).Msg("early stop: reward plateaued, stopping training")
			break
		}
	}
	return nil
}

// acceptLearners blocks until every configured learner has connected
// and sent valid metadata. The first learner's declared dimensions
// construct the global model; any later mismatch is a fatal
// configuration error, rejected before weights are exchanged.
func (a *Aggregator) acceptLearners(ctx context.Context, listener net.Listener) ([]*learnerConn, error) {
	learners := make([]*learnerConn, 0, a.cfg.NumLearners)
	for len(learners) < a.cfg.NumLearners {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return learners, ctx.Err()
			}
			return learners, fmt.Errorf("aggregator: accept: %w", err)
		}
		var meta wire.Metadata
		if err := wire.ReadMsg(conn, &meta); err != nil {
			a.log.Warn().Err(err).Msg("metadata read failed, dropping connection")
			conn.Close()
			continue
		}
		if err := a.admit(meta); err != nil {
			conn.Close()
			return learners, err
		}
		learners = append(learners, &learnerConn{conn: conn, meta: meta})
		a.log.Info().
			Str("junction", meta.JunctionID).
			Int("arity", meta.ActionDim).
			Int("connected", len(learners)).
			Int("expected", a.cfg.NumLearners).
			Msg("learner connected")
	}
	return learners, nil
}

// admit validates a learner's declared dimensions and lazily constructs
// the global model from the first declaration.
func (a *Aggregator) admit(meta wire.Metadata) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if meta.StateDim < 4 || meta.StateDim%2 != 0 {
		return fmt.Errorf("aggregator: learner %s declared invalid state dim %d", meta.JunctionID, meta.StateDim)
	}
	if a.global == nil {
		a.stateDim = meta.StateDim
		a.actionDim = meta.StateDim / 2
		rng := rand.New(rand.NewSource(a.cfg.Seed))
		actor := policy.NewActor(a.stateDim, a.actionDim, a.cfg.Hidden, a.cfg.Activation, rng)
		a.global = actor.Weights()
		a.log.Info().
			Int("state_dim", a.stateDim).
			Int("action_dim", a.actionDim).
			Msg("global universal model initialized")
	}
	if meta.StateDim != a.stateDim {
		return fmt.Errorf("aggregator: learner %s declared state dim %d, global model uses %d",
			meta.JunctionID, meta.StateDim, a.stateDim)
	}
	if meta.ActionDim < 1 || meta.ActionDim > a.actionDim {
		return fmt.Errorf("aggregator: learner %s declared arity %d outside [1,%d]",
			meta.JunctionID, meta.ActionDim, a.actionDim)
	}
	return nil
}

// runRound broadcasts the current global weights to every live learner
// and gathers their reports. Each learner goroutine delivers exactly one
// result, success or failure, so the barrier always completes: a dropped
// learner counts as an arrival that failed rather than a missing party.
func (a *Aggregator) runRound(round int, live []*learnerConn) (reports, failed []learnerReport) {
	a.mu.Lock()
	payload := wire.WeightsPayload{Round: round, Weights: wire.FromDense(a.global)}
	a.mu.Unlock()

	results := make(chan learnerReport, len(live))
	for _, lc := range live {
		go func(lc *learnerConn) {
			results <- a.exchange(lc, payload)
		}(lc)
	}
	for range live {
		r := <-results
		if r.err != nil {
			failed = append(failed, r)
			continue
		}
		reports = append(reports, r)
	}
	return reports, failed
}

func (a *Aggregator) exchange(lc *learnerConn, payload wire.WeightsPayload) learnerReport {
	if err := wire.WriteMsg(lc.conn, payload); err != nil {
		return learnerReport{lc: lc, err: fmt.Errorf("broadcast: %w", err)}
	}
	var report wire.Report
	if err := wire.ReadMsg(lc.conn, &report); err != nil {
		return learnerReport{lc: lc, err: fmt.Errorf("collect: %w", err)}
	}
	if !payload.Weights.Compatible(report.Weights) {
		return learnerReport{lc: lc, err: errors.New("collect: incompatible weight shapes")}
	}
	weights, err := wire.ToDense(report.Weights)
	if err != nil {
		return learnerReport{lc: lc, err: err}
	}
	return learnerReport{lc: lc, weights: weights, diag: report.Log}
}

// aggregate runs the barrier action: blend the collected weights into
// the global model under the lock and append the round's log entry. No
// learner observes the blended weights until this returns.
func (a *Aggregator) aggregate(round int, reports []learnerReport) RoundLog {
	a.mu.Lock()
	defer a.mu.Unlock()

	blendInto(a.global, lo.Map(reports, func(r learnerReport, _ int) map[string]*mat.Dense { return r.weights }), a.cfg.Alpha)

	entry := RoundLog{
		Round:            round,
		CumulativeReward: stat.Mean(lo.Map(reports, func(r learnerReport, _ int) float64 { return r.diag.CumulativeReward }), nil),
		ActorLoss:        stat.Mean(lo.Map(reports, func(r learnerReport, _ int) float64 { return r.diag.ActorLoss }), nil),
		CriticLoss:       stat.Mean(lo.Map(reports, func(r learnerReport, _ int) float64 { return r.diag.CriticLoss }), nil),
	}
	a.logs = append(a.logs, entry)
	return entry
}

// blendInto applies new = alpha*old + (1-alpha)*mean(updates) in place,
// per parameter key. Alpha controls how much of the previous global
// state survives the fresh federated average.
func blendInto(global map[string]*mat.Dense, updates []map[string]*mat.Dense, alpha float64) {
	for key, g := range global {
		rows, cols := g.Dims()
		mean := mat.NewDense(rows, cols, nil)
		for _, u := range updates {
			mean.Add(mean, u[key])
		}
		mean.Scale(1/float64(len(updates)), mean)

		g.Scale(alpha, g)
		mean.Scale(1-alpha, mean)
		g.Add(g, mean)
	}
}

// persistRound writes the round log and any due checkpoint. Mid-run
// persistence is best effort: failures are logged, not fatal.
func (a *Aggregator) persistRound(round int, _ RoundLog) {
	a.mu.Lock()
	logs := append([]RoundLog(nil), a.logs...)
	weights := wire.FromDense(a.global)
	a.mu.Unlock()

	if err := writeRoundLogs(a.cfg.LogPath, logs); err != nil {
		a.log.Warn().Err(err).Msg("round log write failed, continuing")
	}
	if a.cfg.CheckpointEvery > 0 && round%a.cfg.CheckpointEvery == 0 {
		cp := Checkpoint{RunID: a.runID, Round: round, StateDim: a.stateDim, ActionDim: a.actionDim, Weights: weights}
		if err := writeCheckpoint(a.cfg.ModelPath, cp); err != nil {
			a.log.Warn().Err(err).Msg("checkpoint write failed, continuing")
		} else {
			a.log.Info().Int("round", round).Str("path", a.cfg.ModelPath).Msg("checkpoint saved")
		}
	}
}

func (a *Aggregator) persistFinal() {
	a.mu.Lock()
	logs := append([]RoundLog(nil), a.logs...)
	var weights wire.Weights
	round := len(a.logs)
	if a.global != nil {
		weights = wire.FromDense(a.global)
	}
	a.mu.Unlock()

	if weights != nil {
		cp := Checkpoint{RunID: a.runID, Round: round, StateDim: a.stateDim, ActionDim: a.actionDim, Weights: weights}
		if err := writeCheckpoint(a.cfg.ModelPath, cp); err != nil {
			a.log.Error().Err(err).Msg("final checkpoint write failed")
		}
	}
	if err := writeRoundLogs(a.cfg.LogPath, logs); err != nil {
		a.log.Error().Err(err).Msg("final round log write failed")
	}
	a.log.Info().Int("rounds", round).Str("model", a.cfg.ModelPath).Str("log", a.cfg.LogPath).Msg("training state persisted")
}

// Logs returns a copy of the completed round records.
func (a *Aggregator) Logs() []RoundLog {
	a.mu.Lock()
	defer a.mu.Unlock()

	return append([]RoundLog(nil), a.logs...)
}

// GlobalWeights returns a copy of the current global model parameters.
func (a *Aggregator) GlobalWeights() map[string]*mat.Dense {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make(map[string]*mat.Dense, len(a.global))
	for k, v := range a.global {
		out[k] = mat.DenseCopyOf(v)
	}
	return out
}
