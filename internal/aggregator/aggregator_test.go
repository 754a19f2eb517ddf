package aggregator

import (
	"context"
	"math"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/mat"

	"federated-traffic-rl/internal/junction"
	"federated-traffic-rl/internal/learner"
	"federated-traffic-rl/internal/policy"
	"federated-traffic-rl/internal/sim"
	"federated-traffic-rl/internal/wire"
)

func TestBlendWithIdenticalLearnerWeights(t *testing.T) {
	global := map[string]*mat.Dense{"w": mat.NewDense(1, 2, []float64{1, 1})}
	update := map[string]*mat.Dense{"w": mat.NewDense(1, 2, []float64{3, 3})}
	updates := []map[string]*mat.Dense{update, update, update}

	blendInto(global, updates, 0.25)

	// new = 0.25*old + 0.75*W
	for j := 0; j < 2; j++ {
		if got := global["w"].At(0, j); math.Abs(got-2.5) > 1e-12 {
			t.Errorf("blended value = %f, want 2.5", got)
		}
	}
}

func TestBlendWithFullMomentumFreezesGlobalModel(t *testing.T) {
	global := map[string]*mat.Dense{"w": mat.NewDense(1, 2, []float64{1, -1})}
	update := map[string]*mat.Dense{"w": mat.NewDense(1, 2, []float64{100, 100})}

	blendInto(global, []map[string]*mat.Dense{update}, 1.0)

	if global["w"].At(0, 0) != 1 || global["w"].At(0, 1) != -1 {
		t.Errorf("alpha=1.0 must leave the global model unchanged, got %v", mat.Formatted(global["w"]))
	}
}

func TestBlendAveragesDivergentUpdates(t *testing.T) {
	global := map[string]*mat.Dense{"w": mat.NewDense(1, 1, []float64{0})}
	updates := []map[string]*mat.Dense{
		{"w": mat.NewDense(1, 1, []float64{2})},
		{"w": mat.NewDense(1, 1, []float64{4})},
	}

	blendInto(global, updates, 0.5)

	// mean = 3, new = 0.5*0 + 0.5*3
	if got := global["w"].At(0, 0); math.Abs(got-1.5) > 1e-12 {
		t.Errorf("blended value = %f, want 1.5", got)
	}
}

func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserve port: %v", err)
	}
	addr := l.Addr().String()
	l.Close()
	return addr
}

func syntheticDescriptor(id string, arity int) junction.Descriptor {
	roads := make([]string, arity)
	phases := make(map[int]int, arity)
	for i := 0; i < arity; i++ {
		roads[i] = id + "_road"
		phases[i] = i
	}
	return junction.Descriptor{ID: id, IncomingRoads: roads, ActionToPhase: phases}
}

func testConfig(t *testing.T, addr string, numLearners, rounds int) Config {
	t.Helper()
	dir := t.TempDir()
	return Config{
		Addr:        addr,
		NumLearners: numLearners,
		Rounds:      rounds,
		Alpha:       0.5,
		Hidden:      []int{8},
		Activation:  policy.Tanh,
		ModelPath:   filepath.Join(dir, "model.bin"),
		LogPath:     filepath.Join(dir, "logs.json"),
		Seed:        42,
	}
}

func startLearner(t *testing.T, addr string, desc junction.Descriptor, dims junction.Dims, seed int64) <-chan error {
	t.Helper()
	l := &learner.Learner{
		Junction:   desc,
		Dims:       dims,
		ServerAddr: addr,
		Sim:        sim.NewSynthetic(desc, dims, 100000, seed),
		Hidden:     []int{8},
		Activation: policy.Tanh,
		Hyper: policy.Hyperparams{
			Gamma:       0.99,
			ClipEpsilon: 0.2,
			ActorLR:     0.003,
			CriticLR:    0.01,
			KEpochs:     2,
		},
		K:              5,
		YellowTime:     1,
		GreenTime:      2,
		ConnectRetries: 20,
		ConnectBackoff: 100 * time.Millisecond,
		Seed:           seed,
		Log:            zerolog.Nop(),
	}
	done := make(chan error, 1)
	go func() { done <- l.Run(context.Background()) }()
	return done
}

// Two learners with different arities train one round against the same
// universal model; the blended global weights keep the padded shape.
func TestEndToEndRoundWithMixedArities(t *testing.T) {
	addr := freeAddr(t)
	dims := junction.DimsFromMaxRoads(4)
	agg := New(testConfig(t, addr, 2, 1), zerolog.Nop())

	aggDone := make(chan error, 1)
	go func() { aggDone <- agg.Run(context.Background()) }()

	twoWay := startLearner(t, addr, syntheticDescriptor("J2way", 2), dims, 7)
	fourWay := startLearner(t, addr, syntheticDescriptor("J4way", 4), dims, 8)

	waitFor(t, "aggregator", aggDone)
	waitFor(t, "two-way learner", twoWay)
	waitFor(t, "four-way learner", fourWay)

	logs := agg.Logs()
	if len(logs) != 1 {
		t.Fatalf("expected 1 round log, got %d", len(logs))
	}
	if logs[0].Round != 1 {
		t.Errorf("round index = %d, want 1", logs[0].Round)
	}
	if math.IsNaN(logs[0].CumulativeReward) {
		t.Error("round reward is NaN")
	}

	// The global model must keep universal padded shapes: last layer maps
	// the hidden width onto action_dim = max_roads = 4.
	global := agg.GlobalWeights()
	out, ok := global["layer1.weight"]
	if !ok {
		t.Fatal("global model missing output layer")
	}
	rows, cols := out.Dims()
	if rows != dims.ActionDim || cols != 8 {
		t.Errorf("output layer shape %dx%d, want %dx8", rows, cols, dims.ActionDim)
	}

	cp, err := ReadCheckpoint(agg.cfg.ModelPath)
	if err != nil {
		t.Fatalf("read checkpoint: %v", err)
	}
	if cp.StateDim != dims.StateDim || cp.ActionDim != dims.ActionDim {
		t.Errorf("checkpoint dims %d/%d, want %d/%d", cp.StateDim, cp.ActionDim, dims.StateDim, dims.ActionDim)
	}
	if !cp.Weights.Compatible(wire.FromDense(global)) {
		t.Error("persisted weights incompatible with in-memory global model")
	}
}

// A learner dropping mid-round must not deadlock the barrier: the round
// completes with the remaining party and training continues.
func TestBarrierReleasedWhenLearnerDisconnects(t *testing.T) {
	addr := freeAddr(t)
	dims := junction.DimsFromMaxRoads(4)
	agg := New(testConfig(t, addr, 2, 2), zerolog.Nop())

	aggDone := make(chan error, 1)
	go func() { aggDone <- agg.Run(context.Background()) }()

	healthy := startLearner(t, addr, syntheticDescriptor("Jstays", 4), dims, 9)

	// The flaky learner completes the handshake, receives the round 1
	// broadcast, then vanishes without reporting.
	conn, err := dialWithRetry(addr)
	if err != nil {
		t.Fatalf("dial aggregator: %v", err)
	}
	meta := wire.Metadata{JunctionID: "Jdrops", StateDim: dims.StateDim, ActionDim: 2}
	if err := wire.WriteMsg(conn, meta); err != nil {
		t.Fatalf("send metadata: %v", err)
	}
	var payload wire.WeightsPayload
	if err := wire.ReadMsg(conn, &payload); err != nil {
		t.Fatalf("receive broadcast: %v", err)
	}
	conn.Close()

	waitFor(t, "aggregator", aggDone)
	waitFor(t, "healthy learner", healthy)

	logs := agg.Logs()
	if len(logs) != 2 {
		t.Fatalf("expected both rounds to complete, got %d logs", len(logs))
	}
}

// A dimension mismatch is rejected at metadata receipt, before any
// weights are exchanged.
func TestDimensionMismatchIsFatal(t *testing.T) {
	addr := freeAddr(t)
	agg := New(testConfig(t, addr, 2, 1), zerolog.Nop())

	aggDone := make(chan error, 1)
	go func() { aggDone <- agg.Run(context.Background()) }()

	first, err := dialWithRetry(addr)
	if err != nil {
		t.Fatalf("dial aggregator: %v", err)
	}
	defer first.Close()
	if err := wire.WriteMsg(first, wire.Metadata{JunctionID: "Jok", StateDim: 8, ActionDim: 4}); err != nil {
		t.Fatalf("send metadata: %v", err)
	}

	second, err := dialWithRetry(addr)
	if err != nil {
		t.Fatalf("dial aggregator: %v", err)
	}
	defer second.Close()
	if err := wire.WriteMsg(second, wire.Metadata{JunctionID: "Jbad", StateDim: 12, ActionDim: 4}); err != nil {
		t.Fatalf("send metadata: %v", err)
	}

	select {
	case err := <-aggDone:
		if err == nil {
			t.Fatal("expected fatal dimension mismatch error")
		}
	case <-time.After(10 * time.Second):
		t.Fatal("aggregator did not reject the mismatched learner")
	}
}

func dialWithRetry(addr string) (net.Conn, error) {
	var conn net.Conn
	var err error
	for i := 0; i < 50; i++ {
		conn, err = net.Dial("tcp", addr)
		if err == nil {
			return conn, nil
		}
		time.Sleep(50 * time.Millisecond)
	}
	return nil, err
}

func waitFor(t *testing.T, name string, done <-chan error) {
	t.Helper()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("%s failed: %v", name, err)
		}
	case <-time.After(30 * time.Second):
		t.Fatalf("%s did not finish", name)
	}
}
