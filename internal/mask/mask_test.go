package mask

import (
	"math"
	"math/rand"
	"testing"

	"federated-traffic-rl/internal/junction"
)

func testDescriptor(arity int) junction.Descriptor {
	roads := make([]string, arity)
	phases := make(map[int]int, arity)
	for i := 0; i < arity; i++ {
		roads[i] = "road"
		phases[i] = i
	}
	return junction.Descriptor{ID: "J1", IncomingRoads: roads, ActionToPhase: phases}
}

func TestEncodeStateLengthAndPadding(t *testing.T) {
	dims := junction.DimsFromMaxRoads(4)
	roads := []RoadMeasurement{
		{Queue: 10, Wait: 60},
		{Queue: 5, Wait: 120},
	}

	state := EncodeState(dims, roads)

	if len(state) != dims.StateDim {
		t.Fatalf("expected state length %d, got %d", dims.StateDim, len(state))
	}
	if state[0] != 0.5 {
		t.Errorf("expected normalized queue 0.5, got %f", state[0])
	}
	if state[1] != 0.5 {
		t.Errorf("expected normalized wait 0.5, got %f", state[1])
	}
	if state[3] != 1.0 {
		t.Errorf("expected saturated wait 1.0, got %f", state[3])
	}
	for i := 4; i < len(state); i++ {
		if state[i] != 0.0 {
			t.Errorf("expected padded slot %d to be exactly 0.0, got %f", i, state[i])
		}
	}
}

func TestEncodeStateClampsOverflow(t *testing.T) {
	dims := junction.DimsFromMaxRoads(2)
	state := EncodeState(dims, []RoadMeasurement{{Queue: 500, Wait: 10000}, {Queue: -1, Wait: 0}})

	if state[0] != 1.0 || state[1] != 1.0 {
		t.Errorf("expected clamped features 1.0, got %f %f", state[0], state[1])
	}
	if state[2] != 0.0 {
		t.Errorf("expected negative queue clamped to 0, got %f", state[2])
	}
}

func TestSelectActionNeverReturnsPaddedIndex(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	arity := 2

	// All probability mass on padded slots: masking must still confine
	// sampling to valid actions.
	probs := []float64{0.0, 0.0, 0.7, 0.3}
	for i := 0; i < 1000; i++ {
		action, logProb := SelectAction(arity, probs, rng)
		if action >= arity {
			t.Fatalf("sampled padded action %d (arity %d)", action, arity)
		}
		if math.IsNaN(logProb) || math.IsInf(logProb, 1) {
			t.Fatalf("invalid log prob %f", logProb)
		}
	}
}

func TestSelectActionLogProbMatchesMaskedDistribution(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	probs := []float64{0.2, 0.2, 0.6}

	// With arity 2 the masked distribution is uniform over two actions.
	_, logProb := SelectAction(2, probs, rng)
	if math.Abs(logProb-math.Log(0.5)) > 1e-6 {
		t.Errorf("expected log(0.5), got %f", logProb)
	}
}

func TestDecodeAction(t *testing.T) {
	desc := testDescriptor(3)
	delete(desc.ActionToPhase, 1)

	if phase, ok := DecodeAction(desc, 0); !ok || phase != 0 {
		t.Errorf("expected phase 0, got %d ok=%v", phase, ok)
	}
	if _, ok := DecodeAction(desc, 1); ok {
		t.Error("expected no-op for road without a green phase")
	}
	if _, ok := DecodeAction(desc, 3); ok {
		t.Error("expected no-op for padded action index")
	}
	if _, ok := DecodeAction(desc, -1); ok {
		t.Error("expected no-op for negative action index")
	}
}
