package policy

import (
	"math"
	"math/rand"
	"testing"

	"gonum.org/v1/gonum/mat"
)

func TestActorProbsFormDistribution(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	actor := NewActor(8, 4, []int{32, 16}, ReLU, rng)

	state := make([]float64, 8)
	for i := range state {
		state[i] = rng.Float64()
	}
	probs := actor.Probs(state)

	if len(probs) != 4 {
		t.Fatalf("expected 4 action probabilities, got %d", len(probs))
	}
	var sum float64
	for _, p := range probs {
		if p < 0 || p > 1 {
			t.Errorf("probability out of range: %f", p)
		}
		sum += p
	}
	if math.Abs(sum-1.0) > 1e-9 {
		t.Errorf("probabilities sum to %f, want 1", sum)
	}
}

func TestSetWeightsRejectsIncompatibleShapes(t *testing.T) {
	rng := rand.New(rand.NewSource(12))
	actor := NewActor(8, 4, []int{16}, Tanh, rng)
	other := NewActor(8, 3, []int{16}, Tanh, rng)

	if err := actor.SetWeights(other.Weights()); err == nil {
		t.Error("expected shape mismatch error")
	}

	params := actor.Weights()
	delete(params, "layer0.bias")
	if err := actor.SetWeights(params); err == nil {
		t.Error("expected missing parameter error")
	}
}

func TestSetWeightsRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(13))
	src := NewActor(4, 2, []int{8}, ReLU, rng)
	dst := NewActor(4, 2, []int{8}, ReLU, rng)

	if err := dst.SetWeights(src.Weights()); err != nil {
		t.Fatalf("set weights: %v", err)
	}

	state := []float64{0.3, -0.1, 0.5, 0.9}
	want := src.Probs(state)
	got := dst.Probs(state)
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("probs differ at %d: %f vs %f", i, got[i], want[i])
		}
	}
}

func TestGreedy(t *testing.T) {
	if got := Greedy([]float64{0.1, 0.6, 0.3}); got != 1 {
		t.Errorf("expected argmax 1, got %d", got)
	}
}

func TestAdamStepMovesParameters(t *testing.T) {
	params := map[string]*mat.Dense{"w": mat.NewDense(1, 2, []float64{1, 1})}
	grads := map[string]*mat.Dense{"w": mat.NewDense(1, 2, []float64{0.5, -0.5})}

	opt := NewAdam(0.1)
	opt.Step(params, grads)

	if params["w"].At(0, 0) >= 1 {
		t.Error("positive gradient should decrease the parameter")
	}
	if params["w"].At(0, 1) <= 1 {
		t.Error("negative gradient should increase the parameter")
	}
}
