// Package mask adapts heterogeneous intersections onto the fixed-width
// universal model: state vectors are zero-padded up to the shared
// dimensions and action probabilities are masked so padded slots are
// never selected.
package mask

import (
	"math"
	"math/rand"

	"federated-traffic-rl/internal/junction"
)

const (
	// Normalization constants for the two road features.
	queueNorm = 20.0
	waitNorm  = 120.0

	// Guards renormalization when all valid probabilities underflow.
	maskEpsilon = 1e-10
)

// RoadMeasurement is the raw per-approach observation: priority-weighted
// queue length and the worst-case weighted waiting time on that road.
type RoadMeasurement struct {
	Queue float64 `msgpack:"queue"`
	Wait  float64 `msgpack:"wait"`
}

// EncodeState maps per-road measurements onto the universal state vector:
// two normalized features per road, clamped to [0,1], then zero padding
// for every slot beyond the junction's actual arity. Road order must be
// the junction's fixed discovery order.
func EncodeState(dims junction.Dims, roads []RoadMeasurement) []float64 {
	state := make([]float64, dims.StateDim)
	for i, r := range roads {
		if i >= dims.MaxRoads {
			break
		}
		state[2*i] = clamp01(r.Queue / queueNorm)
		state[2*i+1] = clamp01(r.Wait / waitNorm)
	}
	return state
}

// SelectAction samples from the action distribution with probability
// mass on padded indices zeroed out and the remainder renormalized. The
// returned log-probability is taken under the masked distribution.
// Padded actions are never selectable.
func SelectAction(arity int, probs []float64, rng *rand.Rand) (int, float64) {
	if arity > len(probs) {
		arity = len(probs)
	}
	masked := make([]float64, arity)
	var sum float64
	for i := 0; i < arity; i++ {
		masked[i] = probs[i]
		sum += probs[i]
	}
	for i := range masked {
		masked[i] /= sum + maskEpsilon
	}

	choice := sampleCategorical(masked, rng)
	return choice, math.Log(masked[choice] + maskEpsilon)
}

// DecodeAction resolves an action index to the junction's green phase.
// Padded indices (possible when masking is skipped, e.g. raw argmax
// inference) and roads without a green phase in the signal plan decode
// to a no-op that holds the current phase.
func DecodeAction(d junction.Descriptor, action int) (int, bool) {
	if action < 0 || action >= d.Arity() {
		return 0, false
	}
	phase, ok := d.ActionToPhase[action]
	return phase, ok
}

func sampleCategorical(probs []float64, rng *rand.Rand) int {
	threshold := rng.Float64()
	var cumulativeProb float64
	for i, prob := range probs {
		cumulativeProb += prob
		if threshold <= cumulativeProb {
			return i
		}
	}
	return len(probs) - 1
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
