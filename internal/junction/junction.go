package junction

import (
	"errors"
	"fmt"
)

// Descriptor describes one controlled intersection: its identity, the
// fixed discovery order of its incoming roads, and the mapping from
// action index to the signal plan's green phase for that road. A road
// without a discrete green phase has no entry in ActionToPhase.
type Descriptor struct {
	ID            string      `msgpack:"id" json:"id"`
	IncomingRoads []string    `msgpack:"incoming_roads" json:"incoming_roads"`
	ActionToPhase map[int]int `msgpack:"action_to_phase" json:"action_to_phase"`
}

// Arity is the actual number of approaches at this intersection.
func (d Descriptor) Arity() int {
	return len(d.IncomingRoads)
}

// Dims holds the universal model dimensions shared by every learner and
// the aggregator. Two road features per slot.
type Dims struct {
	MaxRoads  int
	StateDim  int
	ActionDim int
}

// DimsFor computes the universal dimensions from the full set of
// controlled junctions: the model is sized for the largest intersection
// and smaller ones are padded up to it.
func DimsFor(descs []Descriptor) (Dims, error) {
	if len(descs) == 0 {
		return Dims{}, errors.New("junction: no descriptors")
	}
	maxRoads := 0
	for _, d := range descs {
		if d.Arity() == 0 {
			return Dims{}, fmt.Errorf("junction: %s has no incoming roads", d.ID)
		}
		if d.Arity() > maxRoads {
			maxRoads = d.Arity()
		}
	}
	return DimsFromMaxRoads(maxRoads), nil
}

// DimsFromMaxRoads builds the universal dimensions from a known padding
// target, e.g. the configured max_roads of a deployment.
func DimsFromMaxRoads(maxRoads int) Dims {
	return Dims{
		MaxRoads:  maxRoads,
		StateDim:  2 * maxRoads,
		ActionDim: maxRoads,
	}
}
