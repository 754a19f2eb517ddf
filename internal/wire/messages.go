package wire

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/mat"
)

// Metadata is sent once by each learner before any round. ActionDim is
// the learner's actual arity; StateDim is the shared padded dimension
// every learner must agree on.
type Metadata struct {
	JunctionID string `msgpack:"junction_id"`
	StateDim   int    `msgpack:"state_dim"`
	ActionDim  int    `msgpack:"action_dim"`
}

// Tensor is one named parameter on the wire, detached from any
// optimizer state.
type Tensor struct {
	Rows int       `msgpack:"rows"`
	Cols int       `msgpack:"cols"`
	Data []float64 `msgpack:"data"`
}

// Weights is the wire form of a model's parameters. Two instances are
// compatible iff they share the same key set and per-key shapes.
type Weights map[string]Tensor

// RoundDiagnostics are the per-learner scalars reported alongside
// updated weights each round.
type RoundDiagnostics struct {
	CumulativeReward float64 `msgpack:"cumulative_reward"`
	ActorLoss        float64 `msgpack:"actor_loss"`
	CriticLoss       float64 `msgpack:"critic_loss"`
}

// WeightsPayload is the aggregator's per-round broadcast.
type WeightsPayload struct {
	Round   int     `msgpack:"round"`
	Weights Weights `msgpack:"weights"`
}

// Report is the learner's per-round reply.
type Report struct {
	Round   int              `msgpack:"round"`
	Weights Weights          `msgpack:"weights"`
	Log     RoundDiagnostics `msgpack:"log"`
}

// FromDense converts in-memory parameters to their wire form.
func FromDense(params map[string]*mat.Dense) Weights {
	w := make(Weights, len(params))
	for name, m := range params {
		rows, cols := m.Dims()
		data := make([]float64, rows*cols)
		copy(data, m.RawMatrix().Data)
		w[name] = Tensor{Rows: rows, Cols: cols, Data: data}
	}
	return w
}

// ToDense converts wire weights back to dense matrices.
func ToDense(w Weights) (map[string]*mat.Dense, error) {
	params := make(map[string]*mat.Dense, len(w))
	for name, t := range w {
		if t.Rows <= 0 || t.Cols <= 0 || len(t.Data) != t.Rows*t.Cols {
			return nil, fmt.Errorf("wire: tensor %q has inconsistent shape %dx%d with %d values", name, t.Rows, t.Cols, len(t.Data))
		}
		data := make([]float64, len(t.Data))
		copy(data, t.Data)
		params[name] = mat.NewDense(t.Rows, t.Cols, data)
	}
	return params, nil
}

// Keys returns the parameter names in stable order.
func (w Weights) Keys() []string {
	keys := make([]string, 0, len(w))
	for name := range w {
		keys = append(keys, name)
	}
	sort.Strings(keys)
	return keys
}

// Compatible reports whether two weight sets share key set and shapes.
func (w Weights) Compatible(other Weights) bool {
	if len(w) != len(other) {
		return false
	}
	for name, t := range w {
		o, ok := other[name]
		if !ok || o.Rows != t.Rows || o.Cols != t.Cols {
			return false
		}
	}
	return true
}
