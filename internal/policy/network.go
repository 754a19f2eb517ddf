// Package policy holds the actor-critic function approximators, the
// per-round rollout buffer, and the clipped-surrogate update that turns
// one buffer into new weights.
package policy

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Activation selects the hidden-layer nonlinearity.
type Activation string

const (
	ReLU Activation = "relu"
	Tanh Activation = "tanh"
)

// Network is a feed-forward approximator. The actor ends in a softmax
// over actions; the critic ends in a single linear value output.
type Network struct {
	sizes      []int
	activation Activation
	softmax    bool
	weights    []*mat.Dense // weights[l]: sizes[l+1] x sizes[l]
	biases     []*mat.Dense // biases[l]: 1 x sizes[l+1]
}

// NewActor builds the policy network mapping the universal state vector
// to action probabilities.
func NewActor(stateDim, actionDim int, hidden []int, act Activation, rng *rand.Rand) *Network {
	return newNetwork(stateDim, actionDim, hidden, act, true, rng)
}

// NewCritic builds the value network mapping the universal state vector
// to a scalar estimate.
func NewCritic(stateDim int, hidden []int, act Activation, rng *rand.Rand) *Network {
	return newNetwork(stateDim, 1, hidden, act, false, rng)
}

func newNetwork(inDim, outDim int, hidden []int, act Activation, softmax bool, rng *rand.Rand) *Network {
	sizes := make([]int, 0, len(hidden)+2)
	sizes = append(sizes, inDim)
	sizes = append(sizes, hidden...)
	sizes = append(sizes, outDim)

	n := &Network{sizes: sizes, activation: act, softmax: softmax}
	for l := 0; l < len(sizes)-1; l++ {
		in, out := sizes[l], sizes[l+1]
		scale := math.Sqrt(1.0 / float64(in))
		w := mat.NewDense(out, in, nil)
		for i := 0; i < out; i++ {
			for j := 0; j < in; j++ {
				w.Set(i, j, rng.NormFloat64()*scale)
			}
		}
		n.weights = append(n.weights, w)
		n.biases = append(n.biases, mat.NewDense(1, out, nil))
	}
	return n
}

type forwardCache struct {
	// activations[l] is the input to layer l; activations[0] is the batch.
	activations []*mat.Dense
	out         *mat.Dense
}

// forward runs the batch X (rows are samples) through the network,
// caching per-layer inputs for backward.
func (n *Network) forward(x *mat.Dense) *forwardCache {
	c := &forwardCache{activations: []*mat.Dense{x}}
	a := x
	last := len(n.weights) - 1
	for l, w := range n.weights {
		rows, _ := a.Dims()
		outDim, _ := w.Dims()
		z := mat.NewDense(rows, outDim, nil)
		z.Mul(a, w.T())
		for i := 0; i < rows; i++ {
			for j := 0; j < outDim; j++ {
				z.Set(i, j, z.At(i, j)+n.biases[l].At(0, j))
			}
		}
		if l < last {
			n.applyActivation(z)
			c.activations = append(c.activations, z)
			a = z
			continue
		}
		if n.softmax {
			softmaxRows(z)
		}
		c.out = z
	}
	return c
}

func (n *Network) applyActivation(z *mat.Dense) {
	rows, cols := z.Dims()
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			v := z.At(i, j)
			switch n.activation {
			case Tanh:
				z.Set(i, j, math.Tanh(v))
			default:
				if v < 0 {
					z.Set(i, j, 0)
				}
			}
		}
	}
}

// backward computes parameter gradients given dZ, the loss gradient with
// respect to the final layer's pre-activation (logits for the actor,
// raw values for the critic).
func (n *Network) backward(c *forwardCache, dZ *mat.Dense) map[string]*mat.Dense {
	grads := make(map[string]*mat.Dense, 2*len(n.weights))
	for l := len(n.weights) - 1; l >= 0; l-- {
		a := c.activations[l]
		outDim, inDim := n.weights[l].Dims()

		dW := mat.NewDense(outDim, inDim, nil)
		dW.Mul(dZ.T(), a)
		grads[weightKey(l)] = dW

		rows, _ := dZ.Dims()
		db := mat.NewDense(1, outDim, nil)
		for j := 0; j < outDim; j++ {
			var sum float64
			for i := 0; i < rows; i++ {
				sum += dZ.At(i, j)
			}
			db.Set(0, j, sum)
		}
		grads[biasKey(l)] = db

		if l == 0 {
			break
		}
		dA := mat.NewDense(rows, inDim, nil)
		dA.Mul(dZ, n.weights[l])
		// a holds the activation output, so the derivative comes from it
		// directly: relu' = 1 for a > 0, tanh' = 1 - a^2.
		for i := 0; i < rows; i++ {
			for j := 0; j < inDim; j++ {
				av := a.At(i, j)
				switch n.activation {
				case Tanh:
					dA.Set(i, j, dA.At(i, j)*(1-av*av))
				default:
					if av <= 0 {
						dA.Set(i, j, 0)
					}
				}
			}
		}
		dZ = dA
	}
	return grads
}

// Probs evaluates the actor on a single state.
func (n *Network) Probs(state []float64) []float64 {
	c := n.forward(mat.NewDense(1, len(state), append([]float64(nil), state...)))
	out := make([]float64, n.sizes[len(n.sizes)-1])
	for j := range out {
		out[j] = c.out.At(0, j)
	}
	return out
}

// Value evaluates the critic on a single state.
func (n *Network) Value(state []float64) float64 {
	c := n.forward(mat.NewDense(1, len(state), append([]float64(nil), state...)))
	return c.out.At(0, 0)
}

// parameters returns the live parameter matrices keyed by name, for the
// optimizer to update in place.
func (n *Network) parameters() map[string]*mat.Dense {
	params := make(map[string]*mat.Dense, 2*len(n.weights))
	for l := range n.weights {
		params[weightKey(l)] = n.weights[l]
		params[biasKey(l)] = n.biases[l]
	}
	return params
}

// Weights returns a deep copy of the parameters.
func (n *Network) Weights() map[string]*mat.Dense {
	params := make(map[string]*mat.Dense, 2*len(n.weights))
	for name, m := range n.parameters() {
		params[name] = mat.DenseCopyOf(m)
	}
	return params
}

// SetWeights loads compatible parameters into the network. The incoming
// set must match the network's key set and per-key shapes exactly.
func (n *Network) SetWeights(params map[string]*mat.Dense) error {
	own := n.parameters()
	if len(params) != len(own) {
		return fmt.Errorf("policy: weight set has %d parameters, network has %d", len(params), len(own))
	}
	for name, dst := range own {
		src, ok := params[name]
		if !ok {
			return fmt.Errorf("policy: missing parameter %q", name)
		}
		dr, dc := dst.Dims()
		sr, sc := src.Dims()
		if dr != sr || dc != sc {
			return fmt.Errorf("policy: parameter %q shape %dx%d, want %dx%d", name, sr, sc, dr, dc)
		}
	}
	for name, dst := range own {
		dst.Copy(params[name])
	}
	return nil
}

// Greedy returns the argmax action of a probability vector. Used for
// inference without masked sampling; callers guard padded indices via
// the action decode no-op.
func Greedy(probs []float64) int {
	return floats.MaxIdx(probs)
}

func weightKey(l int) string { return fmt.Sprintf("layer%d.weight", l) }
func biasKey(l int) string   { return fmt.Sprintf("layer%d.bias", l) }

func softmaxRows(z *mat.Dense) {
	rows, cols := z.Dims()
	for i := 0; i < rows; i++ {
		maxLogit := z.At(i, 0)
		for j := 1; j < cols; j++ {
			if v := z.At(i, j); v > maxLogit {
				maxLogit = v
			}
		}
		var sum float64
		for j := 0; j < cols; j++ {
			v := math.Exp(z.At(i, j) - maxLogit)
			z.Set(i, j, v)
			sum += v
		}
		for j := 0; j < cols; j++ {
			z.Set(i, j, z.At(i, j)/sum)
		}
	}
}
