package policy

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// Adam applies per-parameter adaptive learning-rate updates. One
// instance per network; the actor and critic step independently.
type Adam struct {
	lr    float64
	beta1 float64
	beta2 float64
	eps   float64
	t     int
	m     map[string]*mat.Dense
	v     map[string]*mat.Dense
}

func NewAdam(lr float64) *Adam {
	return &Adam{
		lr:    lr,
		beta1: 0.9,
		beta2: 0.999,
		eps:   1e-8,
		m:     make(map[string]*mat.Dense),
		v:     make(map[string]*mat.Dense),
	}
}

// Step updates params in place from grads. Parameters without a
// matching gradient are left untouched.
func (a *Adam) Step(params, grads map[string]*mat.Dense) {
	a.t++
	bc1 := 1 - math.Pow(a.beta1, float64(a.t))
	bc2 := 1 - math.Pow(a.beta2, float64(a.t))

	for name, p := range params {
		g, ok := grads[name]
		if !ok {
			continue
		}
		rows, cols := p.Dims()
		m, ok := a.m[name]
		if !ok {
			m = mat.NewDense(rows, cols, nil)
			a.m[name] = m
		}
		v, ok := a.v[name]
		if !ok {
			v = mat.NewDense(rows, cols, nil)
			a.v[name] = v
		}
		for i := 0; i < rows; i++ {
			for j := 0; j < cols; j++ {
				gv := g.At(i, j)
				mv := a.beta1*m.At(i, j) + (1-a.beta1)*gv
				vv := a.beta2*v.At(i, j) + (1-a.beta2)*gv*gv
				m.Set(i, j, mv)
				v.Set(i, j, vv)
				p.Set(i, j, p.At(i, j)-a.lr*(mv/bc1)/(math.Sqrt(vv/bc2)+a.eps))
			}
		}
	}
}
