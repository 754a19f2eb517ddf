package aggregator

import "math"

// patiencePolicy raises the stop flag after a configured number of
// consecutive rounds without the mean reward improving by at least
// minDelta. A threshold of zero disables early stopping.
type patiencePolicy struct {
	threshold int
	minDelta  float64
	best      float64
	counter   int
}

func newPatiencePolicy(threshold int, minDelta float64) *patiencePolicy {
	return &patiencePolicy{
		threshold: threshold,
		minDelta:  minDelta,
		best:      math.Inf(-1),
	}
}

// Observe records one round's mean reward and reports whether training
// should stop.
func (p *patiencePolicy) Observe(reward float64) bool {
	if p.threshold <= 0 {
		return false
	}
	if reward > p.best+p.minDelta {
		p.best = reward
		p.counter = 0
		return false
	}
	p.counter++
	return p.counter >= p.threshold
}
