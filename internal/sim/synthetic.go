package sim

import (
	"math/rand"
	"sync"

	"gonum.org/v1/gonum/stat"

	"federated-traffic-rl/internal/junction"
	"federated-traffic-rl/internal/mask"
)

const (
	defaultArrivalProb = 0.3
	serviceRate        = 2.0
	drainedThreshold   = 1e-9
)

// Vehicle-class priority weights sampled on arrival. Buses count for
// more queue pressure than motorcycles, mirroring the weighted reward
// formulation the deployed simulator reports.
var classWeights = []float64{1.0, 1.0, 1.0, 0.8, 1.5, 2.5}

// Synthetic is a per-learner queue-dynamics simulator for one junction.
// Each tick, vehicles arrive on each approach with fixed probability and
// the green approach drains at a constant service rate. It implements
// Simulator closely enough to exercise the full round loop without an
// external simulator process.
type Synthetic struct {
	mu        sync.Mutex
	rng       *rand.Rand
	dims      junction.Dims
	desc      junction.Descriptor
	queues    []float64
	waits     []float64
	arrival   []float64
	green     int
	remaining int
	closed    bool
}

// NewSynthetic builds a simulator for one junction with a fixed tick
// budget. Once the budget is spent and the queues have drained, it
// reports no remaining entities.
func NewSynthetic(desc junction.Descriptor, dims junction.Dims, horizon int, seed int64) *Synthetic {
	arity := desc.Arity()
	arrival := make([]float64, arity)
	for i := range arrival {
		arrival[i] = defaultArrivalProb
	}
	return &Synthetic{
		rng:       rand.New(rand.NewSource(seed)),
		dims:      dims,
		desc:      desc,
		queues:    make([]float64, arity),
		waits:     make([]float64, arity),
		arrival:   arrival,
		green:     -1,
		remaining: horizon,
	}
}

func (s *Synthetic) GetState(junctionID string) ([]float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(junctionID); err != nil {
		return nil, err
	}
	roads := make([]mask.RoadMeasurement, s.desc.Arity())
	for i := range roads {
		roads[i] = mask.RoadMeasurement{Queue: s.queues[i], Wait: s.waits[i]}
	}
	return mask.EncodeState(s.dims, roads), nil
}

func (s *Synthetic) SetPhase(junctionID string, action, yellowTime, greenTime int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(junctionID); err != nil {
		return err
	}
	if phase, ok := mask.DecodeAction(s.desc, action); ok {
		// Phases are laid out one green per approach, so the phase index
		// selects the served road.
		s.green = phase
	}
	for t := 0; t < yellowTime+greenTime; t++ {
		s.tick()
	}
	return nil
}

func (s *Synthetic) GetReward(junctionID string) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(junctionID); err != nil {
		return 0, err
	}
	var total float64
	for _, q := range s.queues {
		total += q
	}
	var pressure float64
	if len(s.queues) > 1 && total > 0 {
		pressure = stat.StdDev(s.queues, nil)
	}
	return -(total + 0.5*pressure) / 10.0, nil
}

func (s *Synthetic) HasRemainingEntities() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false, ErrClosed
	}
	if s.remaining > 0 {
		return true, nil
	}
	for _, q := range s.queues {
		if q > drainedThreshold {
			return true, nil
		}
	}
	return false, nil
}

func (s *Synthetic) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	return nil
}

func (s *Synthetic) check(junctionID string) error {
	if s.closed {
		return ErrClosed
	}
	if junctionID != s.desc.ID {
		return ErrUnknownJunction
	}
	return nil
}

func (s *Synthetic) tick() {
	if s.remaining > 0 {
		s.remaining--
		for i := range s.queues {
			if s.rng.Float64() < s.arrival[i] {
				s.queues[i] += classWeights[s.rng.Intn(len(classWeights))]
			}
		}
	}
	for i := range s.queues {
		if i == s.green {
			s.queues[i] -= serviceRate
			if s.queues[i] < 0 {
				s.queues[i] = 0
			}
			s.waits[i] = 0
			continue
		}
		if s.queues[i] > drainedThreshold {
			s.waits[i]++
		}
	}
}
