// Package sim defines the traffic micro-simulator boundary consumed by
// learners, a bridge client for an external simulator process, and a
// synthetic in-process implementation for local runs and tests.
package sim

import "errors"

// Simulator is the collaborator interface a learner drives during its
// rollout. GetState returns the already-encoded universal state vector;
// SetPhase commands a signal change and advances simulated time by the
// yellow plus green duration.
type Simulator interface {
	GetState(junctionID string) ([]float64, error)
	SetPhase(junctionID string, action, yellowTime, greenTime int) error
	GetReward(junctionID string) (float64, error)
	HasRemainingEntities() (bool, error)
	Close() error
}

var (
	ErrUnknownJunction = errors.New("sim: unknown junction")
	ErrClosed          = errors.New("sim: simulator closed")
)
