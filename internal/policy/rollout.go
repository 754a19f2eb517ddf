package policy

import "sync"

// Transition is one step of local experience. Transitions never leave
// the learner that produced them.
type Transition struct {
	State    []float64
	Action   int
	LogProb  float64
	Reward   float64
	Terminal bool
}

// RolloutBuffer accumulates the transitions of one local training
// window. It is cleared after every update call, successful or not.
type RolloutBuffer struct {
	mu          sync.Mutex
	transitions []Transition
}

func NewRolloutBuffer() *RolloutBuffer {
	return &RolloutBuffer{}
}

func (b *RolloutBuffer) Append(t Transition) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.transitions = append(b.transitions, t)
}

func (b *RolloutBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return len(b.transitions)
}

// Snapshot returns a copy of the buffered transitions in order.
func (b *RolloutBuffer) Snapshot() []Transition {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]Transition, len(b.transitions))
	copy(out, b.transitions)
	return out
}

func (b *RolloutBuffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.transitions = b.transitions[:0]
}
