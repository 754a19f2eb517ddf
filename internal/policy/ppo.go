package policy

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"federated-traffic-rl/internal/junction"
)

const (
	logProbEpsilon = 1e-10
	stdEpsilon     = 1e-7
)

// Hyperparams are the local update's tunables.
type Hyperparams struct {
	Gamma       float64
	ClipEpsilon float64
	ActorLR     float64
	CriticLR    float64
	EntropyCoef float64
	KEpochs     int
}

// Agent bundles the current actor, the frozen old-policy snapshot used
// as the importance-sampling reference, and the local critic. Only
// actor weights are ever exchanged with the aggregator; the critic and
// optimizer state stay local.
type Agent struct {
	Actor    *Network
	ActorOld *Network
	Critic   *Network

	actorOpt  *Adam
	criticOpt *Adam
	hp        Hyperparams
}

// NewAgent builds an agent sized for the universal dimensions.
func NewAgent(dims junction.Dims, hidden []int, act Activation, hp Hyperparams, rng *rand.Rand) *Agent {
	a := &Agent{
		Actor:     NewActor(dims.StateDim, dims.ActionDim, hidden, act, rng),
		ActorOld:  NewActor(dims.StateDim, dims.ActionDim, hidden, act, rng),
		Critic:    NewCritic(dims.StateDim, hidden, act, rng),
		actorOpt:  NewAdam(hp.ActorLR),
		criticOpt: NewAdam(hp.CriticLR),
		hp:        hp,
	}
	a.SyncOld()
	return a
}

// LoadGlobal installs broadcast weights into both the actor and the
// old-policy snapshot, so each round's importance ratios start at 1.
func (a *Agent) LoadGlobal(params map[string]*mat.Dense) error {
	if err := a.Actor.SetWeights(params); err != nil {
		return err
	}
	return a.ActorOld.SetWeights(params)
}

// SyncOld copies the current actor into the old-policy snapshot.
func (a *Agent) SyncOld() {
	// Shapes match by construction.
	_ = a.ActorOld.SetWeights(a.Actor.Weights())
}

// ReturnsToGo computes discounted returns in reverse order, resetting
// the running sum at every episode boundary.
func ReturnsToGo(rewards []float64, terminals []bool, gamma float64) []float64 {
	returns := make([]float64, len(rewards))
	var discounted float64
	for t := len(rewards) - 1; t >= 0; t-- {
		if terminals[t] {
			discounted = 0
		}
		discounted = rewards[t] + gamma*discounted
		returns[t] = discounted
	}
	return returns
}

// Update consumes the rollout buffer's transitions and runs KEpochs of
// the clipped-surrogate actor-critic step. It returns the mean actor
// and critic losses over the epochs. An empty buffer skips the update
// entirely and reports zero diagnostics. The caller clears the buffer
// afterward regardless of outcome.
func (a *Agent) Update(buf *RolloutBuffer) (actorLoss, criticLoss float64) {
	transitions := buf.Snapshot()
	n := len(transitions)
	if n == 0 {
		return 0, 0
	}

	stateDim := len(transitions[0].State)
	states := mat.NewDense(n, stateDim, nil)
	actions := make([]int, n)
	oldLogProbs := make([]float64, n)
	rewards := make([]float64, n)
	terminals := make([]bool, n)
	for i, t := range transitions {
		states.SetRow(i, t.State)
		actions[i] = t.Action
		oldLogProbs[i] = t.LogProb
		rewards[i] = t.Reward
		terminals[i] = t.Terminal
	}

	returns := ReturnsToGo(rewards, terminals, a.hp.Gamma)
	standardize(returns)

	var totalActorLoss, totalCriticLoss float64
	for epoch := 0; epoch < a.hp.KEpochs; epoch++ {
		actorCache := a.Actor.forward(states)
		criticCache := a.Critic.forward(states)
		probs := actorCache.out

		_, actionDim := probs.Dims()
		dLogits := mat.NewDense(n, actionDim, nil)
		dValues := mat.NewDense(n, 1, nil)

		var epochActorLoss, epochCriticLoss float64
		for i := 0; i < n; i++ {
			p := probs.At(i, actions[i])
			newLogProb := math.Log(p + logProbEpsilon)
			ratio := math.Exp(newLogProb - oldLogProbs[i])

			value := criticCache.out.At(i, 0)
			// Value is detached for the policy-gradient term.
			advantage := returns[i] - value

			surr1 := ratio * advantage
			surr2 := clip(ratio, 1-a.hp.ClipEpsilon, 1+a.hp.ClipEpsilon) * advantage
			epochActorLoss += -math.Min(surr1, surr2)

			// The clipped branch has zero gradient when it binds.
			var g float64
			if surr1 <= surr2 {
				g = -ratio * advantage / float64(n)
			}

			var entropy float64
			if a.hp.EntropyCoef > 0 {
				for j := 0; j < actionDim; j++ {
					pj := probs.At(i, j)
					entropy -= pj * math.Log(pj+logProbEpsilon)
				}
				epochActorLoss -= a.hp.EntropyCoef * entropy
			}

			for j := 0; j < actionDim; j++ {
				pj := probs.At(i, j)
				onehot := 0.0
				if j == actions[i] {
					onehot = 1.0
				}
				grad := g * (onehot - pj)
				if a.hp.EntropyCoef > 0 {
					grad += a.hp.EntropyCoef / float64(n) * pj * (math.Log(pj+logProbEpsilon) + entropy)
				}
				dLogits.Set(i, j, grad)
			}

			diff := value - returns[i]
			epochCriticLoss += diff * diff
			// Total loss carries 0.5 * MSE; d/dvalue = (value-return)/n.
			dValues.Set(i, 0, diff/float64(n))
		}
		epochActorLoss /= float64(n)
		epochCriticLoss /= float64(n)

		actorGrads := a.Actor.backward(actorCache, dLogits)
		a.actorOpt.Step(a.Actor.parameters(), actorGrads)

		criticGrads := a.Critic.backward(criticCache, dValues)
		a.criticOpt.Step(a.Critic.parameters(), criticGrads)

		totalActorLoss += epochActorLoss
		totalCriticLoss += epochCriticLoss
	}

	a.SyncOld()

	k := float64(a.hp.KEpochs)
	return totalActorLoss / k, totalCriticLoss / k
}

func standardize(values []float64) {
	mean, std := stat.MeanStdDev(values, nil)
	if math.IsNaN(std) {
		std = 0
	}
	for i := range values {
		values[i] = (values[i] - mean) / (std + stdEpsilon)
	}
}

func clip(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
