package agent

import (
	"fmt"
	"strings"

	"dqn-trader/internal/buffer"
	"dqn-trader/internal/qnet"
)

// Strategy computes the bootstrapped regression target for one transition.
// The three DQN variants differ only here.
type Strategy interface {
	Name() string
	// UsesTarget reports whether the target parameter set takes part in
	// bootstrapping and therefore needs periodic syncing.
	UsesTarget() bool
	Target(t buffer.Transition, online, target qnet.Estimator, gamma float64) float64
}

// Vanilla bootstraps from the live online parameters.
type Vanilla struct{}

func (Vanilla) Name() string     { return "vanilla" }
func (Vanilla) UsesTarget() bool { return false }

func (Vanilla) Target(t buffer.Transition, online, _ qnet.Estimator, gamma float64) float64 {
	if t.Done {
		return t.Reward
	}
	return t.Reward + gamma*maxValue(online.Predict(t.NextState))
}

// FixedTarget bootstraps from the frozen target parameters.
type FixedTarget struct{}

func (FixedTarget) Name() string     { return "fixed-target" }
func (FixedTarget) UsesTarget() bool { return true }

func (FixedTarget) Target(t buffer.Transition, _, target qnet.Estimator, gamma float64) float64 {
	if t.Done {
		return t.Reward
	}
	return t.Reward + gamma*maxValue(target.Predict(t.NextState))
}

// Double picks the next action with the online parameters and values it
// with the target parameters.
type Double struct{}

func (Double) Name() string     { return "double" }
func (Double) UsesTarget() bool { return true }

func (Double) Target(t buffer.Transition, online, target qnet.Estimator, gamma float64) float64 {
	if t.Done {
		return t.Reward
	}
	best := argmax(online.Predict(t.NextState))
	return t.Reward + gamma*target.Predict(t.NextState)[best]
}

var strategies = map[string]Strategy{
	Vanilla{}.Name():     Vanilla{},
	FixedTarget{}.Name(): FixedTarget{},
	Double{}.Name():      Double{},
}

func ParseStrategy(name string) (Strategy, error) {
	s, ok := strategies[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("unknown strategy %q (want vanilla, fixed-target or double)", name)
	}
	return s, nil
}

// StrategyNames lists the accepted strategy selectors.
func StrategyNames() []string {
	return []string{Vanilla{}.Name(), FixedTarget{}.Name(), Double{}.Name()}
}

func maxValue(values []float64) float64 {
	return values[argmax(values)]
}

// argmax returns the lowest index holding the largest value.
func argmax(values []float64) int {
	best := 0
	for i := 1; i < len(values); i++ {
		if values[i] > values[best] {
			best = i
		}
	}
	return best
}
