package agent

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"dqn-trader/internal/buffer"
	"dqn-trader/internal/market"
	"dqn-trader/internal/qnet"
)

// Approximator is the part of the value network the agent drives.
type Approximator interface {
	Online() qnet.Estimator
	Target() qnet.Estimator
	Update(states [][]float64, actions []int, targets []float64) (float64, error)
	SyncTarget()
}

type Config struct {
	Gamma     float64 `yaml:"gamma"`
	BatchSize int     `yaml:"batch_size"`
	// TargetUpdateInterval is the number of train steps between target
	// syncs. Ignored by strategies that do not use the target set.
	TargetUpdateInterval int `yaml:"target_update_interval"`
}

type Agent struct {
	cfg      Config
	net      Approximator
	strategy Strategy
	memory   *buffer.Memory
	logger   *zap.Logger
}

func New(cfg Config, net Approximator, strategy Strategy, memory *buffer.Memory, logger *zap.Logger) (*Agent, error) {
	if net == nil || strategy == nil || memory == nil {
		return nil, errors.New("agent needs an approximator, a strategy and a replay memory")
	}
	if cfg.Gamma < 0 || cfg.Gamma >= 1 {
		return nil, fmt.Errorf("gamma must be in [0, 1), got %v", cfg.Gamma)
	}
	if cfg.BatchSize <= 0 {
		return nil, fmt.Errorf("batch size must be > 0, got %d", cfg.BatchSize)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Agent{cfg: cfg, net: net, strategy: strategy, memory: memory, logger: logger}, nil
}

func (a *Agent) Strategy() Strategy {
	return a.strategy
}

func (a *Agent) Memory() *buffer.Memory {
	return a.memory
}

// Act chooses the next action. While training it explores with probability
// epsilon by picking any of the three actions uniformly; otherwise it is
// greedy over the legal actions.
func (a *Agent) Act(sess *Session, state market.State, canSell bool) market.Action {
	if sess.Mode == ModeTraining && sess.rng.Float64() < sess.Epsilon {
		return market.Action(sess.rng.Intn(market.NumActions))
	}
	return a.Greedy(state, canSell)
}

// Greedy returns the highest-valued legal action. Sell is illegal with an
// empty inventory; ties go to the lowest action index.
func (a *Agent) Greedy(state market.State, canSell bool) market.Action {
	return Greedy(a.net.Online().Predict(state), canSell)
}

func Greedy(values []float64, canSell bool) market.Action {
	best := -1
	for i, v := range values {
		if market.Action(i) == market.ActionSell && !canSell {
			continue
		}
		if best < 0 || v > values[best] {
			best = i
		}
	}
	return market.Action(best)
}

func (a *Agent) Remember(t buffer.Transition) {
	a.memory.Push(t)
}

// TrainStep samples one minibatch and moves the online parameters toward the
// strategy's targets. It does nothing while evaluating or until the replay
// memory holds a full batch.
func (a *Agent) TrainStep(sess *Session) (loss float64, trained bool, err error) {
	if sess.Mode != ModeTraining {
		return 0, false, nil
	}
	batch, err := a.memory.Sample(a.cfg.BatchSize)
	if errors.Is(err, buffer.ErrInsufficientData) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}

	targets := a.Targets(batch)
	states := make([][]float64, len(batch))
	actions := make([]int, len(batch))
	for i, t := range batch {
		states[i] = t.State
		actions[i] = int(t.Action)
	}

	loss, err = a.net.Update(states, actions, targets)
	if err != nil {
		return 0, false, fmt.Errorf("update: %w", err)
	}
	sess.TrainSteps++

	if a.strategy.UsesTarget() && a.cfg.TargetUpdateInterval > 0 && sess.TrainSteps%a.cfg.TargetUpdateInterval == 0 {
		a.net.SyncTarget()
		a.logger.Debug("target synced", zap.Int("train_step", sess.TrainSteps))
	}
	return loss, true, nil
}

// Targets computes the regression target of every transition in batch.
func (a *Agent) Targets(batch []buffer.Transition) []float64 {
	online, target := a.net.Online(), a.net.Target()
	targets := make([]float64, len(batch))
	for i, t := range batch {
		targets[i] = a.strategy.Target(t, online, target, a.cfg.Gamma)
	}
	return targets
}
