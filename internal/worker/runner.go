package worker

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"dqn-trader/internal/agent"
	"dqn-trader/internal/buffer"
	"dqn-trader/internal/market"
)

// Runner drives one agent over one price series per call. Steps within an
// episode are strictly sequential; ctx is checked between steps.
type Runner struct {
	Agent      *agent.Agent
	Window     int
	TrainEvery int
	Liquidate  bool
	Trace      bool
	Logger     *zap.Logger
}

func (r *Runner) RunEpisode(ctx context.Context, series *market.Series, sess *agent.Session) (Report, error) {
	if r.Agent == nil {
		return Report{}, errors.New("runner needs an agent")
	}
	env, err := market.NewEnv(series, r.Window)
	if err != nil {
		return Report{}, err
	}
	trainEvery := r.TrainEvery
	if trainEvery <= 0 {
		trainEvery = 1
	}
	logger := r.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	report := Report{
		Symbol:  series.Symbol,
		Episode: sess.Episode + 1,
		Phase:   PhaseEvaluate,
		Profit:  decimal.Zero,
		Epsilon: sess.Epsilon,
	}
	if sess.Mode == agent.ModeTraining {
		report.Phase = PhaseTrain
	}

	var lossSum float64
	state := env.Reset()
	for !env.Done() {
		select {
		case <-ctx.Done():
			return report, ctx.Err()
		default:
		}

		action := r.Agent.Act(sess, state, env.Inventory().Len() > 0)
		next, out, done := env.Step(action)
		report.record(out)
		sess.Steps++

		if r.Trace {
			entry := TraceEntry{Step: env.T() - 1, Action: out.Executed.String(), Price: out.Price, Inventory: env.Inventory().Len()}
			report.Trace = append(report.Trace, entry)
			logger.Debug("step",
				zap.Int("step", entry.Step),
				zap.String("action", entry.Action),
				zap.Float64("price", entry.Price),
				zap.Int("inventory", entry.Inventory),
			)
		}

		if sess.Mode == agent.ModeTraining {
			r.Agent.Remember(buffer.Transition{
				State:     state,
				Action:    out.Executed,
				Reward:    out.Reward,
				NextState: next,
				Done:      done,
			})
			if sess.Steps%trainEvery == 0 {
				loss, trained, err := r.Agent.TrainStep(sess)
				if err != nil {
					return report, err
				}
				if trained {
					lossSum += loss
					report.TrainSteps++
				}
			}
		}
		state = next
	}

	if r.Liquidate {
		for _, out := range env.Liquidate() {
			report.record(out)
		}
	}
	report.OpenPositions = env.Inventory().Prices()
	if report.TrainSteps > 0 {
		report.Loss = lossSum / float64(report.TrainSteps)
	}
	return report, nil
}

type EvalOptions struct {
	Window    int
	Liquidate bool
	Trace     bool
	Logger    *zap.Logger
}

// Evaluate runs one greedy pass with no exploration and no learning.
func Evaluate(ctx context.Context, net agent.Approximator, series *market.Series, opts EvalOptions) (Report, error) {
	// Evaluation never samples or trains, so the memory is a placeholder.
	memory, err := buffer.NewMemory(1, 0)
	if err != nil {
		return Report{}, err
	}
	ag, err := agent.New(agent.Config{Gamma: 0, BatchSize: 1}, net, agent.Vanilla{}, memory, opts.Logger)
	if err != nil {
		return Report{}, err
	}
	runner := &Runner{
		Agent:     ag,
		Window:    opts.Window,
		Liquidate: opts.Liquidate,
		Trace:     opts.Trace,
		Logger:    opts.Logger,
	}
	return runner.RunEpisode(ctx, series, agent.NewSession(agent.ModeEvaluating, agent.Exploration{}, 0))
}
