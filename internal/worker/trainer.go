package worker

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"dqn-trader/internal/agent"
	"dqn-trader/internal/buffer"
	"dqn-trader/internal/config"
	"dqn-trader/internal/market"
	"dqn-trader/internal/qnet"
)

// Job is one independent training run. Each job gets its own network,
// replay memory and session.
type Job struct {
	ID         string
	Symbol     string
	Train      *market.Series
	Validation *market.Series
}

type Result struct {
	Job        Job
	Strategy   string
	Train      []Report
	Validation []Report
	Model      []byte
}

// Recorder persists episode reports, e.g. to the history store.
type Recorder interface {
	RecordEpisode(ctx context.Context, runID string, report Report) error
}

// Checkpointer receives the exported model every Training.SaveEvery episodes.
type Checkpointer func(job Job, episode int, model []byte) error

type Trainer struct {
	Config     *config.Config
	Strategy   agent.Strategy
	Logger     *zap.Logger
	Recorder   Recorder
	Checkpoint Checkpointer
}

// Run trains every job, at most Training.Parallel at a time. The first
// failing job cancels the others.
func (t *Trainer) Run(ctx context.Context, jobs []Job) ([]Result, error) {
	if err := t.validate(jobs); err != nil {
		return nil, err
	}
	parallel := t.Config.Training.Parallel
	if parallel <= 0 {
		parallel = 1
	}
	results := make([]Result, len(jobs))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(parallel)
	for i, job := range jobs {
		seed := t.Config.Training.Seed + int64(i)*1000
		g.Go(func() error {
			res, err := t.Train(ctx, job, seed)
			if err != nil {
				return fmt.Errorf("%s: %w", job.Symbol, err)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// Train runs Training.Episodes episodes over job.Train. After each one the
// current policy is evaluated greedily on job.Validation when present.
func (t *Trainer) Train(ctx context.Context, job Job, seed int64) (Result, error) {
	cfg := t.Config
	if t.Strategy == nil {
		return Result{}, errors.New("trainer needs a strategy")
	}
	if err := job.Train.Validate(cfg.Window); err != nil {
		return Result{}, err
	}
	if job.Validation != nil {
		if err := job.Validation.Validate(cfg.Window); err != nil {
			return Result{}, fmt.Errorf("validation: %w", err)
		}
	}
	logger := t.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("run", job.ID), zap.String("symbol", job.Symbol), zap.String("strategy", t.Strategy.Name()))

	net, err := qnet.New(cfg.NetworkConfig(market.NumActions), seed)
	if err != nil {
		return Result{}, fmt.Errorf("network: %w", err)
	}
	memory, err := buffer.NewMemory(cfg.Memory.Capacity, seed+1)
	if err != nil {
		return Result{}, fmt.Errorf("memory: %w", err)
	}
	ag, err := agent.New(cfg.Agent, net, t.Strategy, memory, logger)
	if err != nil {
		return Result{}, err
	}

	sess := agent.NewSession(agent.ModeTraining, cfg.Exploration, seed+2)
	runner := &Runner{Agent: ag, Window: cfg.Window, TrainEvery: cfg.Training.TrainEvery, Logger: logger}
	validator := &Runner{Agent: ag, Window: cfg.Window, Liquidate: cfg.Evaluation.Liquidate, Logger: logger}

	result := Result{Job: job, Strategy: t.Strategy.Name()}
	for ep := 1; ep <= cfg.Training.Episodes; ep++ {
		report, err := runner.RunEpisode(ctx, job.Train, sess)
		if err != nil {
			return result, fmt.Errorf("episode %d: %w", ep, err)
		}
		sess.EndEpisode()
		result.Train = append(result.Train, report)
		t.log(logger, report)
		if err := t.record(ctx, job, report); err != nil {
			return result, err
		}

		if job.Validation != nil {
			eval, err := validator.RunEpisode(ctx, job.Validation, sess.Evaluation(seed+3))
			if err != nil {
				return result, fmt.Errorf("validation episode %d: %w", ep, err)
			}
			eval.Phase = PhaseValidate
			eval.Episode = ep
			result.Validation = append(result.Validation, eval)
			t.log(logger, eval)
			if err := t.record(ctx, job, eval); err != nil {
				return result, err
			}
		}

		if t.Checkpoint != nil && cfg.Training.SaveEvery > 0 && ep%cfg.Training.SaveEvery == 0 {
			blob, err := net.Export()
			if err != nil {
				logger.Error("export failed, parameters may have diverged", zap.Int("episode", ep), zap.Error(err))
				return result, err
			}
			if err := t.Checkpoint(job, ep, blob); err != nil {
				return result, fmt.Errorf("checkpoint episode %d: %w", ep, err)
			}
		}
	}

	model, err := net.Export()
	if err != nil {
		logger.Error("export failed, parameters may have diverged", zap.Error(err))
		return result, err
	}
	result.Model = model
	return result, nil
}

// validate checks every series against the window so that a bad input
// fails the whole run before any job trains.
func (t *Trainer) validate(jobs []Job) error {
	for _, job := range jobs {
		if job.Train == nil {
			return fmt.Errorf("job %s has no training series", job.ID)
		}
		if err := job.Train.Validate(t.Config.Window); err != nil {
			return err
		}
		if job.Validation != nil {
			if err := job.Validation.Validate(t.Config.Window); err != nil {
				return fmt.Errorf("validation: %w", err)
			}
		}
	}
	return nil
}

func (t *Trainer) record(ctx context.Context, job Job, report Report) error {
	if t.Recorder == nil {
		return nil
	}
	if err := t.Recorder.RecordEpisode(ctx, job.ID, report); err != nil {
		return fmt.Errorf("record %s episode %d: %w", report.Phase, report.Episode, err)
	}
	return nil
}

func (t *Trainer) log(logger *zap.Logger, r Report) {
	logger.Info("episode finished",
		zap.String("phase", string(r.Phase)),
		zap.Int("episode", r.Episode),
		zap.String("profit", r.Profit.StringFixed(2)),
		zap.Int("trades", r.Trades),
		zap.Int("open", len(r.OpenPositions)),
		zap.Float64("epsilon", r.Epsilon),
		zap.Float64("loss", r.Loss),
	)
}
