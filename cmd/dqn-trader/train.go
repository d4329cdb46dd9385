package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"dqn-trader/internal/agent"
	"dqn-trader/internal/config"
	"dqn-trader/internal/history"
	"dqn-trader/internal/market"
	"dqn-trader/internal/pricedata"
	"dqn-trader/internal/worker"
)

type trainOptions struct {
	train      string
	validation string
	strategy   string
	episodes   int
	window     int
	modelDir   string
	historyDB  string
}

func trainCmd(root *rootOptions) *cobra.Command {
	opts := &trainOptions{}
	cmd := &cobra.Command{
		Use:   "train",
		Short: "Train one model per price file",
		Long: `Train an agent on every price file matching --train. Each file is an
independent run with its own network and replay memory. After every episode
the policy is scored greedily on --validation when given.

Example:
  dqn-trader train --train 'data/train/**/*.csv' --validation data/GOOG_2018.csv --strategy double`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(root, func(cfg *config.Config) {
				flags := cmd.Flags()
				if flags.Changed("strategy") {
					cfg.Strategy = opts.strategy
				}
				if flags.Changed("episodes") {
					cfg.Training.Episodes = opts.episodes
				}
				if flags.Changed("window") {
					cfg.Window = opts.window
				}
				if flags.Changed("model-dir") {
					cfg.Training.ModelDir = opts.modelDir
				}
				if flags.Changed("history") {
					cfg.HistoryDB = opts.historyDB
				}
			})
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			return runTrain(cmd.Context(), cmd, cfg, logger, opts)
		},
	}

	cmd.Flags().StringVar(&opts.train, "train", "", "Training price files (glob, ** allowed)")
	cmd.Flags().StringVar(&opts.validation, "validation", "", "Validation price file")
	cmd.Flags().StringVar(&opts.strategy, "strategy", "", "Bootstrap strategy: vanilla, fixed-target or double")
	cmd.Flags().IntVar(&opts.episodes, "episodes", 0, "Training episodes per run")
	cmd.Flags().IntVar(&opts.window, "window", 0, "State window size")
	cmd.Flags().StringVar(&opts.modelDir, "model-dir", "", "Directory for saved models")
	cmd.Flags().StringVar(&opts.historyDB, "history", "", "SQLite file recording runs and episodes")
	_ = cmd.MarkFlagRequired("train")
	return cmd
}

func runTrain(ctx context.Context, cmd *cobra.Command, cfg *config.Config, logger *zap.Logger, opts *trainOptions) error {
	strategy, err := agent.ParseStrategy(cfg.Strategy)
	if err != nil {
		return err
	}

	series, err := pricedata.LoadAll(opts.train)
	if err != nil {
		return err
	}
	var validation *market.Series
	if opts.validation != "" {
		if validation, err = pricedata.Load(opts.validation); err != nil {
			return err
		}
	}

	if err := os.MkdirAll(cfg.Training.ModelDir, 0o755); err != nil {
		return fmt.Errorf("create model dir: %w", err)
	}

	jobs := make([]worker.Job, len(series))
	for i, s := range series {
		jobs[i] = worker.Job{ID: history.NewRunID(), Symbol: s.Symbol, Train: s, Validation: validation}
	}

	trainer := &worker.Trainer{
		Config:   cfg,
		Strategy: strategy,
		Logger:   logger,
		Checkpoint: func(job worker.Job, episode int, model []byte) error {
			return writeModel(checkpointPath(cfg.Training.ModelDir, job.Symbol, strategy.Name(), episode), model)
		},
	}

	var store *history.Store
	if cfg.HistoryDB != "" {
		if store, err = history.Open(cfg.HistoryDB); err != nil {
			return err
		}
		defer store.Close()
		for i, job := range jobs {
			_, err := store.CreateRun(ctx, history.Run{
				ID:       job.ID,
				Symbol:   job.Symbol,
				Strategy: strategy.Name(),
				Seed:     cfg.Training.Seed + int64(i)*1000,
			})
			if err != nil {
				return err
			}
		}
		trainer.Recorder = store
	}

	results, err := trainer.Run(ctx, jobs)
	if store != nil {
		status := history.StatusDone
		if err != nil {
			status = history.StatusError
		}
		for _, job := range jobs {
			if ferr := store.FinishRun(context.WithoutCancel(ctx), job.ID, status); ferr != nil {
				logger.Error("finish run", zap.String("run", job.ID), zap.Error(ferr))
			}
		}
	}
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for _, res := range results {
		path := modelPath(cfg.Training.ModelDir, res.Job.Symbol, res.Strategy)
		if err := writeModel(path, res.Model); err != nil {
			return err
		}
		last := res.Train[len(res.Train)-1]
		fmt.Fprintf(out, "%s: train profit %s", res.Job.Symbol, last.Profit.StringFixed(2))
		if n := len(res.Validation); n > 0 {
			fmt.Fprintf(out, ", validation profit %s", res.Validation[n-1].Profit.StringFixed(2))
		}
		fmt.Fprintf(out, ", model %s\n", path)
	}
	return nil
}

func modelPath(dir, symbol, strategy string) string {
	return filepath.Join(dir, fmt.Sprintf("%s-%s.json", symbol, strategy))
}

func checkpointPath(dir, symbol, strategy string, episode int) string {
	return filepath.Join(dir, fmt.Sprintf("%s-%s-ep%d.json", symbol, strategy, episode))
}

func writeModel(path string, model []byte) error {
	if err := os.WriteFile(path, model, 0o644); err != nil {
		return fmt.Errorf("write model: %w", err)
	}
	return nil
}
