package main

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"dqn-trader/internal/config"
	"dqn-trader/internal/pricedata"
	"dqn-trader/internal/qnet"
	"dqn-trader/internal/worker"
)

type evaluateOptions struct {
	prices    string
	model     string
	modelDir  string
	liquidate bool
}

func evaluateCmd(root *rootOptions) *cobra.Command {
	opts := &evaluateOptions{}
	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Score a saved model on a price file",
		Long: `Run one greedy pass of a saved model over a price file and print the
realized profit. --model is a path or a model name inside the model directory.

Example:
  dqn-trader evaluate --prices data/GOOG_2019.csv --model GOOG-double --debug`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(root, func(cfg *config.Config) {
				if cmd.Flags().Changed("model-dir") {
					cfg.Training.ModelDir = opts.modelDir
				}
				if cmd.Flags().Changed("liquidate") {
					cfg.Evaluation.Liquidate = opts.liquidate
				}
			})
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			net, path, err := loadModel(opts.model, cfg.Training.ModelDir)
			if err != nil {
				return err
			}
			series, err := pricedata.Load(opts.prices)
			if err != nil {
				return err
			}

			report, err := worker.Evaluate(cmd.Context(), net, series, worker.EvalOptions{
				Window:    net.Config().Inputs,
				Liquidate: cfg.Evaluation.Liquidate,
				Trace:     root.debug,
				Logger:    logger,
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, e := range report.Trace {
				fmt.Fprintf(out, "%d\t%s\t%.2f\t%d\n", e.Step, e.Action, e.Price, e.Inventory)
			}
			fmt.Fprintf(out, "%s (%s): profit %s, trades %d, wins %d, open %d\n",
				series.Symbol, path, report.Profit.StringFixed(2), report.Trades, report.Wins, len(report.OpenPositions))
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.prices, "prices", "", "Price file to evaluate on")
	cmd.Flags().StringVar(&opts.model, "model", "", "Model path or name in the model directory")
	cmd.Flags().StringVar(&opts.modelDir, "model-dir", "", "Directory searched for model names")
	cmd.Flags().BoolVar(&opts.liquidate, "liquidate", false, "Sell open units at the final price")
	_ = cmd.MarkFlagRequired("prices")
	_ = cmd.MarkFlagRequired("model")
	return cmd
}

// resolveModel finds a model given either a file path or a bare name such as
// "GOOG-double" stored in dir.
func resolveModel(name, dir string) (string, error) {
	candidates := []string{name}
	if !strings.ContainsRune(name, filepath.Separator) {
		candidates = append(candidates, filepath.Join(dir, name), filepath.Join(dir, name+".json"))
	}
	for _, c := range candidates {
		info, err := os.Stat(c)
		if err == nil && !info.IsDir() {
			return c, nil
		}
	}
	return "", fmt.Errorf("model %q not found: %w", name, fs.ErrNotExist)
}

func loadModel(name, dir string) (*qnet.Network, string, error) {
	path, err := resolveModel(name, dir)
	if err != nil {
		return nil, "", err
	}
	blob, err := os.ReadFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("read model: %w", err)
	}
	net, err := qnet.Load(blob)
	if err != nil {
		return nil, "", fmt.Errorf("%s: %w", path, err)
	}
	return net, path, nil
}
