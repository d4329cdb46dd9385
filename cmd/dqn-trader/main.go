// dqn-trader trains and evaluates deep Q-learning trading agents on daily
// closing prices.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"dqn-trader/internal/config"
	"dqn-trader/internal/logging"
)

type rootOptions struct {
	configPath string
	debug      bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	rootCmd := &cobra.Command{
		Use:   "dqn-trader",
		Short: "Deep Q-learning trading agent",
		Long: `dqn-trader learns a buy/sell/hold policy from daily closing prices with
deep Q-learning (vanilla, fixed-target or double DQN), evaluates saved models
on held-out prices and serves greedy decisions over HTTP.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "YAML config file")
	rootCmd.PersistentFlags().BoolVar(&opts.debug, "debug", false, "Debug logging and per-step traces")

	rootCmd.AddCommand(trainCmd(opts))
	rootCmd.AddCommand(evaluateCmd(opts))
	rootCmd.AddCommand(serveCmd(opts))
	return rootCmd
}

// setup loads the configuration, lets apply override it from flags, then
// validates it and builds the logger.
func setup(opts *rootOptions, apply func(*config.Config)) (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, nil, err
	}
	if apply != nil {
		apply(cfg)
	}

	result := cfg.Validate()
	if !result.IsValid() {
		return nil, nil, result.Err()
	}

	logger, err := logging.New(cfg.Log, opts.debug)
	if err != nil {
		return nil, nil, err
	}
	for _, w := range result.Warnings {
		logger.Warn("config", zap.String("field", w.Field), zap.Any("value", w.Value), zap.String("message", w.Message))
	}
	return cfg, logger, nil
}
