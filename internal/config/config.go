// Package config loads training and evaluation settings from defaults, an
// optional YAML file, a .env file and DQN_* environment variables, in that
// order of precedence (later wins).
package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"dqn-trader/internal/agent"
	"dqn-trader/internal/qnet"
)

type Config struct {
	Window      int               `yaml:"window"`
	Strategy    string            `yaml:"strategy"`
	Network     qnet.Config       `yaml:"network"`
	Agent       agent.Config      `yaml:"agent"`
	Exploration agent.Exploration `yaml:"exploration"`
	Memory      MemoryConfig      `yaml:"memory"`
	Training    TrainingConfig    `yaml:"training"`
	Evaluation  EvaluationConfig  `yaml:"evaluation"`
	Log         LogConfig         `yaml:"log"`
	HistoryDB   string            `yaml:"history_db"`
}

type MemoryConfig struct {
	Capacity int `yaml:"capacity"`
}

type TrainingConfig struct {
	Episodes int `yaml:"episodes"`
	// TrainEvery is the number of environment steps between train steps.
	TrainEvery int   `yaml:"train_every"`
	Seed       int64 `yaml:"seed"`
	// Parallel bounds how many independent jobs train at once.
	Parallel int `yaml:"parallel"`
	// SaveEvery writes a checkpoint every N episodes; 0 keeps only the final model.
	SaveEvery int    `yaml:"save_every"`
	ModelDir  string `yaml:"model_dir"`
}

type EvaluationConfig struct {
	// Liquidate force-sells open units at the final price.
	Liquidate bool `yaml:"liquidate"`
}

type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // console, json
}

func Default() *Config {
	return &Config{
		Window:   10,
		Strategy: "double",
		Network: qnet.Config{
			Hidden:       []int{64, 32},
			LearningRate: 0.001,
			ClipNorm:     10,
		},
		Agent: agent.Config{
			Gamma:                0.95,
			BatchSize:            32,
			TargetUpdateInterval: 100,
		},
		Exploration: agent.Exploration{
			Start: 1.0,
			Min:   0.01,
			Decay: 0.995,
		},
		Memory: MemoryConfig{Capacity: 1000},
		Training: TrainingConfig{
			Episodes:   10,
			TrainEvery: 1,
			Seed:       42,
			Parallel:   2,
			ModelDir:   "models",
		},
		Log: LogConfig{Level: "info", Format: "console"},
	}
}

// Load builds the effective configuration. An empty path skips the YAML
// file; a missing .env file is ignored.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	cfg.loadFromEnv()
	return cfg, nil
}

func (c *Config) loadFromEnv() {
	c.Window = getenvInt("DQN_WINDOW", c.Window)
	c.Strategy = getenv("DQN_STRATEGY", c.Strategy)
	c.Training.Episodes = getenvInt("DQN_EPISODES", c.Training.Episodes)
	c.Training.Seed = getenvInt64("DQN_SEED", c.Training.Seed)
	c.Training.Parallel = getenvInt("DQN_PARALLEL", c.Training.Parallel)
	c.Training.ModelDir = getenv("DQN_MODEL_DIR", c.Training.ModelDir)
	c.Agent.BatchSize = getenvInt("DQN_BATCH_SIZE", c.Agent.BatchSize)
	c.Agent.Gamma = getenvFloat("DQN_GAMMA", c.Agent.Gamma)
	c.HistoryDB = getenv("DQN_HISTORY_DB", c.HistoryDB)
	c.Log.Level = getenv("DQN_LOG_LEVEL", c.Log.Level)
}

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation error: %s - %s (value: %v)", e.Field, e.Message, e.Value)
}

// ValidationResult contains all validation errors
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationError
}

func (r *ValidationResult) IsValid() bool {
	return len(r.Errors) == 0
}

func (r *ValidationResult) HasWarnings() bool {
	return len(r.Warnings) > 0
}

// Err joins all errors, or returns nil when the result is valid.
func (r *ValidationResult) Err() error {
	errs := make([]error, 0, len(r.Errors))
	for i := range r.Errors {
		errs = append(errs, &r.Errors[i])
	}
	return errors.Join(errs...)
}

func (r *ValidationResult) fail(field string, value interface{}, message string) {
	r.Errors = append(r.Errors, ValidationError{Field: field, Value: value, Message: message})
}

func (r *ValidationResult) warn(field string, value interface{}, message string) {
	r.Warnings = append(r.Warnings, ValidationError{Field: field, Value: value, Message: message})
}

func (c *Config) Validate() *ValidationResult {
	result := &ValidationResult{
		Errors:   make([]ValidationError, 0),
		Warnings: make([]ValidationError, 0),
	}

	if c.Window < 1 {
		result.fail("window", c.Window, "must be at least 1")
	}
	if _, err := agent.ParseStrategy(c.Strategy); err != nil {
		result.fail("strategy", c.Strategy, "must be one of: vanilla, fixed-target, double")
	}

	if len(c.Network.Hidden) == 0 {
		result.warn("network.hidden", c.Network.Hidden, "no hidden layers, the approximator is linear")
	}
	for _, h := range c.Network.Hidden {
		if h < 1 {
			result.fail("network.hidden", c.Network.Hidden, "layer sizes must be positive")
			break
		}
	}
	if c.Network.LearningRate <= 0 {
		result.fail("network.learning_rate", c.Network.LearningRate, "must be positive")
	}
	if c.Network.ClipNorm < 0 {
		result.fail("network.clip_norm", c.Network.ClipNorm, "must be non-negative")
	}

	if c.Agent.Gamma < 0 || c.Agent.Gamma >= 1 {
		result.fail("agent.gamma", c.Agent.Gamma, "must be in [0, 1)")
	} else if c.Agent.Gamma < 0.5 {
		result.warn("agent.gamma", c.Agent.Gamma, "short horizon, rewards beyond a few steps are ignored")
	}
	if c.Agent.BatchSize < 1 {
		result.fail("agent.batch_size", c.Agent.BatchSize, "must be at least 1")
	}
	if c.Agent.TargetUpdateInterval < 0 {
		result.fail("agent.target_update_interval", c.Agent.TargetUpdateInterval, "must be non-negative")
	}

	e := c.Exploration
	if e.Start < 0 || e.Start > 1 {
		result.fail("exploration.start", e.Start, "must be in [0, 1]")
	}
	if e.Min < 0 || e.Min > 1 {
		result.fail("exploration.min", e.Min, "must be in [0, 1]")
	}
	if e.Min > e.Start {
		result.fail("exploration.min", e.Min, "must not exceed exploration.start")
	}
	if e.Decay <= 0 || e.Decay > 1 {
		result.fail("exploration.decay", e.Decay, "must be in (0, 1]")
	}

	if c.Memory.Capacity < c.Agent.BatchSize {
		result.fail("memory.capacity", c.Memory.Capacity, "must hold at least one batch")
	} else if c.Memory.Capacity < 10*c.Agent.BatchSize {
		result.warn("memory.capacity", c.Memory.Capacity, "small relative to batch size, samples will be highly correlated")
	}

	if c.Training.Episodes < 1 {
		result.fail("training.episodes", c.Training.Episodes, "must be at least 1")
	}
	if c.Training.TrainEvery < 1 {
		result.fail("training.train_every", c.Training.TrainEvery, "must be at least 1")
	}
	if c.Training.Parallel < 1 {
		result.fail("training.parallel", c.Training.Parallel, "must be at least 1")
	}
	if c.Training.SaveEvery < 0 {
		result.fail("training.save_every", c.Training.SaveEvery, "must be non-negative")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Log.Level] {
		result.fail("log.level", c.Log.Level, "must be one of: debug, info, warn, error")
	}
	if c.Log.Format != "console" && c.Log.Format != "json" {
		result.fail("log.format", c.Log.Format, "must be console or json")
	}

	return result
}

// NetworkConfig completes the network settings with the input and output
// widths implied by the window and the action set.
func (c *Config) NetworkConfig(outputs int) qnet.Config {
	cfg := c.Network
	cfg.Inputs = c.Window
	cfg.Outputs = outputs
	cfg.Hidden = append([]int(nil), c.Network.Hidden...)
	return cfg
}
