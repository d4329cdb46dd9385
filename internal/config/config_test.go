package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/kylelemons/godebug/pretty"
)

func TestDefaultConfigValid(t *testing.T) {
	result := Default().Validate()
	if !result.IsValid() {
		t.Errorf("default config should be valid, got errors: %v", result.Errors)
	}
	if result.HasWarnings() {
		t.Errorf("default config should not warn, got: %v", result.Warnings)
	}
	if result.Err() != nil {
		t.Errorf("Err() = %v, want nil", result.Err())
	}
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		field  string
		mutate func(*Config)
	}{
		{"window", func(c *Config) { c.Window = 0 }},
		{"strategy", func(c *Config) { c.Strategy = "dueling" }},
		{"network.learning_rate", func(c *Config) { c.Network.LearningRate = 0 }},
		{"network.hidden", func(c *Config) { c.Network.Hidden = []int{16, 0} }},
		{"agent.gamma", func(c *Config) { c.Agent.Gamma = 1 }},
		{"agent.batch_size", func(c *Config) { c.Agent.BatchSize = 0 }},
		{"exploration.min", func(c *Config) { c.Exploration.Min = 0.9; c.Exploration.Start = 0.5 }},
		{"exploration.decay", func(c *Config) { c.Exploration.Decay = 1.5 }},
		{"memory.capacity", func(c *Config) { c.Memory.Capacity = 8 }},
		{"training.episodes", func(c *Config) { c.Training.Episodes = 0 }},
		{"training.parallel", func(c *Config) { c.Training.Parallel = 0 }},
		{"log.level", func(c *Config) { c.Log.Level = "loud" }},
		{"log.format", func(c *Config) { c.Log.Format = "xml" }},
	}

	for _, test := range tests {
		t.Run(test.field, func(t *testing.T) {
			cfg := Default()
			test.mutate(cfg)
			result := cfg.Validate()
			if result.IsValid() {
				t.Fatalf("expected %s to be rejected", test.field)
			}
			found := false
			for _, err := range result.Errors {
				if err.Field == test.field {
					found = true
					break
				}
			}
			if !found {
				t.Errorf("expected %s validation error, got %v", test.field, result.Errors)
			}
			if result.Err() == nil {
				t.Error("Err() should be non-nil")
			}
		})
	}
}

func TestValidateWarnings(t *testing.T) {
	cfg := Default()
	cfg.Agent.Gamma = 0.2
	cfg.Memory.Capacity = 64

	result := cfg.Validate()
	if !result.IsValid() {
		t.Fatalf("expected only warnings, got errors: %v", result.Errors)
	}
	var fields []string
	for _, w := range result.Warnings {
		fields = append(fields, w.Field)
	}
	if diff := pretty.Compare([]string{"agent.gamma", "memory.capacity"}, fields); diff != "" {
		t.Errorf("warning fields -want +got:\n%s", diff)
	}
}

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "train.yaml")
	content := `
window: 5
strategy: vanilla
network:
  hidden: [16]
  learning_rate: 0.01
agent:
  gamma: 0.9
  batch_size: 8
exploration:
  decay: 0.9
training:
  episodes: 3
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	want := Default()
	want.Window = 5
	want.Strategy = "vanilla"
	want.Network.Hidden = []int{16}
	want.Network.LearningRate = 0.01
	want.Agent.Gamma = 0.9
	want.Agent.BatchSize = 8
	want.Exploration.Decay = 0.9
	want.Training.Episodes = 3
	if diff := pretty.Compare(want, cfg); diff != "" {
		t.Errorf("Load -want +got:\n%s", diff)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("DQN_WINDOW", "7")
	t.Setenv("DQN_STRATEGY", "fixed-target")
	t.Setenv("DQN_SEED", "1234")
	t.Setenv("DQN_GAMMA", "0.8")
	t.Setenv("DQN_EPISODES", "not-a-number")

	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Window != 7 || cfg.Strategy != "fixed-target" || cfg.Training.Seed != 1234 || cfg.Agent.Gamma != 0.8 {
		t.Errorf("env overrides not applied: %+v", cfg)
	}
	if cfg.Training.Episodes != Default().Training.Episodes {
		t.Errorf("malformed env value should fall back, got %d", cfg.Training.Episodes)
	}
}

func TestLoadErrors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}

	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("window: [1, 2"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected error for malformed yaml")
	}
}

func TestNetworkConfig(t *testing.T) {
	cfg := Default()
	net := cfg.NetworkConfig(3)
	if net.Inputs != cfg.Window || net.Outputs != 3 {
		t.Errorf("NetworkConfig = %+v", net)
	}
	net.Hidden[0] = 999
	if cfg.Network.Hidden[0] == 999 {
		t.Error("NetworkConfig aliased hidden sizes")
	}
}
