package logging

import (
	"testing"

	"go.uber.org/zap/zapcore"

	"dqn-trader/internal/config"
)

func TestNew(t *testing.T) {
	tests := []struct {
		cfg       config.LogConfig
		debug     bool
		wantLevel zapcore.Level
	}{
		{config.LogConfig{Level: "info", Format: "console"}, false, zapcore.InfoLevel},
		{config.LogConfig{Level: "warn", Format: "json"}, false, zapcore.WarnLevel},
		{config.LogConfig{Level: "error", Format: "json"}, true, zapcore.DebugLevel},
	}
	for _, test := range tests {
		logger, err := New(test.cfg, test.debug)
		if err != nil {
			t.Fatalf("New(%+v): %v", test.cfg, err)
		}
		if !logger.Core().Enabled(test.wantLevel) {
			t.Errorf("New(%+v, %v): level %v not enabled", test.cfg, test.debug, test.wantLevel)
		}
		if test.wantLevel > zapcore.DebugLevel && logger.Core().Enabled(test.wantLevel-1) {
			t.Errorf("New(%+v): level below %v enabled", test.cfg, test.wantLevel)
		}
	}
}

func TestNewRejectsUnknown(t *testing.T) {
	if _, err := New(config.LogConfig{Level: "loud", Format: "console"}, false); err == nil {
		t.Error("expected error for unknown level")
	}
	if _, err := New(config.LogConfig{Level: "info", Format: "xml"}, false); err == nil {
		t.Error("expected error for unknown format")
	}
}
