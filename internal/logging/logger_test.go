package logging

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/mrcode/loop-caregiver/internal/models"
)

func TestNewLogger_Levels(t *testing.T) {
	tests := []struct {
		level    string
		format   string
		expected zapcore.Level
	}{
		{"debug", "json", zapcore.DebugLevel},
		{"warn", "console", zapcore.WarnLevel},
		{"error", "json", zapcore.ErrorLevel},
		{"", "json", zapcore.InfoLevel},
		{"verbose", "console", zapcore.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.level+"/"+tt.format, func(t *testing.T) {
			logger, err := NewLogger(tt.level, tt.format, "loop-caregiver")
			if err != nil {
				t.Fatalf("NewLogger() error = %v", err)
			}
			if !logger.Core().Enabled(tt.expected) {
				t.Errorf("level %s should be enabled", tt.expected)
			}
			if tt.expected > zapcore.DebugLevel && logger.Core().Enabled(tt.expected-1) {
				t.Errorf("level %s should be disabled", tt.expected-1)
			}
		})
	}
}

func TestWithLooper(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	looper := models.NewLooper("Emma", "https://emma.example.com", "", "")

	WithLooper(zap.New(core), looper).Info("synchronized")

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("got %d log entries, want 1", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["looper_id"] != looper.ID {
		t.Errorf("looper_id = %v, want %s", fields["looper_id"], looper.ID)
	}
	if fields["looper_name"] != "Emma" {
		t.Errorf("looper_name = %v, want Emma", fields["looper_name"])
	}
}
