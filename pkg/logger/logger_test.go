package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestNewLogger_ValidLevelsAndFormats(t *testing.T) {
	tests := []struct {
		name   string
		level  string
		format string
	}{
		{"debug json", "debug", "json"},
		{"info json", "info", "json"},
		{"warn console", "warn", "console"},
		{"error console", "error", "console"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := NewLogger(tt.level, tt.format)

			require.NoError(t, err)
			require.NotNil(t, logger)

			logger.Info("test log message", zap.String("case", tt.name))
		})
	}
}

func TestNewLogger_InvalidLevel(t *testing.T) {
	for _, level := range []string{"invalid", "INFO", "trace", ""} {
		t.Run(level, func(t *testing.T) {
			logger, err := NewLogger(level, "json")

			assert.Error(t, err)
			assert.Nil(t, logger)
			assert.Contains(t, err.Error(), "invalid log level")
		})
	}
}

func TestNewLogger_InvalidFormat(t *testing.T) {
	logger, err := NewLogger("info", "xml")

	assert.Error(t, err)
	assert.Nil(t, logger)
	assert.Contains(t, err.Error(), "invalid log format")
}

func TestNewLogger_LevelFiltering(t *testing.T) {
	tests := []struct {
		level    string
		enabled  []zapcore.Level
		disabled []zapcore.Level
	}{
		{"debug", []zapcore.Level{zapcore.DebugLevel, zapcore.InfoLevel}, nil},
		{"info", []zapcore.Level{zapcore.InfoLevel, zapcore.ErrorLevel}, []zapcore.Level{zapcore.DebugLevel}},
		{"error", []zapcore.Level{zapcore.ErrorLevel}, []zapcore.Level{zapcore.DebugLevel, zapcore.InfoLevel, zapcore.WarnLevel}},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			logger, err := NewLogger(tt.level, "json")
			require.NoError(t, err)

			for _, lvl := range tt.enabled {
				assert.True(t, logger.Core().Enabled(lvl), "%s should be enabled", lvl)
			}
			for _, lvl := range tt.disabled {
				assert.False(t, logger.Core().Enabled(lvl), "%s should be disabled", lvl)
			}
		})
	}
}

func TestParseLevel(t *testing.T) {
	lvl, err := ParseLevel("warn")
	require.NoError(t, err)
	assert.Equal(t, zapcore.WarnLevel, lvl)

	_, err = ParseLevel("verbose")
	assert.Error(t, err)
}

func TestComponent(t *testing.T) {
	base := zap.NewNop()
	assert.NotNil(t, Component(base, "roles"))
	assert.NotNil(t, Component(nil, "roles"))
}
