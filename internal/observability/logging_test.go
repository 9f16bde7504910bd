package observability

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  zapcore.Level
	}{
		{"debug", zapcore.DebugLevel},
		{"info", zapcore.InfoLevel},
		{"warn", zapcore.WarnLevel},
		{"warning", zapcore.WarnLevel},
		{"error", zapcore.ErrorLevel},
		{"ERROR", zapcore.ErrorLevel},
		{"  info ", zapcore.InfoLevel},
		{"", zapcore.InfoLevel},
		{"bogus", zapcore.InfoLevel},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseLevel(tt.input), "level %q", tt.input)
	}
}

func TestInitCLILogger(t *testing.T) {
	orig := CLILogger
	defer func() { CLILogger = orig }()

	InitCLILogger("debug", false)
	assert.NotNil(t, CLILogger)
	assert.True(t, CLILogger.Core().Enabled(zapcore.DebugLevel))

	InitCLILogger("error", true)
	assert.False(t, CLILogger.Core().Enabled(zapcore.InfoLevel))
}

func TestInitRebuildWithProfile(t *testing.T) {
	orig := CLILogger
	defer func() { CLILogger = orig }()

	Init("info", ProfileStructured, true)
	assert.NotNil(t, CLILogger)
	assert.NotPanics(t, func() { CLILogger.Info("structured entry") })
}

func TestSyncWithoutLogger(t *testing.T) {
	orig := CLILogger
	defer func() { CLILogger = orig }()

	CLILogger = nil
	assert.NotPanics(t, Sync)
}
