// Package observability holds the process-wide loggers.
//
// The CLI logger is initialized early with defaults so commands can log
// before configuration is loaded, then rebuilt once the effective log
// level and profile are known.
package observability

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// CLILogger is the process-wide logger for command output. Initialized by
// InitCLILogger; nil until then.
var CLILogger *zap.Logger

// Logging profiles.
const (
	// ProfileCLI renders human-readable console output.
	ProfileCLI = "cli"

	// ProfileStructured renders JSON lines for log shippers.
	ProfileStructured = "structured"
)

// InitCLILogger builds the console logger at the given level and installs
// it as CLILogger. Unknown levels fall back to info.
func InitCLILogger(level string, noColor bool) {
	CLILogger = build(level, ProfileCLI, noColor)
}

// Init rebuilds CLILogger from the effective configuration.
func Init(level, profile string, noColor bool) {
	CLILogger = build(level, profile, noColor)
}

// Sync flushes buffered log entries. Safe to call with no logger installed.
func Sync() {
	if CLILogger != nil {
		_ = CLILogger.Sync()
	}
}

func build(level, profile string, noColor bool) *zap.Logger {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var enc zapcore.Encoder
	if strings.EqualFold(profile, ProfileStructured) {
		enc = zapcore.NewJSONEncoder(encCfg)
	} else {
		encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		if noColor {
			encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		}
		enc = zapcore.NewConsoleEncoder(encCfg)
	}

	core := zapcore.NewCore(enc, zapcore.Lock(os.Stderr), ParseLevel(level))
	return zap.New(core)
}

// ParseLevel maps a level name to a zap level, defaulting to info.
func ParseLevel(level string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zapcore.DebugLevel
	case "info", "":
		return zapcore.InfoLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}
