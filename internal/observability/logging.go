// Package observability provides logging and metrics for dxrunner.
//
// Two logger profiles exist: a console logger for CLI commands (human-facing
// output with minimal decoration) and a structured JSON logger for the status
// server. Both are zap loggers so call sites use typed fields uniformly.
package observability

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// CLILogger is the process-wide logger for CLI command output.
//
// Initialized to a no-op logger so package-level init order never panics;
// commands call InitCLILogger from the root command's PersistentPreRun.
var CLILogger = zap.NewNop()

// InitCLILogger configures CLILogger for command-line use.
//
// The console encoder writes the message only (no timestamps, no caller)
// at info level and above, which keeps CLI output clean while still
// carrying structured fields for debug runs. Set structured to true to
// emit JSON instead (used when command output is piped into collectors).
func InitCLILogger(level string, structured bool) {
	encCfg := zapcore.EncoderConfig{
		MessageKey:     "msg",
		LevelKey:       "",
		TimeKey:        "",
		NameKey:        "",
		CallerKey:      "",
		StacktraceKey:  "",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeDuration: zapcore.StringDurationEncoder,
	}

	var encoder zapcore.Encoder
	if structured {
		encCfg.LevelKey = "level"
		encCfg.TimeKey = "ts"
		encCfg.EncodeTime = zapcore.RFC3339NanoTimeEncoder
		encCfg.EncodeLevel = zapcore.LowercaseLevelEncoder
		encoder = zapcore.NewJSONEncoder(encCfg)
	} else {
		encoder = zapcore.NewConsoleEncoder(encCfg)
	}

	core := zapcore.NewCore(encoder, zapcore.Lock(os.Stderr), parseLevel(level))
	CLILogger = zap.New(core)
}

// NewStructuredLogger builds a JSON logger for long-running components
// (status server, watchdog daemon mode). Unlike CLILogger it carries
// timestamps, levels, and caller information.
func NewStructuredLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(parseLevel(level))
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.RFC3339NanoTimeEncoder
	return cfg.Build()
}

// Sync flushes CLILogger. Errors are ignored; stderr sync failures on
// process exit are not actionable.
func Sync() {
	_ = CLILogger.Sync()
}

func parseLevel(level string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}
