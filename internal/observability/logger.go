// Package observability owns process-wide logging for the CLI.
//
// Engine packages under pkg/ stay logger-free and report through
// errors and records; commands log here. Logs go to stderr so stdout
// stays clean for JSONL records.
package observability

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// CLILogger is the shared logger for command-level diagnostics.
// It is a no-op until InitCLILogger is called.
var CLILogger = zap.NewNop()

// Logging profiles.
const (
	// ProfileStructured emits JSON log lines.
	ProfileStructured = "structured"

	// ProfileConsole emits human-readable log lines.
	ProfileConsole = "console"
)

// InitCLILogger replaces CLILogger with a real logger at the given
// level ("debug", "info", "warn", "error") and profile.
func InitCLILogger(level, profile string) error {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}

	var cfg zap.Config
	switch profile {
	case ProfileStructured, "":
		cfg = zap.NewProductionConfig()
	case ProfileConsole:
		cfg = zap.NewDevelopmentConfig()
	default:
		return fmt.Errorf("invalid logging profile %q", profile)
	}

	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}

	logger, err := cfg.Build()
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}

	CLILogger = logger
	return nil
}

// SyncCLILogger flushes buffered log entries. Safe to call on the
// no-op logger.
func SyncCLILogger() {
	_ = CLILogger.Sync()
}
