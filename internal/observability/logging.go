// Package observability constructs the process loggers.
package observability

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// CLILogger is the logger used by CLI commands. It defaults to a no-op
// logger so commands can log before InitCLILogger runs (e.g. during flag
// errors).
var CLILogger = zap.NewNop()

// New builds a structured logger.
//
// level is one of debug, info, warn, error. format is "json" for
// production output or "console" for human-readable output.
func New(level, format string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	var cfg zap.Config
	switch format {
	case "", "json":
		cfg = zap.NewProductionConfig()
	case "console":
		cfg = zap.NewDevelopmentConfig()
	default:
		return nil, fmt.Errorf("invalid log format %q (want json or console)", format)
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return logger, nil
}

// InitCLILogger installs the console logger used by CLI commands.
func InitCLILogger(level string) error {
	logger, err := New(level, "console")
	if err != nil {
		return err
	}
	CLILogger = logger
	return nil
}
