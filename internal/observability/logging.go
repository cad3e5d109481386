// Package observability owns logger construction for the CLI and the
// long-running service.
package observability

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// CLILogger is the process-wide logger for command implementations. It
// defaults to a no-op logger so packages can log unconditionally; Init
// replaces it once flags and config are resolved.
var CLILogger = zap.NewNop()

// Config selects the log level and output encoding.
type Config struct {
	// Level is one of debug, info, warn, error.
	// Default: info
	Level string `mapstructure:"level" yaml:"level"`

	// Format is "json" for structured output or "console" for
	// human-readable output.
	// Default: json
	Format string `mapstructure:"format" yaml:"format"`
}

// Init builds a logger from cfg and installs it as CLILogger.
func Init(cfg Config) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if cfg.Level != "" {
		if err := level.Set(cfg.Level); err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
		}
	}

	var zapCfg zap.Config
	switch cfg.Format {
	case "", "json":
		zapCfg = zap.NewProductionConfig()
	case "console":
		zapCfg = zap.NewDevelopmentConfig()
	default:
		return nil, fmt.Errorf("invalid log format %q: expected json or console", cfg.Format)
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}

	CLILogger = logger
	return logger, nil
}

// Sync flushes buffered log entries. Safe to call on a no-op logger.
func Sync() {
	_ = CLILogger.Sync()
}
