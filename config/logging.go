package config

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LoggingConfig defines basic logging knobs.
type LoggingConfig struct {
	Level string `toml:"level"`
	// Format is "json" or "console".
	Format string `toml:"format"`
}

func (l LoggingConfig) validate() error {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(l.Level)); err != nil {
		return fmt.Errorf("config: logging.level: %w", err)
	}
	switch l.Format {
	case "json", "console":
		return nil
	}
	return fmt.Errorf("config: logging.format must be json or console, got %q", l.Format)
}

// Build returns a logger writing to stderr at the configured level.
func (l LoggingConfig) Build() (*zap.Logger, error) {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(l.Level)); err != nil {
		return nil, fmt.Errorf("config: logging.level: %w", err)
	}
	zc := zap.NewProductionConfig()
	if l.Format == "console" {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(lvl)
	zc.OutputPaths = []string{"stderr"}
	return zc.Build()
}
