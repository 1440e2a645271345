// Package logging builds the zap logger used across navigatord.
package logging

import (
	"errors"
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ErrInvalidConfig indicates invalid logging configuration.
var ErrInvalidConfig = errors.New("invalid config")

// Config holds logging configuration.
type Config struct {
	// Level is the minimum enabled level: debug, info, warn or error.
	// Default: info
	Level string `koanf:"level"`

	// Format selects the encoder: json or console.
	// Default: json
	Format string `koanf:"format"`
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}
	if c.Format == "" {
		c.Format = "json"
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if _, err := zapcore.ParseLevel(c.Level); err != nil {
		return fmt.Errorf("%w: unknown level %q", ErrInvalidConfig, c.Level)
	}
	if c.Format != "json" && c.Format != "console" {
		return fmt.Errorf("%w: format must be json or console, got %q", ErrInvalidConfig, c.Format)
	}
	return nil
}

// New creates a logger from config, writing to stdout.
func New(config Config) (*zap.Logger, error) {
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}

	level, err := zapcore.ParseLevel(config.Level)
	if err != nil {
		return nil, fmt.Errorf("%w: unknown level %q", ErrInvalidConfig, config.Level)
	}

	core := zapcore.NewCore(
		newEncoder(config.Format),
		zapcore.Lock(os.Stdout),
		level,
	)
	return zap.New(core,
		zap.AddCaller(),
		zap.AddStacktrace(zapcore.ErrorLevel),
	), nil
}

// newEncoder creates a JSON or console encoder.
func newEncoder(format string) zapcore.Encoder {
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	if format == "console" {
		return zapcore.NewConsoleEncoder(encoderCfg)
	}
	return zapcore.NewJSONEncoder(encoderCfg)
}
