// Package logging owns the process-wide zap logger. Components receive the
// logger by injection; the package-level L exists for the thin CLI layer that
// runs before the application container is built.
package logging

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// L is the shared logger. It defaults to a no-op logger so packages can log
// safely before InitLogger runs (and so tests stay quiet).
var L = zap.NewNop()

// InitLogger builds the shared logger from the log.mode configuration key
// ("production" or "development") and stores it in L. It is called once at
// startup, before configuration-dependent services initialize.
func InitLogger() {
	mode := strings.ToLower(viper.GetString("log.mode"))
	logger, err := New(mode == "development")
	if err != nil {
		// Logging must never prevent startup; fall back to the basic config.
		logger = zap.NewExample()
	}
	L = logger
}

// New builds a zap.Logger configured for development or production. The
// development logger uses a colorized console encoder; the production logger
// emits JSON with stack traces on error-level records.
func New(development bool) (*zap.Logger, error) {
	if development {
		cfg := zap.NewDevelopmentConfig()
		cfg.EncoderConfig.TimeKey = "ts"
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		logger, err := cfg.Build()
		if err != nil {
			return nil, fmt.Errorf("build dev logger: %w", err)
		}
		return logger, nil
	}
	cfg := zap.NewProductionConfig()
	cfg.DisableStacktrace = false
	cfg.EncoderConfig.TimeKey = "ts"
	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build prod logger: %w", err)
	}
	return logger, nil
}
