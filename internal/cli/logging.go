package cli

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/klubi/reagent/internal/config"
)

// newLogger builds a stderr logger from lc. An empty level uses fallback.
func newLogger(lc config.LogConfig, fallback zapcore.Level) (*zap.Logger, error) {
	level := fallback
	if lc.Level != "" {
		if err := level.UnmarshalText([]byte(lc.Level)); err != nil {
			return nil, fmt.Errorf("%w: log level %q", config.ErrInvalid, lc.Level)
		}
	}

	var zc zap.Config
	switch lc.Format {
	case "json":
		zc = zap.NewProductionConfig()
	case "", "console":
		zc = zap.NewDevelopmentConfig()
	default:
		return nil, fmt.Errorf("%w: log format %q", config.ErrInvalid, lc.Format)
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.OutputPaths = []string{"stderr"}
	zc.ErrorOutputPaths = []string{"stderr"}

	logger, err := zc.Build()
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	return logger, nil
}

// loadConfig reads the --config file over the defaults.
func loadConfig() (*config.Config, error) {
	return config.Load(configPath)
}
