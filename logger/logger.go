// Package logger builds the service-wide zap logger.
package logger

import (
	"fmt"

	"go.uber.org/zap"
)

type Config struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

func New(cfg Config) (*zap.SugaredLogger, error) {
	zapCfg := zap.NewProductionConfig()
	if cfg.Development {
		zapCfg = zap.NewDevelopmentConfig()
	}

	if cfg.Level != "" {
		level, err := zap.ParseAtomicLevel(cfg.Level)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q - %w", cfg.Level, err)
		}
		zapCfg.Level = level
	}

	baseLogger, err := zapCfg.Build()
	if err != nil {
		return nil, err
	}

	return baseLogger.Sugar(), nil
}
