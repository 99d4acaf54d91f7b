package config

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type LoggerConfig struct {
	Level   string
	Env     string
	Service string
}

// NewLogger builds a JSON logger for prod and a console logger everywhere else.
// Every entry carries the env and service fields.
func NewLogger(cfg LoggerConfig) (*zap.Logger, error) {
	var zapCfg zap.Config

	switch cfg.Env {
	case "prod":
		zapCfg = zap.NewProductionConfig()
		zapCfg.EncoderConfig.TimeKey = "timestamp"
		zapCfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	default:
		zapCfg = zap.NewDevelopmentConfig()
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		zapCfg.DisableStacktrace = true
	}

	level, err := zapcore.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		return nil, err
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)

	fields := []zap.Field{zap.String("env", cfg.Env)}
	if cfg.Service != "" {
		fields = append(fields, zap.String("service", cfg.Service))
	}

	return zapCfg.Build(zap.Fields(fields...))
}
