package logging

import (
	"strings"

	"go.uber.org/zap"
)

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string // "debug", "info", "warn", "error"
	Format string // "json", "console"
}

// New builds a logger: json selects the production encoder, anything else
// the development console encoder. Unknown levels fall back to info.
func New(cfg LogConfig) (*zap.Logger, error) {
	var zc zap.Config
	switch strings.ToLower(cfg.Format) {
	case "json":
		zc = zap.NewProductionConfig()
	default:
		zc = zap.NewDevelopmentConfig()
	}

	level, err := zap.ParseAtomicLevel(strings.ToLower(cfg.Level))
	if err != nil {
		level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	zc.Level = level

	logger, err := zc.Build(zap.AddStacktrace(zap.ErrorLevel))
	if err != nil {
		return nil, err
	}
	logger.Info("logging initialized", zap.String("level", level.String()), zap.String("format", cfg.Format))
	return logger, nil
}

// Sync flushes buffered entries. Sync on stderr fails on some platforms;
// that is not actionable.
func Sync(logger *zap.Logger) {
	if logger != nil {
		_ = logger.Sync()
	}
}
