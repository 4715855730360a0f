package obs

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	logOnce sync.Once
	logger  *zap.Logger
)

// InitLogger builds the shared logger. Idempotent; only the first call has
// effect. env "dev" selects console output, anything else JSON.
func InitLogger(env, level string) {
	logOnce.Do(func() {
		logger = build(env, level)
	})
}

// Log returns the shared logger, initialising a production default when
// InitLogger was never called.
func Log() *zap.Logger {
	if logger == nil {
		InitLogger("prod", "info")
	}
	return logger
}

// Named returns a component-scoped logger.
func Named(name string) *zap.Logger {
	return Log().Named(name)
}

// Sync flushes buffered log entries. Call from main with defer.
func Sync() {
	if logger != nil {
		_ = logger.Sync()
	}
}

func build(env, level string) *zap.Logger {
	var cfg zap.Config
	if env == "dev" {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.TimeKey = "ts"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	if lvl, err := zapcore.ParseLevel(level); err == nil {
		cfg.Level = zap.NewAtomicLevelAt(lvl)
	}
	l, err := cfg.Build(zap.AddCaller())
	if err != nil {
		return zap.NewNop()
	}
	return l
}
