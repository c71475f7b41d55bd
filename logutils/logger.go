package logutils

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	_zapLogger     *zap.Logger
	_initZapLogger sync.Once
)

// ZapLogger returns the default global logger.
func ZapLogger() *zap.Logger {
	_initZapLogger.Do(func() {
		var err error
		_zapLogger, err = NewDevelopmentLogger(zapcore.InfoLevel)
		if err != nil {
			panic(err)
		}
	})
	return _zapLogger
}

// NewDevelopmentLogger builds a console logger writing to stderr.
func NewDevelopmentLogger(level zapcore.Level) (*zap.Logger, error) {
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	return cfg.Build()
}

// NewFileLogger builds a logger writing JSON lines to a rotated file.
func NewFileLogger(opts FileOptions, level zapcore.Level) *zap.Logger {
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderCfg),
		ZapSyncerWithRotation(opts),
		level,
	)
	return zap.New(core)
}

// OverrideGlobalLogger replaces the default logger. Not safe to call after
// components captured the previous instance; intended for process startup.
func OverrideGlobalLogger(logger *zap.Logger) {
	_initZapLogger.Do(func() {})
	_zapLogger = logger
}
