package logger

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func New(service string, outputPaths ...string) *zap.SugaredLogger {
	return NewWithLevel(service, zap.InfoLevel, outputPaths...)
}

// NewWithLevel builds the service logger with a custom minimum level, e.g. zap.DebugLevel
// to see per-record events.
func NewWithLevel(service string, level zapcore.Level, outputPaths ...string) *zap.SugaredLogger {
	encoderCfg := zap.NewProductionEncoderConfig()

	encoderCfg.TimeKey = "timestamp"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	config := zap.Config{
		Development:       false,
		DisableCaller:     false,
		DisableStacktrace: false,
		Sampling:          nil,
		Encoding:          "json",
		EncoderConfig:     encoderCfg,
		OutputPaths:       []string{"stderr"},
		ErrorOutputPaths:  []string{"stderr"},
		Level:             zap.NewAtomicLevelAt(level),
		InitialFields:     map[string]any{"service": service, "pid": os.Getpid()},
	}

	if len(outputPaths) != 0 {
		config.OutputPaths = outputPaths
	}

	return zap.Must(config.Build()).Sugar()
}

// Nop returns a logger that discards everything.
func Nop() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}
