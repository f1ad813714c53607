// Package logger provides the process-wide leveled logger. It wraps a zap
// SugaredLogger behind printf-style helpers so call sites stay terse.
package logger

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Level is the minimum severity that will be emitted.
type Level = zapcore.Level

var (
	atomicLevel = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	sugar       = newSugar()
)

func newSugar() *zap.SugaredLogger {
	encCfg := zap.NewDevelopmentEncoderConfig()
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	cfg := zap.Config{
		Level:            atomicLevel,
		Encoding:         "console",
		EncoderConfig:    encCfg,
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
	}
	l, err := cfg.Build(zap.WithCaller(false))
	if err != nil {
		l = zap.NewNop()
	}
	return l.Sugar()
}

// ParseLevel converts a level name to a Level.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace", "debug":
		return zapcore.DebugLevel, nil
	case "info", "":
		return zapcore.InfoLevel, nil
	case "warn", "warning":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	case "fatal":
		return zapcore.FatalLevel, nil
	case "panic":
		return zapcore.PanicLevel, nil
	default:
		return zapcore.InfoLevel, fmt.Errorf("unknown log level: %q", s)
	}
}

// SetLevel changes the minimum emitted severity at runtime.
func SetLevel(l Level) {
	atomicLevel.SetLevel(l)
}

// Debug logs a formatted message at debug level.
func Debug(format string, args ...any) {
	sugar.Debugf(format, args...)
}

// Info logs a formatted message at info level.
func Info(format string, args ...any) {
	sugar.Infof(format, args...)
}

// Warn logs a formatted message at warn level.
func Warn(format string, args ...any) {
	sugar.Warnf(format, args...)
}

// Error logs a formatted message at error level.
func Error(format string, args ...any) {
	sugar.Errorf(format, args...)
}
