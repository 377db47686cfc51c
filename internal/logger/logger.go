// Package logger is the process-wide logger, a thin layer over zap with
// printf-style helpers.
package logger

import (
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu    sync.RWMutex
	level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	sugar *zap.SugaredLogger
)

func init() {
	l, err := build([]string{"stderr"})
	if err != nil {
		panic(err)
	}
	sugar = l
}

func build(outputs []string) (*zap.SugaredLogger, error) {
	cfg := zap.Config{
		Level:            level,
		Encoding:         "console",
		OutputPaths:      outputs,
		ErrorOutputPaths: []string{"stderr"},
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "time",
			LevelKey:       "level",
			MessageKey:     "message",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.LowercaseLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.StringDurationEncoder,
		},
	}
	l, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return l.Sugar(), nil
}

// SetLevel sets the minimum level by name ("debug", "info", "warn", "error").
// Unknown names leave the level unchanged and return false.
func SetLevel(name string) bool {
	var lv zapcore.Level
	if err := lv.UnmarshalText([]byte(strings.ToLower(name))); err != nil {
		return false
	}
	level.SetLevel(lv)
	return true
}

// SetOutput redirects the logger, e.g. SetOutput([]string{"stderr", "kpi.log"}).
// On error the current outputs are kept.
func SetOutput(outputs []string) error {
	l, err := build(outputs)
	if err != nil {
		return err
	}
	mu.Lock()
	old := sugar
	sugar = l
	mu.Unlock()
	_ = old.Sync()
	return nil
}

// Replace installs an externally built logger, used by tests to observe output.
func Replace(l *zap.Logger) {
	mu.Lock()
	sugar = l.Sugar()
	mu.Unlock()
}

func get() *zap.SugaredLogger {
	mu.RLock()
	defer mu.RUnlock()
	return sugar
}

// Sync flushes buffered log entries.
func Sync() {
	_ = get().Sync()
}

func Debugf(format string, args ...interface{}) {
	get().Debugf(format, args...)
}

func Infof(format string, args ...interface{}) {
	get().Infof(format, args...)
}

func Warnf(format string, args ...interface{}) {
	get().Warnf(format, args...)
}

func Errorf(format string, args ...interface{}) {
	get().Errorf(format, args...)
}

func Fatalf(format string, args ...interface{}) {
	get().Fatalf(format, args...)
}
