// Copyright (C) 2025, PayAttn Labs. All rights reserved.
// See the file LICENSE for licensing terms.

package log

import (
	"github.com/luxfi/node/utils/logging"
	"go.uber.org/zap"
)

// Logger is the leveled structured logger used across the broker.
type Logger interface {
	Debug(msg string, fields ...zap.Field)
	Info(msg string, fields ...zap.Field)
	Warn(msg string, fields ...zap.Field)
	Error(msg string, fields ...zap.Field)
	Fatal(msg string, fields ...zap.Field)
	Sync() error
}

type luxLogger struct {
	log logging.Logger
}

// New creates a logger at info level.
func New() Logger {
	return NewWithLevel("info")
}

// NewWithLevel creates a logger with a specific level.
func NewWithLevel(level string) Logger {
	lvl := logging.Info
	switch level {
	case "debug":
		lvl = logging.Debug
	case "info":
		lvl = logging.Info
	case "warn":
		lvl = logging.Warn
	case "error":
		lvl = logging.Error
	case "fatal":
		lvl = logging.Fatal
	}

	config := logging.Config{
		DisplayLevel:            lvl,
		LogLevel:                lvl,
		DisableWriterDisplaying: false,
	}

	factory := logging.NewFactory(config)
	log, err := factory.Make("payattn")
	if err != nil {
		return &noOpLogger{}
	}

	return &luxLogger{log: log}
}

// NewNamed creates an info-level logger with a name.
func NewNamed(name string) Logger {
	config := logging.Config{
		DisplayLevel: logging.Info,
		LogLevel:     logging.Info,
	}

	factory := logging.NewFactory(config)
	log, err := factory.Make(name)
	if err != nil {
		return &noOpLogger{}
	}

	return &luxLogger{log: log}
}

// NoOp returns a logger that discards everything.
func NoOp() Logger {
	return &noOpLogger{}
}

// NoLog is a shared no-op logger instance.
var NoLog = NoOp()

func (l *luxLogger) Debug(msg string, fields ...zap.Field) { l.log.Debug(msg, fields...) }
func (l *luxLogger) Info(msg string, fields ...zap.Field)  { l.log.Info(msg, fields...) }
func (l *luxLogger) Warn(msg string, fields ...zap.Field)  { l.log.Warn(msg, fields...) }
func (l *luxLogger) Error(msg string, fields ...zap.Field) { l.log.Error(msg, fields...) }
func (l *luxLogger) Fatal(msg string, fields ...zap.Field) { l.log.Fatal(msg, fields...) }

func (l *luxLogger) Sync() error {
	l.log.Stop()
	return nil
}

type noOpLogger struct{}

func (n *noOpLogger) Debug(msg string, fields ...zap.Field) {}
func (n *noOpLogger) Info(msg string, fields ...zap.Field)  {}
func (n *noOpLogger) Warn(msg string, fields ...zap.Field)  {}
func (n *noOpLogger) Error(msg string, fields ...zap.Field) {}
func (n *noOpLogger) Fatal(msg string, fields ...zap.Field) {}
func (n *noOpLogger) Sync() error                           { return nil }

// Field helpers so callers don't import zap directly.

func String(key, val string) zap.Field {
	return zap.String(key, val)
}

func Int(key string, val int) zap.Field {
	return zap.Int(key, val)
}

func Uint64(key string, val uint64) zap.Field {
	return zap.Uint64(key, val)
}

func Bool(key string, val bool) zap.Field {
	return zap.Bool(key, val)
}

func Error(err error) zap.Field {
	return zap.Error(err)
}
