// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package commons

import (
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger is the application-wide logging interface. It mirrors the zap
// sugared logger surface so call sites can use printf-style, key-value
// style, or plain variants interchangeably.
type Logger interface {
	Debug(args ...interface{})
	Info(args ...interface{})
	Warn(args ...interface{})
	Error(args ...interface{})

	Debugf(template string, args ...interface{})
	Infof(template string, args ...interface{})
	Warnf(template string, args ...interface{})
	Errorf(template string, args ...interface{})
	Fatalf(template string, args ...interface{})

	Debugw(msg string, keysAndValues ...interface{})
	Infow(msg string, keysAndValues ...interface{})
	Warnw(msg string, keysAndValues ...interface{})
	Errorw(msg string, keysAndValues ...interface{})

	// Benchmark logs a named duration at debug level.
	Benchmark(name string, elapsed time.Duration)

	Sync() error
}

type applicationLogger struct {
	*zap.SugaredLogger
}

// NewApplicationLogger creates the standard application logger: console
// output plus a size-rotated file. Level comes from LOG_LEVEL (default debug).
func NewApplicationLogger() (Logger, error) {
	return NewApplicationLoggerWithLevel(os.Getenv("LOG_LEVEL"))
}

// NewApplicationLoggerWithLevel creates an application logger with an
// explicit level ("debug", "info", "warn", "error").
func NewApplicationLoggerWithLevel(level string) (Logger, error) {
	zapLevel := zapcore.DebugLevel
	if level != "" {
		if parsed, err := zapcore.ParseLevel(level); err == nil {
			zapLevel = parsed
		}
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoder := zapcore.NewJSONEncoder(encoderCfg)

	fileWriter := zapcore.AddSync(&lumberjack.Logger{
		Filename:   "logs/application.log",
		MaxSize:    100, // MB
		MaxBackups: 5,
		MaxAge:     30, // days
		Compress:   true,
	})

	core := zapcore.NewTee(
		zapcore.NewCore(encoder, zapcore.AddSync(os.Stdout), zapLevel),
		zapcore.NewCore(encoder, fileWriter, zapLevel),
	)

	logger := zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1))
	return &applicationLogger{logger.Sugar()}, nil
}

func (l *applicationLogger) Benchmark(name string, elapsed time.Duration) {
	l.Debugw("benchmark", "stage", name, "elapsed_ms", elapsed.Milliseconds())
}

// NewNopLogger returns a logger that discards everything. For tests.
func NewNopLogger() Logger {
	return &applicationLogger{zap.NewNop().Sugar()}
}
