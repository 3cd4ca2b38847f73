// Package logging constructs the process-wide zap logger from LOG_LEVEL,
// LOG_CONSOLE and LOG_FILE, matching spec §6. Every pipeline stage is expected
// to log a "perf:<stage>" field carrying its latency in milliseconds (§4.10).
package logging

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

// Options configures logger construction. Zero-valued Options produce an info
// level, JSON-encoded, stdout-only logger.
type Options struct {
	Level   string // "debug"|"info"|"warn"|"error"; defaults to "info"
	Console bool   // console encoding when true, JSON when false
	File    string // optional rotating log file path
}

// New builds a *zap.Logger per Options. It never returns an error for a
// missing LOG_FILE; a bad LOG_LEVEL falls back to info rather than failing
// startup, since logging configuration is not one of spec §6's validated
// fields.
func New(opts Options) *zap.Logger {
	level := parseLevel(opts.Level)

	var encoder zapcore.Encoder
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	if opts.Console {
		encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encCfg)
	} else {
		encoder = zapcore.NewJSONEncoder(encCfg)
	}

	cores := []zapcore.Core{
		zapcore.NewCore(encoder, zapcore.AddSync(os.Stdout), level),
	}

	if opts.File != "" {
		fileWriter := zapcore.AddSync(&lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    100, // megabytes
			MaxBackups: 5,
			MaxAge:     14, // days
			Compress:   true,
		})
		// File sink is always JSON regardless of console setting, so logs
		// remain machine-parseable on disk.
		fileEncoder := zapcore.NewJSONEncoder(encCfg)
		cores = append(cores, zapcore.NewCore(fileEncoder, fileWriter, level))
	}

	core := zapcore.NewTee(cores...)
	return zap.New(core, zap.AddCaller())
}

func parseLevel(s string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// StageTimer returns a func(err) that logs a "perf:<stage>" line with elapsed
// latency when called, per §4.10 / §7 ("no error is ever silently swallowed
// without a structured log line").
func StageTimer(logger *zap.Logger, stage string, fields ...zap.Field) func(elapsedMs int64, err error) {
	return func(elapsedMs int64, err error) {
		f := append([]zap.Field{
			zap.String("stage", stage),
			zap.Int64("latency_ms", elapsedMs),
		}, fields...)
		if err != nil {
			f = append(f, zap.Error(err))
			logger.Error(fmt.Sprintf("perf:%s", stage), f...)
			return
		}
		logger.Info(fmt.Sprintf("perf:%s", stage), f...)
	}
}
