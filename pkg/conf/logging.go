// Copyright SAP SE
// SPDX-License-Identifier: Apache-2.0

package conf

import (
	"io"
	"log/slog"
	"os"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Conform to the slog.Leveler interface.
func (c LoggingConfig) Level() slog.Level {
	switch c.LevelStr {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Translate the slog level into the zap level used by the json backend.
func (c LoggingConfig) zapLevel() zapcore.Level {
	switch c.Level() {
	case slog.LevelDebug:
		return zapcore.DebugLevel
	case slog.LevelWarn:
		return zapcore.WarnLevel
	case slog.LevelError:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// Build the slog handler for the configured format, writing to w.
//
// The json format is backed by a zap production core bridged through logr,
// the text format uses the plain slog text handler.
func (c LoggingConfig) handler(w io.Writer) slog.Handler {
	switch c.Format {
	case "json":
		encoderConfig := zap.NewProductionEncoderConfig()
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		core := zapcore.NewCore(
			zapcore.NewJSONEncoder(encoderConfig),
			zapcore.AddSync(w),
			zap.NewAtomicLevelAt(c.zapLevel()),
		)
		return logr.ToSlogHandler(zapr.NewLogger(zap.New(core)))
	default:
		return slog.NewTextHandler(w, &slog.HandlerOptions{Level: c})
	}
}

// Set the structured logger as given in the config.
func (c LoggingConfig) SetDefaultLogger() {
	slog.SetDefault(slog.New(c.handler(os.Stdout)))
	slog.Info("logging: set default logger", "level", c.LevelStr, "format", c.Format)
}
