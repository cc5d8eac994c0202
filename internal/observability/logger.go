// Package observability provides structured logging and optional shipping
// of tool-call, error and security events to Grafana Loki.
package observability

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// LogLevel represents the logging level.
type LogLevel string

const (
	LevelDebug LogLevel = "debug"
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
)

var defaultLogger *slog.Logger

// Logs go to stderr: stdout carries the JSON-RPC stream in stdio mode.
func init() {
	SetupLogger(os.Stderr, LogLevel(strings.ToLower(os.Getenv("LOG_LEVEL"))))
}

// SetupLogger configures the logger with the specified output and level.
// Unknown levels fall back to info.
func SetupLogger(w io.Writer, level LogLevel) {
	var logLevel slog.Level
	switch LogLevel(strings.ToLower(string(level))) {
	case LevelDebug:
		logLevel = slog.LevelDebug
	case LevelWarn:
		logLevel = slog.LevelWarn
	case LevelError:
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	handler := slog.NewTextHandler(w, &slog.HandlerOptions{Level: logLevel})
	defaultLogger = slog.New(handler)
	slog.SetDefault(defaultLogger)
}

func Debug(msg string, args ...any) { defaultLogger.Debug(msg, args...) }
func Info(msg string, args ...any)  { defaultLogger.Info(msg, args...) }
func Warn(msg string, args ...any)  { defaultLogger.Warn(msg, args...) }
func Error(msg string, args ...any) { defaultLogger.Error(msg, args...) }

// GetLogger returns the default logger.
func GetLogger() *slog.Logger {
	return defaultLogger
}

// MaskSensitive masks secrets for logging.
func MaskSensitive(value string) string {
	if value == "" {
		return "<not set>"
	}
	if len(value) <= 4 {
		return "<set>"
	}
	return value[:4] + "..." + strings.Repeat("*", 3)
}
