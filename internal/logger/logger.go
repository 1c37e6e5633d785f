// Package logger provides structured logging for mailpost.
//
// It wraps the standard library slog with a process-wide logger that is
// configured once at startup:
//
//	logFile, err := logger.Initialize(logger.Config{Output: "stderr", Format: "json"})
//	if err != nil {
//		return err
//	}
//	if logFile != nil {
//		defer logFile.Close()
//	}
//
// and then used through the package-level functions with key-value pairs:
//
//	logger.Info("Dispatched message", "mailbox", "INBOX", "uid", 42)
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Config selects where log records go and how they are rendered.
type Config struct {
	// Output is "stderr" (default), "stdout", or a file path.
	Output string `mapstructure:"output" yaml:"output,omitempty"`
	// Format is "text" (default) or "json".
	Format string `mapstructure:"format" yaml:"format,omitempty"`
	// Level is one of debug, info (default), warn, error.
	Level string `mapstructure:"level" yaml:"level,omitempty"`
}

var globalLogger *slog.Logger

// Initialize sets up the global logger. When Output names a file, the
// opened file is returned so the caller can close it.
func Initialize(cfg Config) (*os.File, error) {
	var logFile *os.File
	var w io.Writer

	switch cfg.Output {
	case "", "stderr":
		w = os.Stderr
	case "stdout":
		w = os.Stdout
	default:
		f, err := os.OpenFile(cfg.Output, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("opening log file %s: %w", cfg.Output, err)
		}
		logFile = f
		w = f
	}

	globalLogger = slog.New(NewHandler(w, cfg))
	slog.SetDefault(globalLogger)

	return logFile, nil
}

// NewHandler builds the slog handler described by cfg writing to w.
func NewHandler(w io.Writer, cfg Config) slog.Handler {
	opts := &slog.HandlerOptions{Level: ParseLevel(cfg.Level)}
	if strings.EqualFold(cfg.Format, "json") {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// ParseLevel converts a level name to a slog.Level, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Get returns the global logger instance
func Get() *slog.Logger {
	if globalLogger == nil {
		return slog.Default()
	}
	return globalLogger
}

// Set replaces the global logger. Tests use it to capture output.
func Set(l *slog.Logger) {
	globalLogger = l
}

func Info(msg string, args ...any) {
	Get().Info(msg, args...)
}

func InfoContext(ctx context.Context, msg string, args ...any) {
	Get().InfoContext(ctx, msg, args...)
}

func Debug(msg string, args ...any) {
	Get().Debug(msg, args...)
}

func DebugContext(ctx context.Context, msg string, args ...any) {
	Get().DebugContext(ctx, msg, args...)
}

func Warn(msg string, args ...any) {
	Get().Warn(msg, args...)
}

func WarnContext(ctx context.Context, msg string, args ...any) {
	Get().WarnContext(ctx, msg, args...)
}

func Error(msg string, args ...any) {
	Get().Error(msg, args...)
}

func ErrorContext(ctx context.Context, msg string, args ...any) {
	Get().ErrorContext(ctx, msg, args...)
}

// With returns a logger with the given attributes
func With(args ...any) *slog.Logger {
	return Get().With(args...)
}
