// Package logging provides structured logging for the sync core using log/slog.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"

	"github.com/allisson/go-env"

	syncErrors "github.com/tillsync/tillsync/errors"
)

// Logger wraps slog.Logger with convenience methods for sync components.
type Logger struct {
	*slog.Logger
}

// Config holds logger configuration
type Config struct {
	Level       string `json:"level" yaml:"level"`             // debug, info, warn, error
	Format      string `json:"format" yaml:"format"`           // text, json
	AddSource   bool   `json:"add_source" yaml:"add_source"`   // whether to add source code information
	Environment string `json:"environment" yaml:"environment"` // dev, prod, test
}

// DefaultConfig is used when no configuration is provided.
var DefaultConfig = Config{
	Level:       "info",
	Format:      "json",
	AddSource:   false,
	Environment: "dev",
}

var defaultLogger *Logger

// Component identifies the subsystem a log line originates from.
type Component string

func (c Component) LogValue() slog.Value {
	return slog.StringValue(string(c))
}

// ConfigFromEnv builds a Config from TILLSYNC_LOG_* environment variables,
// falling back to DefaultConfig values.
func ConfigFromEnv() Config {
	return Config{
		Level:       env.GetString("TILLSYNC_LOG_LEVEL", DefaultConfig.Level),
		Format:      env.GetString("TILLSYNC_LOG_FORMAT", DefaultConfig.Format),
		AddSource:   env.GetBool("TILLSYNC_LOG_ADD_SOURCE", DefaultConfig.AddSource),
		Environment: env.GetString("TILLSYNC_ENVIRONMENT", DefaultConfig.Environment),
	}
}

// NewLogger creates a new logger with the provided configuration
func NewLogger(config Config) *Logger {
	return NewLoggerWithWriter(config, os.Stdout)
}

// NewLoggerWithWriter creates a logger writing to w. Useful for tests.
func NewLoggerWithWriter(config Config, w io.Writer) *Logger {
	var level slog.Level
	switch config.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: config.AddSource,
	}

	var handler slog.Handler
	if config.Format == "text" || config.Environment == "dev" {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}

	return &Logger{Logger: slog.New(handler)}
}

// Init initializes the global logger with the provided configuration
func Init(config Config) {
	defaultLogger = NewLogger(config)
	slog.SetDefault(defaultLogger.Logger)
}

// Default returns the default logger instance
func Default() *Logger {
	if defaultLogger == nil {
		Init(DefaultConfig)
	}
	return defaultLogger
}

// WithComponent creates a child logger with component context
func (l *Logger) WithComponent(component Component) *Logger {
	return &Logger{Logger: l.With(slog.Any("component", component))}
}

// WithScope creates a child logger carrying the tenant scope id.
func (l *Logger) WithScope(scopeID string) *Logger {
	return &Logger{Logger: l.With(slog.String("scope_id", scopeID))}
}

// LogError logs an error with structured attributes. SyncError fields are
// expanded into their own attribute group.
func (l *Logger) LogError(ctx context.Context, err error, msg string, attrs ...slog.Attr) {
	allAttrs := make([]any, 0, len(attrs)+1)

	if syncErr, ok := err.(*syncErrors.SyncError); ok {
		allAttrs = append(allAttrs, slog.Group("sync_error",
			slog.String("operation", string(syncErr.Op)),
			slog.String("component", syncErr.Component),
			slog.String("code", string(syncErr.Code)),
			slog.Bool("retryable", syncErr.Retryable),
			slog.String("error", syncErr.Err.Error()),
		))
	} else {
		allAttrs = append(allAttrs, slog.String("error", err.Error()))
	}

	for _, attr := range attrs {
		allAttrs = append(allAttrs, attr)
	}

	l.ErrorContext(ctx, msg, allAttrs...)
}

// WithComponent creates a child of the default logger with component context.
func WithComponent(component Component) *Logger {
	return Default().WithComponent(component)
}

// LogError logs an error using the default logger.
func LogError(ctx context.Context, err error, msg string, attrs ...slog.Attr) {
	Default().LogError(ctx, err, msg, attrs...)
}
