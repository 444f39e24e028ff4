package logger

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"github.com/not-nullexception/image-orchestrator/config"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/trace"
)

// Setup configures the global logger. Logs go to stderr so that the
// user-facing command output on stdout stays readable.
func Setup(cfg *config.LogConfig) {
	SetupWithWriter(cfg, os.Stderr)
}

// SetupWithWriter is Setup with an explicit destination.
func SetupWithWriter(cfg *config.LogConfig, w io.Writer) {
	zerolog.TimeFieldFormat = time.RFC3339

	level := getLogLevel(cfg.Level)
	zerolog.SetGlobalLevel(level)

	if strings.ToLower(cfg.Format) == "json" {
		log.Logger = zerolog.New(w).With().Timestamp().Logger()
	} else {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}).With().Timestamp().Logger()
	}

	log.Debug().Str("level", level.String()).Msg("Logger initialized")
}

// getLogLevel converts a string log level to zerolog.Level
func getLogLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	case "panic":
		return zerolog.PanicLevel
	case "disabled":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}

// GetLogger returns a configured logger with the given component
func GetLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// GetLoggerWithContext returns a configured logger with the given component,
// carrying trace and span ids when ctx holds a valid span.
func GetLoggerWithContext(ctx context.Context, component string) zerolog.Logger {
	logger := log.With().Str("component", component).Logger()
	span := trace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		logger = logger.With().
			Str("trace_id", span.SpanContext().TraceID().String()).
			Str("span_id", span.SpanContext().SpanID().String()).
			Logger()
	}
	return logger
}

// ToContext attaches l to ctx.
func ToContext(ctx context.Context, l zerolog.Logger) context.Context {
	return l.WithContext(ctx)
}

// FromContext returns the logger stored in ctx, or the global logger.
func FromContext(ctx context.Context) *zerolog.Logger {
	if l := zerolog.Ctx(ctx); l.GetLevel() != zerolog.Disabled {
		return l
	}
	return &log.Logger
}
