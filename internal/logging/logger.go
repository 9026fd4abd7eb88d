package logging

import (
	"context"
	"log/slog"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// StandardLogger is the slog facade for lifecycle, API and breaker events.
// Services log through logrus.
type StandardLogger struct {
	logger   *slog.Logger
	shutdown func(context.Context) error
}

// NewStandardLogger creates a JSON logger on stdout.
func NewStandardLogger(logLevel string, environment string) *StandardLogger {
	return &StandardLogger{
		logger: slog.New(stdoutHandler(getSlogLevel(logLevel))).With("environment", environment),
	}
}

// NewStandardOTLPLogger writes to stdout and, when cfg.Enabled, exports the
// same records through OTLP. A failing exporter leaves stdout only.
func NewStandardOTLPLogger(cfg OTLPConfig) *StandardLogger {
	level := getSlogLevel(cfg.LogLevel)
	local := stdoutHandler(level)
	if !cfg.Enabled {
		return &StandardLogger{logger: slog.New(local).With("environment", cfg.Environment)}
	}

	provider, err := newLogProvider(context.Background(), cfg)
	if err != nil {
		l := slog.New(local).With("environment", cfg.Environment)
		l.Warn("OTLP log export unavailable, using stdout", "error", err.Error())
		return &StandardLogger{logger: l}
	}

	handler := teeHandler{local, newOTLPHandler(provider.Logger(cfg.ServiceName), level)}
	return &StandardLogger{
		logger:   slog.New(handler).With("environment", cfg.Environment),
		shutdown: provider.Shutdown,
	}
}

// NewFromSlog wraps an existing slog logger.
func NewFromSlog(logger *slog.Logger) *StandardLogger {
	return &StandardLogger{logger: logger}
}

// Shutdown flushes the exporter, if any.
func (l *StandardLogger) Shutdown(ctx context.Context) error {
	if l.shutdown == nil {
		return nil
	}
	return l.shutdown(ctx)
}

func (l *StandardLogger) WithComponent(componentName string) *slog.Logger {
	return l.logger.With("component", componentName)
}

func (l *StandardLogger) LogStartup(serviceName string, version string, port int) {
	l.logger.Info("Application startup",
		"service", serviceName,
		"version", version,
		"port", port,
		"event", "startup",
	)
}

func (l *StandardLogger) LogShutdown(serviceName string, reason string) {
	l.logger.Info("Application shutdown",
		"service", serviceName,
		"reason", reason,
		"event", "shutdown",
	)
}

// LogBreakerTransition records a provider breaker changing state. Opening is
// a warning, anything else informational.
func (l *StandardLogger) LogBreakerTransition(provider string, state string) {
	level := slog.LevelInfo
	if strings.EqualFold(state, "open") {
		level = slog.LevelWarn
	}
	l.logger.Log(context.Background(), level, "Circuit breaker transition",
		"provider", provider,
		"state", state,
		"event", "breaker",
	)
}

// LogAPIRequest logs one served request. Server errors log at error level.
func (l *StandardLogger) LogAPIRequest(method string, path string, statusCode int, duration int64, requestID string) {
	level := slog.LevelInfo
	if statusCode >= 500 {
		level = slog.LevelError
	}
	l.logger.Log(context.Background(), level, "API request",
		"method", method,
		"path", path,
		"status", statusCode,
		"duration_ms", duration,
		"request_id", requestID,
		"event", "api",
	)
}

func (l *StandardLogger) Logger() *slog.Logger {
	return l.logger
}

// NewLogrusLogger builds the logrus logger handed to services. Outside
// development it emits JSON.
func NewLogrusLogger(logLevel string, environment string) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stdout)
	logger.SetLevel(ParseLogrusLevel(logLevel))
	if strings.EqualFold(environment, "development") {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	return logger
}

// ParseLogrusLevel parses level, defaulting to info.
func ParseLogrusLevel(level string) logrus.Level {
	parsed, err := logrus.ParseLevel(strings.TrimSpace(level))
	if err != nil {
		return logrus.InfoLevel
	}
	return parsed
}

func getSlogLevel(level string) slog.Level {
	switch l := ParseLogrusLevel(level); {
	case l >= logrus.DebugLevel:
		return slog.LevelDebug
	case l == logrus.InfoLevel:
		return slog.LevelInfo
	case l == logrus.WarnLevel:
		return slog.LevelWarn
	default:
		return slog.LevelError
	}
}
