package logging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	otellog "go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

const defaultLogEndpoint = "http://localhost:4318"

// OTLPConfig configures log export to an OpenTelemetry collector.
type OTLPConfig struct {
	Enabled        bool
	Endpoint       string
	ServiceName    string
	ServiceVersion string
	Environment    string
	LogLevel       string
}

// newLogProvider builds a batching logger provider exporting to the
// collector's /v1/logs endpoint.
func newLogProvider(ctx context.Context, cfg OTLPConfig) (*sdklog.LoggerProvider, error) {
	if cfg.ServiceName == "" {
		return nil, errors.New("service name is required for log export")
	}
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = defaultLogEndpoint
	}

	exporter, err := otlploghttp.New(ctx, otlploghttp.WithEndpointURL(strings.TrimRight(endpoint, "/")+"/v1/logs"))
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP log exporter: %w", err)
	}

	res, err := resource.New(ctx, resource.WithAttributes(
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
		semconv.DeploymentEnvironment(cfg.Environment),
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	return sdklog.NewLoggerProvider(
		sdklog.WithProcessor(sdklog.NewBatchProcessor(exporter)),
		sdklog.WithResource(res),
	), nil
}

// otlpHandler is a slog.Handler emitting records to an OpenTelemetry logger.
type otlpHandler struct {
	logger otellog.Logger
	level  slog.Leveler
	attrs  []otellog.KeyValue
	prefix string
}

func newOTLPHandler(logger otellog.Logger, level slog.Leveler) *otlpHandler {
	return &otlpHandler{logger: logger, level: level}
}

func (h *otlpHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *otlpHandler) Handle(ctx context.Context, record slog.Record) error {
	var out otellog.Record
	out.SetTimestamp(record.Time)
	out.SetObservedTimestamp(time.Now())
	out.SetSeverity(severityFor(record.Level))
	out.SetSeverityText(record.Level.String())
	out.SetBody(otellog.StringValue(record.Message))
	out.AddAttributes(h.attrs...)
	record.Attrs(func(a slog.Attr) bool {
		out.AddAttributes(h.keyValue(a))
		return true
	})
	h.logger.Emit(ctx, out)
	return nil
}

func (h *otlpHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.attrs = append(make([]otellog.KeyValue, 0, len(h.attrs)+len(attrs)), h.attrs...)
	for _, a := range attrs {
		next.attrs = append(next.attrs, h.keyValue(a))
	}
	return &next
}

func (h *otlpHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	next := *h
	next.prefix = h.prefix + name + "."
	return &next
}

func (h *otlpHandler) keyValue(a slog.Attr) otellog.KeyValue {
	key := h.prefix + a.Key
	v := a.Value.Resolve()
	switch v.Kind() {
	case slog.KindInt64:
		return otellog.Int64(key, v.Int64())
	case slog.KindUint64:
		return otellog.Int64(key, int64(v.Uint64()))
	case slog.KindFloat64:
		return otellog.Float64(key, v.Float64())
	case slog.KindBool:
		return otellog.Bool(key, v.Bool())
	case slog.KindDuration:
		return otellog.Int64(key, v.Duration().Milliseconds())
	case slog.KindTime:
		return otellog.String(key, v.Time().UTC().Format(time.RFC3339Nano))
	default:
		return otellog.String(key, v.String())
	}
}

// severityFor maps slog levels onto the OpenTelemetry severity scale, where
// slog's Info (0) lines up with SeverityInfo (9).
func severityFor(level slog.Level) otellog.Severity {
	s := int(level) + int(otellog.SeverityInfo)
	switch {
	case s < int(otellog.SeverityTrace1):
		return otellog.SeverityTrace1
	case s > int(otellog.SeverityFatal4):
		return otellog.SeverityFatal4
	}
	return otellog.Severity(s)
}

// teeHandler writes every record to each of its handlers.
type teeHandler []slog.Handler

func (t teeHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range t {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (t teeHandler) Handle(ctx context.Context, record slog.Record) error {
	var errs []error
	for _, h := range t {
		if h.Enabled(ctx, record.Level) {
			errs = append(errs, h.Handle(ctx, record.Clone()))
		}
	}
	return errors.Join(errs...)
}

func (t teeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(teeHandler, len(t))
	for i, h := range t {
		out[i] = h.WithAttrs(attrs)
	}
	return out
}

func (t teeHandler) WithGroup(name string) slog.Handler {
	out := make(teeHandler, len(t))
	for i, h := range t {
		out[i] = h.WithGroup(name)
	}
	return out
}

func stdoutHandler(level slog.Leveler) slog.Handler {
	return slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
}
