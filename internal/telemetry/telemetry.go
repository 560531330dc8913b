// Package telemetry wires OpenTelemetry tracing across the
// submit→filter→action→transport path, adapted from the teacher's
// pkg/tracing.TracingManager: same batching exporter setup and resource
// attributes, trimmed to the OTLP-HTTP exporter only (the teacher's Jaeger
// exporter is deprecated upstream) and without the HTTP-middleware helpers
// the teacher needed for its own inbound HTTP server, which this module
// doesn't have.
package telemetry

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// Config configures the tracer provider (spec ambient observability, not a
// spec.md-named component).
type Config struct {
	Enabled        bool          `yaml:"enabled"`
	ServiceName    string        `yaml:"service_name"`
	ServiceVersion string        `yaml:"service_version"`
	Environment    string        `yaml:"environment"`
	Endpoint       string        `yaml:"endpoint"`
	Insecure       bool          `yaml:"insecure"`
	SampleRate     float64       `yaml:"sample_rate"`
	BatchTimeout   time.Duration `yaml:"batch_timeout"`
	MaxBatchSize   int           `yaml:"max_batch_size"`
	Headers        map[string]string `yaml:"headers"`
}

// DefaultConfig mirrors the teacher's DefaultTracingConfig defaults, scaled
// to this module's service name.
func DefaultConfig() Config {
	return Config{
		Enabled:        false,
		ServiceName:    "rsyslog-core",
		ServiceVersion: "v0.1.0",
		Environment:    "production",
		Endpoint:       "http://localhost:4318/v1/traces",
		SampleRate:     1.0,
		BatchTimeout:   5 * time.Second,
		MaxBatchSize:   512,
	}
}

// Manager owns the process's tracer provider lifecycle.
type Manager struct {
	cfg      Config
	logger   *logrus.Logger
	provider *trace.TracerProvider
	tracer   oteltrace.Tracer
}

// New builds a Manager. With cfg.Enabled false it returns a no-op tracer so
// callers never need a nil check.
func New(cfg Config, logger *logrus.Logger) (*Manager, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if !cfg.Enabled {
		return &Manager{cfg: cfg, logger: logger, tracer: otel.Tracer("noop")}, nil
	}

	m := &Manager{cfg: cfg, logger: logger}
	if err := m.initialize(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Manager) initialize() error {
	opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(m.cfg.Endpoint)}
	if m.cfg.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	if len(m.cfg.Headers) > 0 {
		opts = append(opts, otlptracehttp.WithHeaders(m.cfg.Headers))
	}

	exporter, err := otlptrace.New(context.Background(), otlptracehttp.NewClient(opts...))
	if err != nil {
		return fmt.Errorf("telemetry: create exporter: %w", err)
	}

	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		attribute.String("service.name", m.cfg.ServiceName),
		attribute.String("service.version", m.cfg.ServiceVersion),
		attribute.String("deployment.environment", m.cfg.Environment),
	))
	if err != nil {
		return fmt.Errorf("telemetry: create resource: %w", err)
	}

	m.provider = trace.NewTracerProvider(
		trace.WithBatcher(exporter,
			trace.WithBatchTimeout(m.cfg.BatchTimeout),
			trace.WithMaxExportBatchSize(m.cfg.MaxBatchSize),
		),
		trace.WithResource(res),
		trace.WithSampler(trace.TraceIDRatioBased(m.cfg.SampleRate)),
	)

	otel.SetTracerProvider(m.provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{},
	))
	m.tracer = otel.Tracer(m.cfg.ServiceName)

	m.logger.WithFields(logrus.Fields{
		"service_name": m.cfg.ServiceName,
		"endpoint":     m.cfg.Endpoint,
		"sample_rate":  m.cfg.SampleRate,
	}).Info("tracing initialized")
	return nil
}

// Tracer returns the process tracer (real or no-op).
func (m *Manager) Tracer() oteltrace.Tracer { return m.tracer }

// Shutdown flushes and stops the tracer provider.
func (m *Manager) Shutdown(ctx context.Context) error {
	if m.provider == nil {
		return nil
	}
	return m.provider.Shutdown(ctx)
}

// Span wraps an active span with the attribute/error helpers the pipeline
// stages need, mirroring the teacher's TraceableContext but trimmed to what
// submit→filter→action→transport actually uses.
type Span struct {
	ctx  context.Context
	span oteltrace.Span
}

// Start begins a new span named for the pipeline stage (e.g. "ruleset.process_one",
// "action.do_action", "transport.send").
func (m *Manager) Start(ctx context.Context, name string) (context.Context, *Span) {
	spanCtx, span := m.tracer.Start(ctx, name)
	return spanCtx, &Span{ctx: spanCtx, span: span}
}

// SetAttribute records one attribute on the span.
func (s *Span) SetAttribute(key string, value interface{}) {
	switch v := value.(type) {
	case string:
		s.span.SetAttributes(attribute.String(key, v))
	case int:
		s.span.SetAttributes(attribute.Int(key, v))
	case int64:
		s.span.SetAttributes(attribute.Int64(key, v))
	case bool:
		s.span.SetAttributes(attribute.Bool(key, v))
	default:
		s.span.SetAttributes(attribute.String(key, fmt.Sprintf("%v", v)))
	}
}

// SetError records err on the span and marks it failed, if err is non-nil.
func (s *Span) SetError(err error) {
	if err == nil {
		return
	}
	s.span.RecordError(err)
	s.span.SetStatus(codes.Error, err.Error())
}

// End finalises the span. It sets no status of its own: a span without a
// prior SetError ends with its status unset.
func (s *Span) End() {
	s.span.End()
}
