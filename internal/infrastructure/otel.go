package infrastructure

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.28.0"
	"go.opentelemetry.io/otel/trace"

	"devserver/internal/config"
)

// InstrumentationName names the tracer and meter used across the server
const InstrumentationName = "devserver"

// OTelProviders holds the OpenTelemetry providers
type OTelProviders struct {
	TracerProvider *sdktrace.TracerProvider
	MeterProvider  *sdkmetric.MeterProvider
	Tracer         trace.Tracer
	Meter          metric.Meter
	PrometheusHTTP http.Handler
	Logger         *slog.Logger
}

// InitializeOTel sets up tracing and metrics from the telemetry config.
// Disabled signals fall back to the global no-op implementations.
func InitializeOTel(cfg config.TelemetryConfig, logger *slog.Logger) (*OTelProviders, error) {
	ctx := context.Background()
	if logger == nil {
		logger = GetLogger()
	}

	res, err := createResource(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	providers := &OTelProviders{
		Logger: logger,
		Tracer: otel.Tracer(InstrumentationName),
		Meter:  noop.NewMeterProvider().Meter(InstrumentationName),
	}

	if err := initializeTracing(ctx, cfg, res, providers); err != nil {
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}

	if cfg.MetricsEnabled {
		if err := initializeMetrics(ctx, res, providers); err != nil {
			return nil, fmt.Errorf("failed to initialize metrics: %w", err)
		}
	}

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	logger.InfoContext(ctx, "OpenTelemetry initialized",
		slog.String("service", cfg.ServiceName),
		slog.String("trace_exporter", cfg.TracingExporter),
		slog.Bool("metrics_enabled", cfg.MetricsEnabled))

	return providers, nil
}

// createResource creates the OpenTelemetry resource
func createResource(cfg config.TelemetryConfig) (*resource.Resource, error) {
	return resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(config.AppVersion),
		attribute.String("service.instance.id", generateInstanceID()),
	), nil
}

// initializeTracing sets up OpenTelemetry tracing
func initializeTracing(ctx context.Context, cfg config.TelemetryConfig, res *resource.Resource, providers *OTelProviders) error {
	var exporter sdktrace.SpanExporter
	var err error

	switch cfg.TracingExporter {
	case "stdout":
		exporter, err = stdouttrace.New(stdouttrace.WithPrettyPrint())
	case "none", "":
		return nil
	default:
		return fmt.Errorf("unsupported trace exporter: %s", cfg.TracingExporter)
	}
	if err != nil {
		return fmt.Errorf("failed to create trace exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.TraceIDRatioBased(cfg.SampleRate)),
	)

	providers.TracerProvider = tp
	providers.Tracer = tp.Tracer(InstrumentationName, trace.WithInstrumentationVersion(config.AppVersion))
	otel.SetTracerProvider(tp)

	providers.Logger.DebugContext(ctx, "Tracing initialized",
		slog.String("exporter", cfg.TracingExporter),
		slog.Float64("sample_ratio", cfg.SampleRate))

	return nil
}

// initializeMetrics sets up a Prometheus-backed meter provider on a private registry
func initializeMetrics(ctx context.Context, res *resource.Resource, providers *OTelProviders) error {
	registry := promclient.NewRegistry()

	exporter, err := prometheus.New(prometheus.WithRegisterer(registry))
	if err != nil {
		return fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exporter),
	)

	providers.PrometheusHTTP = promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
	providers.MeterProvider = mp
	providers.Meter = mp.Meter(InstrumentationName, metric.WithInstrumentationVersion(config.AppVersion))
	otel.SetMeterProvider(mp)

	providers.Logger.DebugContext(ctx, "Metrics initialized", slog.String("exporter", "prometheus"))
	return nil
}

// Shutdown flushes and stops the providers
func (p *OTelProviders) Shutdown(ctx context.Context) error {
	var errs []error

	if p.TracerProvider != nil {
		if err := p.TracerProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("tracer provider shutdown: %w", err))
		}
	}

	if p.MeterProvider != nil {
		if err := p.MeterProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("meter provider shutdown: %w", err))
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	p.Logger.InfoContext(ctx, "OpenTelemetry shutdown complete")
	return nil
}

// generateInstanceID generates a unique instance identifier
func generateInstanceID() string {
	hostname, _ := os.Hostname()
	return fmt.Sprintf("%s-%d", hostname, time.Now().Unix())
}

// RecordError records an error on the current span
func RecordError(ctx context.Context, err error, options ...trace.EventOption) {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}

	span.RecordError(err, options...)
	span.SetStatus(codes.Error, err.Error())
}

// DevServerMetrics holds the dev server instruments. A nil receiver records nothing.
type DevServerMetrics struct {
	StageResponses  metric.Int64Counter
	UpgradeEvents   metric.Int64Counter
	SocketClients   metric.Int64UpDownCounter
	SocketMessages  metric.Int64Counter
	Builds          metric.Int64Counter
	RequestDuration metric.Float64Histogram
}

// NewDevServerMetrics creates the dev server instruments on meter. A nil
// meter yields no-op instruments.
func NewDevServerMetrics(meter metric.Meter) (*DevServerMetrics, error) {
	if meter == nil {
		meter = noop.NewMeterProvider().Meter(InstrumentationName)
	}

	stageResponses, err := meter.Int64Counter(
		"devserver_pipeline_responses",
		metric.WithDescription("Responses produced, by pipeline stage"),
	)
	if err != nil {
		return nil, err
	}

	upgradeEvents, err := meter.Int64Counter(
		"devserver_upgrade_events",
		metric.WithDescription("Protocol upgrade events dispatched to subscribers"),
	)
	if err != nil {
		return nil, err
	}

	socketClients, err := meter.Int64UpDownCounter(
		"devserver_socket_clients",
		metric.WithDescription("Connected live-update clients"),
	)
	if err != nil {
		return nil, err
	}

	socketMessages, err := meter.Int64Counter(
		"devserver_socket_messages",
		metric.WithDescription("Live-update messages broadcast, by type"),
	)
	if err != nil {
		return nil, err
	}

	builds, err := meter.Int64Counter(
		"devserver_builds",
		metric.WithDescription("Completed builds, by result"),
	)
	if err != nil {
		return nil, err
	}

	requestDuration, err := meter.Float64Histogram(
		"devserver_http_request_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return &DevServerMetrics{
		StageResponses:  stageResponses,
		UpgradeEvents:   upgradeEvents,
		SocketClients:   socketClients,
		SocketMessages:  socketMessages,
		Builds:          builds,
		RequestDuration: requestDuration,
	}, nil
}

// RecordStageResponse counts a response produced by the named stage
func (m *DevServerMetrics) RecordStageResponse(ctx context.Context, stage string) {
	if m == nil {
		return
	}
	m.StageResponses.Add(ctx, 1, metric.WithAttributes(attribute.String("stage", stage)))
}

// RecordUpgrade counts one upgrade event
func (m *DevServerMetrics) RecordUpgrade(ctx context.Context) {
	if m == nil {
		return
	}
	m.UpgradeEvents.Add(ctx, 1)
}

// AddSocketClients adjusts the connected client gauge
func (m *DevServerMetrics) AddSocketClients(ctx context.Context, delta int64) {
	if m == nil {
		return
	}
	m.SocketClients.Add(ctx, delta)
}

// RecordSocketMessage counts a broadcast message of the given type
func (m *DevServerMetrics) RecordSocketMessage(ctx context.Context, msgType string) {
	if m == nil {
		return
	}
	m.SocketMessages.Add(ctx, 1, metric.WithAttributes(attribute.String("type", msgType)))
}

// RecordBuild counts a finished build; result is "ok", "warnings" or "errors"
func (m *DevServerMetrics) RecordBuild(ctx context.Context, result string) {
	if m == nil {
		return
	}
	m.Builds.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// RecordRequest observes the duration of an HTTP request
func (m *DevServerMetrics) RecordRequest(ctx context.Context, method string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.RequestDuration.Record(ctx, d.Seconds(), metric.WithAttributes(
		attribute.String("method", method),
		attribute.Int("status", status),
	))
}
