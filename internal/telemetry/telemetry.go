package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/push"
	otelruntime "go.opentelemetry.io/contrib/instrumentation/runtime"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Telemetry holds all telemetry instruments and providers. A nil *Telemetry
// and a disabled one are both valid and record nothing.
type Telemetry struct {
	meterProvider  *sdkmetric.MeterProvider
	tracerProvider *sdktrace.TracerProvider
	tracer         trace.Tracer
	meter          metric.Meter
	registry       *prometheus.Registry
	pusher         *push.Pusher

	// Pipeline metrics
	runsTotal        metric.Int64Counter
	runDuration      metric.Float64Histogram
	downloadsTotal   metric.Int64Counter
	downloadDuration metric.Float64Histogram
	downloadAttempts metric.Int64Histogram
	downloadBytes    metric.Int64Counter
	uploadsTotal     metric.Int64Counter
	deletionsTotal   metric.Int64Counter

	// Destination store metrics
	storeOperationsTotal metric.Int64Counter
	storeErrors          metric.Int64Counter
}

// Config holds telemetry configuration.
type Config struct {
	Enabled        bool
	ServiceName    string
	ServiceVersion string

	// OTLPEndpoint enables the OTLP/gRPC metric exporter (host:port).
	OTLPEndpoint string
	OTLPInsecure bool

	// PushgatewayURL enables pushing to a Prometheus Pushgateway after every
	// run and on Shutdown.
	PushgatewayURL string
}

// New creates a new telemetry instance.
func New(ctx context.Context, cfg Config) (*Telemetry, error) {
	if !cfg.Enabled {
		return &Telemetry{}, nil
	}

	var opts []sdkmetric.Option

	if cfg.OTLPEndpoint != "" {
		exporterOpts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint)}
		if cfg.OTLPInsecure {
			exporterOpts = append(exporterOpts, otlpmetricgrpc.WithInsecure())
		}

		exporter, err := otlpmetricgrpc.New(ctx, exporterOpts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create otlp exporter: %w", err)
		}

		opts = append(opts, sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter)))
	}

	registry := prometheus.NewRegistry()

	exporter, err := otelprom.New(otelprom.WithRegisterer(registry))
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	opts = append(opts, sdkmetric.WithReader(exporter))

	t, err := newTelemetry(cfg, opts...)
	if err != nil {
		return nil, err
	}

	t.registry = registry

	if cfg.PushgatewayURL != "" {
		t.pusher = push.New(cfg.PushgatewayURL, cfg.ServiceName).Gatherer(registry)
	}

	if err := otelruntime.Start(otelruntime.WithMeterProvider(t.meterProvider)); err != nil {
		return nil, fmt.Errorf("failed to start runtime instrumentation: %w", err)
	}

	return t, nil
}

func newTelemetry(cfg Config, opts ...sdkmetric.Option) (*Telemetry, error) {
	meterProvider := sdkmetric.NewMeterProvider(opts...)
	tracerProvider := sdktrace.NewTracerProvider()

	otel.SetMeterProvider(meterProvider)
	otel.SetTracerProvider(tracerProvider)

	t := &Telemetry{
		meterProvider:  meterProvider,
		tracerProvider: tracerProvider,
		tracer:         tracerProvider.Tracer(cfg.ServiceName),
		meter: meterProvider.Meter(cfg.ServiceName,
			metric.WithInstrumentationVersion(cfg.ServiceVersion)),
	}

	if err := t.initializeMetrics(); err != nil {
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}

	return t, nil
}

// Tracer returns the OpenTelemetry tracer.
func (t *Telemetry) Tracer() trace.Tracer {
	if t == nil || t.tracer == nil {
		return otel.Tracer("")
	}

	return t.tracer
}

// RecordRun records the outcome of a whole pipeline run.
func (t *Telemetry) RecordRun(status string, duration time.Duration) {
	if t == nil || t.runsTotal == nil {
		return
	}

	attrs := metric.WithAttributes(attribute.String("status", status))

	t.runsTotal.Add(context.Background(), 1, attrs)
	t.runDuration.Record(context.Background(), duration.Seconds(), attrs)
}

// RecordDownload records the resolution of one portal fetch.
func (t *Telemetry) RecordDownload(status string, attempts int, size int64, duration time.Duration) {
	if t == nil || t.downloadsTotal == nil {
		return
	}

	attrs := metric.WithAttributes(attribute.String("status", status))

	t.downloadsTotal.Add(context.Background(), 1, attrs)
	t.downloadDuration.Record(context.Background(), duration.Seconds(), attrs)
	t.downloadAttempts.Record(context.Background(), int64(attempts), attrs)

	if size > 0 {
		t.downloadBytes.Add(context.Background(), size)
	}
}

// RecordUpload records an upload sink decision ("uploaded", "already_present", "dry_run", "error").
func (t *Telemetry) RecordUpload(status string) {
	if t == nil || t.uploadsTotal == nil {
		return
	}

	t.uploadsTotal.Add(context.Background(), 1, metric.WithAttributes(attribute.String("status", status)))
}

// RecordDeletion records a retention deletion.
func (t *Telemetry) RecordDeletion(reason, status string) {
	if t == nil || t.deletionsTotal == nil {
		return
	}

	t.deletionsTotal.Add(context.Background(), 1,
		metric.WithAttributes(
			attribute.String("reason", reason),
			attribute.String("status", status),
		),
	)
}

// RecordStoreOperation records destination store operation metrics.
func (t *Telemetry) RecordStoreOperation(backend, operation, status string) {
	if t == nil || t.storeOperationsTotal == nil {
		return
	}

	t.storeOperationsTotal.Add(context.Background(), 1,
		metric.WithAttributes(
			attribute.String("backend", backend),
			attribute.String("operation", operation),
			attribute.String("status", status),
		),
	)

	if status == "error" {
		t.storeErrors.Add(context.Background(), 1,
			metric.WithAttributes(
				attribute.String("backend", backend),
				attribute.String("operation", operation),
			),
		)
	}
}

// Handler serves the collected metrics in the Prometheus exposition format.
func (t *Telemetry) Handler() http.Handler {
	if t == nil || t.registry == nil {
		return http.NotFoundHandler()
	}

	return promhttp.HandlerFor(t.registry, promhttp.HandlerOpts{})
}

// Flush pushes the current metrics to the Pushgateway, if one is configured.
func (t *Telemetry) Flush(ctx context.Context) error {
	if t == nil || t.pusher == nil {
		return nil
	}

	if err := t.pusher.PushContext(ctx); err != nil {
		return fmt.Errorf("failed to push metrics: %w", err)
	}

	return nil
}

// Shutdown pushes pending metrics and shuts the providers down.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if t == nil || t.meterProvider == nil {
		return nil
	}

	var errs []error

	if err := t.Flush(ctx); err != nil {
		errs = append(errs, err)
	}

	if err := t.meterProvider.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("failed to shutdown meter provider: %w", err))
	}

	if t.tracerProvider != nil {
		if err := t.tracerProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to shutdown tracer provider: %w", err))
		}
	}

	return errors.Join(errs...)
}

// initializeMetrics creates all metric instruments.
func (t *Telemetry) initializeMetrics() error {
	if err := t.initializePipelineMetrics(); err != nil {
		return err
	}

	return t.initializeStoreMetrics()
}

func (t *Telemetry) initializePipelineMetrics() error {
	var err error

	t.runsTotal, err = t.meter.Int64Counter(
		"runs_total",
		metric.WithDescription("Total number of pipeline runs"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create runs_total counter: %w", err)
	}

	t.runDuration, err = t.meter.Float64Histogram(
		"run_duration_seconds",
		metric.WithDescription("Pipeline run duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return fmt.Errorf("failed to create run_duration histogram: %w", err)
	}

	t.downloadsTotal, err = t.meter.Int64Counter(
		"downloads_total",
		metric.WithDescription("Total number of resolved portal fetches"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create downloads_total counter: %w", err)
	}

	t.downloadDuration, err = t.meter.Float64Histogram(
		"download_duration_seconds",
		metric.WithDescription("Portal fetch duration in seconds, retries included"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return fmt.Errorf("failed to create download_duration histogram: %w", err)
	}

	t.downloadAttempts, err = t.meter.Int64Histogram(
		"download_attempts",
		metric.WithDescription("Attempts needed to resolve a portal fetch"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create download_attempts histogram: %w", err)
	}

	t.downloadBytes, err = t.meter.Int64Counter(
		"download_bytes_total",
		metric.WithDescription("Bytes staged from the portal"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return fmt.Errorf("failed to create download_bytes counter: %w", err)
	}

	t.uploadsTotal, err = t.meter.Int64Counter(
		"uploads_total",
		metric.WithDescription("Total number of upload sink decisions"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create uploads_total counter: %w", err)
	}

	t.deletionsTotal, err = t.meter.Int64Counter(
		"deletions_total",
		metric.WithDescription("Total number of retention deletions"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create deletions_total counter: %w", err)
	}

	return nil
}

func (t *Telemetry) initializeStoreMetrics() error {
	var err error

	t.storeOperationsTotal, err = t.meter.Int64Counter(
		"store_operations_total",
		metric.WithDescription("Total number of destination store operations"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create store_operations_total counter: %w", err)
	}

	t.storeErrors, err = t.meter.Int64Counter(
		"store_errors_total",
		metric.WithDescription("Total number of destination store errors"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create store_errors counter: %w", err)
	}

	return nil
}
