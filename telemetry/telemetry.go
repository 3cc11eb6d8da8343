// Package telemetry wires OpenTelemetry tracing, OpenTelemetry metric
// instruments and Prometheus collectors.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bt-bridge/voicerag/shared"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/bt-bridge/voicerag"

// Shutdown flushes and releases telemetry resources.
type Shutdown func(ctx context.Context) error

type Options struct {
	ServiceName   string
	Version       string
	EnableTracing bool
	OTLPEndpoint  string
}

const metricExportInterval = 30 * time.Second

// Setup installs global tracer and meter providers and binds the relay
// instruments to the meter provider. Exporters are attached only when tracing
// is enabled and an OTLP endpoint is configured.
func Setup(ctx context.Context, opts Options, logger shared.LoggerAdapter) (Shutdown, error) {
	if logger == nil {
		return nil, shared.ErrNoLogger
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(opts.ServiceName),
			semconv.ServiceVersion(opts.Version),
		),
	)
	if err != nil {
		return nil, err
	}

	export := opts.EnableTracing && opts.OTLPEndpoint != ""
	tracerProvider, err := newTracerProvider(ctx, res, opts.OTLPEndpoint, export)
	if err != nil {
		return nil, fmt.Errorf("creating tracer provider: %w", err)
	}
	meterProvider, err := newMeterProvider(ctx, res, opts.OTLPEndpoint, export)
	if err != nil {
		_ = tracerProvider.Shutdown(ctx)
		return nil, fmt.Errorf("creating meter provider: %w", err)
	}
	if export {
		logger.Info("tracing and metrics export enabled", zap.String("endpoint", opts.OTLPEndpoint))
	} else {
		logger.Debug("telemetry export disabled")
	}

	otel.SetTracerProvider(tracerProvider)
	otel.SetMeterProvider(meterProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	if err := bindMeterProvider(meterProvider); err != nil {
		return nil, fmt.Errorf("creating instruments: %w", err)
	}

	return func(ctx context.Context) error {
		var errs []error
		if err := meterProvider.Shutdown(ctx); err != nil {
			logger.Error("shutting down meter provider", err)
			errs = append(errs, err)
		}
		if err := tracerProvider.Shutdown(ctx); err != nil {
			logger.Error("shutting down tracer provider", err)
			errs = append(errs, err)
		}
		return errors.Join(errs...)
	}, nil
}

func newTracerProvider(ctx context.Context, res *resource.Resource, endpoint string, export bool) (*sdktrace.TracerProvider, error) {
	if !export {
		return sdktrace.NewTracerProvider(sdktrace.WithResource(res)), nil
	}
	hostPort, insecure := normalizeEndpoint(endpoint)
	traceOpts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(hostPort)}
	if insecure {
		traceOpts = append(traceOpts, otlptracehttp.WithInsecure())
	}
	exporter, err := otlptracehttp.New(ctx, traceOpts...)
	if err != nil {
		return nil, err
	}
	return sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	), nil
}

func newMeterProvider(ctx context.Context, res *resource.Resource, endpoint string, export bool) (*sdkmetric.MeterProvider, error) {
	if !export {
		return sdkmetric.NewMeterProvider(sdkmetric.WithResource(res)), nil
	}
	hostPort, insecure := normalizeEndpoint(endpoint)
	metricOpts := []otlpmetrichttp.Option{otlpmetrichttp.WithEndpoint(hostPort)}
	if insecure {
		metricOpts = append(metricOpts, otlpmetrichttp.WithInsecure())
	}
	exporter, err := otlpmetrichttp.New(ctx, metricOpts...)
	if err != nil {
		return nil, err
	}
	return sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(metricExportInterval))),
	), nil
}

func normalizeEndpoint(endpoint string) (hostPort string, insecure bool) {
	switch {
	case strings.HasPrefix(endpoint, "https://"):
		return strings.TrimPrefix(endpoint, "https://"), false
	case strings.HasPrefix(endpoint, "http://"):
		return strings.TrimPrefix(endpoint, "http://"), true
	default:
		return endpoint, true
	}
}

func Tracer() trace.Tracer {
	return otel.Tracer(instrumentationName)
}

// StartToolSpan opens a span around one tool invocation.
func StartToolSpan(ctx context.Context, tool, callID string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "tool "+tool,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("tool.name", tool),
			attribute.String("tool.call_id", callID),
		),
	)
}
