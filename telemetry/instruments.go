package telemetry

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// OpenTelemetry instrument names. They mirror the Prometheus collectors so
// the same numbers reach an OTLP collector when export is enabled.
const (
	MetricSessions       = "voicerag.realtime.sessions"
	MetricActiveSessions = "voicerag.realtime.sessions.active"
	MetricDialErrors     = "voicerag.realtime.upstream.dial_errors"
	MetricIntercepted    = "voicerag.realtime.intercepted"
	MetricInputAudio     = "voicerag.realtime.input_audio"
	MetricToolCalls      = "voicerag.tool.calls"
	MetricToolDuration   = "voicerag.tool.duration"
)

const (
	attrTool    = attribute.Key("tool")
	attrOutcome = attribute.Key("outcome")
	attrType    = attribute.Key("type")
)

type instruments struct {
	sessions       metric.Int64Counter
	activeSessions metric.Int64UpDownCounter
	dialErrors     metric.Int64Counter
	intercepted    metric.Int64Counter
	inputAudio     metric.Float64Counter
	toolCalls      metric.Int64Counter
	toolDuration   metric.Float64Histogram
}

var bound atomic.Pointer[instruments]

func init() {
	// The global provider delegates to whatever Setup installs later.
	if err := bindMeterProvider(otel.GetMeterProvider()); err != nil {
		otel.Handle(err)
	}
}

func newInstruments(meter metric.Meter) (*instruments, error) {
	var (
		in   instruments
		errs = make([]error, 7)
	)
	in.sessions, errs[0] = meter.Int64Counter(MetricSessions,
		metric.WithDescription("Realtime relay sessions started"),
		metric.WithUnit("{session}"))
	in.activeSessions, errs[1] = meter.Int64UpDownCounter(MetricActiveSessions,
		metric.WithDescription("Realtime relay sessions currently open"),
		metric.WithUnit("{session}"))
	in.dialErrors, errs[2] = meter.Int64Counter(MetricDialErrors,
		metric.WithDescription("Failed connections to the upstream realtime service"),
		metric.WithUnit("{error}"))
	in.intercepted, errs[3] = meter.Int64Counter(MetricIntercepted,
		metric.WithDescription("Upstream messages consumed instead of forwarded to the browser"),
		metric.WithUnit("{message}"))
	in.inputAudio, errs[4] = meter.Float64Counter(MetricInputAudio,
		metric.WithDescription("Input audio relayed to the upstream service"),
		metric.WithUnit("s"))
	in.toolCalls, errs[5] = meter.Int64Counter(MetricToolCalls,
		metric.WithDescription("Tool invocations by tool and outcome"),
		metric.WithUnit("{call}"))
	in.toolDuration, errs[6] = meter.Float64Histogram(MetricToolDuration,
		metric.WithDescription("Duration of tool invocations"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10))
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return &in, nil
}

// bindMeterProvider points the Record helpers at instruments created from mp.
// On error the previous instruments stay in place.
func bindMeterProvider(mp metric.MeterProvider) error {
	in, err := newInstruments(mp.Meter(instrumentationName))
	if err != nil {
		return err
	}
	bound.Store(in)
	return nil
}

func otelSessionStarted(ctx context.Context) {
	in := bound.Load()
	in.sessions.Add(ctx, 1)
	in.activeSessions.Add(ctx, 1)
}

func otelSessionEnded(ctx context.Context) {
	bound.Load().activeSessions.Add(ctx, -1)
}

func otelDialError(ctx context.Context) {
	bound.Load().dialErrors.Add(ctx, 1)
}

func otelToolCall(ctx context.Context, tool, outcome string, d time.Duration) {
	in := bound.Load()
	in.toolCalls.Add(ctx, 1, metric.WithAttributes(attrTool.String(tool), attrOutcome.String(outcome)))
	in.toolDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attrTool.String(tool)))
}

func otelIntercepted(ctx context.Context, eventType string) {
	bound.Load().intercepted.Add(ctx, 1, metric.WithAttributes(attrType.String(eventType)))
}

func otelInputAudio(ctx context.Context, d time.Duration) {
	bound.Load().inputAudio.Add(ctx, d.Seconds())
}
