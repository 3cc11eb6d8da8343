package telemetry

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Tool call outcomes.
const (
	OutcomeOK          = "ok"
	OutcomeError       = "error"
	OutcomeUnknownTool = "unknown_tool"
)

var (
	// ActiveSessions tracks relayed realtime connections currently open.
	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "voicerag_realtime_active_sessions",
			Help: "Number of currently open realtime relay sessions",
		},
	)

	SessionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "voicerag_realtime_sessions_total",
			Help: "Total number of realtime relay sessions started",
		},
	)

	UpstreamDialErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "voicerag_realtime_upstream_dial_errors_total",
			Help: "Total number of failed connections to the upstream realtime service",
		},
	)

	ToolCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voicerag_tool_calls_total",
			Help: "Total number of tool invocations by tool and outcome",
		},
		[]string{"tool", "outcome"},
	)

	ToolCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "voicerag_tool_call_duration_seconds",
			Help:    "Duration of tool invocations",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"tool"},
	)

	// InterceptedMessages counts upstream messages kept from the browser.
	InterceptedMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voicerag_realtime_intercepted_messages_total",
			Help: "Upstream messages consumed by the middle tier instead of being forwarded",
		},
		[]string{"type"},
	)

	InputAudioSeconds = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "voicerag_realtime_input_audio_seconds_total",
			Help: "Seconds of input audio relayed to the upstream service",
		},
	)
)

// The Record helpers update both the Prometheus collectors and the
// OpenTelemetry instruments.

func RecordSessionStarted() {
	SessionsTotal.Inc()
	ActiveSessions.Inc()
	otelSessionStarted(context.Background())
}

func RecordSessionEnded() {
	ActiveSessions.Dec()
	otelSessionEnded(context.Background())
}

func RecordUpstreamDialError() {
	UpstreamDialErrors.Inc()
	otelDialError(context.Background())
}

func RecordToolCall(tool, outcome string, d time.Duration) {
	ToolCalls.WithLabelValues(tool, outcome).Inc()
	ToolCallDuration.WithLabelValues(tool).Observe(d.Seconds())
	otelToolCall(context.Background(), tool, outcome, d)
}

func RecordIntercepted(eventType string) {
	InterceptedMessages.WithLabelValues(eventType).Inc()
	otelIntercepted(context.Background(), eventType)
}

func RecordInputAudio(d time.Duration) {
	InputAudioSeconds.Add(d.Seconds())
	otelInputAudio(context.Background(), d)
}
