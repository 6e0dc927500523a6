package orchestrator

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

func eventTypeAttr(eventType string) attribute.KeyValue {
	return attribute.String("event_type", eventType)
}

// Meter is the metrics dependency, constructor-injected like Logger so
// core unit tests never need a live collector.
type Meter interface {
	SessionOpened()
	SessionClosed()
	EventDropped(eventType string)
	EventCoalesced(eventType string)
	ObserveCommitLatencyMs(ms float64)
	ObserveBargeInLatencyMs(ms float64)
}

// NoOpMeter discards every measurement.
type NoOpMeter struct{}

func (NoOpMeter) SessionOpened()                       {}
func (NoOpMeter) SessionClosed()                       {}
func (NoOpMeter) EventDropped(eventType string)        {}
func (NoOpMeter) EventCoalesced(eventType string)       {}
func (NoOpMeter) ObserveCommitLatencyMs(ms float64)     {}
func (NoOpMeter) ObserveBargeInLatencyMs(ms float64)    {}

// OtelMeter backs Meter with OpenTelemetry instruments, following the
// otel-wiring pattern used throughout BaSui01-agentflow and
// MrWong99-glyphoxa for session/queue instrumentation.
type OtelMeter struct {
	sessionsActive     metric.Int64UpDownCounter
	eventsDropped      metric.Int64Counter
	eventsCoalesced    metric.Int64Counter
	commitLatencyMs    metric.Float64Histogram
	bargeInLatencyMs   metric.Float64Histogram
}

func NewOtelMeter(m metric.Meter) (*OtelMeter, error) {
	sessionsActive, err := m.Int64UpDownCounter("duplexcore.sessions.active",
		metric.WithDescription("number of sessions currently open"))
	if err != nil {
		return nil, err
	}
	eventsDropped, err := m.Int64Counter("duplexcore.eventbus.dropped",
		metric.WithDescription("events discarded by the event bus after it was closed"))
	if err != nil {
		return nil, err
	}
	eventsCoalesced, err := m.Int64Counter("duplexcore.eventbus.coalesced",
		metric.WithDescription("transcript.partial events coalesced under overload"))
	if err != nil {
		return nil, err
	}
	commitLatencyMs, err := m.Float64Histogram("duplexcore.commit.latency_ms",
		metric.WithDescription("silence-to-commit latency in milliseconds"))
	if err != nil {
		return nil, err
	}
	bargeInLatencyMs, err := m.Float64Histogram("duplexcore.bargein.latency_ms",
		metric.WithDescription("barge-in cancellation latency in milliseconds"))
	if err != nil {
		return nil, err
	}

	return &OtelMeter{
		sessionsActive:   sessionsActive,
		eventsDropped:    eventsDropped,
		eventsCoalesced:  eventsCoalesced,
		commitLatencyMs:  commitLatencyMs,
		bargeInLatencyMs: bargeInLatencyMs,
	}, nil
}

func (o *OtelMeter) SessionOpened() {
	o.sessionsActive.Add(context.Background(), 1)
}

func (o *OtelMeter) SessionClosed() {
	o.sessionsActive.Add(context.Background(), -1)
}

func (o *OtelMeter) EventDropped(eventType string) {
	o.eventsDropped.Add(context.Background(), 1, metric.WithAttributes(eventTypeAttr(eventType)))
}

func (o *OtelMeter) EventCoalesced(eventType string) {
	o.eventsCoalesced.Add(context.Background(), 1, metric.WithAttributes(eventTypeAttr(eventType)))
}

func (o *OtelMeter) ObserveCommitLatencyMs(ms float64) {
	o.commitLatencyMs.Record(context.Background(), ms)
}

func (o *OtelMeter) ObserveBargeInLatencyMs(ms float64) {
	o.bargeInLatencyMs.Record(context.Background(), ms)
}
