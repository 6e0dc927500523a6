package orchestrator

import (
	"sync"
	"testing"
	"time"
)

// fakeMeter records EventBus instrumentation calls for assertions, leaving
// every other Meter method a no-op.
type fakeMeter struct {
	NoOpMeter
	mu        sync.Mutex
	dropped   []string
	coalesced []string
}

func (m *fakeMeter) EventDropped(eventType string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dropped = append(m.dropped, eventType)
}

func (m *fakeMeter) EventCoalesced(eventType string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.coalesced = append(m.coalesced, eventType)
}

func (m *fakeMeter) snapshot() (dropped, coalesced []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.dropped...), append([]string(nil), m.coalesced...)
}

func TestEventBusCoalescesLowPriorityEvents(t *testing.T) {
	bus := NewEventBus(4, nil)
	defer bus.Close()
	sid := NewSessionID()

	// Publish three partials back to back before anything drains; only the
	// newest should ever reach the wire.
	bus.Publish(OrchestrationEvent{Type: EventTranscriptPartial, SessionID: sid, Payload: TranscriptPayload{Text: "a"}})
	bus.Publish(OrchestrationEvent{Type: EventTranscriptPartial, SessionID: sid, Payload: TranscriptPayload{Text: "ab"}})
	bus.Publish(OrchestrationEvent{Type: EventTranscriptPartial, SessionID: sid, Payload: TranscriptPayload{Text: "abc"}})

	select {
	case ev := <-bus.Events():
		p, ok := ev.Payload.(TranscriptPayload)
		if !ok {
			t.Fatalf("Payload = %T, want TranscriptPayload", ev.Payload)
		}
		if p.Text != "abc" {
			t.Fatalf("Text = %q, want newest coalesced value %q", p.Text, "abc")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for coalesced event")
	}

	select {
	case ev := <-bus.Events():
		t.Fatalf("unexpected second event after coalescing: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestEventBusNeverDropsHighPriorityEvents(t *testing.T) {
	bus := NewEventBus(2, nil)
	defer bus.Close()
	sid := NewSessionID()

	// Publish blocks once the bus is saturated, so publish from a separate
	// goroutine while this one drains.
	const n = 10
	go func() {
		for i := 0; i < n; i++ {
			bus.Publish(OrchestrationEvent{Type: EventError, SessionID: sid, Payload: ErrorPayload{Code: string(ErrInternal)}})
		}
	}()

	received := 0
	for received < n {
		select {
		case <-bus.Events():
			received++
		case <-time.After(time.Second):
			t.Fatalf("only received %d/%d high-priority events before timeout", received, n)
		}
	}
}

func TestEventBusPublishAfterCloseIsNoOp(t *testing.T) {
	bus := NewEventBus(4, nil)
	sid := NewSessionID()

	bus.Close()
	bus.Close() // idempotent

	bus.Publish(OrchestrationEvent{Type: EventAIInterrupted, SessionID: sid})

	select {
	case ev, ok := <-bus.Events():
		if ok {
			t.Fatalf("received event after Close: %+v", ev)
		}
	case <-time.After(200 * time.Millisecond):
		t.Fatal("Events() channel never closed")
	}
}

func TestEventBusPreservesOrderedNormalEvents(t *testing.T) {
	bus := NewEventBus(4, nil)
	defer bus.Close()
	sid := NewSessionID()

	bus.Publish(OrchestrationEvent{Type: EventAIResponseDelta, SessionID: sid, Payload: AssistantDeltaPayload{Text: "Hi"}})
	bus.Publish(OrchestrationEvent{Type: EventAIResponseDelta, SessionID: sid, Payload: AssistantDeltaPayload{Text: " there"}})

	var deltas []string
	for i := 0; i < 2; i++ {
		select {
		case ev := <-bus.Events():
			p, ok := ev.Payload.(AssistantDeltaPayload)
			if !ok {
				t.Fatalf("Payload = %T, want AssistantDeltaPayload", ev.Payload)
			}
			deltas = append(deltas, p.Text)
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for delta %d/2", i+1)
		}
	}

	if len(deltas) != 2 || deltas[0] != "Hi" || deltas[1] != " there" {
		t.Fatalf("deltas = %v, want [\"Hi\" \" there\"] in order", deltas)
	}
}

func TestEventBusReportsCoalescedPartialsToMeter(t *testing.T) {
	meter := &fakeMeter{}
	bus := NewEventBus(4, meter)
	defer bus.Close()
	sid := NewSessionID()

	bus.Publish(OrchestrationEvent{Type: EventTranscriptPartial, SessionID: sid, Payload: TranscriptPayload{Text: "a"}})
	bus.Publish(OrchestrationEvent{Type: EventTranscriptPartial, SessionID: sid, Payload: TranscriptPayload{Text: "ab"}})

	<-bus.Events() // drain the surviving partial so Close below doesn't race the pump

	dropped, coalesced := meter.snapshot()
	if len(dropped) != 0 {
		t.Fatalf("dropped = %v, want none", dropped)
	}
	if len(coalesced) != 1 || coalesced[0] != string(EventTranscriptPartial) {
		t.Fatalf("coalesced = %v, want exactly one transcript.partial", coalesced)
	}
}

func TestEventBusReportsDroppedEventsToMeterAfterClose(t *testing.T) {
	meter := &fakeMeter{}
	bus := NewEventBus(4, meter)
	sid := NewSessionID()

	bus.Close()
	bus.Publish(OrchestrationEvent{Type: EventAIResponseDelta, SessionID: sid})

	dropped, _ := meter.snapshot()
	if len(dropped) != 1 || dropped[0] != string(EventAIResponseDelta) {
		t.Fatalf("dropped = %v, want exactly one assistant.delta", dropped)
	}
}

func TestEventBusPreservesSessionEndedOnClose(t *testing.T) {
	bus := NewEventBus(4, nil)
	sid := NewSessionID()

	bus.Publish(OrchestrationEvent{Type: EventSessionEnded, SessionID: sid})
	bus.Close()

	select {
	case ev := <-bus.Events():
		if ev.Type != EventSessionEnded {
			t.Fatalf("Type = %v, want EventSessionEnded", ev.Type)
		}
	case <-time.After(time.Second):
		t.Fatal("session.ended was lost across Close")
	}
}
