package orchestrator

import "sync"

// isHighPriority reports whether an event type must never be dropped under
// backpressure (§4.8): Error, SessionEnded, AIInterrupted.
func isHighPriority(t OrchestrationEventType) bool {
	switch t {
	case EventError, EventSessionEnded, EventAIInterrupted:
		return true
	default:
		return false
	}
}

// EventBus is the bounded, ordered, per-session queue from the Orchestrator
// to the ClientChannel's writer (§4.8), grounded on kylesean's
// Session.sendLoop bounded-queue-plus-writer-goroutine pattern and the
// teacher's ManagedStream priority-drop logic in emit/drainAudioChunks.
//
// A single pump goroutine owns the output channel. Three lanes feed it:
// high-priority events (Error, SessionEnded, AIInterrupted) are never
// dropped and the publisher blocks until there's room; TranscriptPartial is
// the only type §4.8 allows to be coalesced under overload, so it gets its
// own single-slot mailbox where a newer partial supersedes an undelivered
// older one; every other event type (assistant.delta, assistant.done,
// transcript.final, assistant.thinking, session.ready, ...) goes through a
// bounded channel that blocks the publisher on backpressure rather than
// overwriting, so none of them are ever silently lost.
type EventBus struct {
	out chan OrchestrationEvent

	priority chan OrchestrationEvent
	normal   chan OrchestrationEvent
	wake     chan struct{}
	meter    Meter

	mu             sync.Mutex
	pendingPartial *OrchestrationEvent
	closed         bool
	done           chan struct{}
}

// NewEventBus wires meter's EventDropped/EventCoalesced counters (§5's
// event-bus drop/coalesce instrumentation); pass nil to discard them (as
// NoOpMeter would).
func NewEventBus(capacity int, meter Meter) *EventBus {
	if capacity <= 0 {
		capacity = 1
	}
	if meter == nil {
		meter = NoOpMeter{}
	}
	b := &EventBus{
		out:      make(chan OrchestrationEvent, capacity),
		priority: make(chan OrchestrationEvent, capacity),
		normal:   make(chan OrchestrationEvent, capacity),
		wake:     make(chan struct{}, 1),
		meter:    meter,
		done:     make(chan struct{}),
	}
	go b.pump()
	return b
}

// Publish enqueues an event. High-priority events are forwarded as-is and
// never dropped (the publisher blocks if the bus is saturated).
// TranscriptPartial is coalesced: only the newest pending partial is kept,
// superseding whatever was waiting before it. Every other event is sent on
// a bounded channel that blocks the publisher under backpressure instead of
// dropping it.
func (b *EventBus) Publish(event OrchestrationEvent) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		b.meter.EventDropped(string(event.Type))
		return
	}
	b.mu.Unlock()

	if isHighPriority(event.Type) {
		select {
		case b.priority <- event:
		case <-b.done:
			b.meter.EventDropped(string(event.Type))
		}
		return
	}

	if event.Type == EventTranscriptPartial {
		b.mu.Lock()
		if b.closed {
			b.mu.Unlock()
			b.meter.EventDropped(string(event.Type))
			return
		}
		superseded := b.pendingPartial != nil
		b.pendingPartial = &event
		b.mu.Unlock()
		if superseded {
			b.meter.EventCoalesced(string(event.Type))
		}

		select {
		case b.wake <- struct{}{}:
		default:
		}
		return
	}

	select {
	case b.normal <- event:
	case <-b.done:
		b.meter.EventDropped(string(event.Type))
	}
}

// pump is the sole writer to out, serializing priority, coalesced-partial
// and ordinary sends in the order they became ready.
func (b *EventBus) pump() {
	defer close(b.out)
	for {
		select {
		case ev := <-b.priority:
			b.out <- ev
		case ev := <-b.normal:
			b.out <- ev
		case <-b.wake:
			b.mu.Lock()
			ev := b.pendingPartial
			b.pendingPartial = nil
			b.mu.Unlock()
			if ev != nil {
				b.out <- *ev
			}
		case <-b.done:
			// Drain any already-queued events before exiting.
			for {
				select {
				case ev := <-b.priority:
					b.out <- ev
				case ev := <-b.normal:
					b.out <- ev
				default:
					return
				}
			}
		}
	}
}

// Events exposes the outbound channel for the ClientChannel writer to
// drain, in the order events became ready to send.
func (b *EventBus) Events() <-chan OrchestrationEvent {
	return b.out
}

// Close terminates the bus; further Publish calls are no-ops. Safe to call
// more than once.
func (b *EventBus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.mu.Unlock()
	close(b.done)
}
