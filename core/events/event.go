package events

import "exchangefunds/core/types"

// Event represents a structured state change emitted by the protocol.
type Event interface {
	EventType() string
	Event() *types.Event
}

// Emitter broadcasts events to downstream subscribers (e.g. indexers, the
// dispute workflow).
type Emitter interface {
	Emit(Event)
}

// NoopEmitter is a helper that satisfies the Emitter interface while discarding
// all events. It is useful when a component wants to optionally expose events.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}

// Buffer holds events raised inside an atomic transition until the transition
// succeeds. Flush forwards them in order, Discard drops them.
type Buffer struct {
	next    Emitter
	pending []Event
}

// NewBuffer returns a buffer forwarding to next. A nil next discards flushed
// events.
func NewBuffer(next Emitter) *Buffer {
	if next == nil {
		next = NoopEmitter{}
	}
	return &Buffer{next: next}
}

// Emit implements the Emitter interface.
func (b *Buffer) Emit(evt Event) {
	if evt == nil {
		return
	}
	b.pending = append(b.pending, evt)
}

// Flush forwards every pending event and empties the buffer.
func (b *Buffer) Flush() {
	pending := b.pending
	b.pending = nil
	for _, evt := range pending {
		b.next.Emit(evt)
	}
}

// Discard drops every pending event.
func (b *Buffer) Discard() {
	b.pending = nil
}

// Pending reports how many events await a flush.
func (b *Buffer) Pending() int {
	return len(b.pending)
}

// Recorder keeps every emitted event. It backs tests and the CLI report.
type Recorder struct {
	Events []*types.Event
}

// Emit implements the Emitter interface.
func (r *Recorder) Emit(evt Event) {
	if evt == nil {
		return
	}
	r.Events = append(r.Events, evt.Event())
}

// OfType returns the recorded events matching eventType.
func (r *Recorder) OfType(eventType string) []*types.Event {
	var out []*types.Event
	for _, evt := range r.Events {
		if evt.Type == eventType {
			out = append(out, evt)
		}
	}
	return out
}
