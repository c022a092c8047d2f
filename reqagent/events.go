package reqagent

import (
	"sync"
	"time"
)

// EventKind identifies the type of run event.
type EventKind string

const (
	EventRunStart       EventKind = "run_start"
	EventRunEnd         EventKind = "run_end"
	EventIterationStart EventKind = "iteration_start"
	EventTextDelta      EventKind = "text_delta"
	EventToolCallDelta  EventKind = "tool_call_delta"
	EventModelOutput    EventKind = "model_output"
	EventToolStart      EventKind = "tool_start"
	EventToolEnd        EventKind = "tool_end"
	EventCycleDetected  EventKind = "cycle_detected"
	EventRetry          EventKind = "retry"
	EventFinalAnswer    EventKind = "final_answer"
	EventError          EventKind = "error"
)

// Event is a typed event emitted by the run loop. Delta events fire in
// the order chunks are merged, strictly before the corresponding
// control-flow decision is made on the merged output.
type Event struct {
	Kind      EventKind      `json:"kind"`
	Timestamp time.Time      `json:"timestamp"`
	RunID     string         `json:"run_id"`
	Data      map[string]any `json:"data,omitempty"`
}

// Emitter delivers typed events to the host application via a channel.
type Emitter struct {
	runID  string
	ch     chan Event
	closed bool
	mu     sync.Mutex
}

// NewEmitter creates an Emitter with a buffered channel.
func NewEmitter(runID string, bufferSize int) *Emitter {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	return &Emitter{
		runID: runID,
		ch:    make(chan Event, bufferSize),
	}
}

// Emit sends an event. Closed emitters and full channels drop the event
// rather than blocking the loop.
func (e *Emitter) Emit(kind EventKind, data map[string]any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	event := Event{
		Kind:      kind,
		Timestamp: time.Now(),
		RunID:     e.runID,
		Data:      data,
	}
	select {
	case e.ch <- event:
	default:
	}
}

// Events returns the read-only event channel.
func (e *Emitter) Events() <-chan Event {
	return e.ch
}

// Close closes the event channel. Safe to call multiple times.
func (e *Emitter) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.closed {
		e.closed = true
		close(e.ch)
	}
}
