package llmkit

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestAccumulatorMergesTextDeltas(t *testing.T) {
	acc := NewAccumulator()
	for _, d := range []string{"a ", "growing ", "thought"} {
		acc.Process(StreamEvent{Type: TextDelta, Delta: d})
	}
	acc.Process(StreamEvent{Type: StreamFinish})

	if got := acc.Response().Text(); got != "a growing thought" {
		t.Errorf("unexpected merged text: %q", got)
	}
}

func TestAccumulatorCollectsToolCalls(t *testing.T) {
	acc := NewAccumulator()
	acc.Process(StreamEvent{Type: ToolCallDelta, ToolCall: &ToolCall{ID: "c1"}, Delta: `{"q":`})
	acc.Process(StreamEvent{Type: ToolCallDelta, ToolCall: &ToolCall{ID: "c1"}, Delta: `"x"}`})
	acc.Process(StreamEvent{Type: ToolCallEnd, ToolCall: &ToolCall{
		ID: "c1", Name: "search", Arguments: json.RawMessage(`{"q":"x"}`),
	}})

	resp := acc.Response()
	calls := resp.ToolCalls()
	if len(calls) != 1 {
		t.Fatalf("expected 1 tool call, got %d", len(calls))
	}
	if calls[0].Name != "search" {
		t.Errorf("unexpected tool name: %q", calls[0].Name)
	}
	if resp.FinishReason.Reason != "tool_calls" {
		t.Errorf("expected tool_calls finish reason, got %q", resp.FinishReason.Reason)
	}
}

func TestAccumulatorPrefersProviderResponse(t *testing.T) {
	full := textResponse("authoritative")
	acc := NewAccumulator()
	acc.Process(StreamEvent{Type: TextDelta, Delta: "partial"})
	acc.Process(StreamEvent{Type: StreamFinish, Response: full})

	if got := acc.Response().Text(); got != "authoritative" {
		t.Errorf("expected provider response to win, got %q", got)
	}
}

func TestAccumulatorSurfacesStreamError(t *testing.T) {
	streamErr := errors.New("connection reset")
	acc := NewAccumulator()
	acc.Process(StreamEvent{Type: StreamError, Err: streamErr})

	if !errors.Is(acc.Err(), streamErr) {
		t.Errorf("expected stream error to surface, got %v", acc.Err())
	}
}
