package llmkit

import "strings"

// Accumulator collects stream events into a complete Response. Partial
// deltas are observable through the events themselves; only the merged
// Response returned by Response() is meant to drive caller decisions.
type Accumulator struct {
	text         strings.Builder
	reasoning    strings.Builder
	partialArgs  map[string]string // tool call ID -> accumulated argument text
	toolCalls    []ToolCall
	finishReason *FinishReason
	usage        *Usage
	response     *Response
	err          error
}

// NewAccumulator creates an empty Accumulator.
func NewAccumulator() *Accumulator {
	return &Accumulator{partialArgs: make(map[string]string)}
}

// Process ingests a single stream event.
func (a *Accumulator) Process(ev StreamEvent) {
	switch ev.Type {
	case TextDelta:
		a.text.WriteString(ev.Delta)
	case ReasoningDelta:
		a.reasoning.WriteString(ev.Delta)
	case ToolCallDelta:
		if ev.ToolCall != nil {
			a.partialArgs[ev.ToolCall.ID] += ev.Delta
		}
	case ToolCallEnd:
		if ev.ToolCall != nil {
			a.toolCalls = append(a.toolCalls, *ev.ToolCall)
		}
	case StreamFinish:
		a.finishReason = ev.FinishReason
		a.usage = ev.Usage
		a.response = ev.Response
	case StreamError:
		a.err = ev.Err
	}
}

// Err returns the stream error, if any terminal error event was seen.
func (a *Accumulator) Err() error { return a.err }

// Response returns the merged response. If the provider supplied a full
// response on finish it is returned as-is; otherwise one is assembled
// from the accumulated parts.
func (a *Accumulator) Response() *Response {
	if a.response != nil {
		return a.response
	}

	var content []ContentPart
	if a.reasoning.Len() > 0 {
		content = append(content, ThinkingPart(a.reasoning.String()))
	}
	if a.text.Len() > 0 {
		content = append(content, TextPart(a.text.String()))
	}
	for _, tc := range a.toolCalls {
		content = append(content, ToolCallPart(tc.ID, tc.Name, tc.Arguments))
	}

	fr := FinishReason{Reason: "stop"}
	if a.finishReason != nil {
		fr = *a.finishReason
	}
	if len(a.toolCalls) > 0 && a.finishReason == nil {
		fr = FinishReason{Reason: "tool_calls"}
	}

	usage := Usage{}
	if a.usage != nil {
		usage = *a.usage
	}

	return &Response{
		Message:      Message{Role: RoleAssistant, Content: content},
		FinishReason: fr,
		Usage:        usage,
	}
}
