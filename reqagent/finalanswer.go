package reqagent

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/invopop/jsonschema"
	"github.com/xeipuuv/gojsonschema"
)

// FinalAnswerToolName is the designated name of the synthetic tool that
// terminates the loop.
const FinalAnswerToolName = "final_answer"

// FinalAnswerTool is the synthetic tool whose invocation ends the run
// and records the answer on the bound RunState. Without a custom output
// schema it accepts a {"response": "..."} payload.
type FinalAnswerTool struct {
	schema   map[string]any
	compiled *gojsonschema.Schema
	custom   bool

	mu    sync.Mutex
	state *RunState
}

// FinalAnswerOption configures a FinalAnswerTool.
type FinalAnswerOption func(*FinalAnswerTool) error

// WithOutputSchema sets a custom JSON Schema for the answer payload.
func WithOutputSchema(schema map[string]any) FinalAnswerOption {
	return func(t *FinalAnswerTool) error {
		t.schema = schema
		t.custom = true
		return nil
	}
}

// WithOutputType derives the answer schema from a Go struct type by
// reflection.
func WithOutputType(v any) FinalAnswerOption {
	return func(t *FinalAnswerTool) error {
		reflector := jsonschema.Reflector{DoNotReference: true}
		derived := reflector.Reflect(v)
		raw, err := json.Marshal(derived)
		if err != nil {
			return err
		}
		var schema map[string]any
		if err := json.Unmarshal(raw, &schema); err != nil {
			return err
		}
		t.schema = schema
		t.custom = true
		return nil
	}
}

// NewFinalAnswerTool creates the tool and compiles its schema.
func NewFinalAnswerTool(opts ...FinalAnswerOption) (*FinalAnswerTool, error) {
	t := &FinalAnswerTool{
		schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"response": map[string]any{
					"type":        "string",
					"description": "The final answer to deliver to the user.",
				},
			},
			"required": []any{"response"},
		},
	}
	for _, opt := range opts {
		if err := opt(t); err != nil {
			return nil, &ConfigError{AgentError: AgentError{Message: "final answer schema", Cause: err}}
		}
	}

	compiled, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(t.schema))
	if err != nil {
		return nil, &ConfigError{AgentError: AgentError{Message: "final answer schema does not compile", Cause: err}}
	}
	t.compiled = compiled
	return t, nil
}

func (t *FinalAnswerTool) Name() string { return FinalAnswerToolName }

func (t *FinalAnswerTool) Description() string {
	return "Deliver the final answer and end the task. Call this once the task is complete."
}

func (t *FinalAnswerTool) InputSchema() map[string]any { return t.schema }

// bind attaches the tool to the state of the run in progress.
func (t *FinalAnswerTool) bind(state *RunState) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = state
}

// Run validates the payload and records the answer. The answer
// transition is nil -> non-nil exactly once; a second call in the same
// run is rejected.
func (t *FinalAnswerTool) Run(_ context.Context, input json.RawMessage) (ToolOutput, error) {
	t.mu.Lock()
	state := t.state
	t.mu.Unlock()
	if state == nil {
		return nil, &ConfigError{AgentError: AgentError{Message: "final answer tool is not bound to a run"}}
	}

	if len(input) == 0 {
		input = json.RawMessage(`{}`)
	}
	result, err := t.compiled.Validate(gojsonschema.NewBytesLoader(input))
	if err != nil {
		return nil, &MalformedOutputError{
			AgentError: AgentError{Message: "final answer is not valid JSON", Cause: err},
			RawOutput:  string(input),
		}
	}
	if !result.Valid() {
		return nil, &MalformedOutputError{
			AgentError: AgentError{Message: fmt.Sprintf("final answer does not match the output schema: %v", result.Errors())},
			RawOutput:  string(input),
		}
	}

	answer := &Answer{Raw: append(json.RawMessage(nil), input...)}
	var obj map[string]any
	if err := json.Unmarshal(input, &obj); err == nil {
		answer.Object = obj
		if resp, ok := obj["response"].(string); ok {
			answer.Text = resp
		}
	}
	if answer.Text == "" {
		answer.Text = string(input)
	}

	if state.Answer != nil {
		return nil, &MalformedOutputError{AgentError: AgentError{Message: "final answer already recorded"}}
	}
	state.Answer = answer

	return StringOutput("final answer recorded"), nil
}

// Coerce turns free text into a final-answer payload: the first
// balanced JSON object in the text if it satisfies the schema, else —
// with the default schema only — the whole text wrapped as the
// response field.
func (t *FinalAnswerTool) Coerce(text string) (json.RawMessage, error) {
	if obj, ok := ExtractJSONObject(text); ok {
		if result, err := t.compiled.Validate(gojsonschema.NewBytesLoader(obj)); err == nil && result.Valid() {
			return obj, nil
		}
	}

	if !t.custom {
		wrapped, err := json.Marshal(map[string]string{"response": text})
		if err != nil {
			return nil, err
		}
		return wrapped, nil
	}

	return nil, &MalformedOutputError{
		AgentError: AgentError{Message: "free text does not contain a JSON object matching the output schema"},
		RawOutput:  text,
	}
}

// ExtractJSONObject returns the first balanced {...} object in text,
// respecting strings and escapes.
func ExtractJSONObject(text string) (json.RawMessage, bool) {
	start := -1
	depth := 0
	inString := false
	escaped := false

	for i := 0; i < len(text); i++ {
		c := text[i]
		if start == -1 {
			if c == '{' {
				start = i
				depth = 1
			}
			continue
		}
		if escaped {
			escaped = false
			continue
		}
		switch c {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{':
			if !inString {
				depth++
			}
		case '}':
			if !inString {
				depth--
				if depth == 0 {
					candidate := json.RawMessage(text[start : i+1])
					if json.Valid(candidate) {
						return candidate, true
					}
					// Not valid JSON; keep scanning past this brace.
					start = -1
				}
			}
		}
	}
	return nil, false
}
