package reqagent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/agentika/requireloop/llmkit"
)

// ToolOutput is what a tool execution produces.
type ToolOutput interface {
	// IsEmpty reports whether the tool produced no usable output.
	IsEmpty() bool
	// Text returns the output rendered for the conversation.
	Text() string
}

// StringOutput is the common case: plain text output.
type StringOutput string

func (s StringOutput) IsEmpty() bool { return strings.TrimSpace(string(s)) == "" }
func (s StringOutput) Text() string  { return string(s) }

// Tool is an external capability the model can invoke. Implementations
// are owned by the caller; the runner holds references only.
type Tool interface {
	// Name is the unique tool identifier.
	Name() string
	// Description tells the model what the tool does.
	Description() string
	// InputSchema returns the JSON Schema for the tool's input.
	InputSchema() map[string]any
	// Run executes the tool. Cancellation is cooperative via ctx.
	Run(ctx context.Context, input json.RawMessage) (ToolOutput, error)
}

// Registry holds the tool set for a run. Registration order is stable
// and used as the deterministic tie-break order during rule resolution.
type Registry struct {
	order   []string
	tools   map[string]Tool
	schemas map[string]*gojsonschema.Schema
}

// NewRegistry builds a Registry from the given tools, compiling each
// tool's input schema up front. Duplicate names and invalid schemas are
// configuration errors.
func NewRegistry(tools ...Tool) (*Registry, error) {
	r := &Registry{
		tools:   make(map[string]Tool, len(tools)),
		schemas: make(map[string]*gojsonschema.Schema, len(tools)),
	}
	for _, t := range tools {
		if err := r.Register(t); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds a tool. The first registration wins a name; a duplicate
// is a configuration error.
func (r *Registry) Register(t Tool) error {
	name := t.Name()
	if name == "" {
		return &ConfigError{AgentError: AgentError{Message: "tool with empty name"}}
	}
	if _, exists := r.tools[name]; exists {
		return &ConfigError{AgentError: AgentError{Message: fmt.Sprintf("duplicate tool name %q", name)}}
	}

	if schema := t.InputSchema(); schema != nil {
		compiled, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(schema))
		if err != nil {
			return &ConfigError{AgentError: AgentError{
				Message: fmt.Sprintf("invalid input schema for tool %q", name),
				Cause:   err,
			}}
		}
		r.schemas[name] = compiled
	}

	r.order = append(r.order, name)
	r.tools[name] = t
	return nil
}

// Get returns the tool with the given name, or nil.
func (r *Registry) Get(name string) Tool {
	return r.tools[name]
}

// Tools returns all tools in registration order.
func (r *Registry) Tools() []Tool {
	out := make([]Tool, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name])
	}
	return out
}

// Names returns all tool names in registration order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Count returns the number of registered tools.
func (r *Registry) Count() int { return len(r.order) }

// Validate checks input against the named tool's compiled schema.
func (r *Registry) Validate(name string, input json.RawMessage) error {
	schema, ok := r.schemas[name]
	if !ok {
		return nil
	}
	if len(input) == 0 {
		input = json.RawMessage(`{}`)
	}
	result, err := schema.Validate(gojsonschema.NewBytesLoader(input))
	if err != nil {
		return &MalformedOutputError{AgentError: AgentError{
			Message: fmt.Sprintf("input for tool %q is not valid JSON", name),
			Cause:   err,
		}}
	}
	if !result.Valid() {
		var parts []string
		for _, desc := range result.Errors() {
			parts = append(parts, desc.String())
		}
		return &MalformedOutputError{
			AgentError: AgentError{Message: fmt.Sprintf("invalid input for tool %q: %s", name, strings.Join(parts, "; "))},
			RawOutput:  string(input),
		}
	}
	return nil
}

// Definitions renders the named tools as model-facing definitions, in
// registration order.
func (r *Registry) Definitions(names []string) []llmkit.ToolDefinition {
	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[n] = true
	}
	var defs []llmkit.ToolDefinition
	for _, name := range r.order {
		if !want[name] {
			continue
		}
		t := r.tools[name]
		defs = append(defs, llmkit.ToolDefinition{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.InputSchema(),
		})
	}
	return defs
}
