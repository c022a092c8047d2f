package reqagent

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type schemalessTool struct{ name string }

func (s *schemalessTool) Name() string                { return s.name }
func (s *schemalessTool) Description() string         { return "no schema" }
func (s *schemalessTool) InputSchema() map[string]any { return nil }
func (s *schemalessTool) Run(context.Context, json.RawMessage) (ToolOutput, error) {
	return StringOutput("ok"), nil
}

func typedTool(name string) Tool {
	return &typedStub{name: name}
}

type typedStub struct{ name string }

func (s *typedStub) Name() string        { return s.name }
func (s *typedStub) Description() string { return "typed stub " + s.name }
func (s *typedStub) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{"type": "string"},
		},
		"required": []any{"query"},
	}
}
func (s *typedStub) Run(context.Context, json.RawMessage) (ToolOutput, error) {
	return StringOutput("ok"), nil
}

func TestRegistryRejectsDuplicateNames(t *testing.T) {
	_, err := NewRegistry(typedTool("search"), typedTool("search"))
	var cerr *ConfigError
	require.ErrorAs(t, err, &cerr)
	assert.Contains(t, cerr.Error(), "duplicate")
}

func TestRegistryRejectsEmptyName(t *testing.T) {
	_, err := NewRegistry(typedTool(""))
	var cerr *ConfigError
	assert.ErrorAs(t, err, &cerr)
}

func TestRegistryPreservesRegistrationOrder(t *testing.T) {
	reg, err := NewRegistry(typedTool("c"), typedTool("a"), typedTool("b"))
	require.NoError(t, err)

	assert.Equal(t, []string{"c", "a", "b"}, reg.Names())
	assert.Equal(t, 3, reg.Count())
	assert.Equal(t, "a", reg.Get("a").Name())
	assert.Nil(t, reg.Get("ghost"))
}

func TestRegistryValidate(t *testing.T) {
	reg, err := NewRegistry(typedTool("search"), &schemalessTool{name: "raw"})
	require.NoError(t, err)

	assert.NoError(t, reg.Validate("search", json.RawMessage(`{"query":"go"}`)))

	err = reg.Validate("search", json.RawMessage(`{"query":42}`))
	var merr *MalformedOutputError
	require.ErrorAs(t, err, &merr)

	err = reg.Validate("search", json.RawMessage(`{}`))
	assert.ErrorAs(t, err, &merr)

	// Empty input is treated as an empty object.
	err = reg.Validate("search", nil)
	assert.ErrorAs(t, err, &merr)

	// Tools without a schema accept anything.
	assert.NoError(t, reg.Validate("raw", json.RawMessage(`"whatever"`)))
}

func TestRegistryDefinitionsSubsetInOrder(t *testing.T) {
	reg, err := NewRegistry(typedTool("c"), typedTool("a"), typedTool("b"))
	require.NoError(t, err)

	defs := reg.Definitions([]string{"b", "c"})
	require.Len(t, defs, 2)
	assert.Equal(t, "c", defs[0].Name)
	assert.Equal(t, "b", defs[1].Name)
	assert.NotNil(t, defs[0].Parameters)
}

func TestStringOutput(t *testing.T) {
	assert.True(t, StringOutput("").IsEmpty())
	assert.True(t, StringOutput("  \n\t").IsEmpty())
	assert.False(t, StringOutput("result").IsEmpty())
	assert.Equal(t, "result", StringOutput("result").Text())
}
