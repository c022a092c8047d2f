package reqagent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTemplateParseError(t *testing.T) {
	_, err := NewTemplate("bad", "{{ .Unclosed")
	var cerr *ConfigError
	assert.ErrorAs(t, err, &cerr)
}

func TestDefaultSystemTemplate(t *testing.T) {
	tmpl := DefaultTemplates().System

	out, err := tmpl.Render(map[string]any{"Tools": []ToolSummary{
		{Name: "search", Description: "Search the web."},
		{Name: "fetch", Description: "Fetch a URL.", Reason: "fetch requires a successful search call first"},
	}})
	require.NoError(t, err)

	assert.Contains(t, out, "- search: Search the web.")
	assert.Contains(t, out, "- fetch: Fetch a URL. (fetch requires a successful search call first)")
	assert.Contains(t, out, "final answer")
}

func TestDefaultNudgeTemplates(t *testing.T) {
	tmpls := DefaultTemplates()

	out, err := tmpls.NoToolCallNudge.Render(map[string]any{"Reason": "no tool call was made"})
	require.NoError(t, err)
	assert.Contains(t, out, "no tool call was made")

	out, err = tmpls.CycleNudge.Render(map[string]any{"Tool": "search"})
	require.NoError(t, err)
	assert.Contains(t, out, "search")

	out, err = tmpls.ToolError.Render(map[string]any{"Tool": "fetch", "Error": "connection refused"})
	require.NoError(t, err)
	assert.Contains(t, out, "fetch")
	assert.Contains(t, out, "connection refused")
}
