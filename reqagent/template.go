package reqagent

import (
	"strings"
	"text/template"
)

// Template renders a prompt from variables. It is a pure function with
// no control-flow dependency; hosts may substitute their own renderer.
type Template interface {
	Render(vars map[string]any) (string, error)
}

type textTemplate struct {
	t *template.Template
}

// NewTemplate parses src as a text/template.
func NewTemplate(name, src string) (Template, error) {
	t, err := template.New(name).Parse(src)
	if err != nil {
		return nil, &ConfigError{AgentError: AgentError{Message: "template " + name, Cause: err}}
	}
	return &textTemplate{t: t}, nil
}

func (t *textTemplate) Render(vars map[string]any) (string, error) {
	var sb strings.Builder
	if err := t.t.Execute(&sb, vars); err != nil {
		return "", err
	}
	return sb.String(), nil
}

// MustTemplate is NewTemplate that panics on parse errors; for the
// package's own literals.
func MustTemplate(name, src string) Template {
	t, err := NewTemplate(name, src)
	if err != nil {
		panic(err)
	}
	return t
}

// Templates bundles the prompts the runner renders.
type Templates struct {
	// System builds the system prompt. Vars: Tools ([]ToolSummary).
	System Template
	// ToolError describes a failed tool call back to the model.
	// Vars: Tool, Error.
	ToolError Template
	// ToolNoResult replaces empty tool output. Vars: Tool.
	ToolNoResult Template
	// NoToolCallNudge corrects a turn with no usable tool call.
	// Vars: Reason.
	NoToolCallNudge Template
	// CycleNudge tells the model a loop was broken. Vars: Tool.
	CycleNudge Template
}

// ToolSummary is the per-tool view exposed to the system template.
type ToolSummary struct {
	Name        string
	Description string
	Reason      string
}

// DefaultTemplates returns the built-in prompt set.
func DefaultTemplates() Templates {
	return Templates{
		System: MustTemplate("system", strings.TrimSpace(`
You are a capable assistant that completes tasks by calling tools.
{{- if .Tools }}

Available tools:
{{- range .Tools }}
- {{ .Name }}: {{ .Description }}{{ if .Reason }} ({{ .Reason }}){{ end }}
{{- end }}
{{- end }}

When the task is complete, call the final answer tool to deliver the result.
`)),
		ToolError: MustTemplate("tool_error", `The tool {{ .Tool }} failed: {{ .Error }}. Consider a different approach.`),
		ToolNoResult: MustTemplate("tool_no_result", `The tool {{ .Tool }} returned no result.`),
		NoToolCallNudge: MustTemplate("no_tool_call", `Your previous reply could not be used: {{ .Reason }}. Respond with a valid tool call.`),
		CycleNudge: MustTemplate("cycle", `You are repeating the same {{ .Tool }} call. That call is now unavailable for this turn; try a different approach.`),
	}
}
