package reqagent

import (
	"context"
	"encoding/json"
)

// ThinkTool is a scratchpad: the model records its reasoning as a tool
// call without side effects. Useful as the target of a ForceAtStep
// requirement to make the model plan before acting.
type ThinkTool struct{}

func (ThinkTool) Name() string { return "think" }

func (ThinkTool) Description() string {
	return "Record your reasoning about the task. Has no effect; use it to plan before acting."
}

func (ThinkTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"thoughts": map[string]any{
				"type":        "string",
				"description": "Your current reasoning.",
			},
		},
		"required": []any{"thoughts"},
	}
}

func (ThinkTool) Run(_ context.Context, input json.RawMessage) (ToolOutput, error) {
	var payload struct {
		Thoughts string `json:"thoughts"`
	}
	if err := json.Unmarshal(input, &payload); err != nil {
		return nil, err
	}
	return StringOutput("Noted."), nil
}
