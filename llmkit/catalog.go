package llmkit

// ModelInfo describes a known model in the catalog.
type ModelInfo struct {
	ID            string   `json:"id"`
	Provider      string   `json:"provider"`
	ContextWindow int      `json:"context_window"`
	SupportsTools bool     `json:"supports_tools"`
	Aliases       []string `json:"aliases,omitempty"`
}

// Models is the built-in model catalog, used only to infer a provider
// from a model ID when the request does not name one.
var Models = []ModelInfo{
	{ID: "claude-opus-4-6", Provider: "anthropic", ContextWindow: 200000, SupportsTools: true, Aliases: []string{"opus", "claude-opus"}},
	{ID: "claude-sonnet-4-5", Provider: "anthropic", ContextWindow: 200000, SupportsTools: true, Aliases: []string{"sonnet", "claude-sonnet"}},
	{ID: "gpt-5.2", Provider: "openai", ContextWindow: 1047576, SupportsTools: true, Aliases: []string{"gpt5"}},
	{ID: "gpt-5.2-mini", Provider: "openai", ContextWindow: 1047576, SupportsTools: true, Aliases: []string{"gpt5-mini"}},
}

// GetModelInfo returns the catalog entry for a model ID or alias, or nil
// if unknown.
func GetModelInfo(modelID string) *ModelInfo {
	for i := range Models {
		if Models[i].ID == modelID {
			return &Models[i]
		}
		for _, alias := range Models[i].Aliases {
			if alias == modelID {
				return &Models[i]
			}
		}
	}
	return nil
}

// GetLatestModel returns the first catalog model for a provider, or nil.
func GetLatestModel(provider string) *ModelInfo {
	for i := range Models {
		if Models[i].Provider == provider {
			return &Models[i]
		}
	}
	return nil
}
