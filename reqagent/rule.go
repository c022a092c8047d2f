package reqagent

import "fmt"

// Rule is a per-tool decision emitted by a Requirement. Rules are
// transient: recomputed every iteration, never persisted.
type Rule struct {
	Target      string // tool name the rule applies to
	Allowed     bool
	Forced      bool
	Hidden      bool
	PreventStop bool
	Reason      string
}

// TargetRef identifies a tool either by name or by instance. Resolution
// happens once at Requirement init time and produces a concrete tool,
// never re-resolved per iteration.
type TargetRef struct {
	name string
	tool Tool
}

// ByName references a tool by its unique name.
func ByName(name string) TargetRef {
	return TargetRef{name: name}
}

// ByTool references a concrete tool instance.
func ByTool(t Tool) TargetRef {
	return TargetRef{tool: t}
}

// IsZero reports whether the ref points at nothing.
func (ref TargetRef) IsZero() bool {
	return ref.name == "" && ref.tool == nil
}

// String describes the ref for error messages.
func (ref TargetRef) String() string {
	if ref.tool != nil {
		return fmt.Sprintf("tool instance %q", ref.tool.Name())
	}
	return fmt.Sprintf("tool name %q", ref.name)
}

// Resolve finds exactly one matching tool in the registry. Zero or more
// than one match is a configuration error.
func (ref TargetRef) Resolve(reg *Registry) (Tool, error) {
	if ref.tool != nil {
		for _, t := range reg.Tools() {
			if t == ref.tool {
				return t, nil
			}
		}
		return nil, &ConfigError{AgentError: AgentError{
			Message: fmt.Sprintf("%s is not among the run's tools", ref),
		}}
	}

	t := reg.Get(ref.name)
	if t == nil {
		return nil, &ConfigError{AgentError: AgentError{
			Message: fmt.Sprintf("no tool matches %s", ref),
		}}
	}
	return t, nil
}

// equal reports whether two refs denote the same target, comparing
// instances when both carry one and names otherwise. Used for the
// construction-time disjointness checks on ConditionalRequirement.
func (ref TargetRef) equal(other TargetRef) bool {
	if ref.tool != nil && other.tool != nil {
		return ref.tool == other.tool
	}
	return ref.refName() != "" && ref.refName() == other.refName()
}

func (ref TargetRef) refName() string {
	if ref.tool != nil {
		return ref.tool.Name()
	}
	return ref.name
}
