package reqagent

// Requirement is a pluggable rule producer constraining tool usage. It
// is an open extension point: ConditionalRequirement is one built-in
// variant among arbitrarily many caller-supplied implementations.
//
// Lifecycle: constructed by the caller, Init-ed once per run against the
// tool registry, then Run once per iteration. The runner never mutates a
// Requirement; per-run scratch lives in the RunState's Scratch bag.
type Requirement interface {
	// Priority breaks ties between rules from different requirements.
	// Positive; higher wins for forced/hidden resolution.
	Priority() int

	// Enabled reports whether the requirement participates this run.
	Enabled() bool

	// Init resolves symbolic tool targets against the registry. A
	// requirement referencing a tool that does not exist must return a
	// ConfigError, which aborts the run before the loop starts.
	Init(reg *Registry) error

	// Run produces zero or more Rules for the current state. Evaluated
	// fresh every iteration; rules are never carried across iterations.
	Run(state *RunState) ([]Rule, error)
}

// Cloner is implemented by requirements that can be reused across agent
// instances.
type Cloner interface {
	Clone() Requirement
}
