package reqagent

import "fmt"

// AgentError is the base error type for loop-level failures.
type AgentError struct {
	Message string
	Cause   error
}

func (e *AgentError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AgentError) Unwrap() error {
	return e.Cause
}

// ConfigError is a fatal, non-retryable setup failure: a bad requirement,
// a missing target tool, or conflicting requirements that empty the
// allowed set. It aborts the run immediately.
type ConfigError struct {
	AgentError
	Requirement string // requirement that caused the failure, if known
	Rules       []Rule // rules in conflict, for diagnosis
}

// BudgetError is raised when the iteration cap, the per-step retry cap,
// or the global retry cap is exceeded. Steps carries the full history
// for diagnosis.
type BudgetError struct {
	AgentError
	Iteration int
	Steps     []Step
}

// ToolError wraps a single tool execution failure. It is recoverable:
// the runner converts it into a tool-result message and continues.
type ToolError struct {
	AgentError
	Tool   string
	CallID string
}

// MalformedOutputError marks model output the runner could not act on:
// no tool call when one was required, an unparseable final answer,
// invalid arguments, or a reference to an unknown tool. Recoverable up
// to the retry budgets.
type MalformedOutputError struct {
	AgentError
	RawOutput string
}
