package reqagent

import (
	"fmt"
)

// Check is a custom predicate over the run state. It returns whether the
// target tool is currently permitted, and a reason when it is not.
type Check func(state *RunState) (ok bool, reason string)

// ConditionalConfig parameterizes a ConditionalRequirement with
// temporal and count constraints on its target tool.
type ConditionalConfig struct {
	// Priority breaks ties against other requirements. Defaults to 10.
	Priority int

	// ForceAtStep makes the target the exclusive allowed tool at that
	// exact 1-based iteration. 0 disables.
	ForceAtStep int

	// OnlyAfter lists tools that must have been successfully invoked
	// before the target is permitted.
	OnlyAfter []TargetRef

	// OnlyBefore lists tools whose successful invocation forbids the
	// target from then on.
	OnlyBefore []TargetRef

	// ForceAfter lists tools that, when they ran last, force the target
	// on the next call.
	ForceAfter []TargetRef

	// MinInvocations keeps the run from stopping until the target has
	// this many successful invocations.
	MinInvocations int

	// MaxInvocations disallows the target once it has this many
	// successful invocations. nil means unlimited.
	MaxInvocations *int

	// ForbidConsecutive disallows back-to-back invocations of the
	// target.
	ForbidConsecutive bool

	// Checks are custom predicates evaluated last, in order.
	Checks []Check
}

// ConditionalRequirement is the built-in Requirement variant. Evaluation
// per iteration short-circuits at the first failing predicate, in this
// order: consecutive, max-invocations, after/before, custom checks.
type ConditionalRequirement struct {
	target  TargetRef
	cfg     ConditionalConfig
	enabled bool

	// Resolved at Init.
	name       string
	after      []string
	before     []string
	forceAfter []string
}

// NewConditionalRequirement validates the configuration and creates the
// requirement. Invariants checked here: MinInvocations <= MaxInvocations,
// ForceAtStep >= 1 when set, no self-reference in OnlyBefore/ForceAfter,
// and the after/before/forceAfter sets pairwise disjoint.
func NewConditionalRequirement(target TargetRef, cfg ConditionalConfig) (*ConditionalRequirement, error) {
	if target.IsZero() {
		return nil, &ConfigError{AgentError: AgentError{Message: "conditional requirement needs a target"}}
	}
	if cfg.Priority <= 0 {
		cfg.Priority = 10
	}
	if cfg.MinInvocations < 0 {
		return nil, confErr("MinInvocations must be >= 0")
	}
	if cfg.MaxInvocations != nil && cfg.MinInvocations > *cfg.MaxInvocations {
		return nil, confErr("MinInvocations exceeds MaxInvocations")
	}
	if cfg.ForceAtStep < 0 {
		return nil, confErr("ForceAtStep must be >= 1")
	}
	for _, ref := range cfg.OnlyBefore {
		if ref.equal(target) {
			return nil, confErr("OnlyBefore must not reference the target itself")
		}
	}
	for _, ref := range cfg.ForceAfter {
		if ref.equal(target) {
			return nil, confErr("ForceAfter must not reference the target itself")
		}
	}
	sets := [][]TargetRef{cfg.OnlyAfter, cfg.OnlyBefore, cfg.ForceAfter}
	for i := 0; i < len(sets); i++ {
		for j := i + 1; j < len(sets); j++ {
			for _, a := range sets[i] {
				for _, b := range sets[j] {
					if a.equal(b) {
						return nil, confErr(fmt.Sprintf("%s appears in more than one of OnlyAfter/OnlyBefore/ForceAfter", a))
					}
				}
			}
		}
	}

	return &ConditionalRequirement{target: target, cfg: cfg, enabled: true}, nil
}

func confErr(msg string) error {
	return &ConfigError{AgentError: AgentError{Message: "conditional requirement: " + msg}}
}

func (c *ConditionalRequirement) Priority() int { return c.cfg.Priority }
func (c *ConditionalRequirement) Enabled() bool { return c.enabled }

// SetEnabled toggles participation for subsequent runs.
func (c *ConditionalRequirement) SetEnabled(enabled bool) { c.enabled = enabled }

// Init resolves the symbolic target and every referenced tool to
// concrete registry entries.
func (c *ConditionalRequirement) Init(reg *Registry) error {
	tool, err := c.target.Resolve(reg)
	if err != nil {
		return err
	}
	c.name = tool.Name()

	resolve := func(refs []TargetRef) ([]string, error) {
		names := make([]string, 0, len(refs))
		for _, ref := range refs {
			t, err := ref.Resolve(reg)
			if err != nil {
				return nil, err
			}
			names = append(names, t.Name())
		}
		return names, nil
	}

	if c.after, err = resolve(c.cfg.OnlyAfter); err != nil {
		return err
	}
	if c.before, err = resolve(c.cfg.OnlyBefore); err != nil {
		return err
	}
	if c.forceAfter, err = resolve(c.cfg.ForceAfter); err != nil {
		return err
	}
	return nil
}

// Run evaluates the constraints against the current state and emits one
// rule for the target tool.
func (c *ConditionalRequirement) Run(state *RunState) ([]Rule, error) {
	last := state.LastStep()

	disallow := func(reason string) []Rule {
		return []Rule{{Target: c.name, Allowed: false, Reason: reason}}
	}

	if c.cfg.ForbidConsecutive && last != nil && last.Tool == c.name {
		return disallow(fmt.Sprintf("%s cannot be invoked twice in a row", c.name)), nil
	}

	if c.cfg.MaxInvocations != nil && state.SuccessCount(c.name) >= *c.cfg.MaxInvocations {
		return disallow(fmt.Sprintf("%s has reached its limit of %d invocations", c.name, *c.cfg.MaxInvocations)), nil
	}

	for _, dep := range c.after {
		if state.SuccessCount(dep) == 0 {
			return disallow(fmt.Sprintf("%s requires a successful %s call first", c.name, dep)), nil
		}
	}
	for _, dep := range c.before {
		if state.SuccessCount(dep) > 0 {
			return disallow(fmt.Sprintf("%s is no longer available after %s has run", c.name, dep)), nil
		}
	}

	for _, check := range c.cfg.Checks {
		if ok, reason := check(state); !ok {
			if reason == "" {
				reason = fmt.Sprintf("%s is not permitted right now", c.name)
			}
			return disallow(reason), nil
		}
	}

	rule := Rule{Target: c.name, Allowed: true}

	if c.cfg.ForceAtStep > 0 && state.Iteration == c.cfg.ForceAtStep {
		rule.Forced = true
	}
	if !rule.Forced && last != nil && last.Succeeded() {
		for _, dep := range c.forceAfter {
			if last.Tool == dep {
				rule.Forced = true
				break
			}
		}
	}

	if c.cfg.MinInvocations > 0 && state.SuccessCount(c.name) < c.cfg.MinInvocations {
		rule.PreventStop = true
		rule.Reason = fmt.Sprintf("%s needs %d successful invocations before the run may stop", c.name, c.cfg.MinInvocations)
	}

	return []Rule{rule}, nil
}

// Clone returns a copy safe to reuse with another runner.
func (c *ConditionalRequirement) Clone() Requirement {
	clone := *c
	return &clone
}
