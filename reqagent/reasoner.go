package reqagent

import (
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/agentika/requireloop/llmkit"
)

// ResolvedRequest is the outcome of one rule-resolution pass: which
// tools the model may call right now, which one (if any) is forced, and
// whether stopping is permitted. Recomputed fresh every iteration and
// never carried across iterations.
type ResolvedRequest struct {
	// Allowed holds the invocable tool names, in registration order.
	Allowed []string
	// Hidden holds tools suppressed from the model entirely.
	Hidden []string
	// Forced is the single tool the model must call, or "".
	Forced string
	// CanStop reports whether the final-answer tool is invocable.
	CanStop bool
	// Reasons maps tool names to the display reason of the rule that
	// decided them.
	Reasons map[string]string
	// ToolChoice is the directive sent to the model.
	ToolChoice *llmkit.ToolChoice
}

// IsAllowed reports whether the named tool is in the allowed set.
func (rr *ResolvedRequest) IsAllowed(name string) bool {
	for _, n := range rr.Allowed {
		if n == name {
			return true
		}
	}
	return false
}

// Reasoner aggregates the Rules of all active Requirements into one
// ResolvedRequest per iteration.
type Reasoner struct {
	registry     *Registry
	finalTool    string
	requirements []Requirement
	logger       zerolog.Logger
}

// NewReasoner creates a Reasoner over the registry. finalTool names the
// designated final-answer tool, which must be registered.
func NewReasoner(reg *Registry, finalTool string, requirements []Requirement, logger zerolog.Logger) *Reasoner {
	return &Reasoner{
		registry:     reg,
		finalTool:    finalTool,
		requirements: requirements,
		logger:       logger,
	}
}

// Init initializes every requirement against the tool set. A failure is
// a fatal configuration error, raised before the loop starts.
func (r *Reasoner) Init() error {
	for _, req := range r.requirements {
		if err := req.Init(r.registry); err != nil {
			return err
		}
	}
	return nil
}

type scoredRule struct {
	priority int
	rule     Rule
}

// CreateRequest runs every enabled requirement against the state and
// resolves the collected rules.
//
// Aggregation per tool: allowed is the AND over all rules (any disallow
// wins); hidden, forced, and preventStop are ORs; the displayed reason
// is the last one written while walking rules in descending priority. A
// hidden tool is never allowed. A forced tool collapses the allowed set
// to {forced, finalAnswer}; preventStop removes the final-answer tool
// unless it is itself forced. Ties between equal-priority forced rules
// keep the earliest-registered tool, which makes resolution
// deterministic.
//
// Extra rules are ad-hoc corrections (cycle breaks, coercion recovery);
// each receives a synthetic priority above every existing rule for its
// target so it always wins.
func (r *Reasoner) CreateRequest(state *RunState, forceToolCall bool, extra []Rule) (*ResolvedRequest, error) {
	byTool := make(map[string][]scoredRule)
	var all []Rule

	for _, req := range r.requirements {
		if !req.Enabled() {
			continue
		}
		rules, err := req.Run(state)
		if err != nil {
			return nil, &ConfigError{AgentError: AgentError{
				Message: "requirement evaluation failed",
				Cause:   err,
			}}
		}
		for _, rule := range rules {
			if r.registry.Get(rule.Target) == nil {
				return nil, &ConfigError{
					AgentError: AgentError{Message: fmt.Sprintf("rule targets unknown tool %q", rule.Target)},
					Rules:      []Rule{rule},
				}
			}
			byTool[rule.Target] = append(byTool[rule.Target], scoredRule{priority: req.Priority(), rule: rule})
			all = append(all, rule)
		}
	}

	for _, rule := range extra {
		max := 0
		for _, sr := range byTool[rule.Target] {
			if sr.priority > max {
				max = sr.priority
			}
		}
		byTool[rule.Target] = append(byTool[rule.Target], scoredRule{priority: max + 1, rule: rule})
		all = append(all, rule)
	}

	res := &ResolvedRequest{Reasons: make(map[string]string)}
	allowedSet := make(map[string]bool)
	forcedPriority := 0
	preventStop := false

	// Tools are visited in registration order so equal-priority forced
	// ties resolve the same way every run.
	for _, name := range r.registry.Names() {
		rules := byTool[name]
		sort.SliceStable(rules, func(i, j int) bool { return rules[i].priority > rules[j].priority })

		allowed := true
		hidden := false
		reason := ""
		for _, sr := range rules {
			if !sr.rule.Allowed {
				allowed = false
			}
			if sr.rule.Hidden {
				hidden = true
			}
			if sr.rule.PreventStop {
				preventStop = true
			}
			if sr.rule.Forced && sr.priority > forcedPriority {
				forcedPriority = sr.priority
				res.Forced = name
			}
			if sr.rule.Reason != "" {
				reason = sr.rule.Reason
			}
		}

		// Hidden always suppresses availability.
		if hidden {
			allowed = false
			res.Hidden = append(res.Hidden, name)
		}
		if reason != "" {
			res.Reasons[name] = reason
		}
		if allowed {
			res.Allowed = append(res.Allowed, name)
			allowedSet[name] = true
		}
	}

	if res.Forced != "" && !allowedSet[res.Forced] {
		return nil, &ConfigError{
			AgentError: AgentError{Message: fmt.Sprintf(
				"conflicting requirements: tool %q is forced and disallowed at the same step", res.Forced)},
			Rules: all,
		}
	}

	if res.Forced != "" {
		// Collapse to {forced, finalAnswer}; just {forced} when the
		// forced tool is the final-answer tool itself.
		collapsed := []string{}
		for _, name := range r.registry.Names() {
			if name == res.Forced {
				collapsed = append(collapsed, name)
			} else if name == r.finalTool && res.Forced != r.finalTool && allowedSet[r.finalTool] {
				collapsed = append(collapsed, name)
			}
		}
		res.Allowed = collapsed
		allowedSet = make(map[string]bool, len(collapsed))
		for _, n := range collapsed {
			allowedSet[n] = true
		}
	}

	if preventStop && res.Forced != r.finalTool {
		kept := res.Allowed[:0]
		for _, name := range res.Allowed {
			if name != r.finalTool {
				kept = append(kept, name)
			}
		}
		res.Allowed = kept
		delete(allowedSet, r.finalTool)
	}

	if len(res.Allowed) == 0 {
		return nil, &ConfigError{
			AgentError: AgentError{Message: fmt.Sprintf(
				"conflicting requirements left no invocable tools (rules: %s)", describeRules(all))},
			Rules: all,
		}
	}

	res.CanStop = allowedSet[r.finalTool]

	switch {
	case len(res.Allowed) == 1:
		res.ToolChoice = llmkit.ToolChoiceNamed(res.Allowed[0])
	case res.Forced != "":
		res.ToolChoice = llmkit.ToolChoiceNamed(res.Forced)
	case forceToolCall || preventStop:
		res.ToolChoice = llmkit.ToolChoiceRequired()
	default:
		res.ToolChoice = llmkit.ToolChoiceAuto()
	}

	r.logger.Debug().
		Int("iteration", state.Iteration).
		Strs("allowed", res.Allowed).
		Str("forced", res.Forced).
		Bool("can_stop", res.CanStop).
		Msg("rules resolved")

	return res, nil
}

func describeRules(rules []Rule) string {
	parts := make([]string, 0, len(rules))
	for _, r := range rules {
		parts = append(parts, fmt.Sprintf("%s{allowed=%v forced=%v hidden=%v preventStop=%v}",
			r.Target, r.Allowed, r.Forced, r.Hidden, r.PreventStop))
	}
	return strings.Join(parts, ", ")
}
