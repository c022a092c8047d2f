package reqagent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
	"github.com/rs/zerolog"

	"github.com/agentika/requireloop/llmkit"
)

// ModelCaller is the narrow contract the runner needs from a chat-model
// client. *llmkit.Client satisfies it, as does any ChatModel adapter.
type ModelCaller interface {
	Complete(ctx context.Context, req llmkit.Request) (*llmkit.Response, error)
	Stream(ctx context.Context, req llmkit.Request) (<-chan llmkit.StreamEvent, error)
}

// RunnerConfig holds the loop's tunables.
type RunnerConfig struct {
	Model             string
	MaxIterations     int // iterations before the run fails, default 10
	MaxRetriesPerStep int // corrective retries within one iteration, default 3
	TotalMaxRetries   int // corrective retries across the whole run, default 10
	ForceToolCall     bool
	Stream            bool
	// StreamPartialToolCalls forwards tool-call argument deltas to the
	// event channel. Partial state never affects control flow.
	StreamPartialToolCalls bool
	ToolConcurrency        int // sibling tool calls executed in parallel, default 4
	ToolOutputLimits       map[string]int
	ToolLineLimits         map[string]int
	EventBuffer            int
	RetryPolicy            llmkit.RetryPolicy
	Checker                CheckerConfig
	Logger                 zerolog.Logger
}

// DefaultRunnerConfig returns the default configuration.
func DefaultRunnerConfig() RunnerConfig {
	return RunnerConfig{
		MaxIterations:     10,
		MaxRetriesPerStep: 3,
		TotalMaxRetries:   10,
		ToolConcurrency:   4,
		EventBuffer:       256,
		RetryPolicy:       llmkit.DefaultRetryPolicy(),
		Checker:           DefaultCheckerConfig(),
		Logger:            zerolog.Nop(),
	}
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithModel sets the model ID sent on every request.
func WithModel(model string) RunnerOption {
	return func(r *Runner) { r.cfg.Model = model }
}

// WithMaxIterations caps the number of loop iterations.
func WithMaxIterations(n int) RunnerOption {
	return func(r *Runner) { r.cfg.MaxIterations = n }
}

// WithRetryBudgets sets the per-iteration and run-wide corrective retry
// caps.
func WithRetryBudgets(perStep, total int) RunnerOption {
	return func(r *Runner) {
		r.cfg.MaxRetriesPerStep = perStep
		r.cfg.TotalMaxRetries = total
	}
}

// WithChecker sets the cycle-detection thresholds.
func WithChecker(cfg CheckerConfig) RunnerOption {
	return func(r *Runner) { r.cfg.Checker = cfg }
}

// WithStreaming enables streaming model calls. When partialToolCalls is
// set, tool-call argument deltas are forwarded to the event channel.
func WithStreaming(partialToolCalls bool) RunnerOption {
	return func(r *Runner) {
		r.cfg.Stream = true
		r.cfg.StreamPartialToolCalls = partialToolCalls
	}
}

// WithForceToolCall makes every request demand a tool call even when no
// requirement forces one.
func WithForceToolCall() RunnerOption {
	return func(r *Runner) { r.cfg.ForceToolCall = true }
}

// WithToolConcurrency bounds parallel sibling tool execution.
func WithToolConcurrency(n int) RunnerOption {
	return func(r *Runner) { r.cfg.ToolConcurrency = n }
}

// WithOutputLimits sets per-tool char and line caps on tool output fed
// back to the model.
func WithOutputLimits(charLimits, lineLimits map[string]int) RunnerOption {
	return func(r *Runner) {
		r.cfg.ToolOutputLimits = charLimits
		r.cfg.ToolLineLimits = lineLimits
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger zerolog.Logger) RunnerOption {
	return func(r *Runner) { r.cfg.Logger = logger }
}

// WithRetryPolicy sets the transport retry policy for model calls.
func WithRetryPolicy(policy llmkit.RetryPolicy) RunnerOption {
	return func(r *Runner) { r.cfg.RetryPolicy = policy }
}

// WithMemory substitutes the conversation store.
func WithMemory(memory Memory) RunnerOption {
	return func(r *Runner) { r.memory = memory }
}

// WithTemplates substitutes the prompt templates.
func WithTemplates(templates Templates) RunnerOption {
	return func(r *Runner) { r.templates = templates }
}

// WithFinalAnswer substitutes the final-answer tool, e.g. one carrying
// a custom output schema.
func WithFinalAnswer(tool *FinalAnswerTool) RunnerOption {
	return func(r *Runner) { r.finalTool = tool }
}

// Runner orchestrates the requirement-constrained execution loop: build
// request, call model, resolve tool calls or coerce a final answer,
// execute tools, update conversation state, repeat until an answer is
// produced or a budget is exhausted.
type Runner struct {
	model        ModelCaller
	registry     *Registry
	requirements []Requirement
	reasoner     *Reasoner
	checker      *ToolCallChecker
	finalTool    *FinalAnswerTool
	memory       Memory
	templates    Templates
	emitter      *Emitter
	pool         *ants.Pool
	logger       zerolog.Logger
	cfg          RunnerConfig
	runID        string

	mu     sync.Mutex
	queued []llmkit.Message
}

// NewRunner builds a Runner over the caller's tools and requirements.
// The final-answer tool is registered automatically, after the caller's
// tools.
func NewRunner(model ModelCaller, tools []Tool, requirements []Requirement, opts ...RunnerOption) (*Runner, error) {
	r := &Runner{
		model:        model,
		requirements: requirements,
		cfg:          DefaultRunnerConfig(),
		runID:        uuid.New().String(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.cfg.Logger

	if r.memory == nil {
		r.memory = NewMemory()
	}
	if r.templates == (Templates{}) {
		r.templates = DefaultTemplates()
	}
	if r.finalTool == nil {
		ft, err := NewFinalAnswerTool()
		if err != nil {
			return nil, err
		}
		r.finalTool = ft
	}

	registry, err := NewRegistry(append(append([]Tool{}, tools...), r.finalTool)...)
	if err != nil {
		return nil, err
	}
	r.registry = registry
	r.reasoner = NewReasoner(registry, FinalAnswerToolName, requirements, r.logger)
	r.checker = NewToolCallChecker(r.cfg.Checker)
	r.emitter = NewEmitter(r.runID, r.cfg.EventBuffer)

	pool, err := ants.NewPool(r.cfg.ToolConcurrency)
	if err != nil {
		return nil, &ConfigError{AgentError: AgentError{Message: "tool worker pool", Cause: err}}
	}
	r.pool = pool

	return r, nil
}

// AddMessages queues messages to be appended to the conversation before
// the next Run.
func (r *Runner) AddMessages(msgs ...llmkit.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.queued = append(r.queued, msgs...)
}

// Events returns the run event channel.
func (r *Runner) Events() <-chan Event {
	return r.emitter.Events()
}

// Close releases the worker pool and the event channel.
func (r *Runner) Close() {
	r.pool.Release()
	r.emitter.Close()
}

// Run executes the loop until an answer is produced or a budget is
// exhausted. It returns the final RunState on success; every failure is
// a typed error — there is no partial success.
func (r *Runner) Run(ctx context.Context) (*RunState, error) {
	r.mu.Lock()
	queued := r.queued
	r.queued = nil
	r.mu.Unlock()
	r.memory.AddMany(queued)

	state := NewRunState(r.runID, r.memory)
	r.finalTool.bind(state)
	r.checker.Reset()

	r.emitter.Emit(EventRunStart, nil)

	if err := r.reasoner.Init(); err != nil {
		r.emitter.Emit(EventError, map[string]any{"error": err.Error()})
		return nil, err
	}

	totalRetries := 0
	for {
		if err := ctx.Err(); err != nil {
			abort := &AgentError{Message: "run aborted", Cause: err}
			r.emitter.Emit(EventError, map[string]any{"error": abort.Error()})
			return nil, abort
		}

		state.Iteration++
		if state.Iteration > r.cfg.MaxIterations {
			err := &BudgetError{
				AgentError: AgentError{Message: fmt.Sprintf("no final answer after %d iterations", r.cfg.MaxIterations)},
				Iteration:  state.Iteration,
				Steps:      state.Steps,
			}
			r.emitter.Emit(EventError, map[string]any{"error": err.Error()})
			return nil, err
		}

		r.emitter.Emit(EventIterationStart, map[string]any{"iteration": state.Iteration})
		r.logger.Debug().Int("iteration", state.Iteration).Msg("iteration start")

		if err := r.iterate(ctx, state, &totalRetries); err != nil {
			r.emitter.Emit(EventError, map[string]any{"error": err.Error()})
			return nil, err
		}

		if state.Answer != nil {
			break
		}
	}

	r.emitter.Emit(EventRunEnd, map[string]any{"iterations": state.Iteration})
	return state, nil
}

// iterate performs one top-level iteration, including its bounded
// corrective retries. Retries re-resolve the request with extra ad-hoc
// rules; the extra rules live only for this iteration.
func (r *Runner) iterate(ctx context.Context, state *RunState, totalRetries *int) error {
	attempts := 0
	forceFinal := false
	var extraRules []Rule

	scheduleRetry := func(reason string, countGlobal bool) error {
		attempts++
		if countGlobal {
			*totalRetries++
		}
		if attempts > r.cfg.MaxRetriesPerStep {
			return &BudgetError{
				AgentError: AgentError{Message: fmt.Sprintf("iteration %d exhausted its retry budget: %s", state.Iteration, reason)},
				Iteration:  state.Iteration,
				Steps:      state.Steps,
			}
		}
		if *totalRetries > r.cfg.TotalMaxRetries {
			return &BudgetError{
				AgentError: AgentError{Message: "run exhausted its global retry budget: " + reason},
				Iteration:  state.Iteration,
				Steps:      state.Steps,
			}
		}
		r.emitter.Emit(EventRetry, map[string]any{"reason": reason, "attempt": attempts})
		r.logger.Debug().Str("reason", reason).Int("attempt", attempts).Msg("retrying iteration")
		return nil
	}

	for {
		resolved, err := r.reasoner.CreateRequest(state, r.cfg.ForceToolCall || forceFinal, extraRules)
		if err != nil {
			return err // configuration errors are fatal
		}

		req, err := r.buildRequest(resolved)
		if err != nil {
			return err
		}

		resp, err := r.callModel(ctx, req)

		// Scratch nudges were visible to that call only.
		r.memory.DeleteMarked(MarkerScratch)

		if err != nil {
			if ctx.Err() != nil {
				return &AgentError{Message: "model call aborted", Cause: err}
			}
			if !llmkit.IsRetryable(err) {
				return &AgentError{Message: "model call failed", Cause: err}
			}
			if berr := scheduleRetry(fmt.Sprintf("model call failed: %v", err), true); berr != nil {
				return berr
			}
			continue
		}

		state.Usage = state.Usage.Add(resp.Usage)
		r.emitter.Emit(EventModelOutput, map[string]any{
			"text":       resp.Text(),
			"tool_calls": len(resp.ToolCalls()),
		})

		toolCalls := resp.ToolCalls()

		if len(toolCalls) == 0 {
			text := resp.Text()
			if resolved.CanStop {
				payload, cerr := r.finalTool.Coerce(text)
				if cerr == nil {
					call := llmkit.ToolCall{
						ID:        "call_" + uuid.New().String()[:8],
						Name:      FinalAnswerToolName,
						Arguments: payload,
					}
					r.memory.AddMany([]llmkit.Message{resp.Message})
					return r.executeCalls(ctx, state, []llmkit.ToolCall{call})
				}
			}

			reason := "no tool call was made"
			if resolved.CanStop {
				reason = "the reply could not be converted into a final answer"
			}
			if berr := scheduleRetry(reason, true); berr != nil {
				return berr
			}
			r.addNudge(r.templates.NoToolCallNudge, map[string]any{"Reason": reason})
			// Re-issue with the final-answer tool explicitly allowed so
			// the model has a way out.
			forceFinal = true
			extraRules = append(extraRules, Rule{Target: FinalAnswerToolName, Allowed: true})
			continue
		}

		if problem := r.validateCalls(resolved, toolCalls); problem != "" {
			if berr := scheduleRetry(problem, true); berr != nil {
				return berr
			}
			r.addNudge(r.templates.NoToolCallNudge, map[string]any{"Reason": problem})
			continue
		}

		if looping, ok := r.detectCycle(toolCalls); ok {
			r.emitter.Emit(EventCycleDetected, map[string]any{"tool": looping.Name})
			r.logger.Info().Str("tool", looping.Name).Msg("tool call cycle broken")
			// A cycle is a control signal, not an error: it is bounded
			// by the per-iteration attempt counter but does not consume
			// the global retry budget.
			if berr := scheduleRetry("tool call cycle on "+looping.Name, false); berr != nil {
				return berr
			}
			extraRules = append(extraRules, Rule{
				Target:  looping.Name,
				Allowed: false,
				Reason:  "temporarily unavailable after repeated identical calls",
			})
			r.addNudge(r.templates.CycleNudge, map[string]any{"Tool": looping.Name})
			continue
		}

		r.memory.AddMany([]llmkit.Message{resp.Message})
		return r.executeCalls(ctx, state, toolCalls)
	}
}

// buildRequest renders the system prompt and assembles the model request
// from the resolved rule outcome.
func (r *Runner) buildRequest(resolved *ResolvedRequest) (llmkit.Request, error) {
	summaries := make([]ToolSummary, 0, len(resolved.Allowed))
	for _, name := range resolved.Allowed {
		t := r.registry.Get(name)
		summaries = append(summaries, ToolSummary{
			Name:        name,
			Description: t.Description(),
			Reason:      resolved.Reasons[name],
		})
	}
	system, err := r.templates.System.Render(map[string]any{"Tools": summaries})
	if err != nil {
		return llmkit.Request{}, &ConfigError{AgentError: AgentError{Message: "system template", Cause: err}}
	}

	messages := append([]llmkit.Message{llmkit.SystemMessage(system)}, r.memory.Messages()...)

	return llmkit.Request{
		Model:                  r.cfg.Model,
		Messages:               messages,
		Tools:                  r.registry.Definitions(resolved.Allowed),
		ToolChoice:             resolved.ToolChoice,
		StreamPartialToolCalls: r.cfg.StreamPartialToolCalls,
	}, nil
}

// callModel issues the request, streaming when configured. Deltas are
// forwarded to the event channel in merge order, strictly before any
// control-flow decision is made on the merged response.
func (r *Runner) callModel(ctx context.Context, req llmkit.Request) (*llmkit.Response, error) {
	if !r.cfg.Stream {
		return llmkit.Retry(ctx, r.cfg.RetryPolicy, func(ctx context.Context) (*llmkit.Response, error) {
			return r.model.Complete(ctx, req)
		})
	}

	ch, err := r.model.Stream(ctx, req)
	if err != nil {
		return nil, err
	}

	acc := llmkit.NewAccumulator()
	for ev := range ch {
		switch ev.Type {
		case llmkit.TextDelta:
			r.emitter.Emit(EventTextDelta, map[string]any{"delta": ev.Delta})
		case llmkit.ToolCallDelta:
			if r.cfg.StreamPartialToolCalls && ev.ToolCall != nil {
				r.emitter.Emit(EventToolCallDelta, map[string]any{
					"call_id": ev.ToolCall.ID,
					"delta":   ev.Delta,
				})
			}
		}
		acc.Process(ev)
	}
	if err := acc.Err(); err != nil {
		return nil, err
	}
	return acc.Response(), nil
}

// validateCalls rejects calls that reference unknown tools, tools
// outside the allowed set, or inputs failing the tool's schema.
func (r *Runner) validateCalls(resolved *ResolvedRequest, calls []llmkit.ToolCall) string {
	for _, tc := range calls {
		if r.registry.Get(tc.Name) == nil {
			return fmt.Sprintf("tool %q does not exist", tc.Name)
		}
		if !resolved.IsAllowed(tc.Name) {
			reason := resolved.Reasons[tc.Name]
			if reason == "" {
				reason = fmt.Sprintf("tool %q is not currently available", tc.Name)
			}
			return reason
		}
		if err := r.registry.Validate(tc.Name, tc.Arguments); err != nil {
			return err.Error()
		}
	}
	return ""
}

// detectCycle registers the calls and reports the first one that trips
// the checker. The checker is reset seeded with the breaking call so the
// corrective retry is not immediately re-flagged.
func (r *Runner) detectCycle(calls []llmkit.ToolCall) (llmkit.ToolCall, bool) {
	for _, tc := range calls {
		if tc.Name == FinalAnswerToolName {
			continue
		}
		if r.checker.Register(tc) {
			r.checker.Reset(tc)
			return tc, true
		}
	}
	return llmkit.ToolCall{}, false
}

// addNudge appends a scratch message purged after the next model call.
func (r *Runner) addNudge(tmpl Template, vars map[string]any) {
	text, err := tmpl.Render(vars)
	if err != nil {
		r.logger.Warn().Err(err).Msg("nudge template failed")
		return
	}
	r.memory.Add(MarkerScratch, llmkit.UserMessage(text))
}

type callResult struct {
	out ToolOutput
	err error
}

// executeCalls runs the surviving tool calls. Sibling calls execute
// concurrently on the worker pool with no ordering guarantee; steps and
// result messages are appended in the order the calls were issued.
// Final-answer calls run last, sequentially, through the direct path
// that records the answer.
func (r *Runner) executeCalls(ctx context.Context, state *RunState, calls []llmkit.ToolCall) error {
	var regular, finals []llmkit.ToolCall
	for _, tc := range calls {
		if tc.Name == FinalAnswerToolName {
			finals = append(finals, tc)
		} else {
			regular = append(regular, tc)
		}
	}

	results := make([]callResult, len(regular))
	var wg sync.WaitGroup
	for i, tc := range regular {
		i, tc := i, tc
		wg.Add(1)
		task := func() {
			defer wg.Done()
			results[i] = r.executeSingle(ctx, tc)
		}
		if err := r.pool.Submit(task); err != nil {
			// Pool unavailable; degrade to inline execution.
			task()
		}
	}
	wg.Wait()

	for i, tc := range regular {
		res := results[i]
		step := Step{Tool: tc.Name, CallID: tc.ID, Input: tc.Arguments, At: time.Now()}

		var content string
		isError := false
		switch {
		case res.err != nil:
			step.Error = res.err.Error()
			isError = true
			content = r.renderOr(r.templates.ToolError,
				map[string]any{"Tool": tc.Name, "Error": res.err.Error()},
				"Tool "+tc.Name+" failed: "+res.err.Error())
		case res.out == nil || res.out.IsEmpty():
			content = r.renderOr(r.templates.ToolNoResult,
				map[string]any{"Tool": tc.Name},
				"The tool "+tc.Name+" returned no result.")
		default:
			content = TruncateToolOutput(res.out.Text(), tc.Name, r.cfg.ToolOutputLimits, r.cfg.ToolLineLimits)
			step.Output = content
		}

		state.Steps = append(state.Steps, step)
		r.memory.AddMany([]llmkit.Message{llmkit.ToolResultMessage(tc.ID, content, isError)})
		r.emitter.Emit(EventToolEnd, map[string]any{
			"tool":    tc.Name,
			"call_id": tc.ID,
			"error":   step.Error,
		})
	}

	for _, tc := range finals {
		step := Step{Tool: tc.Name, CallID: tc.ID, Input: tc.Arguments, At: time.Now()}
		out, err := r.finalTool.Run(ctx, tc.Arguments)
		if err != nil {
			step.Error = err.Error()
			state.Steps = append(state.Steps, step)
			r.memory.AddMany([]llmkit.Message{llmkit.ToolResultMessage(tc.ID, err.Error(), true)})
			continue
		}
		step.Output = out.Text()
		state.Steps = append(state.Steps, step)
		r.memory.AddMany([]llmkit.Message{llmkit.ToolResultMessage(tc.ID, out.Text(), false)})
		r.emitter.Emit(EventFinalAnswer, map[string]any{"answer": state.Answer.Text})
		r.logger.Info().Int("iteration", state.Iteration).Msg("final answer recorded")
	}

	return nil
}

// executeSingle runs one tool call, attributing aborts and failures to
// the step.
func (r *Runner) executeSingle(ctx context.Context, tc llmkit.ToolCall) callResult {
	r.emitter.Emit(EventToolStart, map[string]any{"tool": tc.Name, "call_id": tc.ID})

	if err := ctx.Err(); err != nil {
		return callResult{err: &ToolError{
			AgentError: AgentError{Message: "tool call aborted", Cause: err},
			Tool:       tc.Name,
			CallID:     tc.ID,
		}}
	}

	tool := r.registry.Get(tc.Name)
	out, err := tool.Run(ctx, tc.Arguments)
	if err != nil {
		return callResult{err: &ToolError{
			AgentError: AgentError{Message: "tool execution failed", Cause: err},
			Tool:       tc.Name,
			CallID:     tc.ID,
		}}
	}
	return callResult{out: out}
}

func (r *Runner) renderOr(tmpl Template, vars map[string]any, fallback string) string {
	text, err := tmpl.Render(vars)
	if err != nil {
		return fallback
	}
	return text
}
