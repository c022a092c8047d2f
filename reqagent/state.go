package reqagent

import (
	"encoding/json"
	"time"

	"github.com/agentika/requireloop/llmkit"
)

// Step records one completed tool invocation, in call order.
type Step struct {
	Tool   string          `json:"tool"`
	CallID string          `json:"call_id"`
	Input  json.RawMessage `json:"input"`
	Output string          `json:"output,omitempty"`
	Error  string          `json:"error,omitempty"`
	At     time.Time       `json:"at"`
}

// Succeeded reports whether the step completed without error.
func (s Step) Succeeded() bool { return s.Error == "" }

// Answer is the terminal result of a run.
type Answer struct {
	// Text is the unstructured answer, or the "response" field of the
	// default payload.
	Text string `json:"text"`
	// Raw is the exact JSON payload the final-answer tool received.
	Raw json.RawMessage `json:"raw,omitempty"`
	// Object is Raw decoded, when it is a JSON object.
	Object map[string]any `json:"object,omitempty"`
}

// RunState is the authoritative mutable record for one execution.
// Created at run start, mutated only by the Runner and the
// FinalAnswerTool, and returned to the caller at run end.
type RunState struct {
	RunID     string
	Iteration int
	Steps     []Step
	Usage     llmkit.Usage
	Memory    Memory

	// Answer transitions exactly once: nil -> non-nil, permanently. The
	// loop terminates right after this iteration's bookkeeping.
	Answer *Answer

	// Scratch is the mutable state bag for Requirements. The runner
	// never touches it.
	Scratch map[string]any
}

// NewRunState creates an empty state backed by the given memory.
func NewRunState(runID string, memory Memory) *RunState {
	return &RunState{
		RunID:   runID,
		Memory:  memory,
		Scratch: make(map[string]any),
	}
}

// LastStep returns the most recent step, or nil.
func (s *RunState) LastStep() *Step {
	if len(s.Steps) == 0 {
		return nil
	}
	return &s.Steps[len(s.Steps)-1]
}

// SuccessCount returns the number of successful invocations of a tool.
func (s *RunState) SuccessCount(tool string) int {
	n := 0
	for _, step := range s.Steps {
		if step.Tool == tool && step.Succeeded() {
			n++
		}
	}
	return n
}

// StepsFor returns all steps for a tool, in call order.
func (s *RunState) StepsFor(tool string) []Step {
	var out []Step
	for _, step := range s.Steps {
		if step.Tool == tool {
			out = append(out, step)
		}
	}
	return out
}
