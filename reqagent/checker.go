package reqagent

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"

	"github.com/agentika/requireloop/llmkit"
)

// CheckerConfig holds the cycle-detection thresholds.
type CheckerConfig struct {
	// MaxStrikeLength is the number of consecutive identical calls
	// tolerated before a cycle is flagged.
	MaxStrikeLength int
	// WindowSize bounds the sliding window of recent calls.
	WindowSize int
	// MaxTotalOccurrences is the number of occurrences of one signature
	// tolerated within the window before a cycle is flagged.
	MaxTotalOccurrences int
}

// DefaultCheckerConfig returns the default thresholds.
func DefaultCheckerConfig() CheckerConfig {
	return CheckerConfig{
		MaxStrikeLength:     3,
		WindowSize:          10,
		MaxTotalOccurrences: 5,
	}
}

// CallSignature computes a deterministic signature for a tool call
// (name + hash of serialized input). Equal signatures mean the same
// tool invoked with the same input.
func CallSignature(name string, arguments json.RawMessage) string {
	h := sha256.Sum256(arguments)
	return fmt.Sprintf("%s:%x", name, h[:8])
}

// ToolCallChecker detects tool-call cycles with two independent windows:
// a consecutive-identical-call strike counter and a bounded sliding
// window of recent signatures.
type ToolCallChecker struct {
	cfg     CheckerConfig
	lastSig string
	strikes int
	window  []string
	found   bool
}

// NewToolCallChecker creates a checker with the given thresholds.
func NewToolCallChecker(cfg CheckerConfig) *ToolCallChecker {
	if cfg.MaxStrikeLength <= 0 {
		cfg.MaxStrikeLength = DefaultCheckerConfig().MaxStrikeLength
	}
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = DefaultCheckerConfig().WindowSize
	}
	if cfg.MaxTotalOccurrences <= 0 {
		cfg.MaxTotalOccurrences = DefaultCheckerConfig().MaxTotalOccurrences
	}
	return &ToolCallChecker{cfg: cfg}
}

// Register records a tool call and reports whether a cycle is now
// flagged. The strike counter resets to 1 whenever the new call differs
// from the immediately preceding one.
func (c *ToolCallChecker) Register(call llmkit.ToolCall) bool {
	sig := CallSignature(call.Name, call.Arguments)

	if sig == c.lastSig {
		c.strikes++
	} else {
		c.lastSig = sig
		c.strikes = 1
	}
	if c.strikes > c.cfg.MaxStrikeLength {
		c.found = true
	}

	c.window = append(c.window, sig)
	if len(c.window) > c.cfg.WindowSize {
		c.window = c.window[1:]
	}
	occurrences := 0
	for _, s := range c.window {
		if s == sig {
			occurrences++
		}
	}
	if occurrences > c.cfg.MaxTotalOccurrences {
		c.found = true
	}

	return c.found
}

// CycleFound reports whether a cycle has been flagged since the last
// reset.
func (c *ToolCallChecker) CycleFound() bool { return c.found }

// Reset clears both windows, optionally seeding them with the call that
// triggered the break so the immediate retry is not re-flagged.
func (c *ToolCallChecker) Reset(seed ...llmkit.ToolCall) {
	c.lastSig = ""
	c.strikes = 0
	c.window = c.window[:0]
	c.found = false
	for _, call := range seed {
		c.Register(call)
	}
}
