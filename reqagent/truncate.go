package reqagent

import (
	"fmt"
	"strings"
)

// DefaultOutputCharLimit caps tool output fed back to the model when no
// per-tool limit is configured.
const DefaultOutputCharLimit = 30000

// TruncateOutput applies middle-elision character truncation.
func TruncateOutput(output string, maxChars int) string {
	if maxChars <= 0 || len(output) <= maxChars {
		return output
	}
	half := maxChars / 2
	removed := len(output) - maxChars
	return output[:half] +
		fmt.Sprintf("\n\n[Tool output truncated: %d characters removed from the middle. "+
			"Re-run the tool with narrower parameters if you need the omitted part.]\n\n", removed) +
		output[len(output)-half:]
}

// TruncateLines applies line-based truncation using a head/tail split.
func TruncateLines(output string, maxLines int) string {
	if maxLines <= 0 {
		return output
	}
	lines := strings.Split(output, "\n")
	if len(lines) <= maxLines {
		return output
	}

	headCount := maxLines / 2
	tailCount := maxLines - headCount
	omitted := len(lines) - headCount - tailCount

	return strings.Join(lines[:headCount], "\n") +
		fmt.Sprintf("\n[... %d lines omitted ...]\n", omitted) +
		strings.Join(lines[len(lines)-tailCount:], "\n")
}

// TruncateToolOutput applies the per-tool truncation pipeline: character
// truncation first (handles pathological sizes), then line truncation.
func TruncateToolOutput(output, toolName string, charLimits, lineLimits map[string]int) string {
	maxChars, ok := charLimits[toolName]
	if !ok {
		maxChars = DefaultOutputCharLimit
	}
	result := TruncateOutput(output, maxChars)

	if maxLines, ok := lineLimits[toolName]; ok {
		result = TruncateLines(result, maxLines)
	}
	return result
}
