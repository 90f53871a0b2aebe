package planner

import (
	"fmt"
	"strings"

	"github.com/entrhq/browsepilot/pkg/llm/tokenizer"
	"github.com/entrhq/browsepilot/pkg/types"
)

// DefaultHistoryBudget is the token budget for rendered history.
const DefaultHistoryBudget = 4000

// FormatStep renders one step as a single history line. index is 1-based.
func FormatStep(index int, s types.Step) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d. %s", index, s.Tool)
	if s.Instruction != "" {
		fmt.Fprintf(&b, " %s", s.Instruction)
	}
	status := s.Status
	if status == "" {
		status = types.StepPending
	}
	fmt.Fprintf(&b, " [%s]", status)
	if s.Text != "" {
		fmt.Fprintf(&b, ": %s", s.Text)
	}
	if s.Error != nil {
		fmt.Fprintf(&b, " (error: %s)", s.Error.Message)
	}
	return b.String()
}

// FormatHistory renders steps oldest first, keeping the most recent lines that
// fit in budget tokens. Dropped steps are summarized in a leading line.
// A budget of zero or less disables trimming.
func FormatHistory(steps []types.Step, budget int) string {
	if len(steps) == 0 {
		return "No steps have been taken yet."
	}

	lines := make([]string, len(steps))
	for i, s := range steps {
		lines[i] = FormatStep(i+1, s)
	}
	if budget <= 0 {
		return strings.Join(lines, "\n")
	}

	used := 0
	first := len(lines)
	for i := len(lines) - 1; i >= 0; i-- {
		cost := tokenizer.Count(lines[i]) + 1
		// The newest step is always kept.
		if used+cost > budget && i < len(lines)-1 {
			break
		}
		used += cost
		first = i
	}

	kept := lines[first:]
	if first == 0 {
		return strings.Join(kept, "\n")
	}
	return fmt.Sprintf("(%d earlier steps omitted)\n%s", first, strings.Join(kept, "\n"))
}
