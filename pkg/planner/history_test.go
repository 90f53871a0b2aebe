package planner

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/entrhq/browsepilot/pkg/types"
)

func TestFormatStep(t *testing.T) {
	s := types.Step{Text: "Log in", Tool: types.ToolAct, Instruction: "fill #pw = [password]", Status: types.StepCompleted}
	assert.Equal(t, "2. ACT fill #pw = [password] [completed]: Log in", FormatStep(2, s))

	failed := types.Step{Tool: types.ToolGoto, Instruction: "https://x.test"}.Fail(fmt.Errorf("timeout"))
	assert.Equal(t, "1. GOTO https://x.test [failed] (error: timeout)", FormatStep(1, failed))

	assert.Equal(t, "3. OBSERVE [pending]", FormatStep(3, types.Step{Tool: types.ToolObserve}))
}

func TestFormatHistory(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		assert.Equal(t, "No steps have been taken yet.", FormatHistory(nil, 100))
	})

	steps := make([]types.Step, 20)
	for i := range steps {
		steps[i] = types.Step{
			Text:        strings.Repeat("word ", 20),
			Tool:        types.ToolObserve,
			Status:      types.StepCompleted,
			Instruction: fmt.Sprintf("step-%d", i+1),
		}
	}

	t.Run("unlimited", func(t *testing.T) {
		out := FormatHistory(steps, 0)
		assert.Len(t, strings.Split(out, "\n"), 20)
		assert.NotContains(t, out, "omitted")
	})

	t.Run("trims oldest first", func(t *testing.T) {
		out := FormatHistory(steps, 100)
		lines := strings.Split(out, "\n")
		assert.Contains(t, lines[0], "earlier steps omitted")
		assert.Contains(t, out, "step-20")
		assert.NotContains(t, out, "step-1 ")
		assert.Less(t, len(lines), 21)
	})

	t.Run("newest step always kept", func(t *testing.T) {
		out := FormatHistory(steps, 1)
		assert.Contains(t, out, "(19 earlier steps omitted)")
		assert.Contains(t, out, "step-20")
	})
}

func TestBuildUserPrompt(t *testing.T) {
	req := Request{
		Goal:          "Find the price",
		StartURL:      "https://shop.test",
		VariableNames: []string{"password", "user"},
		History: []types.Step{
			types.Step{Tool: types.ToolGoto, Instruction: "https://shop.test"}.Fail(fmt.Errorf("dns")),
		},
	}
	out := BuildUserPrompt(req, DefaultHistoryBudget)

	assert.Contains(t, out, "<goal>\nFind the price\n</goal>")
	assert.Contains(t, out, "<start_url>https://shop.test</start_url>")
	assert.Contains(t, out, "%password%\n%user%")
	assert.Contains(t, out, "(error: dns)")
	assert.Contains(t, out, "The last step failed")
}
