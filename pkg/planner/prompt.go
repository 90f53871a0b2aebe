package planner

import (
	"fmt"
	"strings"

	"github.com/entrhq/browsepilot/pkg/types"
)

// SystemPrompt instructs the model how to answer.
const SystemPrompt = `You control a web browser to accomplish a user's goal. Each turn you choose exactly one next action, or declare the goal done.

<tools>
GOTO     navigate to a URL. instruction: an absolute URL, or a path such as /pricing on the current site.
ACT      interact with the page. instruction: one of
           click <css selector>
           hover <css selector>
           fill <css selector> = <value>
           select <css selector> = <value>
           press <key>
           scroll up|down
EXTRACT  read data from the page. instruction: what to capture. Optional <schema> holds a JSON object
         {"kind":"object","fields":[{"name":"price","type":"string","required":true}]}
OBSERVE  list the interactive elements on the page.
WAIT     pause. instruction: a duration such as 2s, or a css selector to wait for.
NAVBACK  go back one page.
CLOSE    finish the browser work without further actions.
</tools>

<variables>
Secret values are referenced by placeholder, for example %password%. Use the placeholder verbatim in instructions. Never guess or print the value.
</variables>

<format>
Reply with a single XML element and nothing else.

To act:
<step>
<text>short description shown to the user</text>
<reasoning>why this action moves toward the goal</reasoning>
<tool>GOTO</tool>
<instruction>https://example.com</instruction>
</step>

When the goal has been achieved:
<done>
<reasoning>why the goal is complete</reasoning>
</done>
</format>

Prefer EXTRACT as soon as the requested information is visible. Do not repeat a failed action unchanged.`

// BuildUserPrompt renders the per-call context for the model.
func BuildUserPrompt(req Request, historyBudget int) string {
	var b strings.Builder

	b.WriteString("<goal>\n")
	b.WriteString(strings.TrimSpace(req.Goal))
	b.WriteString("\n</goal>\n\n")

	if req.StartURL != "" {
		fmt.Fprintf(&b, "<start_url>%s</start_url>\n\n", req.StartURL)
	}

	if len(req.VariableNames) > 0 {
		b.WriteString("<available_variables>\n")
		for _, name := range req.VariableNames {
			fmt.Fprintf(&b, "%%%s%%\n", name)
		}
		b.WriteString("</available_variables>\n\n")
	}

	b.WriteString("<history>\n")
	b.WriteString(FormatHistory(req.History, historyBudget))
	b.WriteString("\n</history>\n")

	if last := lastStep(req.History); last != nil && last.Status == types.StepFailed {
		b.WriteString("\nThe last step failed. Choose a different approach.\n")
	}
	return b.String()
}

func lastStep(steps []types.Step) *types.Step {
	if len(steps) == 0 {
		return nil
	}
	return &steps[len(steps)-1]
}
