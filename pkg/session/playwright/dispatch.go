package playwright

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/playwright-community/playwright-go"

	"github.com/entrhq/browsepilot/pkg/session"
	"github.com/entrhq/browsepilot/pkg/types"
)

// maxObserved caps how many interactive elements OBSERVE reports.
const maxObserved = 40

// Dispatch performs one action on the session's page.
func (p *Provider) Dispatch(ctx context.Context, sessionID string, action session.Action) (*session.Outcome, error) {
	s, err := p.lookup(sessionID)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var out *session.Outcome
	switch action.Tool {
	case types.ToolGoto:
		out, err = s.navigate(action.Instruction)
	case types.ToolAct:
		out, err = s.act(action.Instruction)
	case types.ToolExtract:
		out, err = s.extract(action.Schema)
	case types.ToolObserve:
		out, err = s.observe()
	case types.ToolWait:
		out, err = s.wait(action.Instruction)
	case types.ToolNavBack:
		out, err = s.back()
	case types.ToolClose:
		out = &session.Outcome{Message: "nothing to do"}
	default:
		return nil, session.NewActionError(action.Tool, "unsupported tool", nil)
	}
	if err != nil {
		return nil, err
	}
	out.URL = s.page.URL()
	return out, nil
}

func (s *browserSession) navigate(url string) (*session.Outcome, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, session.NewActionError(types.ToolGoto, "url is required", nil)
	}
	resp, err := s.page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
	})
	if err != nil {
		return nil, session.NewActionError(types.ToolGoto, "navigation failed", err)
	}
	msg := "navigated"
	if resp != nil && resp.Status() >= 400 {
		msg = fmt.Sprintf("navigated (HTTP %d)", resp.Status())
	}
	return &session.Outcome{Message: msg}, nil
}

func (s *browserSession) act(instruction string) (*session.Outcome, error) {
	cmd, err := ParseCommand(instruction)
	if err != nil {
		return nil, session.NewActionError(types.ToolAct, "invalid command", err)
	}

	switch cmd.Verb {
	case VerbClick:
		err = s.page.Locator(cmd.Selector).First().Click()
	case VerbHover:
		err = s.page.Locator(cmd.Selector).First().Hover()
	case VerbFill:
		err = s.page.Locator(cmd.Selector).First().Fill(cmd.Value)
	case VerbSelect:
		_, err = s.page.Locator(cmd.Selector).First().SelectOption(playwright.SelectOptionValues{
			Values: playwright.StringSlice(cmd.Value),
		})
	case VerbPress:
		err = s.page.Keyboard().Press(cmd.Value)
	case VerbScroll:
		dy := 600.0
		if cmd.Value == "up" {
			dy = -dy
		}
		err = s.page.Mouse().Wheel(0, dy)
	}
	if err != nil {
		// The instruction may carry a substituted secret; report only the verb.
		return nil, session.NewActionError(types.ToolAct, string(cmd.Verb), err)
	}
	return &session.Outcome{Message: fmt.Sprintf("%s done", cmd.Verb)}, nil
}

func (s *browserSession) wait(instruction string) (*session.Outcome, error) {
	spec, err := ParseWait(instruction)
	if err != nil {
		return nil, session.NewActionError(types.ToolWait, "invalid wait", err)
	}
	if spec.Selector != "" {
		if err := s.page.Locator(spec.Selector).First().WaitFor(playwright.LocatorWaitForOptions{
			State: playwright.WaitForSelectorStateVisible,
		}); err != nil {
			return nil, session.NewActionError(types.ToolWait, "selector did not appear", err)
		}
		return &session.Outcome{Message: "selector visible"}, nil
	}
	s.page.WaitForTimeout(float64(spec.Duration.Milliseconds()))
	return &session.Outcome{Message: fmt.Sprintf("waited %s", spec.Duration)}, nil
}

func (s *browserSession) back() (*session.Outcome, error) {
	if _, err := s.page.GoBack(); err != nil {
		return nil, session.NewActionError(types.ToolNavBack, "history navigation failed", err)
	}
	return &session.Outcome{Message: "went back"}, nil
}

func (s *browserSession) extract(schema *types.ExtractionSchema) (*session.Outcome, error) {
	if schema == nil {
		schema = types.DefaultSchema()
	}
	if schema.Kind == types.SchemaText {
		raw, err := s.page.Content()
		if err != nil {
			return nil, session.NewActionError(types.ToolExtract, "read page", err)
		}
		text, err := ExtractPageText(raw, DefaultMaxTextLength)
		if err != nil {
			return nil, session.NewActionError(types.ToolExtract, "parse page", err)
		}
		return &session.Outcome{
			Message: fmt.Sprintf("extracted %d characters", len(text.Text)),
			Data:    map[string]any{schema.TextField(): text.Text},
		}, nil
	}

	data := make(map[string]any, len(schema.Fields))
	for _, f := range schema.Fields {
		if f.Selector == "" {
			continue
		}
		v, ok, err := s.readField(f)
		if err != nil {
			return nil, session.NewActionError(types.ToolExtract, "field "+f.Name, err)
		}
		if ok {
			data[f.Name] = v
		}
	}
	return &session.Outcome{
		Message: fmt.Sprintf("extracted %d fields", len(data)),
		Data:    data,
	}, nil
}

func (s *browserSession) readField(f types.SchemaField) (any, bool, error) {
	loc := s.page.Locator(f.Selector)
	count, err := loc.Count()
	if err != nil {
		return nil, false, err
	}

	switch f.Type {
	case types.FieldBoolean:
		return count > 0, true, nil
	case types.FieldArray:
		texts, err := loc.AllInnerTexts()
		if err != nil {
			return nil, false, err
		}
		items := make([]any, 0, len(texts))
		for _, t := range texts {
			items = append(items, strings.TrimSpace(t))
		}
		return items, true, nil
	}

	if count == 0 {
		return nil, false, nil
	}
	text, err := loc.First().InnerText()
	if err != nil {
		return nil, false, err
	}
	text = strings.TrimSpace(text)

	if f.Type == types.FieldNumber {
		n, ok := ParseNumber(text)
		return n, ok, nil
	}
	return text, true, nil
}

var numberPattern = regexp.MustCompile(`-?\d[\d,]*(\.\d+)?`)

// ParseNumber pulls the first number out of display text such as "$1,299.00/mo".
func ParseNumber(text string) (float64, bool) {
	m := numberPattern.FindString(text)
	if m == "" {
		return 0, false
	}
	n, err := strconv.ParseFloat(strings.ReplaceAll(m, ",", ""), 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

const observeScript = `(max) => {
  const sel = 'a[href], button, input:not([type=hidden]), select, textarea, [role=button], [role=link]';
  const out = [];
  for (const el of document.querySelectorAll(sel)) {
    if (out.length >= max) break;
    const r = el.getBoundingClientRect();
    if (r.width === 0 || r.height === 0) continue;
    const tag = el.tagName.toLowerCase();
    const label = (el.innerText || el.value || el.getAttribute('aria-label') || el.getAttribute('placeholder') || '').trim().slice(0, 80);
    let hint = tag;
    if (el.id) hint += '#' + el.id;
    else if (el.name) hint += '[name="' + el.name + '"]';
    else if (tag === 'a') hint += '[href="' + el.getAttribute('href') + '"]';
    out.push(hint + (label ? ' "' + label + '"' : ''));
  }
  return out;
}`

func (s *browserSession) observe() (*session.Outcome, error) {
	res, err := s.page.Evaluate(observeScript, maxObserved)
	if err != nil {
		return nil, session.NewActionError(types.ToolObserve, "inspect page", err)
	}
	title, _ := s.page.Title()

	var lines []string
	if items, ok := res.([]interface{}); ok {
		for _, it := range items {
			if str, ok := it.(string); ok {
				lines = append(lines, str)
			}
		}
	}
	return &session.Outcome{
		Message: FormatObservation(title, lines),
		Data:    map[string]any{"elements": toAny(lines)},
	}, nil
}

// FormatObservation renders an OBSERVE summary for the planner.
func FormatObservation(title string, elements []string) string {
	var b strings.Builder
	if title != "" {
		fmt.Fprintf(&b, "Page: %s\n", title)
	}
	if len(elements) == 0 {
		b.WriteString("No interactive elements found.")
		return b.String()
	}
	fmt.Fprintf(&b, "%d interactive elements:\n", len(elements))
	for _, e := range elements {
		b.WriteString("- ")
		b.WriteString(e)
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func toAny(in []string) []any {
	out := make([]any, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}
