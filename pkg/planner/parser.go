package planner

import (
	"encoding/json"
	"encoding/xml"
	"fmt"
	"regexp"
	"strings"

	"github.com/entrhq/browsepilot/pkg/types"
)

const maxResponseSize = 1 << 20

var (
	stepRegex = regexp.MustCompile(`(?s)<step>.*?</step>`)
	doneRegex = regexp.MustCompile(`(?s)<done\s*/>|<done>.*?</done>`)

	// entityRegex matches ampersands that already start an XML entity.
	entityRegex = regexp.MustCompile(`&(?:amp|lt|gt|quot|apos|#\d+|#x[0-9a-fA-F]+);`)
)

type stepXML struct {
	XMLName     xml.Name `xml:"step"`
	Text        string   `xml:"text"`
	Reasoning   string   `xml:"reasoning"`
	Tool        string   `xml:"tool"`
	Instruction string   `xml:"instruction"`
	Schema      string   `xml:"schema"`
}

type doneXML struct {
	XMLName   xml.Name `xml:"done"`
	Reasoning string   `xml:"reasoning"`
}

// ParseDecision extracts a decision from a model response.
//
// Accepted forms:
//
//	<step>
//	  <text>Open the pricing page</text>
//	  <reasoning>Pricing is linked from the header</reasoning>
//	  <tool>GOTO</tool>
//	  <instruction>https://example.com/pricing</instruction>
//	  <schema>{"kind":"object","fields":[...]}</schema>
//	</step>
//
//	<done><reasoning>The price is on screen</reasoning></done>
//
// Text around the element is ignored. When both appear, the first one wins.
func ParseDecision(text string) (*Decision, error) {
	if len(text) > maxResponseSize {
		return nil, plannerError("response exceeds %d bytes", maxResponseSize)
	}

	stepLoc := stepRegex.FindStringIndex(text)
	doneLoc := doneRegex.FindStringIndex(text)

	switch {
	case stepLoc == nil && doneLoc == nil:
		return nil, plannerError("no <step> or <done> element in response")
	case doneLoc != nil && (stepLoc == nil || doneLoc[0] < stepLoc[0]):
		return parseDone(text[doneLoc[0]:doneLoc[1]])
	default:
		return parseStep(text[stepLoc[0]:stepLoc[1]])
	}
}

func parseDone(raw string) (*Decision, error) {
	var d doneXML
	if strings.HasSuffix(raw, "/>") {
		return &Decision{Done: true}, nil
	}
	if err := unmarshalWithFallback([]byte(raw), &d); err != nil {
		return nil, plannerError("malformed <done>: %v", err)
	}
	return &Decision{Done: true, Reasoning: strings.TrimSpace(d.Reasoning)}, nil
}

func parseStep(raw string) (*Decision, error) {
	var s stepXML
	if err := unmarshalWithFallback([]byte(raw), &s); err != nil {
		return nil, plannerError("malformed <step>: %v\nXML snippet: %s", err, snippet(raw))
	}

	tool, err := types.ParseTool(s.Tool)
	if err != nil {
		return nil, plannerError("%v", err)
	}

	step := &types.Step{
		Text:        strings.TrimSpace(s.Text),
		Reasoning:   strings.TrimSpace(s.Reasoning),
		Tool:        tool,
		Instruction: strings.TrimSpace(s.Instruction),
		Status:      types.StepPending,
	}
	if step.Text == "" {
		step.Text = strings.TrimSpace(fmt.Sprintf("%s %s", tool, step.Instruction))
	}

	d := &Decision{Step: step}
	if raw := strings.TrimSpace(s.Schema); raw != "" {
		var schema types.ExtractionSchema
		if err := json.Unmarshal([]byte(raw), &schema); err != nil {
			return nil, plannerError("malformed <schema>: %v", err)
		}
		d.Schema = &schema
	}

	if err := d.Validate(); err != nil {
		return nil, err
	}
	return d, nil
}

// unmarshalWithFallback retries with bare ampersands escaped, since models
// routinely emit URLs with unescaped query strings.
func unmarshalWithFallback(data []byte, v any) error {
	err := xml.Unmarshal(data, v)
	if err == nil {
		return nil
	}
	return xml.Unmarshal(escapeAmpersands(data), v)
}

func escapeAmpersands(data []byte) []byte {
	text := string(data)

	entities := make(map[int]bool)
	for _, m := range entityRegex.FindAllStringIndex(text, -1) {
		entities[m[0]] = true
	}

	var b strings.Builder
	b.Grow(len(text) + 16)
	for i := 0; i < len(text); i++ {
		if text[i] == '&' && !entities[i] {
			b.WriteString("&amp;")
			continue
		}
		b.WriteByte(text[i])
	}
	return []byte(b.String())
}

func snippet(s string) string {
	if len(s) > 200 {
		return s[:200] + "..."
	}
	return s
}

func plannerError(format string, args ...any) error {
	return types.NewTaskError(types.ErrPlanner, "parse decision", fmt.Sprintf(format, args...), nil)
}
