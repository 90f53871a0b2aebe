package playwright

import (
	"fmt"
	"strings"
	"time"
)

// Verb is an ACT command keyword.
type Verb string

const (
	VerbClick  Verb = "click"
	VerbFill   Verb = "fill"
	VerbPress  Verb = "press"
	VerbScroll Verb = "scroll"
	VerbHover  Verb = "hover"
	VerbSelect Verb = "select"
)

// Command is a parsed ACT instruction.
//
// Grammar:
//
//	click <selector>
//	hover <selector>
//	fill <selector> = <value>
//	select <selector> = <option>
//	press <key>
//	scroll up|down
type Command struct {
	Verb     Verb
	Selector string
	Value    string
}

// ParseCommand parses an ACT instruction.
func ParseCommand(instruction string) (Command, error) {
	text := strings.TrimSpace(instruction)
	head, rest, _ := strings.Cut(text, " ")
	rest = strings.TrimSpace(rest)
	verb := Verb(strings.ToLower(head))

	switch verb {
	case VerbClick, VerbHover:
		if rest == "" {
			return Command{}, fmt.Errorf("%s requires a selector", verb)
		}
		return Command{Verb: verb, Selector: rest}, nil

	case VerbFill, VerbSelect:
		sel, val, ok := strings.Cut(rest, "=")
		sel = strings.TrimSpace(sel)
		if !ok || sel == "" {
			return Command{}, fmt.Errorf("%s requires '<selector> = <value>'", verb)
		}
		return Command{Verb: verb, Selector: sel, Value: strings.TrimSpace(val)}, nil

	case VerbPress:
		if rest == "" {
			return Command{}, fmt.Errorf("press requires a key")
		}
		return Command{Verb: verb, Value: rest}, nil

	case VerbScroll:
		dir := strings.ToLower(rest)
		if dir != "up" && dir != "down" {
			return Command{}, fmt.Errorf("scroll direction must be up or down, got %q", rest)
		}
		return Command{Verb: verb, Value: dir}, nil
	}
	return Command{}, fmt.Errorf("unknown act command %q", head)
}

// WaitSpec is a parsed WAIT instruction: either a pause or a selector to await.
type WaitSpec struct {
	Duration time.Duration
	Selector string
}

// maxWait caps a WAIT pause.
const maxWait = 30 * time.Second

// ParseWait accepts a Go duration ("2s"), a bare number of seconds ("3") or
// a selector.
func ParseWait(instruction string) (WaitSpec, error) {
	text := strings.TrimSpace(instruction)
	if text == "" {
		return WaitSpec{}, fmt.Errorf("wait requires a duration or selector")
	}
	if d, err := time.ParseDuration(text); err == nil {
		return WaitSpec{Duration: clampWait(d)}, nil
	}
	if d, err := time.ParseDuration(text + "s"); err == nil {
		return WaitSpec{Duration: clampWait(d)}, nil
	}
	return WaitSpec{Selector: text}, nil
}

func clampWait(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	if d > maxWait {
		return maxWait
	}
	return d
}
