package executor

import (
	"cmp"
	"regexp"
	"slices"
	"strings"

	"github.com/entrhq/browsepilot/pkg/types"
)

var placeholderRegex = regexp.MustCompile(`%([A-Za-z0-9_.\-]+)%`)

// minRedactLength is the shortest value masked wherever it appears. Shorter
// values only have their placeholders masked.
const minRedactLength = 3

// Substitute replaces %name% placeholders with their values. Unknown
// placeholders are left as written.
func Substitute(text string, variables map[string]string) string {
	if len(variables) == 0 || !strings.Contains(text, "%") {
		return text
	}
	return placeholderRegex.ReplaceAllStringFunc(text, func(m string) string {
		name := m[1 : len(m)-1]
		if v, ok := variables[name]; ok {
			return v
		}
		return m
	})
}

// Redact masks placeholders and resolved values as [name] in one pass.
func Redact(text string, variables map[string]string) string {
	if len(variables) == 0 || text == "" {
		return text
	}
	return redactor(variables).Replace(text)
}

// RedactStep returns a copy of s safe for display and history.
func RedactStep(s types.Step, variables map[string]string) types.Step {
	out := s.Clone()
	if len(variables) == 0 {
		return out
	}
	r := redactor(variables)
	out.Text = r.Replace(out.Text)
	out.Reasoning = r.Replace(out.Reasoning)
	out.Instruction = r.Replace(out.Instruction)
	if out.Error != nil {
		out.Error.Message = r.Replace(out.Error.Message)
	}
	return out
}

type secret struct {
	name  string
	value string
}

// redactor lists placeholders first so a value that happens to occur inside
// a placeholder name cannot break it; longer values win over their prefixes.
func redactor(variables map[string]string) *strings.Replacer {
	secrets := make([]secret, 0, len(variables))
	pairs := make([]string, 0, len(variables)*4)
	for name, value := range variables {
		pairs = append(pairs, "%"+name+"%", "["+name+"]")
		if len(value) >= minRedactLength {
			secrets = append(secrets, secret{name: name, value: value})
		}
	}
	slices.SortFunc(secrets, func(a, b secret) int {
		if c := cmp.Compare(len(b.value), len(a.value)); c != 0 {
			return c
		}
		return cmp.Compare(a.name, b.name)
	})
	for _, s := range secrets {
		pairs = append(pairs, s.value, "["+s.name+"]")
	}
	return strings.NewReplacer(pairs...)
}
