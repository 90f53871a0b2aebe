package executor

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/gobwas/glob"
)

// URLPolicy decides which GOTO targets may be visited. Patterns are globs over
// the full URL, for example "https://*.example.com/*".
type URLPolicy struct {
	allowed []glob.Glob
	denied  []glob.Glob
}

// NewURLPolicy compiles the allow and deny lists.
func NewURLPolicy(allowed, denied []string) (*URLPolicy, error) {
	p := &URLPolicy{}
	for _, pattern := range allowed {
		g, err := glob.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid allowed url pattern '%s': %w", pattern, err)
		}
		p.allowed = append(p.allowed, g)
	}
	for _, pattern := range denied {
		g, err := glob.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid denied url pattern '%s': %w", pattern, err)
		}
		p.denied = append(p.denied, g)
	}
	return p, nil
}

// ResolveURL resolves a path-relative GOTO target such as "/pricing" against
// base. Targets that are not path-relative, or an unusable base, pass through
// unchanged so Check can reject them.
func ResolveURL(base, target string) string {
	target = strings.TrimSpace(target)
	if base == "" || !pathRelative(target) {
		return target
	}
	b, err := url.Parse(base)
	if err != nil || b.Scheme == "" || b.Host == "" {
		return target
	}
	ref, err := url.Parse(target)
	if err != nil {
		return target
	}
	return b.ResolveReference(ref).String()
}

func pathRelative(target string) bool {
	for _, prefix := range []string{"/", "./", "../", "?", "#"} {
		if strings.HasPrefix(target, prefix) {
			return true
		}
	}
	return false
}

// Check returns an error when target may not be visited.
func (p *URLPolicy) Check(target string) error {
	u, err := url.Parse(strings.TrimSpace(target))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("not an absolute url: %q", target)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme %q is not allowed", u.Scheme)
	}
	if p == nil {
		return nil
	}

	normalized := u.String()
	if u.Path == "" {
		normalized += "/"
	}

	// Denied patterns take precedence.
	for _, g := range p.denied {
		if g.Match(normalized) {
			return fmt.Errorf("url %s is denied by policy", u.Redacted())
		}
	}
	if len(p.allowed) == 0 {
		return nil
	}
	for _, g := range p.allowed {
		if g.Match(normalized) {
			return nil
		}
	}
	return fmt.Errorf("url %s is not in the allowed list", u.Redacted())
}
