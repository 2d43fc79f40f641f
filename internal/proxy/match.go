package proxy

import (
	"fmt"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// contextMatcher decides which request paths a rule forwards. Plain
// contexts match by prefix, glob contexts match the whole path and a
// leading "!" excludes.
type contextMatcher struct {
	include []string
	exclude []string
}

func newContextMatcher(contexts []string) (contextMatcher, error) {
	var m contextMatcher
	for _, c := range contexts {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		negate := strings.HasPrefix(c, "!")
		if negate {
			c = c[1:]
		}
		if isGlob(c) && !doublestar.ValidatePattern(c) {
			return contextMatcher{}, fmt.Errorf("invalid context pattern %q", c)
		}
		if negate {
			m.exclude = append(m.exclude, c)
		} else {
			m.include = append(m.include, c)
		}
	}
	if len(m.include) == 0 && len(m.exclude) == 0 {
		return contextMatcher{}, fmt.Errorf("no context given")
	}
	return m, nil
}

func (m contextMatcher) match(p string) bool {
	for _, c := range m.exclude {
		if matchContext(c, p) {
			return false
		}
	}
	if len(m.include) == 0 {
		return true
	}
	for _, c := range m.include {
		if matchContext(c, p) {
			return true
		}
	}
	return false
}

func matchContext(context, p string) bool {
	if isGlob(context) {
		ok, _ := doublestar.Match(context, p)
		return ok
	}
	return strings.HasPrefix(p, context)
}

func isGlob(s string) bool {
	return strings.ContainsAny(s, "*?[{")
}
