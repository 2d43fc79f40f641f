package proxy

import (
	"fmt"
	"net/http"
	"net/url"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// bypassDecision is what a bypass expression asks for
type bypassDecision int

const (
	bypassProxy bypassDecision = iota
	bypassReject
	bypassRewrite
)

// bypass evaluates a per-rule expression against the request. The
// expression sees path, method, url and headers (first value per name).
type bypass struct {
	program *vm.Program
}

func bypassEnv(r *http.Request) map[string]interface{} {
	headers := make(map[string]string, len(r.Header))
	for k := range r.Header {
		headers[k] = r.Header.Get(k)
	}
	return map[string]interface{}{
		"path":    r.URL.Path,
		"method":  r.Method,
		"url":     r.URL.RequestURI(),
		"headers": headers,
	}
}

func compileBypass(src string) (*bypass, error) {
	if src == "" {
		return nil, nil
	}
	env := bypassEnv(&http.Request{Header: http.Header{}, URL: &url.URL{}})
	program, err := expr.Compile(src, expr.Env(env))
	if err != nil {
		return nil, fmt.Errorf("compile bypass %q: %w", src, err)
	}
	return &bypass{program: program}, nil
}

// decide runs the expression. false rejects, a non-empty string rewrites
// the request URL, anything else proxies.
func (b *bypass) decide(r *http.Request) (bypassDecision, string, error) {
	if b == nil {
		return bypassProxy, "", nil
	}
	out, err := expr.Run(b.program, bypassEnv(r))
	if err != nil {
		return bypassProxy, "", fmt.Errorf("eval bypass: %w", err)
	}
	switch v := out.(type) {
	case bool:
		if !v {
			return bypassReject, "", nil
		}
	case string:
		if v != "" {
			return bypassRewrite, v, nil
		}
	}
	return bypassProxy, "", nil
}
