// Package proxy forwards matching dev server requests to backend services.
// Each configured rule becomes one pipeline stage; WebSocket handshakes are
// forwarded by a single upgrade subscriber.
package proxy

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"regexp"
	"sort"
	"time"

	"devserver/internal/config"
	apierrors "devserver/internal/errors"
	"devserver/internal/infrastructure"
	"devserver/internal/pipeline"
)

// DialTimeout bounds connecting to a proxy target
const DialTimeout = 10 * time.Second

type pathRewrite struct {
	from *regexp.Regexp
	to   string
}

// Rule is one compiled proxy rule
type Rule struct {
	target       *url.URL
	matcher      contextMatcher
	changeOrigin bool
	rewrites     []pathRewrite
	headers      map[string]string
	ws           bool
	verifyTLS    bool
	bypass       *bypass

	proxy  *httputil.ReverseProxy
	errors *apierrors.ErrorHandler
	logger *slog.Logger
}

// New compiles cfg into one stage per rule and one upgrade subscriber
func New(cfg config.ProxyConfig, logger *slog.Logger) (pipeline.ProxyResult, error) {
	if logger == nil {
		logger = infrastructure.NopLogger()
	}
	logger = infrastructure.WithComponent(logger, "proxy")

	rules := make([]*Rule, 0, len(cfg.Rules))
	for i, rc := range cfg.Rules {
		rule, err := newRule(rc, logger)
		if err != nil {
			return pipeline.ProxyResult{}, fmt.Errorf("proxy rule %d: %w", i, err)
		}
		rules = append(rules, rule)
		logger.Debug("proxy rule registered",
			slog.Any("context", rc.Context),
			slog.String("target", rc.Target),
			slog.Bool("ws", rc.WS))
	}

	handlers := make([]pipeline.Handler, len(rules))
	for i, r := range rules {
		handlers[i] = r
	}

	return pipeline.ProxyResult{
		Middlewares: handlers,
		Upgrade:     newUpgrader(rules, logger).upgrade,
	}, nil
}

func newRule(rc config.ProxyRule, logger *slog.Logger) (*Rule, error) {
	target, err := url.Parse(rc.Target)
	if err != nil {
		return nil, fmt.Errorf("parse target: %w", err)
	}
	if target.Scheme == "" || target.Host == "" {
		return nil, fmt.Errorf("target %q must be an absolute URL", rc.Target)
	}

	matcher, err := newContextMatcher(rc.Context)
	if err != nil {
		return nil, err
	}

	rewrites, err := compileRewrites(rc.PathRewrite)
	if err != nil {
		return nil, err
	}

	bp, err := compileBypass(rc.Bypass)
	if err != nil {
		return nil, err
	}

	r := &Rule{
		target:       target,
		matcher:      matcher,
		changeOrigin: rc.ChangeOrigin,
		rewrites:     rewrites,
		headers:      rc.Headers,
		ws:           rc.WS,
		verifyTLS:    rc.VerifyTLS(),
		bypass:       bp,
		errors:       apierrors.NewErrorHandler(logger, false),
		logger:       logger,
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if !r.verifyTLS {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // opt-in per rule
	}

	r.proxy = &httputil.ReverseProxy{
		Rewrite:      r.rewrite,
		Transport:    transport,
		ErrorHandler: r.handleError,
	}
	return r, nil
}

// compileRewrites orders patterns so the result does not depend on map order
func compileRewrites(m map[string]string) ([]pathRewrite, error) {
	froms := make([]string, 0, len(m))
	for from := range m {
		froms = append(froms, from)
	}
	sort.Strings(froms)

	out := make([]pathRewrite, 0, len(froms))
	for _, from := range froms {
		re, err := regexp.Compile(from)
		if err != nil {
			return nil, fmt.Errorf("path rewrite %q: %w", from, err)
		}
		out = append(out, pathRewrite{from: re, to: m[from]})
	}
	return out, nil
}

// Target returns the upstream URL
func (r *Rule) Target() *url.URL {
	return r.target
}

// Matches reports whether the rule forwards path
func (r *Rule) Matches(path string) bool {
	return r.matcher.match(path)
}

// Handle forwards matching requests. Other requests continue.
func (r *Rule) Handle(w http.ResponseWriter, req *http.Request) pipeline.Outcome {
	if !r.Matches(req.URL.Path) {
		return pipeline.Continue()
	}

	decision, rewritten, err := r.bypass.decide(req)
	if err != nil {
		r.errors.HandleError(w, req, apierrors.ErrProxyFailed.Wrap(err))
		return pipeline.Respond()
	}
	switch decision {
	case bypassReject:
		r.errors.NotFound(w, req)
		return pipeline.Respond()
	case bypassRewrite:
		next := req.Clone(req.Context())
		u, err := url.Parse(rewritten)
		if err != nil {
			u = &url.URL{Path: rewritten}
		}
		next.URL.Path, next.URL.RawPath, next.URL.RawQuery = u.Path, "", u.RawQuery
		next.RequestURI = next.URL.RequestURI()
		return pipeline.ContinueWith(next)
	}

	r.proxy.ServeHTTP(newUpstreamWriter(w), req)
	return pipeline.Respond()
}

// rewritePath applies the configured path rewrites in order
func (r *Rule) rewritePath(p string) string {
	for _, rw := range r.rewrites {
		p = rw.from.ReplaceAllString(p, rw.to)
	}
	return p
}

func (r *Rule) rewrite(pr *httputil.ProxyRequest) {
	pr.Out.URL.Path = r.rewritePath(pr.In.URL.Path)
	pr.Out.URL.RawPath = ""
	pr.SetURL(r.target)
	if !r.changeOrigin {
		pr.Out.Host = pr.In.Host
	}
	pr.SetXForwarded()
	for k, v := range r.headers {
		pr.Out.Header.Set(k, v)
	}
}

func (r *Rule) handleError(w http.ResponseWriter, req *http.Request, err error) {
	r.logger.WarnContext(req.Context(), "proxy request failed",
		slog.String("path", req.URL.Path),
		slog.String("target", r.target.String()),
		slog.String("error", err.Error()))

	if isConnectionError(err) {
		r.errors.HandleError(w, req, apierrors.ErrGatewayTimeout.Wrap(err))
		return
	}
	r.errors.HandleError(w, req, apierrors.ErrProxyFailed.Wrap(err))
}

// isConnectionError reports failures to reach the target at all
func isConnectionError(err error) bool {
	var opErr *net.OpError
	var dnsErr *net.DNSError
	return errors.As(err, &opErr) ||
		errors.As(err, &dnsErr) ||
		errors.Is(err, context.DeadlineExceeded)
}
