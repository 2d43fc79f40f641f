package proxy

import (
	"context"
	"crypto/tls"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

type upgrader struct {
	rules  []*Rule
	logger *slog.Logger
	dialer *net.Dialer
}

func newUpgrader(rules []*Rule, logger *slog.Logger) *upgrader {
	return &upgrader{
		rules:  rules,
		logger: logger,
		dialer: &net.Dialer{Timeout: DialTimeout},
	}
}

// upgrade forwards a WebSocket handshake to the first ws rule matching the
// path and splices the two connections. Other upgrades are ignored.
func (u *upgrader) upgrade(r *http.Request, conn net.Conn, head []byte) {
	if !strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
		return
	}
	for _, rule := range u.rules {
		if rule.ws && rule.Matches(r.URL.Path) {
			u.forward(rule, r, conn, head)
			return
		}
	}
}

func (u *upgrader) forward(rule *Rule, r *http.Request, conn net.Conn, head []byte) {
	_ = conn.SetDeadline(time.Time{})

	upstream, err := u.dial(r.Context(), rule)
	if err != nil {
		u.logger.WarnContext(r.Context(), "websocket proxy dial failed",
			slog.String("path", r.URL.Path),
			slog.String("target", rule.target.String()),
			slog.String("error", err.Error()))
		writeStatus(conn, http.StatusBadGateway)
		_ = conn.Close()
		return
	}

	out := rule.upgradeRequest(r)
	if err := out.Write(upstream); err != nil {
		u.logger.WarnContext(r.Context(), "websocket proxy handshake failed", slog.String("error", err.Error()))
		writeStatus(conn, http.StatusBadGateway)
		_ = conn.Close()
		_ = upstream.Close()
		return
	}
	if len(head) > 0 {
		if _, err := upstream.Write(head); err != nil {
			_ = conn.Close()
			_ = upstream.Close()
			return
		}
	}

	u.logger.DebugContext(r.Context(), "websocket proxied",
		slog.String("path", r.URL.Path),
		slog.String("target", rule.target.String()))

	go splice(conn, upstream)
}

func (u *upgrader) dial(ctx context.Context, rule *Rule) (net.Conn, error) {
	addr := hostPort(rule.target.Scheme, rule.target.Host)
	switch rule.target.Scheme {
	case "https", "wss":
		d := &tls.Dialer{
			NetDialer: u.dialer,
			Config: &tls.Config{
				ServerName:         rule.target.Hostname(),
				InsecureSkipVerify: !rule.verifyTLS, //nolint:gosec // opt-in per rule
			},
		}
		return d.DialContext(ctx, "tcp", addr)
	default:
		return u.dialer.DialContext(ctx, "tcp", addr)
	}
}

// upgradeRequest is the handshake sent upstream
func (r *Rule) upgradeRequest(in *http.Request) *http.Request {
	out := in.Clone(context.Background())
	out.Body = nil
	out.ContentLength = 0
	out.Close = false
	out.URL.Scheme = ""
	out.URL.Host = ""
	out.URL.Path = singleJoiningSlash(r.target.Path, r.rewritePath(in.URL.Path))
	out.URL.RawPath = ""
	out.RequestURI = ""
	if r.changeOrigin {
		out.Host = r.target.Host
	}
	for k, v := range r.headers {
		out.Header.Set(k, v)
	}
	return out
}

// splice copies in both directions until either side closes
func splice(a, b net.Conn) {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, _ = io.Copy(b, a)
		_ = b.Close()
	}()
	go func() {
		defer wg.Done()
		_, _ = io.Copy(a, b)
		_ = a.Close()
	}()
	wg.Wait()
}

func writeStatus(conn net.Conn, status int) {
	resp := &http.Response{
		StatusCode: status,
		ProtoMajor: 1,
		ProtoMinor: 1,
		Header:     http.Header{"Connection": []string{"close"}},
	}
	_ = resp.Write(conn)
}

func hostPort(scheme, host string) string {
	if _, _, err := net.SplitHostPort(host); err == nil {
		return host
	}
	switch scheme {
	case "https", "wss":
		return net.JoinHostPort(host, "443")
	default:
		return net.JoinHostPort(host, "80")
	}
}

func singleJoiningSlash(a, b string) string {
	aslash := strings.HasSuffix(a, "/")
	bslash := strings.HasPrefix(b, "/")
	switch {
	case aslash && bslash:
		return a + b[1:]
	case !aslash && !bslash:
		return a + "/" + b
	}
	return a + b
}
