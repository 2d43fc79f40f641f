package app

import (
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"devserver/internal/infrastructure"
)

// claimConn notes whether a subscriber used the connection
type claimConn struct {
	net.Conn
	claimed atomic.Bool
}

func (c *claimConn) Read(p []byte) (int, error) {
	c.claimed.Store(true)
	return c.Conn.Read(p)
}

func (c *claimConn) Write(p []byte) (int, error) {
	c.claimed.Store(true)
	return c.Conn.Write(p)
}

func (c *claimConn) Close() error {
	c.claimed.Store(true)
	return c.Conn.Close()
}

func (c *claimConn) SetDeadline(t time.Time) error {
	c.claimed.Store(true)
	return c.Conn.SetDeadline(t)
}

func (c *claimConn) SetReadDeadline(t time.Time) error {
	c.claimed.Store(true)
	return c.Conn.SetReadDeadline(t)
}

func (c *claimConn) SetWriteDeadline(t time.Time) error {
	c.claimed.Store(true)
	return c.Conn.SetWriteDeadline(t)
}

// isUpgrade reports whether r asks to switch protocols
func isUpgrade(r *http.Request) bool {
	if r.Header.Get("Upgrade") == "" {
		return false
	}
	for _, v := range r.Header.Values("Connection") {
		for _, token := range strings.Split(v, ",") {
			if strings.EqualFold(strings.TrimSpace(token), "upgrade") {
				return true
			}
		}
	}
	return false
}

// upgrades takes over upgrade requests and hands the raw connection to the
// pipeline's upgrade subscribers
func (a *Application) upgrades(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !isUpgrade(r) {
			next.ServeHTTP(w, r)
			return
		}

		ctx := r.Context()
		conn, brw, err := http.NewResponseController(w).Hijack()
		if err != nil {
			a.Logger.WarnContext(ctx, "cannot take over upgrade connection",
				slog.String("path", r.URL.Path),
				slog.String("error", err.Error()))
			a.errors.HandleError(w, r, err)
			return
		}

		var head []byte
		if n := brw.Reader.Buffered(); n > 0 {
			head = make([]byte, n)
			_, _ = io.ReadFull(brw.Reader, head)
		}

		a.Logger.DebugContext(ctx, "upgrade request",
			slog.String("path", r.URL.Path),
			slog.String("upgrade", r.Header.Get("Upgrade")),
			slog.String("request_id", infrastructure.GetTraceID(ctx)))
		a.Metrics.RecordUpgrade(ctx)

		tracked := &claimConn{Conn: conn}
		a.Pipeline.Upgrade().OnUpgrade(r, tracked, head)

		if !tracked.claimed.Load() {
			a.Logger.DebugContext(ctx, "upgrade not claimed", slog.String("path", r.URL.Path))
			_, _ = io.WriteString(conn, "HTTP/1.1 404 Not Found\r\nContent-Length: 0\r\nConnection: close\r\n\r\n")
			_ = conn.Close()
		}
	})
}
