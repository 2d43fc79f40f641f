package websocket

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
)

// errAlreadyHijacked is returned by a second Hijack call
var errAlreadyHijacked = errors.New("websocket: connection already hijacked")

// headConn replays bytes read past the handshake before reading from the
// underlying connection
type headConn struct {
	net.Conn
	r io.Reader
}

func (c *headConn) Read(p []byte) (int, error) {
	return c.r.Read(p)
}

func newHeadConn(conn net.Conn, head []byte) net.Conn {
	if len(head) == 0 {
		return conn
	}
	return &headConn{Conn: conn, r: io.MultiReader(bytes.NewReader(head), conn)}
}

// upgradeWriter is the http.ResponseWriter handed to the gorilla upgrader for
// a connection the HTTP server already gave up. Writes before Hijack go out
// as a plain HTTP/1.1 response, used for rejected handshakes.
type upgradeWriter struct {
	conn        net.Conn
	header      http.Header
	wroteHeader bool
	hijacked    bool
}

func newUpgradeWriter(conn net.Conn, head []byte) *upgradeWriter {
	return &upgradeWriter{conn: newHeadConn(conn, head), header: make(http.Header)}
}

func (w *upgradeWriter) Header() http.Header {
	return w.header
}

func (w *upgradeWriter) WriteHeader(status int) {
	if w.wroteHeader || w.hijacked {
		return
	}
	w.wroteHeader = true
	w.header.Set("Connection", "close")

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "HTTP/1.1 %d %s\r\n", status, http.StatusText(status))
	_ = w.header.Write(&buf)
	buf.WriteString("\r\n")
	_, _ = w.conn.Write(buf.Bytes())
}

func (w *upgradeWriter) Write(p []byte) (int, error) {
	if w.hijacked {
		return 0, http.ErrHijacked
	}
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	return w.conn.Write(p)
}

// Hijack implements http.Hijacker
func (w *upgradeWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if w.hijacked {
		return nil, nil, errAlreadyHijacked
	}
	w.hijacked = true
	rw := bufio.NewReadWriter(bufio.NewReader(w.conn), bufio.NewWriter(w.conn))
	return w.conn, rw, nil
}
