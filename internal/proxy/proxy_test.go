package proxy

import (
	"bufio"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"devserver/internal/config"
	"devserver/internal/pipeline"
)

type seen struct {
	Path   string `json:"path"`
	Query  string `json:"query"`
	Host   string `json:"host"`
	Header string `json:"header"`
}

func newUpstream(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(seen{
			Path:   r.URL.Path,
			Query:  r.URL.RawQuery,
			Host:   r.Host,
			Header: r.Header.Get("X-Proxy"),
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newProxy(t *testing.T, rules ...config.ProxyRule) pipeline.ProxyResult {
	t.Helper()
	res, err := New(config.ProxyConfig{Rules: rules}, nil)
	require.NoError(t, err)
	require.Len(t, res.Middlewares, len(rules))
	require.NotNil(t, res.Upgrade)
	return res
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) seen {
	t.Helper()
	var s seen
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &s))
	return s
}

func TestProxyForwardsMatchingRequests(t *testing.T) {
	upstream := newUpstream(t)
	res := newProxy(t, config.ProxyRule{
		Context:      []string{"/api"},
		Target:       upstream.URL,
		ChangeOrigin: true,
		PathRewrite:  map[string]string{"^/api": ""},
		Headers:      map[string]string{"X-Proxy": "dev"},
	})
	h := res.Middlewares[0]

	rec := httptest.NewRecorder()
	out := h.Handle(rec, httptest.NewRequest(http.MethodGet, "/api/users?page=2", nil))

	require.True(t, out.Responded())
	assert.Equal(t, http.StatusOK, rec.Code)
	s := decode(t, rec)
	assert.Equal(t, "/users", s.Path)
	assert.Equal(t, "page=2", s.Query)
	assert.Equal(t, "dev", s.Header)
	assert.Equal(t, upstream.Listener.Addr().String(), s.Host)

	rec = httptest.NewRecorder()
	out = h.Handle(rec, httptest.NewRequest(http.MethodGet, "/assets/app.js", nil))
	assert.False(t, out.Responded())
	assert.Empty(t, rec.Body.String())
}

func TestProxyKeepsHostWithoutChangeOrigin(t *testing.T) {
	upstream := newUpstream(t)
	res := newProxy(t, config.ProxyRule{Context: []string{"/api"}, Target: upstream.URL})

	rec := httptest.NewRecorder()
	res.Middlewares[0].Handle(rec, httptest.NewRequest(http.MethodGet, "/api/users", nil))

	s := decode(t, rec)
	assert.Equal(t, "example.com", s.Host)
	assert.Equal(t, "/api/users", s.Path)
}

func TestProxyRulesAreIndependentStages(t *testing.T) {
	a := newUpstream(t)
	b := newUpstream(t)
	res := newProxy(t,
		config.ProxyRule{Context: []string{"/a"}, Target: a.URL, Headers: map[string]string{"X-Proxy": "a"}},
		config.ProxyRule{Context: []string{"/b"}, Target: b.URL, Headers: map[string]string{"X-Proxy": "b"}},
	)

	stages := make([]pipeline.Stage, len(res.Middlewares))
	for i, h := range res.Middlewares {
		stages[i] = pipeline.Stage{Slot: pipeline.SlotProxy, Name: pipeline.StageProxy, Handler: h}
	}
	chain := pipeline.Compose(stages, nil, nil)

	rec := httptest.NewRecorder()
	chain.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/b/x", nil))
	assert.Equal(t, "b", decode(t, rec).Header)

	rec = httptest.NewRecorder()
	chain.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/a/x", nil))
	assert.Equal(t, "a", decode(t, rec).Header)

	rec = httptest.NewRecorder()
	chain.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/c", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestProxyUpstreamHeadersReplaceEarlierOnes(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "http://localhost:3000")
		w.Header().Set("X-Test", "upstream")
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, "ok")
	}))
	t.Cleanup(upstream.Close)

	res := newProxy(t, config.ProxyRule{Context: []string{"/api"}, Target: upstream.URL})
	chain := pipeline.Compose([]pipeline.Stage{
		{Slot: pipeline.SlotHeaders, Name: pipeline.StageHeaders, Handler: pipeline.Headers(map[string]string{
			"X-Test":  "1",
			"X-Local": "kept",
		})},
		{Slot: pipeline.SlotProxy, Name: pipeline.StageProxy, Handler: res.Middlewares[0]},
	}, nil, nil)

	rec := httptest.NewRecorder()
	chain.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/x", nil))

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
	assert.Equal(t, []string{"http://localhost:3000"}, rec.Header().Values("Access-Control-Allow-Origin"))
	assert.Equal(t, []string{"upstream"}, rec.Header().Values("X-Test"))
	assert.Equal(t, "kept", rec.Header().Get("X-Local"))
}

func TestProxyBypass(t *testing.T) {
	upstream := newUpstream(t)
	res := newProxy(t, config.ProxyRule{
		Context: []string{"/api"},
		Target:  upstream.URL,
		Bypass:  `method == "DELETE" ? false : ("Accept" in headers && headers["Accept"] contains "text/html" ? "/index.html" : nil)`,
	})
	h := res.Middlewares[0]

	t.Run("false rejects", func(t *testing.T) {
		rec := httptest.NewRecorder()
		out := h.Handle(rec, httptest.NewRequest(http.MethodDelete, "/api/users", nil))
		assert.True(t, out.Responded())
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("string rewrites and continues", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/api/page", nil)
		r.Header.Set("Accept", "text/html")
		rec := httptest.NewRecorder()

		out := h.Handle(rec, r)

		assert.False(t, out.Responded())
		assert.Equal(t, "/index.html", out.Request(r).URL.Path)
		assert.Equal(t, "/api/page", r.URL.Path)
	})

	t.Run("nil proxies", func(t *testing.T) {
		rec := httptest.NewRecorder()
		out := h.Handle(rec, httptest.NewRequest(http.MethodGet, "/api/users", nil))
		assert.True(t, out.Responded())
		assert.Equal(t, "/api/users", decode(t, rec).Path)
	})
}

func TestProxyUnreachableTarget(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	res := newProxy(t, config.ProxyRule{Context: []string{"/api"}, Target: "http://" + addr})

	rec := httptest.NewRecorder()
	out := res.Middlewares[0].Handle(rec, httptest.NewRequest(http.MethodGet, "/api/x", nil))

	assert.True(t, out.Responded())
	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
}

func TestNewRejectsInvalidRules(t *testing.T) {
	tests := []struct {
		name string
		rule config.ProxyRule
	}{
		{name: "relative target", rule: config.ProxyRule{Context: []string{"/api"}, Target: "/backend"}},
		{name: "no context", rule: config.ProxyRule{Target: "http://localhost:1"}},
		{name: "bad rewrite", rule: config.ProxyRule{Context: []string{"/api"}, Target: "http://localhost:1", PathRewrite: map[string]string{"(": ""}}},
		{name: "bad bypass", rule: config.ProxyRule{Context: []string{"/api"}, Target: "http://localhost:1", Bypass: "path ==="}},
		{name: "bad glob", rule: config.ProxyRule{Context: []string{"/api/[a"}, Target: "http://localhost:1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(config.ProxyConfig{Rules: []config.ProxyRule{tt.rule}}, nil)
			assert.Error(t, err)
		})
	}
}

func TestContextMatcher(t *testing.T) {
	tests := []struct {
		contexts []string
		path     string
		want     bool
	}{
		{[]string{"/api"}, "/api/users", true},
		{[]string{"/api"}, "/apix", true},
		{[]string{"/api"}, "/web/api", false},
		{[]string{"/auth", "/api"}, "/auth/login", true},
		{[]string{"/api/**"}, "/api/v1/users", true},
		{[]string{"/api/*"}, "/api/v1/users", false},
		{[]string{"/**/*.json"}, "/data/x.json", true},
		{[]string{"/api/**", "!/api/private/**"}, "/api/private/key", false},
		{[]string{"/api/**", "!/api/private/**"}, "/api/public/key", true},
		{[]string{"!/static/**"}, "/index", true},
		{[]string{"!/static/**"}, "/static/app.js", false},
	}
	for _, tt := range tests {
		m, err := newContextMatcher(tt.contexts)
		require.NoError(t, err)
		assert.Equal(t, tt.want, m.match(tt.path), "%v %s", tt.contexts, tt.path)
	}
}

// wsUpstream accepts one raw handshake, answers 101 and echoes afterwards
func wsUpstream(t *testing.T) (string, <-chan *http.Request) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	got := make(chan *http.Request, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		br := bufio.NewReader(conn)
		req, err := http.ReadRequest(br)
		if err != nil {
			return
		}
		got <- req
		_, _ = io.WriteString(conn, "HTTP/1.1 101 Switching Protocols\r\nUpgrade: websocket\r\nConnection: Upgrade\r\n\r\n")
		_, _ = io.Copy(conn, br)
	}()
	return "http://" + ln.Addr().String(), got
}

func upgradeRequest(path string) *http.Request {
	r := httptest.NewRequest(http.MethodGet, path, nil)
	r.Header.Set("Connection", "Upgrade")
	r.Header.Set("Upgrade", "websocket")
	r.Header.Set("Sec-WebSocket-Key", "dGhlIHNhbXBsZSBub25jZQ==")
	r.Header.Set("Sec-WebSocket-Version", "13")
	return r
}

func TestUpgradeSplicesWebSocket(t *testing.T) {
	target, got := wsUpstream(t)
	res := newProxy(t,
		config.ProxyRule{Context: []string{"/plain"}, Target: target},
		config.ProxyRule{Context: []string{"/socket"}, Target: target, WS: true, ChangeOrigin: true, PathRewrite: map[string]string{"^/socket": "/ws"}},
	)

	client, server := net.Pipe()
	defer client.Close()

	res.Upgrade(upgradeRequest("/socket/live"), server, []byte("hello"))

	var upstreamReq *http.Request
	select {
	case upstreamReq = <-got:
	case <-time.After(5 * time.Second):
		t.Fatal("upstream never saw the handshake")
	}
	assert.Equal(t, "/ws/live", upstreamReq.URL.Path)
	assert.Equal(t, "websocket", upstreamReq.Header.Get("Upgrade"))
	assert.Equal(t, target[len("http://"):], upstreamReq.Host)

	require.NoError(t, client.SetDeadline(time.Now().Add(5*time.Second)))
	br := bufio.NewReader(client)
	resp, err := http.ReadResponse(br, nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)

	echo := make([]byte, 5)
	_, err = io.ReadFull(br, echo)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(echo))
}

func TestUpgradeIgnoresUnmatchedPaths(t *testing.T) {
	target, _ := wsUpstream(t)
	res := newProxy(t,
		config.ProxyRule{Context: []string{"/socket"}, Target: target},
		config.ProxyRule{Context: []string{"/ws"}, Target: target, WS: true},
	)

	for _, path := range []string{"/socket", "/other"} {
		client, server := net.Pipe()
		res.Upgrade(upgradeRequest(path), server, nil)

		require.NoError(t, client.SetReadDeadline(time.Now().Add(50*time.Millisecond)))
		_, err := client.Read(make([]byte, 1))
		var netErr net.Error
		require.ErrorAs(t, err, &netErr, path)
		assert.True(t, netErr.Timeout(), path)

		_ = client.Close()
		_ = server.Close()
	}
}

func TestUpgradeDialFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	res := newProxy(t, config.ProxyRule{Context: []string{"/ws"}, Target: "http://" + addr, WS: true})

	client, server := net.Pipe()
	defer client.Close()
	require.NoError(t, client.SetDeadline(time.Now().Add(5*time.Second)))

	go res.Upgrade(upgradeRequest("/ws"), server, nil)

	resp, err := http.ReadResponse(bufio.NewReader(client), nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
}
