// Package websocket runs the live-update socket that tells browsers about
// builds. Connections arrive as upgrade events on sockets the HTTP server has
// already handed over.
package websocket

import (
	"log/slog"
	"net"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"devserver/internal/infrastructure"
	"devserver/pkg/contracts/events"
)

// ServerOptions configures the live-update socket
type ServerOptions struct {
	// Path is the only request path accepted for upgrades
	Path       string
	HMR        bool
	LiveReload bool

	Logger  *slog.Logger
	Metrics *infrastructure.DevServerMetrics
}

// Server accepts live-update clients and pushes build status to them
type Server struct {
	opts     ServerOptions
	hub      *Hub
	upgrader websocket.Upgrader
	logger   *slog.Logger

	mu    sync.RWMutex
	stats *events.BuildStats
}

// NewServer creates a socket server. Start must be called before clients can
// connect.
func NewServer(opts ServerOptions) *Server {
	if opts.Logger == nil {
		opts.Logger = infrastructure.GetLogger()
	}
	s := &Server{
		opts:   opts,
		logger: opts.Logger.With(slog.String("component", "websocket.server")),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// A dev server accepts pages served from any origin
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	s.hub = NewHub(opts.Logger, opts.Metrics, s.welcome)
	return s
}

// Start runs the hub
func (s *Server) Start() {
	s.hub.Start()
}

// Hub returns the client hub
func (s *Server) Hub() *Hub {
	return s.hub
}

// Upgrade completes the WebSocket handshake on conn when r targets the
// socket path. Other requests are left alone for other subscribers.
func (s *Server) Upgrade(r *http.Request, conn net.Conn, head []byte) {
	if r.URL.Path != s.opts.Path {
		return
	}

	w := newUpgradeWriter(conn, head)
	wsConn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader already answered with an error status
		s.logger.WarnContext(r.Context(), "WebSocket handshake failed",
			slog.String("error", err.Error()),
			slog.String("remote_addr", r.RemoteAddr))
		_ = conn.Close()
		return
	}

	ServeClient(s.hub, NewConnectionWrapper(wsConn), s.opts.Logger)
}

// welcome lists what a new client is told: the enabled features, then the
// latest build status
func (s *Server) welcome() [][]byte {
	var msgs []events.Message
	if s.opts.HMR {
		msgs = append(msgs, events.Message{Type: events.MessageTypeHot})
	}
	if s.opts.LiveReload {
		msgs = append(msgs, events.Message{Type: events.MessageTypeLiveReload})
	}

	s.mu.RLock()
	stats := s.stats
	s.mu.RUnlock()
	if stats != nil {
		msgs = append(msgs, statsMessages(*stats)...)
	}

	out := make([][]byte, 0, len(msgs))
	for _, m := range msgs {
		data, err := m.Encode()
		if err != nil {
			continue
		}
		out = append(out, data)
	}
	return out
}

// UpdateStats records a finished build and broadcasts its outcome
func (s *Server) UpdateStats(stats events.BuildStats) {
	s.mu.Lock()
	s.stats = &stats
	s.mu.Unlock()

	for _, m := range statsMessages(stats) {
		s.hub.Broadcast(m)
	}
}

// Invalidate tells clients a rebuild has started
func (s *Server) Invalidate() {
	s.hub.Broadcast(events.Message{Type: events.MessageTypeInvalid})
}

// SockWrite broadcasts an arbitrary message
func (s *Server) SockWrite(msgType string, data interface{}) {
	s.hub.Broadcast(events.NewMessage(msgType, data))
}

// Close disconnects every client
func (s *Server) Close() error {
	s.hub.Stop()
	return nil
}

// statsMessages is the status sequence for one build: "still-ok" when
// nothing was emitted and there are no problems, otherwise the hash followed
// by errors, warnings or ok.
func statsMessages(stats events.BuildStats) []events.Message {
	if stats.Clean() && !stats.Emitted {
		return []events.Message{{Type: events.MessageTypeStillOk}}
	}

	msgs := []events.Message{{Type: events.MessageTypeHash, Data: stats.Hash}}
	switch {
	case len(stats.Errors) > 0:
		msgs = append(msgs, events.Message{Type: events.MessageTypeErrors, Data: events.BuildProblems(stats.Errors)})
	case len(stats.Warnings) > 0:
		msgs = append(msgs, events.Message{Type: events.MessageTypeWarnings, Data: events.BuildProblems(stats.Warnings)})
	default:
		msgs = append(msgs, events.Message{Type: events.MessageTypeOk})
	}
	return msgs
}
