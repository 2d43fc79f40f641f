package pipeline

import (
	"context"
	"net"
	"net/http"
)

// BuildIntegration is the incremental build subsystem. It serves build
// output and owns the live-update socket.
type BuildIntegration interface {
	// Init starts the build watch and the socket server. Calling it again
	// is allowed and must not start them twice.
	Init(ctx context.Context) error
	// Middleware serves build output; nil when there is nothing to serve
	Middleware() Handler
	// Upgrade takes over upgrade requests for the live-update socket
	Upgrade(r *http.Request, conn net.Conn, head []byte)
	// SockWrite pushes a message to connected clients
	SockWrite(msgType string, data any)
	// Close releases everything Init started
	Close() error
}
