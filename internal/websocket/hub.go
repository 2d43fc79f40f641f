package websocket

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"devserver/internal/infrastructure"
	"devserver/pkg/contracts/events"
)

// broadcastBuffer bounds messages queued while the hub loop is busy
const broadcastBuffer = 64

type outbound struct {
	msgType string
	data    []byte
}

// Hub maintains the set of active clients and broadcasts messages to them.
// Only the Run loop touches client send channels.
type Hub struct {
	// Registered clients
	clients map[*Client]bool

	broadcast  chan outbound
	register   chan *Client
	unregister chan *Client

	mu      sync.RWMutex
	running bool

	// welcome returns the messages queued for a client as it registers
	welcome func() [][]byte

	logger  *slog.Logger
	metrics *infrastructure.DevServerMetrics

	quit chan struct{}
	done chan struct{}
}

// NewHub creates a hub. welcome may be nil.
func NewHub(logger *slog.Logger, metrics *infrastructure.DevServerMetrics, welcome func() [][]byte) *Hub {
	if logger == nil {
		logger = infrastructure.GetLogger()
	}
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan outbound, broadcastBuffer),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		welcome:    welcome,
		logger:     logger.With(slog.String("component", "websocket.hub")),
		metrics:    metrics,
		quit:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Start runs the hub loop in its own goroutine. Later calls do nothing.
func (h *Hub) Start() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.running {
		return
	}
	h.running = true
	go h.Run()
}

// Run is the hub's main loop
func (h *Hub) Run() {
	defer close(h.done)
	ctx := context.Background()

	for {
		select {
		case <-h.quit:
			h.mu.Lock()
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
				h.metrics.AddSocketClients(ctx, -1)
			}
			h.mu.Unlock()
			h.logger.Debug("Hub shutting down")
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			count := len(h.clients)
			h.mu.Unlock()
			h.metrics.AddSocketClients(ctx, 1)

			h.logger.Debug("Client registered",
				slog.Int("total_clients", count),
				slog.String("client_id", client.id),
				slog.String("remote_addr", client.remoteAddr))

			if h.welcome != nil {
				for _, msg := range h.welcome() {
					h.enqueue(client, msg)
				}
			}

		case client := <-h.unregister:
			h.mu.Lock()
			_, ok := h.clients[client]
			if ok {
				delete(h.clients, client)
				close(client.send)
			}
			count := len(h.clients)
			h.mu.Unlock()

			if ok {
				h.metrics.AddSocketClients(ctx, -1)
				h.logger.Debug("Client unregistered",
					slog.Int("total_clients", count),
					slog.String("client_id", client.id),
					slog.Duration("connection_duration", time.Since(client.connectedAt)))
			}

		case msg := <-h.broadcast:
			h.mu.RLock()
			clients := make([]*Client, 0, len(h.clients))
			for client := range h.clients {
				clients = append(clients, client)
			}
			h.mu.RUnlock()

			for _, client := range clients {
				h.enqueue(client, msg.data)
			}
			h.metrics.RecordSocketMessage(ctx, msg.msgType)

			h.logger.Debug("Broadcast message",
				slog.String("type", msg.msgType),
				slog.Int("client_count", len(clients)))
		}
	}
}

// enqueue hands data to a client, dropping the client when its buffer is full
func (h *Hub) enqueue(client *Client, data []byte) {
	select {
	case client.send <- data:
	default:
		h.mu.Lock()
		if _, ok := h.clients[client]; ok {
			delete(h.clients, client)
			close(client.send)
			h.metrics.AddSocketClients(context.Background(), -1)
		}
		h.mu.Unlock()
		h.logger.Warn("Client send buffer full, disconnecting",
			slog.String("client_id", client.id))
	}
}

// Broadcast sends msg to every connected client. Messages sent before Start
// or after Stop are dropped.
func (h *Hub) Broadcast(msg events.Message) {
	data, err := msg.Encode()
	if err != nil {
		h.logger.Error("Error marshaling message",
			slog.String("type", string(msg.Type)),
			slog.String("error", err.Error()))
		return
	}

	h.mu.RLock()
	running := h.running
	h.mu.RUnlock()
	if !running {
		return
	}

	select {
	case h.broadcast <- outbound{msgType: string(msg.Type), data: data}:
	case <-h.quit:
	}
}

// Register adds a client to the hub. A stopped hub closes the connection.
func (h *Hub) Register(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.quit:
		_ = client.conn.Close()
		return false
	}
}

func (h *Hub) unregisterClient(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.quit:
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Stop ends the loop and disconnects every client. It waits for the loop to
// finish when it was started.
func (h *Hub) Stop() {
	h.mu.Lock()
	wasRunning := h.running
	select {
	case <-h.quit:
		h.mu.Unlock()
		return
	default:
		close(h.quit)
	}
	h.running = false
	h.mu.Unlock()

	if wasRunning {
		<-h.done
	}
}
