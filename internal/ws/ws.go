package ws

import (
	"log/slog"
	"sync"

	"nhooyr.io/websocket"

	"github.com/plinthdb/plinth/internal/queue"
)

// StateProviderFunc returns the current queue state as JSON bytes, sent
// to clients on connect and on explicit sync requests.
type StateProviderFunc func() ([]byte, error)

// Hub manages WebSocket connections and broadcasts messages to all clients.
type Hub struct {
	clients       map[*Client]bool
	broadcast     chan []byte
	register      chan *Client
	unregister    chan *Client
	logger        *slog.Logger
	mu            sync.RWMutex
	stateProvider StateProviderFunc
}

// Client represents a single WebSocket connection.
type Client struct {
	hub  *Hub
	send chan []byte
	conn *websocket.Conn
}

// NewHub creates a new WebSocket hub.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		logger:     logger,
	}
}

// SetStateProvider sets the function called to get current state for new/reconnecting clients.
func (h *Hub) SetStateProvider(fn StateProviderFunc) {
	h.stateProvider = fn
}

// Run starts the hub's event loop.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			h.logger.Debug("websocket client connected")

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			h.logger.Debug("websocket client disconnected")

		case message := <-h.broadcast:
			h.mu.RLock()
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					close(client.send)
					delete(h.clients, client)
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Broadcast sends a message to all connected clients.
func (h *Hub) Broadcast(message []byte) {
	h.broadcast <- message
}

// JobObserver returns an EventFunc that streams every job lifecycle
// transition to connected clients; wire it into the worker with OnEvent.
func (h *Hub) JobObserver() func(job *queue.Job, phase string) {
	return func(job *queue.Job, phase string) {
		h.BroadcastJobEvent(JobEvent{
			JobID:     job.ID,
			Type:      job.Type,
			ProjectID: job.ProjectID,
			Phase:     phase,
			Attempts:  job.Attempts,
			Error:     job.Error,
		})
	}
}

// BroadcastJobEvent broadcasts a job lifecycle transition.
func (h *Hub) BroadcastJobEvent(event JobEvent) {
	msg, err := NewMessage(MsgJobEvent, event)
	if err != nil {
		h.logger.Error("encoding job event", "error", err)
		return
	}
	h.Broadcast(msg)
}

// BroadcastQueueStats broadcasts a queue depth snapshot.
func (h *Hub) BroadcastQueueStats(payload any) {
	msg, err := NewMessage(MsgQueueStats, payload)
	if err != nil {
		return
	}
	h.Broadcast(msg)
}

// BroadcastError broadcasts an error to all clients.
func (h *Hub) BroadcastError(errMsg string) {
	msg, err := NewMessage(MsgError, map[string]string{"message": errMsg})
	if err != nil {
		return
	}
	h.Broadcast(msg)
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
