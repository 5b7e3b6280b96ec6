// Package hub fans incoming event payloads out to connected realtime
// clients.
package hub

import (
	"log"
	"sync"
)

// Client is one connected subscriber. Send is drained by the transport
// goroutine; the hub never blocks on it.
type Client struct {
	ID   string
	Send chan []byte
}

func NewClient(id string) *Client {
	return &Client{ID: id, Send: make(chan []byte, 16)}
}

type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
}

func New() *Hub {
	return &Hub{clients: make(map[string]*Client)}
}

func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client.ID] = client
}

func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client.ID]; !ok {
		return
	}
	delete(h.clients, client.ID)
	close(client.Send)
}

// Broadcast delivers payload to every client. A client whose buffer is
// full drops the message rather than stalling the rest.
func (h *Hub) Broadcast(payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, client := range h.clients {
		select {
		case client.Send <- payload:
		default:
			log.Printf("drop message for client %s", client.ID)
		}
	}
}

// Len reports the number of connected clients.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
