package websocket

import (
	"encoding/json"
	"log"
	"sync"
)

// Hub maintains the set of active clients and fans sync events out to them
type Hub struct {
	// Registered clients map: ClientID -> Client
	clients map[string]*Client

	// Register requests
	register chan *Client

	// Unregister requests
	unregister chan *Client

	// Outbound event frames for all clients
	broadcast chan []byte

	// Mutex for thread-safe access to clients map
	mu sync.RWMutex
}

// NewHub creates a new Hub instance
func NewHub() *Hub {
	return &Hub{
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan []byte, 64),
		clients:    make(map[string]*Client),
	}
}

// Run starts the hub's main loop
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			if client.ClientID != "" {
				// Drop a stale key left behind by an identify handshake
				for id, existing := range h.clients {
					if existing == client && id != client.ClientID {
						delete(h.clients, id)
					}
				}
				// If the same client connects again, close old connection
				if old, ok := h.clients[client.ClientID]; ok && old != client {
					close(old.send)
					delete(h.clients, client.ClientID)
				}
				h.clients[client.ClientID] = client
				log.Printf("📱 Sync observer connected: %s", client.ClientID)
			}
			h.mu.Unlock()

		case client := <-h.unregister:
			h.mu.Lock()
			if client.ClientID != "" {
				if _, ok := h.clients[client.ClientID]; ok {
					delete(h.clients, client.ClientID)
					close(client.send)
					log.Printf("📴 Sync observer disconnected: %s", client.ClientID)
				}
			}
			h.mu.Unlock()

		case message := <-h.broadcast:
			h.mu.RLock()
			for _, client := range h.clients {
				select {
				case client.send <- message:
				default:
					// Buffer full or client dead, drop the frame
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Broadcast sends an event frame to every connected client
func (h *Hub) Broadcast(message interface{}) {
	jsonMsg, err := json.Marshal(message)
	if err != nil {
		log.Printf("Error marshaling event frame: %v", err)
		return
	}

	select {
	case h.broadcast <- jsonMsg:
	default:
		// Hub loop is behind, drop rather than block the publisher
	}
}

// SendToClient sends a message to a specific client
func (h *Hub) SendToClient(clientID string, message interface{}) bool {
	h.mu.RLock()
	client, ok := h.clients[clientID]
	h.mu.RUnlock()

	if !ok {
		return false
	}

	jsonMsg, err := json.Marshal(message)
	if err != nil {
		log.Printf("Error marshaling message: %v", err)
		return false
	}

	select {
	case client.send <- jsonMsg:
		return true
	default:
		// Buffer full or client dead
		return false
	}
}
