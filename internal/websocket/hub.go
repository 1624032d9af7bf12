package websocket

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
)

// Event names carried in Message.Event.
const (
	EventItemAdded      = "item:added"
	EventItemsAdded     = "items:added"
	EventItemUpdated    = "item:updated"
	EventItemRemoved    = "item:removed"
	EventItemChecked    = "item:checked"
	EventItemsCleared   = "items:cleared"
	EventItemsReordered = "items:reordered"
	EventListCreated    = "list:created"
	EventListUpdated    = "list:updated"
	EventListArchived   = "list:archived"

	// EventJoin is sent by a client to subscribe to one list's item events.
	EventJoin = "join"
)

// Message is the envelope for every frame in either direction.
type Message struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// JoinData is the payload of a join message.
type JoinData struct {
	ListID string `json:"listId"`
}

// NewMessage creates a Message with data marshalled as its payload.
func NewMessage(event string, data any) (Message, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Message{}, fmt.Errorf("marshal %s payload: %w", event, err)
	}
	return Message{Event: event, Data: raw}, nil
}

// Decode unmarshals the payload into v.
func (m Message) Decode(v any) error {
	if len(m.Data) == 0 {
		return fmt.Errorf("%s: empty payload", m.Event)
	}
	if err := json.Unmarshal(m.Data, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", m.Event, err)
	}
	return nil
}

// Hub tracks connected clients and the list each one has joined.
type Hub struct {
	mu      sync.RWMutex
	clients map[*peer]string
	logger  *slog.Logger
}

// NewHub creates a new Hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients: make(map[*peer]string),
		logger:  logger,
	}
}

// register adds a client to the hub. It receives list-level events until it
// joins a list.
func (h *Hub) register(c *peer) {
	h.mu.Lock()
	h.clients[c] = ""
	h.mu.Unlock()
}

// unregister removes a client from the hub and closes its send channel.
func (h *Hub) unregister(c *peer) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

// join moves a registered client into the room for listID.
func (h *Hub) join(c *peer, listID string) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		h.clients[c] = listID
	}
	h.mu.Unlock()
}

// Broadcast sends msg to every client in the room for listID and returns how
// many received it. An empty listID reaches all clients.
func (h *Hub) Broadcast(listID string, msg Message) int {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("marshal broadcast", "event", msg.Event, "error", err)
		return 0
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for c, room := range h.clients {
		if listID != "" && room != listID {
			continue
		}
		select {
		case c.send <- data:
			delivered++
		default:
			h.logger.Warn("client buffer full, dropping message", "event", msg.Event, "list_id", listID)
		}
	}
	return delivered
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// RoomCount returns the number of clients that joined listID.
func (h *Hub) RoomCount(listID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, room := range h.clients {
		if room == listID {
			n++
		}
	}
	return n
}
