// ABOUTME: In-memory fan-out hub for live connections and rooms.
// ABOUTME: Delivers events to all connections, one room, or everyone but one sender.

package hub

import (
	"log/slog"
	"sync"
)

// Event is one outbound unit of fan-out: a named event with a JSON-friendly
// payload, delivered to some set of connections.
type Event struct {
	Name    string `json:"event"`
	Payload any    `json:"data,omitempty"`
}

// Sender delivers events to a single connection. Implementations must not
// block: a connection that cannot accept the event should return an error
// and let the hub drop it.
type Sender interface {
	Send(event Event) error
}

// Hub owns the set of live connections and their room memberships and
// performs best-effort fan-out. Delivery is fire-and-forget: a connection
// that fails to receive is skipped silently and never fails the batch for
// other connections.
type Hub struct {
	mu     sync.RWMutex
	conns  map[string]Sender              // connection id -> sender
	rooms  map[string]map[string]struct{} // room id -> set of connection ids
	joined map[string]map[string]struct{} // connection id -> set of room ids
	logger *slog.Logger
}

// New creates an empty Hub. Pass nil logger for default.
func New(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		conns:  make(map[string]Sender),
		rooms:  make(map[string]map[string]struct{}),
		joined: make(map[string]map[string]struct{}),
		logger: logger.With("component", "hub"),
	}
}

// Register adds a connection to the hub. Registering an id that is already
// present replaces its sender.
func (h *Hub) Register(connID string, sender Sender) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.conns[connID] = sender
	if _, ok := h.joined[connID]; !ok {
		h.joined[connID] = make(map[string]struct{})
	}

	h.logger.Debug("connection registered",
		"conn_id", connID,
		"total_connections", len(h.conns),
	)
}

// Unregister removes a connection and all of its room memberships. Safe to
// call for unknown ids; returns whether the connection was present, so a
// disconnect that races an explicit teardown takes effect exactly once.
func (h *Hub) Unregister(connID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.conns[connID]; !ok {
		return false
	}

	delete(h.conns, connID)
	for roomID := range h.joined[connID] {
		h.leaveRoomLocked(connID, roomID)
	}
	delete(h.joined, connID)

	h.logger.Debug("connection unregistered",
		"conn_id", connID,
		"total_connections", len(h.conns),
	)
	return true
}

// Subscribe adds a connection to a room. Unknown connections are ignored.
func (h *Hub) Subscribe(connID, roomID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.conns[connID]; !ok {
		return
	}

	room, ok := h.rooms[roomID]
	if !ok {
		room = make(map[string]struct{})
		h.rooms[roomID] = room
	}
	room[connID] = struct{}{}
	h.joined[connID][roomID] = struct{}{}

	h.logger.Debug("subscribed to room", "conn_id", connID, "room_id", roomID)
}

// Unsubscribe removes a connection from a room. No-op when not subscribed.
func (h *Hub) Unsubscribe(connID, roomID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.leaveRoomLocked(connID, roomID)
	if set, ok := h.joined[connID]; ok {
		delete(set, roomID)
	}
}

// leaveRoomLocked removes connID from roomID and cleans up empty rooms.
// Callers must hold the write lock.
func (h *Hub) leaveRoomLocked(connID, roomID string) {
	room, ok := h.rooms[roomID]
	if !ok {
		return
	}
	delete(room, connID)
	if len(room) == 0 {
		delete(h.rooms, roomID)
	}
}

// Broadcast delivers an event to every registered connection.
func (h *Hub) Broadcast(event Event) {
	h.deliver(event, func(connID string) bool { return true })
}

// EmitToRoom delivers an event to every connection subscribed to the room.
func (h *Hub) EmitToRoom(roomID string, event Event) {
	h.mu.RLock()
	room := h.rooms[roomID]
	members := make(map[string]struct{}, len(room))
	for connID := range room {
		members[connID] = struct{}{}
	}
	h.mu.RUnlock()

	h.deliver(event, func(connID string) bool {
		_, ok := members[connID]
		return ok
	})
}

// EmitExcluding delivers an event to all connections except the given one.
func (h *Hub) EmitExcluding(connID string, event Event) {
	h.deliver(event, func(id string) bool { return id != connID })
}

// deliver snapshots the matching senders under the read lock, then sends
// outside it. A connection that unregisters mid-delivery is simply skipped.
func (h *Hub) deliver(event Event, match func(connID string) bool) {
	type target struct {
		connID string
		sender Sender
	}

	h.mu.RLock()
	targets := make([]target, 0, len(h.conns))
	for connID, sender := range h.conns {
		if match(connID) {
			targets = append(targets, target{connID, sender})
		}
	}
	h.mu.RUnlock()

	for _, t := range targets {
		if err := t.sender.Send(event); err != nil {
			// Dead or slow connection; drop the event for it. Its own
			// teardown path handles unregistration.
			h.logger.Debug("dropped event for connection",
				"conn_id", t.connID,
				"event", event.Name,
			)
		}
	}
}

// Connections returns the number of registered connections.
func (h *Hub) Connections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.conns)
}
