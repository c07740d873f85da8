package websocket

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/qamatch/collab/pkg/collaboration"
	"github.com/qamatch/collab/pkg/observability"
)

// member is a connection's place in a document room. A member receives
// room broadcasts only once its session_state has been delivered, so the
// joiner's first event is always the snapshot.
type member struct {
	userID string
	ready  bool
}

// Hub routes outbound collaboration events to the connections subscribed
// to each document. It implements collaboration.Broadcaster and never
// blocks: a connection whose send buffer is full misses the event.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[*Connection]*member

	logger  observability.Logger
	metrics observability.MetricsClient
}

// NewHub creates an empty hub
func NewHub(logger observability.Logger, metrics observability.MetricsClient) *Hub {
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	if metrics == nil {
		metrics = observability.NewNoOpMetricsClient()
	}
	return &Hub{
		rooms:   make(map[string]map[*Connection]*member),
		logger:  logger,
		metrics: metrics,
	}
}

// Broadcast implements collaboration.Broadcaster. When ctx names the
// connection that caused the event, only that connection of exceptUserID
// is skipped and the user's other connections stay in sync. session_closed
// also ends the room feed of every member that had joined.
func (h *Hub) Broadcast(ctx context.Context, documentID string, event collaboration.OutboundEvent, exceptUserID string) {
	payload, ok := h.encode(event)
	if !ok {
		return
	}
	origin := observability.GetConnectionID(ctx)

	if event.Name == collaboration.EventSessionClosed {
		h.mu.Lock()
		defer h.mu.Unlock()
	} else {
		h.mu.RLock()
		defer h.mu.RUnlock()
	}

	room := h.rooms[documentID]
	for c, m := range room {
		if !m.ready {
			continue
		}
		if !excluded(c, m, exceptUserID, origin) {
			h.deliver(c, event.Name, payload)
		}
		if event.Name == collaboration.EventSessionClosed {
			h.removeLocked(documentID, c)
		}
	}
}

func excluded(c *Connection, m *member, exceptUserID, origin string) bool {
	if exceptUserID == "" || m.userID != exceptUserID {
		return false
	}
	return origin == "" || c.ID == origin
}

// SendTo implements collaboration.Broadcaster. When ctx names the
// connection that caused the event only that connection receives it,
// otherwise every connection of userID in the room does.
func (h *Hub) SendTo(ctx context.Context, documentID, userID string, event collaboration.OutboundEvent) {
	payload, ok := h.encode(event)
	if !ok {
		return
	}
	origin := observability.GetConnectionID(ctx)

	// session_state opens the member's room feed, so the write lock is needed
	h.mu.Lock()
	defer h.mu.Unlock()
	for c, m := range h.rooms[documentID] {
		if m.userID != userID || (origin != "" && c.ID != origin) {
			continue
		}
		if event.Name == collaboration.EventSessionState {
			m.ready = true
		}
		h.deliver(c, event.Name, payload)
	}
}

func (h *Hub) encode(event collaboration.OutboundEvent) ([]byte, bool) {
	payload, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("Failed to marshal outbound event", map[string]interface{}{
			"event": event.Name,
			"error": err.Error(),
		})
		return nil, false
	}
	return payload, true
}

func (h *Hub) deliver(c *Connection, name string, payload []byte) {
	if c.enqueue(payload) {
		h.metrics.IncrementCounterWithLabels("ws_messages_sent_total", 1, map[string]string{"event": name})
		return
	}
	h.metrics.IncrementCounterWithLabels("ws_messages_dropped_total", 1, map[string]string{"event": name})
	h.logger.Warn("Dropped outbound event, send buffer full", map[string]interface{}{
		"connection_id": c.ID,
		"event":         name,
	})
}

// subscribe adds c to the room of documentID as userID. An existing
// membership keeps its feed open.
func (h *Hub) subscribe(documentID string, c *Connection, userID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	room, ok := h.rooms[documentID]
	if !ok {
		room = make(map[*Connection]*member)
		h.rooms[documentID] = room
	}
	if m, ok := room[c]; ok {
		m.userID = userID
		return
	}
	room[c] = &member{userID: userID}
}

// unsubscribe removes c from the room of documentID
func (h *Hub) unsubscribe(documentID string, c *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(documentID, c)
}

// remove drops c from the room of documentID and reports whether another
// connection of userID is still in that room
func (h *Hub) remove(documentID string, c *Connection, userID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(documentID, c)

	for _, m := range h.rooms[documentID] {
		if m.userID == userID {
			return true
		}
	}
	return false
}

func (h *Hub) removeLocked(documentID string, c *Connection) {
	room, ok := h.rooms[documentID]
	if !ok {
		return
	}
	delete(room, c)
	if len(room) == 0 {
		delete(h.rooms, documentID)
	}
}

// RoomSize returns how many connections are subscribed to documentID
func (h *Hub) RoomSize(documentID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[documentID])
}
