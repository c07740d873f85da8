package websocket

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qamatch/collab/pkg/collaboration"
	"github.com/qamatch/collab/pkg/observability"
)

func newBareConnection(id string, buffer int) *Connection {
	return &Connection{
		ID:     id,
		send:   make(chan []byte, buffer),
		closed: make(chan struct{}),
	}
}

func drain(c *Connection) []string {
	var names []string
	for {
		select {
		case payload := <-c.send:
			var env collaboration.Envelope
			if err := json.Unmarshal(payload, &env); err == nil {
				names = append(names, env.Event)
			}
		default:
			return names
		}
	}
}

func TestHub_BroadcastWaitsForSessionState(t *testing.T) {
	hub := NewHub(nil, nil)
	ctx := context.Background()
	a, b := newBareConnection("a", 8), newBareConnection("b", 8)

	hub.subscribe("doc-1", a, "alice")
	hub.subscribe("doc-1", b, "bob")
	hub.SendTo(ctx, "doc-1", "alice", collaboration.OutboundEvent{Name: collaboration.EventSessionState})

	hub.Broadcast(ctx, "doc-1", collaboration.OutboundEvent{Name: collaboration.EventContentUpdated}, "")

	assert.Equal(t, []string{collaboration.EventSessionState, collaboration.EventContentUpdated}, drain(a))
	assert.Empty(t, drain(b))
}

func TestHub_BroadcastSkipsExceptedUser(t *testing.T) {
	hub := NewHub(nil, nil)
	ctx := context.Background()
	a, b := newBareConnection("a", 8), newBareConnection("b", 8)
	for c, user := range map[*Connection]string{a: "alice", b: "bob"} {
		hub.subscribe("doc-1", c, user)
		hub.SendTo(ctx, "doc-1", user, collaboration.OutboundEvent{Name: collaboration.EventSessionState})
		drain(c)
	}

	hub.Broadcast(ctx, "doc-1", collaboration.OutboundEvent{Name: collaboration.EventUserLeft}, "alice")
	assert.Empty(t, drain(a))
	assert.Equal(t, []string{collaboration.EventUserLeft}, drain(b))
}

func TestHub_SameUserConnections(t *testing.T) {
	hub := NewHub(nil, nil)
	tab1, tab2 := newBareConnection("tab-1", 8), newBareConnection("tab-2", 8)

	hub.subscribe("doc-1", tab1, "alice")
	hub.SendTo(observability.WithConnectionID(context.Background(), "tab-1"), "doc-1", "alice",
		collaboration.OutboundEvent{Name: collaboration.EventSessionState})

	// The second tab's snapshot must not reach the first
	hub.subscribe("doc-1", tab2, "alice")
	fromTab2 := observability.WithConnectionID(context.Background(), "tab-2")
	hub.SendTo(fromTab2, "doc-1", "alice", collaboration.OutboundEvent{Name: collaboration.EventSessionState})
	assert.Equal(t, []string{collaboration.EventSessionState}, drain(tab1))
	assert.Equal(t, []string{collaboration.EventSessionState}, drain(tab2))

	hub.Broadcast(fromTab2, "doc-1", collaboration.OutboundEvent{Name: collaboration.EventContentUpdated}, "alice")
	assert.Equal(t, []string{collaboration.EventContentUpdated}, drain(tab1))
	assert.Empty(t, drain(tab2))

	// Without an origin every connection of the excepted user is skipped
	hub.Broadcast(context.Background(), "doc-1", collaboration.OutboundEvent{Name: collaboration.EventUserLeft}, "alice")
	assert.Empty(t, drain(tab1))
	assert.Empty(t, drain(tab2))
}

func TestHub_SessionClosedEndsRoomFeed(t *testing.T) {
	hub := NewHub(nil, nil)
	ctx := context.Background()
	a, b, pending := newBareConnection("a", 8), newBareConnection("b", 8), newBareConnection("c", 8)
	for c, user := range map[*Connection]string{a: "alice", b: "bob"} {
		hub.subscribe("doc-1", c, user)
		hub.SendTo(ctx, "doc-1", user, collaboration.OutboundEvent{Name: collaboration.EventSessionState})
		drain(c)
	}
	hub.subscribe("doc-1", pending, "carol")

	hub.Broadcast(ctx, "doc-1", collaboration.OutboundEvent{Name: collaboration.EventSessionClosed}, "")
	assert.Equal(t, []string{collaboration.EventSessionClosed}, drain(a))
	assert.Equal(t, []string{collaboration.EventSessionClosed}, drain(b))
	assert.Empty(t, drain(pending))
	assert.Equal(t, 1, hub.RoomSize("doc-1"))

	hub.Broadcast(ctx, "doc-1", collaboration.OutboundEvent{Name: collaboration.EventContentUpdated}, "")
	assert.Empty(t, drain(a))
	assert.Empty(t, drain(b))
}

func TestHub_FullBufferDropsWithoutBlocking(t *testing.T) {
	hub := NewHub(nil, nil)
	ctx := context.Background()
	c := newBareConnection("a", 1)
	hub.subscribe("doc-1", c, "alice")
	hub.SendTo(ctx, "doc-1", "alice", collaboration.OutboundEvent{Name: collaboration.EventSessionState})

	hub.Broadcast(ctx, "doc-1", collaboration.OutboundEvent{Name: collaboration.EventCursorMoved}, "")
	assert.Equal(t, []string{collaboration.EventSessionState}, drain(c))
}

func TestHub_Remove(t *testing.T) {
	hub := NewHub(nil, nil)
	a, b := newBareConnection("a", 1), newBareConnection("b", 1)
	hub.subscribe("doc-1", a, "alice")
	hub.subscribe("doc-1", b, "alice")

	assert.True(t, hub.remove("doc-1", a, "alice"))
	assert.False(t, hub.remove("doc-1", b, "alice"))
	assert.Zero(t, hub.RoomSize("doc-1"))

	closed := newBareConnection("c", 1)
	closed.markClosed()
	assert.False(t, closed.enqueue([]byte("x")))
	require.Len(t, closed.send, 0)
}
