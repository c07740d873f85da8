// Package collaboration implements real-time collaborative text editing:
// per-document sessions, positional operational transformation of
// concurrent edits, exclusive section locks and the coordinator that ties
// them to an event channel.
package collaboration

import "context"

// OperationType represents the type of operation
type OperationType string

const (
	OpInsert  OperationType = "insert"
	OpDelete  OperationType = "delete"
	OpReplace OperationType = "replace"
)

// Broadcaster delivers outbound events to the participants of a document.
// It is called while a session is locked and must not block. ctx is the
// context of the operation that produced the event; a transport may use
// observability.GetConnectionID(ctx) to tell the originating connection
// apart from other connections of the same user.
type Broadcaster interface {
	// Broadcast sends event to every participant of documentID except
	// exceptUserID. An empty exceptUserID reaches everyone.
	Broadcast(ctx context.Context, documentID string, event OutboundEvent, exceptUserID string)

	// SendTo sends event to a single participant of documentID
	SendTo(ctx context.Context, documentID, userID string, event OutboundEvent)
}

// NopBroadcaster drops every event
type NopBroadcaster struct{}

// Broadcast implements Broadcaster
func (NopBroadcaster) Broadcast(context.Context, string, OutboundEvent, string) {}

// SendTo implements Broadcaster
func (NopBroadcaster) SendTo(context.Context, string, string, OutboundEvent) {}
