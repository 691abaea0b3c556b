package core

// EventKind is a notification the core emits to clients.
type EventKind int

const (
	// EventNewMessage notifies room members about a newly persisted message.
	EventNewMessage EventKind = iota
	// EventInboxMessage delivers a copy of a persisted message to every
	// live connection of its receiver, whether or not that connection has
	// joined the conversation room. It drives unread-count reconciliation.
	EventInboxMessage
	// EventError notifies the originating client about a failure. Errors
	// are never delivered to other room members.
	EventError
)

// Event is sent to clients to describe what happened in the system.
type Event struct {
	Kind    EventKind
	Room    string
	Message *Message
	Error   *CoreError
}
