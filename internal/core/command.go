package core

// CommandKind describes what the client wants to do.
type CommandKind int

const (
	// CommandSendMessage persists a message and delivers it to the
	// conversation room.
	CommandSendMessage CommandKind = iota
	// CommandJoinRoom subscribes the client to the conversation with
	// another user about a listing.
	CommandJoinRoom
	// CommandLeaveRoom unsubscribes the client from a conversation.
	CommandLeaveRoom
)

// Command represents an action requested by a client. The sender identity
// is never part of a command; it is always taken from the client's
// authenticated binding.
type Command struct {
	Kind CommandKind

	// OtherUserID is the conversation partner for join/leave.
	OtherUserID int64
	// ReceiverID is the message recipient for send.
	ReceiverID int64
	// ListingID scopes the conversation to one listing.
	ListingID int64
	// Content is the message text for send.
	Content string
}
