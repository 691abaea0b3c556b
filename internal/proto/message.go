package proto

import (
	"encoding/json"
	"time"

	"github.com/nestmate/nestmate-server/internal/core"
)

// Inbound is the envelope for messages coming from the client.
type Inbound struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

const (
	ProtocolVersion = 1

	InboundTypeJoin  = "join_room"
	InboundTypeLeave = "leave_room"
	InboundTypeSend  = "send_message"

	OutboundTypeEvent = "event"
	OutboundTypeError = "error"

	EventNewMessage   = "new_message"
	EventThreadUpdate = "thread_update"
)

// JoinData opens a conversation with another user about a listing. Joining
// also marks it as the connection's active conversation for read tracking.
type JoinData struct {
	OtherUserID int64 `json:"other_user_id"`
	ListingID   int64 `json:"listing_id"`
}

// LeaveData closes a previously joined conversation.
type LeaveData struct {
	OtherUserID int64 `json:"other_user_id"`
	ListingID   int64 `json:"listing_id"`
}

// SendData is a chat message from the client. The sender is taken from the
// authenticated connection and never from the payload.
type SendData struct {
	ReceiverID int64  `json:"receiver_id"`
	ListingID  int64  `json:"listing_id"`
	Content    string `json:"content"`
}

// Outbound is the envelope for messages sent to the client.
type Outbound struct {
	Type  string `json:"type"`
	Event string `json:"event,omitempty"`
	Data  any    `json:"data,omitempty"`
	Error *Error `json:"error,omitempty"`
}

// Participant is a user as embedded in messages and thread rows.
type Participant struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	Avatar     string `json:"avatar,omitempty"`
	Occupation string `json:"occupation,omitempty"`
}

// ListingRef is the subset of a listing embedded in messages.
type ListingRef struct {
	ID    int64  `json:"id"`
	Title string `json:"title,omitempty"`
}

// EventMessage carries one chat message, with sender, receiver and listing
// populated.
type EventMessage struct {
	ID        int64       `json:"id"`
	Sender    Participant `json:"sender"`
	Receiver  Participant `json:"receiver"`
	Listing   ListingRef  `json:"listing"`
	Content   string      `json:"content"`
	Read      bool        `json:"read"`
	CreatedAt time.Time   `json:"created_at"`
}

// EventThread is one inbox row pushed when a live message changes a thread
// the client is not actively viewing.
type EventThread struct {
	OtherUser   Participant   `json:"other_user"`
	Listing     ListingRef    `json:"listing"`
	LastMessage *EventMessage `json:"last_message,omitempty"`
	UnreadCount int64         `json:"unread_count"`
}

// Error describes a protocol-level error response.
type Error struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
}

// FromCoreMessage converts a populated core message to its wire shape.
func FromCoreMessage(m *core.Message) *EventMessage {
	if m == nil {
		return nil
	}
	return &EventMessage{
		ID:        m.ID,
		Sender:    fromParticipant(m.Sender),
		Receiver:  fromParticipant(m.Receiver),
		Listing:   ListingRef{ID: m.Listing.ID, Title: m.Listing.Title},
		Content:   m.Content,
		Read:      m.Read,
		CreatedAt: m.CreatedAt,
	}
}

func fromParticipant(p core.Participant) Participant {
	return Participant{
		ID:         p.ID,
		Name:       p.Name,
		Avatar:     p.Avatar,
		Occupation: p.Occupation,
	}
}
