package core

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog"

	"github.com/nestmate/nestmate-server/internal/store"
)

// MessageStore is the slice of persistence the hub needs: the durable write
// that precedes every broadcast.
type MessageStore interface {
	CreateMessage(ctx context.Context, senderID, receiverID, listingID int64, content string) (*store.Message, error)
}

// Directory resolves user and listing details for message enrichment. It is
// a read-only dependency; the hub never mutates either.
type Directory interface {
	GetUserByID(ctx context.Context, id int64) (*store.User, error)
	GetListingByID(ctx context.Context, id int64) (*store.Listing, error)
}

type clientCommand struct {
	client  *Client
	command *Command
}

// Hub routes live messages between connected clients. All room and client
// state is owned by the single goroutine running Run; connections interact
// with it only through channels.
type Hub struct {
	messages MessageStore
	dir      Directory
	log      *zerolog.Logger

	register   chan *Client
	unregister chan *Client
	commands   chan clientCommand
	done       chan struct{}

	clients map[*Client]struct{}
	byUser  map[int64]map[*Client]struct{}
	rooms   map[string]*Room
}

// NewHub creates a new hub. The message store may be nil in tests that only
// exercise room membership.
func NewHub(messages MessageStore, dir Directory, logger *zerolog.Logger) *Hub {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Hub{
		messages:   messages,
		dir:        dir,
		log:        logger,
		register:   make(chan *Client),
		unregister: make(chan *Client),
		commands:   make(chan clientCommand),
		done:       make(chan struct{}),
		clients:    make(map[*Client]struct{}),
		byUser:     make(map[int64]map[*Client]struct{}),
		rooms:      make(map[string]*Room),
	}
}

// RegisterClient hands a connection to the hub loop.
func (h *Hub) RegisterClient(c *Client) {
	select {
	case h.register <- c:
	case <-h.done:
	}
}

// UnregisterClient removes a connection and releases its room memberships.
func (h *Hub) UnregisterClient(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// Run processes registrations and client commands until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case c := <-h.register:
			h.addClient(c)
		case c := <-h.unregister:
			h.removeClient(c)
		case cc := <-h.commands:
			h.dispatch(ctx, cc.client, cc.command)
		case <-ctx.Done():
			return
		}
	}
}

func (h *Hub) addClient(c *Client) {
	h.clients[c] = struct{}{}
	if h.byUser[c.UserID] == nil {
		h.byUser[c.UserID] = make(map[*Client]struct{})
	}
	h.byUser[c.UserID][c] = struct{}{}

	go h.pump(c)

	h.log.Debug().Str("client_id", c.ID).Int64("user_id", c.UserID).Msg("client registered")
}

func (h *Hub) removeClient(c *Client) {
	if _, ok := h.clients[c]; !ok {
		return
	}

	for key := range c.Rooms {
		if room, ok := h.rooms[key]; ok {
			room.RemoveClient(c)
			if room.Empty() {
				delete(h.rooms, key)
			}
		}
	}

	if set, ok := h.byUser[c.UserID]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(h.byUser, c.UserID)
		}
	}

	delete(h.clients, c)
	c.closed = true
	close(c.Events)
	close(c.Commands)

	h.log.Debug().Str("client_id", c.ID).Int64("user_id", c.UserID).Msg("client unregistered")
}

// pump forwards one client's commands into the hub loop, preserving the
// order they were issued in.
func (h *Hub) pump(c *Client) {
	for cmd := range c.Commands {
		select {
		case h.commands <- clientCommand{client: c, command: cmd}:
		case <-h.done:
			return
		}
	}
}

func (h *Hub) dispatch(ctx context.Context, c *Client, cmd *Command) {
	if c.closed {
		return
	}

	switch cmd.Kind {
	case CommandJoinRoom:
		h.handleJoin(c, cmd)
	case CommandLeaveRoom:
		h.handleLeave(c, cmd)
	case CommandSendMessage:
		h.handleSend(ctx, c, cmd)
	default:
		h.sendError(c, coreError(ErrCodeBadRequest, "unknown command"))
	}
}

func (h *Hub) handleJoin(c *Client, cmd *Command) {
	if cmd.OtherUserID <= 0 || cmd.ListingID <= 0 {
		h.sendError(c, coreError(ErrCodeBadRequest, "participant and listing are required"))
		return
	}
	if cmd.OtherUserID == c.UserID {
		h.sendError(c, coreError(ErrCodeValidation, "cannot open a conversation with yourself"))
		return
	}

	key := ConversationKey(cmd.ListingID, c.UserID, cmd.OtherUserID)
	room, ok := h.rooms[key]
	if !ok {
		room = NewRoom(key)
		h.rooms[key] = room
	}
	if !room.AddClient(c) {
		h.sendError(c, coreError(ErrCodeAlreadyJoined, "already joined"))
		return
	}
	c.Rooms[key] = struct{}{}

	h.log.Debug().Str("client_id", c.ID).Str("room", key).Msg("client joined room")
}

func (h *Hub) handleLeave(c *Client, cmd *Command) {
	key := ConversationKey(cmd.ListingID, c.UserID, cmd.OtherUserID)
	if _, ok := c.Rooms[key]; !ok {
		h.sendError(c, coreError(ErrCodeNotInRoom, "not in room"))
		return
	}

	delete(c.Rooms, key)
	if room, ok := h.rooms[key]; ok {
		room.RemoveClient(c)
		if room.Empty() {
			delete(h.rooms, key)
		}
	}

	h.log.Debug().Str("client_id", c.ID).Str("room", key).Msg("client left room")
}

// handleSend runs the persist-then-emit pipeline for one message. The
// sender is always the client's authenticated identity. A message that
// failed to persist is never broadcast; the error goes back to the sender
// only.
func (h *Hub) handleSend(ctx context.Context, c *Client, cmd *Command) {
	content := strings.TrimSpace(cmd.Content)
	switch {
	case cmd.ReceiverID <= 0 || cmd.ListingID <= 0:
		h.sendError(c, coreError(ErrCodeValidation, "receiver and listing are required"))
		return
	case content == "":
		h.sendError(c, coreError(ErrCodeValidation, "content is empty"))
		return
	case cmd.ReceiverID == c.UserID:
		h.sendError(c, coreError(ErrCodeValidation, "cannot message yourself"))
		return
	}

	msg, err := h.messages.CreateMessage(ctx, c.UserID, cmd.ReceiverID, cmd.ListingID, content)
	if err != nil {
		if errors.Is(err, store.ErrEmptyContent) || errors.Is(err, store.ErrSelfMessage) {
			h.sendError(c, coreError(ErrCodeValidation, err.Error()))
			return
		}
		h.log.Error().Err(err).Int64("sender_id", c.UserID).Msg("failed to persist message")
		h.sendError(c, coreError(ErrCodePersistence, "failed to send message"))
		return
	}

	populated, err := PopulateMessage(ctx, h.dir, msg)
	if err != nil {
		// The message is durable; deliver it with bare identifiers.
		h.log.Warn().Err(err).Int64("message_id", msg.ID).Msg("failed to populate message")
	}

	key := ConversationKey(msg.ListingID, msg.SenderID, msg.ReceiverID)
	event := &Event{Kind: EventNewMessage, Room: key, Message: populated}
	if room, ok := h.rooms[key]; ok {
		room.Broadcast(event)
	}

	for cl := range h.byUser[msg.ReceiverID] {
		h.sendEvent(cl, &Event{Kind: EventInboxMessage, Room: key, Message: populated})
	}
}

func (h *Hub) sendError(c *Client, cerr *CoreError) {
	h.sendEvent(c, &Event{Kind: EventError, Error: cerr})
}

func (h *Hub) sendEvent(c *Client, ev *Event) {
	if c.closed {
		return
	}
	select {
	case c.Events <- ev:
	default:
		// Drop if slow consumer.
	}
}
