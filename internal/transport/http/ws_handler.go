package http

import (
	"context"
	"errors"
	"io"
	stdhttp "net/http"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/nestmate/nestmate-server/internal/auth"
	"github.com/nestmate/nestmate-server/internal/config"
	"github.com/nestmate/nestmate-server/internal/core"
	"github.com/nestmate/nestmate-server/internal/proto"
	"github.com/nestmate/nestmate-server/internal/service/inbox"
)

// WSHandler upgrades HTTP connections and bridges them to core.Client.
type WSHandler struct {
	hub   *core.Hub
	auth  *auth.Service
	inbox *inbox.Service
	cfg   *config.Config
	log   *zerolog.Logger
}

// NewWSHandler builds a new WebSocket handler.
func NewWSHandler(hub *core.Hub, authService *auth.Service, inboxService *inbox.Service, cfg *config.Config, logger *zerolog.Logger) *WSHandler {
	return &WSHandler{
		hub:   hub,
		auth:  authService,
		inbox: inboxService,
		cfg:   cfg,
		log:   logger,
	}
}

// connState is per-connection read-tracking state. The read loop updates the
// active conversation; the write loop applies incoming inbox events. Both
// take the mutex.
type connState struct {
	mu        sync.Mutex
	rec       *inbox.Reconciler
	activeKey string
}

// Handle authenticates and upgrades a WebSocket connection.
// GET /ws
//
// The token comes from the Authorization header or, for browser clients that
// cannot set headers on WebSocket dials, the token query parameter. Rejection
// happens before the upgrade so clients see a plain 401.
func (h *WSHandler) Handle(c *gin.Context) {
	claims, ok := h.authenticate(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()

	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("ws accept error")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "internal error")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Seed the connection's thread state so unread reconciliation starts
	// from durable truth.
	threads, err := h.inbox.Threads(ctx, claims.UserID)
	if err != nil {
		h.log.Warn().Err(err).Int64("user_id", claims.UserID).Msg("failed to seed threads")
	}
	state := &connState{rec: inbox.NewReconciler(claims.UserID, threads)}

	client := core.NewClient(uuid.NewString(), claims.UserID, claims.Username)
	h.hub.RegisterClient(client)
	defer h.hub.UnregisterClient(client)

	limiter := newRateLimiter(h.cfg.MessagesPerMinute)
	limiter.startReset(ctx.Done())

	errCh := make(chan error, 2)
	go func() {
		errCh <- h.readLoop(ctx, conn, client, state, limiter)
	}()
	go func() {
		errCh <- h.writeLoop(ctx, conn, client, state)
	}()

	err = <-errCh
	cancel() // stop the other goroutine
	<-errCh

	status := websocket.StatusNormalClosure
	reason := "closing"
	if err != nil && !errors.Is(err, context.Canceled) {
		if errors.Is(err, io.EOF) {
			err = nil
		}
		if s := websocket.CloseStatus(err); s != 0 {
			status = s
		}
		if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
			err = nil
		}
		if err != nil {
			if status == websocket.StatusNormalClosure {
				status = websocket.StatusInternalError
			}
			reason = err.Error()
			h.log.Warn().Err(err).Str("client_id", client.ID).Msg("ws connection closed with error")
		}
	}

	conn.Close(status, reason)
}

func (h *WSHandler) authenticate(c *gin.Context) (*auth.Claims, bool) {
	token := bearerToken(c)
	if token == "" {
		token = c.Query("token")
	}
	if token == "" {
		c.JSON(stdhttp.StatusUnauthorized, ErrorResponse{Error: "missing token"})
		return nil, false
	}

	claims, err := h.auth.ValidateToken(token)
	if err != nil {
		h.log.Debug().Err(err).Msg("ws token rejected")
		c.JSON(stdhttp.StatusUnauthorized, ErrorResponse{Error: "invalid token"})
		return nil, false
	}
	return claims, true
}

func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	const prefix = "Bearer "
	if len(header) > len(prefix) && header[:len(prefix)] == prefix {
		return header[len(prefix):]
	}
	return ""
}

func (h *WSHandler) readLoop(ctx context.Context, conn *websocket.Conn, client *core.Client, state *connState, limiter *rateLimiter) error {
	for {
		var inbound proto.Inbound
		if err := wsjson.Read(ctx, conn, &inbound); err != nil {
			return err
		}

		cmd, protoErr, err := inboundToCommand(inbound)
		if err != nil {
			h.log.Warn().Err(err).Str("client_id", client.ID).Msg("failed to map inbound")
			return err
		}
		if protoErr == nil && cmd != nil && cmd.Kind == core.CommandSendMessage && !limiter.allow() {
			protoErr = &proto.Error{Code: "rate_limited", Msg: "too many messages, slow down"}
			cmd = nil
		}
		if protoErr != nil {
			if writeErr := wsjson.Write(ctx, conn, proto.Outbound{
				Type:  proto.OutboundTypeError,
				Error: protoErr,
			}); writeErr != nil {
				return writeErr
			}
			continue
		}
		if cmd == nil {
			continue
		}

		switch cmd.Kind {
		case core.CommandJoinRoom:
			key := core.ConversationKey(cmd.ListingID, client.UserID, cmd.OtherUserID)
			state.mu.Lock()
			state.activeKey = key
			state.rec.Open(cmd.OtherUserID, cmd.ListingID)
			state.mu.Unlock()

			// Opening a conversation reads it.
			lid := cmd.ListingID
			if _, err := h.inbox.MarkRead(ctx, client.UserID, cmd.OtherUserID, &lid); err != nil {
				h.log.Error().Err(err).Str("client_id", client.ID).Msg("failed to mark conversation read on join")
			}
		case core.CommandLeaveRoom:
			key := core.ConversationKey(cmd.ListingID, client.UserID, cmd.OtherUserID)
			state.mu.Lock()
			if state.activeKey == key {
				state.activeKey = ""
			}
			state.mu.Unlock()
		}

		client.Commands <- cmd
	}
}

func (h *WSHandler) writeLoop(ctx context.Context, conn *websocket.Conn, client *core.Client, state *connState) error {
	for {
		select {
		case event, ok := <-client.Events:
			if !ok {
				return nil
			}
			if event.Kind == core.EventInboxMessage {
				if err := h.applyInbox(ctx, conn, client, state, event); err != nil {
					return err
				}
				continue
			}
			if err := wsjson.Write(ctx, conn, outboundFromEvent(event)); err != nil {
				h.log.Error().Err(err).Str("client_id", client.ID).Msg("write ws event")
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// applyInbox folds a user-targeted message copy into this connection's
// thread state and performs the follow-up the reconciler asks for: mark it
// read when the conversation is open here, otherwise push a thread update.
func (h *WSHandler) applyInbox(ctx context.Context, conn *websocket.Conn, client *core.Client, state *connState, event *core.Event) error {
	msg := event.Message
	if msg == nil {
		return nil
	}
	otherID := msg.Sender.ID
	if otherID == client.UserID {
		otherID = msg.Receiver.ID
	}

	state.mu.Lock()
	decision := state.rec.Apply(msg, state.activeKey)
	state.mu.Unlock()

	switch decision {
	case inbox.DecisionMarkRead:
		lid := msg.Listing.ID
		if _, err := h.inbox.MarkRead(ctx, client.UserID, otherID, &lid); err != nil {
			h.log.Error().Err(err).Str("client_id", client.ID).Msg("failed to mark active conversation read")
		}
		return nil
	case inbox.DecisionRefresh:
		threads, err := h.inbox.Threads(ctx, client.UserID)
		if err != nil {
			h.log.Error().Err(err).Str("client_id", client.ID).Msg("failed to refresh threads")
			return nil
		}
		key := core.ConversationKey(msg.Listing.ID, msg.Sender.ID, msg.Receiver.ID)
		state.mu.Lock()
		state.rec.Replace(threads)
		active := state.activeKey == key
		if active {
			state.rec.Open(otherID, msg.Listing.ID)
		}
		state.mu.Unlock()
		if active {
			lid := msg.Listing.ID
			if _, err := h.inbox.MarkRead(ctx, client.UserID, otherID, &lid); err != nil {
				h.log.Error().Err(err).Str("client_id", client.ID).Msg("failed to mark active conversation read")
			}
			return nil
		}
	case inbox.DecisionBumped, inbox.DecisionNone:
	}

	update, ok := h.threadUpdate(state, otherID, msg.Listing.ID)
	if !ok {
		return nil
	}
	if err := wsjson.Write(ctx, conn, proto.Outbound{
		Type:  proto.OutboundTypeEvent,
		Event: proto.EventThreadUpdate,
		Data:  update,
	}); err != nil {
		h.log.Error().Err(err).Str("client_id", client.ID).Msg("write thread update")
		return err
	}
	return nil
}

func (h *WSHandler) threadUpdate(state *connState, otherID, listingID int64) (*proto.EventThread, bool) {
	state.mu.Lock()
	defer state.mu.Unlock()

	t, ok := state.rec.Thread(otherID, listingID)
	if !ok {
		return nil, false
	}
	return &proto.EventThread{
		OtherUser: proto.Participant{
			ID:         t.Other.ID,
			Name:       t.Other.Name,
			Avatar:     t.Other.Avatar,
			Occupation: t.Other.Occupation,
		},
		Listing:     proto.ListingRef{ID: t.Listing.ID, Title: t.Listing.Title},
		LastMessage: proto.FromCoreMessage(t.LastMessage),
		UnreadCount: t.UnreadCount,
	}, true
}
