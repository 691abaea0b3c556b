package http

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/nestmate/nestmate-server/internal/proto"
	"github.com/nestmate/nestmate-server/internal/service/inbox"
)

// MessageHandlers provides HTTP handlers for the messaging REST surface.
type MessageHandlers struct {
	inbox *inbox.Service
	log   *zerolog.Logger
}

// NewMessageHandlers creates a new message handlers instance.
func NewMessageHandlers(inboxService *inbox.Service, logger *zerolog.Logger) *MessageHandlers {
	return &MessageHandlers{
		inbox: inboxService,
		log:   logger,
	}
}

// ThreadResponse represents one inbox row in API responses.
type ThreadResponse struct {
	OtherUser   proto.Participant   `json:"other_user"`
	Listing     proto.ListingRef    `json:"listing"`
	LastMessage *proto.EventMessage `json:"last_message,omitempty"`
	UnreadCount int64               `json:"unread_count"`
}

// MarkReadResponse reports how many messages a mark-read call flipped.
type MarkReadResponse struct {
	Updated int64 `json:"updated"`
}

func threadResponse(t *inbox.Thread) ThreadResponse {
	return ThreadResponse{
		OtherUser: proto.Participant{
			ID:         t.Other.ID,
			Name:       t.Other.Name,
			Avatar:     t.Other.Avatar,
			Occupation: t.Other.Occupation,
		},
		Listing:     proto.ListingRef{ID: t.Listing.ID, Title: t.Listing.Title},
		LastMessage: proto.FromCoreMessage(t.LastMessage),
		UnreadCount: t.UnreadCount,
	}
}

// Threads returns the authenticated user's inbox, ordered by last activity.
// GET /api/messages/threads
func (h *MessageHandlers) Threads(c *gin.Context) {
	uid, ok := currentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}

	threads, err := h.inbox.Threads(c.Request.Context(), uid)
	if err != nil {
		h.log.Error().Err(err).Int64("user_id", uid).Msg("failed to load threads")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	response := make([]ThreadResponse, 0, len(threads))
	for _, t := range threads {
		response = append(response, threadResponse(t))
	}
	c.JSON(http.StatusOK, response)
}

// History returns the full conversation with another user about a listing.
// GET /api/messages/:listingID/:otherID
func (h *MessageHandlers) History(c *gin.Context) {
	uid, ok := currentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}

	lid, err := strconv.ParseInt(c.Param("listingID"), 10, 64)
	if err != nil || lid <= 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid listing id"})
		return
	}
	otherID, err := strconv.ParseInt(c.Param("otherID"), 10, 64)
	if err != nil || otherID <= 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid user id"})
		return
	}

	msgs, err := h.inbox.History(c.Request.Context(), uid, lid, otherID)
	if err != nil {
		h.log.Error().Err(err).Int64("listing_id", lid).Int64("other_id", otherID).Msg("failed to load history")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	response := make([]*proto.EventMessage, 0, len(msgs))
	for _, m := range msgs {
		response = append(response, proto.FromCoreMessage(m))
	}
	c.JSON(http.StatusOK, response)
}

// MarkRead flips unread messages from another user to read, optionally
// scoped to one listing via the listing_id query parameter. Idempotent.
// PUT /api/messages/read/:otherID
func (h *MessageHandlers) MarkRead(c *gin.Context) {
	uid, ok := currentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}

	otherID, err := strconv.ParseInt(c.Param("otherID"), 10, 64)
	if err != nil || otherID <= 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid user id"})
		return
	}

	var listingID *int64
	if raw := c.Query("listing_id"); raw != "" {
		lid, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || lid <= 0 {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid listing id"})
			return
		}
		listingID = &lid
	}

	updated, err := h.inbox.MarkRead(c.Request.Context(), uid, otherID, listingID)
	if err != nil {
		h.log.Error().Err(err).Int64("user_id", uid).Int64("other_id", otherID).Msg("failed to mark read")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	c.JSON(http.StatusOK, MarkReadResponse{Updated: updated})
}
