package http

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/nestmate/nestmate-server/internal/proto"
	"github.com/nestmate/nestmate-server/internal/service/inbox"
	"github.com/nestmate/nestmate-server/internal/store"
)

// ListingHandlers provides HTTP handlers for listing endpoints.
type ListingHandlers struct {
	store store.Store
	inbox *inbox.Service
	log   *zerolog.Logger
}

// NewListingHandlers creates a new listing handlers instance.
func NewListingHandlers(st store.Store, inboxService *inbox.Service, logger *zerolog.Logger) *ListingHandlers {
	return &ListingHandlers{
		store: st,
		inbox: inboxService,
		log:   logger,
	}
}

// CreateListingRequest represents the create listing request body.
type CreateListingRequest struct {
	Title       string `json:"title" binding:"required,min=1,max=128"`
	Description string `json:"description" binding:"max=4096"`
	Location    string `json:"location" binding:"required,min=1,max=128"`
	Rent        int64  `json:"rent" binding:"required,gt=0"`
}

// ListingResponse represents a listing in API responses.
type ListingResponse struct {
	ID          int64     `json:"id"`
	OwnerID     int64     `json:"owner_id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Location    string    `json:"location"`
	Rent        int64     `json:"rent"`
	CreatedAt   time.Time `json:"created_at"`
}

func listingResponse(l *store.Listing) ListingResponse {
	return ListingResponse{
		ID:          l.ID,
		OwnerID:     l.OwnerID,
		Title:       l.Title,
		Description: l.Description,
		Location:    l.Location,
		Rent:        l.Rent,
		CreatedAt:   l.CreatedAt,
	}
}

func listingID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid listing id"})
		return 0, false
	}
	return id, true
}

// Create handles listing creation.
// POST /api/listings
func (h *ListingHandlers) Create(c *gin.Context) {
	uid, ok := currentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}

	var req CreateListingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Debug().Err(err).Msg("invalid create listing request")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	listing, err := h.store.CreateListing(c.Request.Context(), uid, req.Title, req.Description, req.Location, req.Rent)
	if err != nil {
		h.log.Error().Err(err).Int64("owner_id", uid).Msg("failed to create listing")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	h.log.Info().Int64("listing_id", listing.ID).Int64("owner_id", uid).Msg("listing created")
	c.JSON(http.StatusCreated, listingResponse(listing))
}

// List returns all listings, newest first.
// GET /api/listings
func (h *ListingHandlers) List(c *gin.Context) {
	listings, err := h.store.ListListings(c.Request.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("failed to list listings")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	response := make([]ListingResponse, 0, len(listings))
	for _, l := range listings {
		response = append(response, listingResponse(l))
	}
	c.JSON(http.StatusOK, response)
}

// Get returns one listing.
// GET /api/listings/:id
func (h *ListingHandlers) Get(c *gin.Context) {
	id, ok := listingID(c)
	if !ok {
		return
	}

	listing, err := h.store.GetListingByID(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "listing not found"})
			return
		}
		h.log.Error().Err(err).Int64("listing_id", id).Msg("failed to load listing")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	c.JSON(http.StatusOK, listingResponse(listing))
}

// Mine returns the authenticated user's own listings.
// GET /api/listings/mine
func (h *ListingHandlers) Mine(c *gin.Context) {
	uid, ok := currentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}

	listings, err := h.store.ListListingsByOwner(c.Request.Context(), uid)
	if err != nil {
		h.log.Error().Err(err).Int64("owner_id", uid).Msg("failed to list own listings")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	response := make([]ListingResponse, 0, len(listings))
	for _, l := range listings {
		response = append(response, listingResponse(l))
	}
	c.JSON(http.StatusOK, response)
}

// Save marks a listing as saved by the authenticated user.
// POST /api/listings/:id/save
func (h *ListingHandlers) Save(c *gin.Context) {
	uid, ok := currentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}
	id, ok := listingID(c)
	if !ok {
		return
	}

	if _, err := h.store.GetListingByID(c.Request.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "listing not found"})
			return
		}
		h.log.Error().Err(err).Int64("listing_id", id).Msg("failed to load listing")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	if err := h.store.SaveListing(c.Request.Context(), uid, id); err != nil {
		h.log.Error().Err(err).Int64("listing_id", id).Int64("user_id", uid).Msg("failed to save listing")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	c.Status(http.StatusNoContent)
}

// Unsave removes a listing from the authenticated user's saved set.
// DELETE /api/listings/:id/save
func (h *ListingHandlers) Unsave(c *gin.Context) {
	uid, ok := currentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}
	id, ok := listingID(c)
	if !ok {
		return
	}

	if err := h.store.UnsaveListing(c.Request.Context(), uid, id); err != nil {
		h.log.Error().Err(err).Int64("listing_id", id).Int64("user_id", uid).Msg("failed to unsave listing")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	c.Status(http.StatusNoContent)
}

// Saved returns the authenticated user's saved listings.
// GET /api/me/saved
func (h *ListingHandlers) Saved(c *gin.Context) {
	uid, ok := currentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}

	listings, err := h.store.ListSaved(c.Request.Context(), uid)
	if err != nil {
		h.log.Error().Err(err).Int64("user_id", uid).Msg("failed to list saved listings")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	response := make([]ListingResponse, 0, len(listings))
	for _, l := range listings {
		response = append(response, listingResponse(l))
	}
	c.JSON(http.StatusOK, response)
}

// Inquiries returns the latest incoming message per interested user for a
// listing the authenticated user owns.
// GET /api/listings/:id/inquiries
func (h *ListingHandlers) Inquiries(c *gin.Context) {
	uid, ok := currentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}
	id, ok := listingID(c)
	if !ok {
		return
	}

	msgs, err := h.inbox.Inquiries(c.Request.Context(), uid, id)
	if err != nil {
		switch {
		case errors.Is(err, inbox.ErrNotOwner):
			c.JSON(http.StatusForbidden, ErrorResponse{Error: "not the listing owner"})
		case errors.Is(err, store.ErrNotFound):
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "listing not found"})
		default:
			h.log.Error().Err(err).Int64("listing_id", id).Msg("failed to list inquiries")
			c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		}
		return
	}

	response := make([]*proto.EventMessage, 0, len(msgs))
	for _, m := range msgs {
		response = append(response, proto.FromCoreMessage(m))
	}
	c.JSON(http.StatusOK, response)
}
