package http

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/nestmate/nestmate-server/internal/store"
)

// UserHandlers provides HTTP handlers for user profile operations.
type UserHandlers struct {
	store store.Store
	log   *zerolog.Logger
}

// NewUserHandlers creates a new user handlers instance.
func NewUserHandlers(st store.Store, logger *zerolog.Logger) *UserHandlers {
	return &UserHandlers{
		store: st,
		log:   logger,
	}
}

// UserResponse represents a user in API responses.
type UserResponse struct {
	ID         int64  `json:"id"`
	Username   string `json:"username"`
	Name       string `json:"name"`
	Avatar     string `json:"avatar,omitempty"`
	Occupation string `json:"occupation,omitempty"`
}

// UpdateProfileRequest represents the profile update request body.
type UpdateProfileRequest struct {
	Name       string `json:"name" binding:"required,min=1,max=64"`
	Avatar     string `json:"avatar"`
	Occupation string `json:"occupation" binding:"max=64"`
}

func userResponse(u *store.User) UserResponse {
	return UserResponse{
		ID:         u.ID,
		Username:   u.Username,
		Name:       u.Name,
		Avatar:     u.Avatar,
		Occupation: u.Occupation,
	}
}

// Me returns the authenticated user's profile.
// GET /api/users/me
func (h *UserHandlers) Me(c *gin.Context) {
	uid, ok := currentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}

	user, err := h.store.GetUserByID(c.Request.Context(), uid)
	if err != nil {
		h.log.Error().Err(err).Int64("user_id", uid).Msg("failed to load profile")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	c.JSON(http.StatusOK, userResponse(user))
}

// UpdateMe updates the authenticated user's display fields.
// PUT /api/users/me
func (h *UserHandlers) UpdateMe(c *gin.Context) {
	uid, ok := currentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}

	var req UpdateProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Debug().Err(err).Msg("invalid profile update request")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	if err := h.store.UpdateProfile(c.Request.Context(), uid, req.Name, req.Avatar, req.Occupation); err != nil {
		h.log.Error().Err(err).Int64("user_id", uid).Msg("failed to update profile")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	user, err := h.store.GetUserByID(c.Request.Context(), uid)
	if err != nil {
		h.log.Error().Err(err).Int64("user_id", uid).Msg("failed to reload profile")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	c.JSON(http.StatusOK, userResponse(user))
}

// GetUser returns another user's public profile.
// GET /api/users/:id
func (h *UserHandlers) GetUser(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid user id"})
		return
	}

	user, err := h.store.GetUserByID(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "user not found"})
			return
		}
		h.log.Error().Err(err).Int64("user_id", id).Msg("failed to load user")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	c.JSON(http.StatusOK, userResponse(user))
}
