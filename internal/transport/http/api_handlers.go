package http

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/sonu-tech-hub/mychat-rtc/internal/auth"
	"github.com/sonu-tech-hub/mychat-rtc/internal/delivery"
	"github.com/sonu-tech-hub/mychat-rtc/internal/store"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 100
)

// APIHandlers provides HTTP handlers for REST API endpoints.
type APIHandlers struct {
	authService *auth.Service
	messaging   *delivery.Service
	store       store.Store
	log         *zerolog.Logger
}

// NewAPIHandlers creates a new API handlers instance.
func NewAPIHandlers(authService *auth.Service, messaging *delivery.Service, st store.Store, logger *zerolog.Logger) *APIHandlers {
	return &APIHandlers{
		authService: authService,
		messaging:   messaging,
		store:       st,
		log:         logger,
	}
}

// RegisterRequest represents the registration request body.
type RegisterRequest struct {
	Username string `json:"username" binding:"required,min=3,max=32"`
	Password string `json:"password" binding:"required,min=6"`
}

// LoginRequest represents the login request body.
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// AuthResponse represents the authentication response body.
type AuthResponse struct {
	Token string `json:"token"`
}

// ErrorResponse represents an error response body.
type ErrorResponse struct {
	Error string `json:"error"`
}

// Register handles user registration.
// POST /api/auth/register
func (h *APIHandlers) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Debug().Err(err).Msg("invalid register request")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	token, err := h.authService.Register(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrUserExists) {
			c.JSON(http.StatusConflict, ErrorResponse{Error: "user already exists"})
			return
		}
		if errors.Is(err, auth.ErrInvalidUsername) || errors.Is(err, auth.ErrInvalidPassword) {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
			return
		}
		h.log.Error().Err(err).Str("username", req.Username).Msg("failed to register user")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	h.log.Info().Str("username", req.Username).Msg("user registered successfully")
	c.JSON(http.StatusCreated, AuthResponse{Token: token})
}

// Login handles user login.
// POST /api/auth/login
func (h *APIHandlers) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Debug().Err(err).Msg("invalid login request")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	token, err := h.authService.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "invalid credentials"})
			return
		}
		h.log.Error().Err(err).Str("username", req.Username).Msg("failed to login user")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	h.log.Info().Str("username", req.Username).Msg("user logged in successfully")
	c.JSON(http.StatusOK, AuthResponse{Token: token})
}

// Me returns the authenticated user's profile.
// GET /api/me
func (h *APIHandlers) Me(c *gin.Context) {
	userID := c.GetString(ContextKeyUserID)
	user, err := h.store.GetUserByID(c.Request.Context(), userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "user not found"})
			return
		}
		h.log.Error().Err(err).Str("user_id", userID).Msg("failed to load user")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}
	c.JSON(http.StatusOK, toUserResponse(user))
}

// Messages returns a conversation page, newest first.
// GET /api/messages?conversation=<key>&limit=<n>&before=<messageId>
func (h *APIHandlers) Messages(c *gin.Context) {
	userID := c.GetString(ContextKeyUserID)
	key := c.Query("conversation")
	if key == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "missing conversation parameter"})
		return
	}

	allowed, err := h.canRead(c, userID, key)
	if err != nil {
		h.log.Error().Err(err).Str("conversation", key).Msg("membership check failed")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}
	if !allowed {
		c.JSON(http.StatusForbidden, ErrorResponse{Error: "not a conversation participant"})
		return
	}

	limit := defaultHistoryLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid limit parameter"})
			return
		}
		limit = n
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	var beforeID *string
	if raw := c.Query("before"); raw != "" {
		beforeID = &raw
	}

	messages, err := h.messaging.History(c.Request.Context(), key, limit, beforeID)
	if err != nil {
		h.log.Error().Err(err).Str("conversation", key).Msg("failed to load history")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	c.JSON(http.StatusOK, toMessagesResponse(messages))
}

// canRead reports whether userID belongs to the conversation. Direct keys
// encode both participants; group keys require a membership lookup.
func (h *APIHandlers) canRead(c *gin.Context, userID, key string) (bool, error) {
	switch {
	case strings.HasPrefix(key, "dm:"):
		parts := strings.Split(key, ":")
		if len(parts) != 3 {
			return false, nil
		}
		return parts[1] == userID || parts[2] == userID, nil
	case strings.HasPrefix(key, "group:"):
		groupID := strings.TrimPrefix(key, "group:")
		return h.store.IsGroupMember(c.Request.Context(), groupID, userID)
	default:
		return false, nil
	}
}
