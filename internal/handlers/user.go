package handlers

import (
	"net/http"
	"time"

	"chat-gateway/internal/middleware"
	"chat-gateway/internal/models"
	"chat-gateway/internal/services"

	"github.com/rs/zerolog/log"
)

// UserHandler handles registration, login and profile requests
type UserHandler struct {
	userService *services.UserService
}

// NewUserHandler creates a new user handler
func NewUserHandler(userService *services.UserService) *UserHandler {
	return &UserHandler{
		userService: userService,
	}
}

// RegisterRequest represents the request body for registration
type RegisterRequest struct {
	Phone       string `json:"phone"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name"`
}

// LoginRequest represents the request body for login
type LoginRequest struct {
	Phone      string `json:"phone"`
	Password   string `json:"password"`
	DeviceKind string `json:"device_kind"`
}

// LoginResponse carries the session token
type LoginResponse struct {
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expires_at"`
	User      *models.User `json:"user"`
}

// PushTokenRequest represents the request body for push token updates
type PushTokenRequest struct {
	PushToken string `json:"push_token"`
}

// Register handles POST /api/v1/users
func (h *UserHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if !decodeJSON(r, &req) {
		respondError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	user, err := h.userService.Register(r.Context(), req.Phone, req.Password, req.DisplayName)
	if err != nil {
		respondAppError(w, r, err)
		return
	}

	respondJSON(w, http.StatusCreated, user)
}

// Login handles POST /api/v1/sessions
func (h *UserHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !decodeJSON(r, &req) {
		respondError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.DeviceKind == "" {
		req.DeviceKind = "web"
	}

	session, user, err := h.userService.Login(r.Context(), req.Phone, req.Password, req.DeviceKind)
	if err != nil {
		log.Info().Err(err).Msg("Login rejected")
		respondAppError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, LoginResponse{
		Token:     session.Token,
		ExpiresAt: session.ExpiresAt,
		User:      user,
	})
}

// Logout handles DELETE /api/v1/sessions
func (h *UserHandler) Logout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := h.userService.Logout(ctx, middleware.GetSessionToken(ctx)); err != nil {
		respondAppError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Me handles GET /api/v1/users/me
func (h *UserHandler) Me(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user, err := h.userService.GetUser(ctx, middleware.GetUserID(ctx))
	if err != nil {
		respondAppError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, user)
}

// UpdatePushToken handles PUT /api/v1/users/push-token
func (h *UserHandler) UpdatePushToken(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	var req PushTokenRequest
	if !decodeJSON(r, &req) {
		respondError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.userService.UpdatePushToken(ctx, userID, req.PushToken); err != nil {
		respondAppError(w, r, err)
		return
	}

	log.Info().Str("user_id", userID).Msg("Push token updated")
	w.WriteHeader(http.StatusNoContent)
}
