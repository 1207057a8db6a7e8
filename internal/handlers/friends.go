package handlers

import (
	"net/http"

	"chat-gateway/internal/middleware"
	"chat-gateway/internal/services"

	"github.com/go-chi/chi/v5"
)

// FriendHandler handles friendship requests
type FriendHandler struct {
	gate *services.FriendshipGate
}

// NewFriendHandler creates a new friend handler
func NewFriendHandler(gate *services.FriendshipGate) *FriendHandler {
	return &FriendHandler{gate: gate}
}

// AddFriendRequest represents the request body for adding a friend
type AddFriendRequest struct {
	Phone string `json:"phone"`
}

// ListFriends handles GET /api/v1/friends
func (h *FriendHandler) ListFriends(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	contacts, err := h.gate.ListFriends(ctx, middleware.GetUserID(ctx))
	if err != nil {
		respondAppError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"friends": contacts})
}

// AddFriend handles POST /api/v1/friends
func (h *FriendHandler) AddFriend(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req AddFriendRequest
	if !decodeJSON(r, &req) {
		respondError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Phone == "" {
		respondError(w, "phone is required", http.StatusBadRequest)
		return
	}

	contact, err := h.gate.AddFriend(ctx, middleware.GetUserID(ctx), req.Phone)
	if err != nil {
		respondAppError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, contact)
}

// RemoveFriend handles DELETE /api/v1/friends/{friend_id}
func (h *FriendHandler) RemoveFriend(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	friendID := chi.URLParam(r, "friend_id")

	if err := h.gate.RemoveFriend(ctx, middleware.GetUserID(ctx), friendID); err != nil {
		respondAppError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
