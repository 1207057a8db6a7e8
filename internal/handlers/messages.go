package handlers

import (
	"net/http"
	"strconv"

	"chat-gateway/internal/middleware"
	"chat-gateway/internal/services"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

// MessageHandler serves conversation history
type MessageHandler struct {
	gate  *services.FriendshipGate
	store *services.MessageStore
}

// NewMessageHandler creates a new message handler
func NewMessageHandler(gate *services.FriendshipGate, store *services.MessageStore) *MessageHandler {
	return &MessageHandler{
		gate:  gate,
		store: store,
	}
}

// History handles GET /api/v1/messages/{contact_id}?limit=&before=
// and marks the returned conversation as read
func (h *MessageHandler) History(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)
	contactID := chi.URLParam(r, "contact_id")

	var before *int64
	if s := r.URL.Query().Get("before"); s != "" {
		id, err := strconv.ParseInt(s, 10, 64)
		if err != nil || id <= 0 {
			respondError(w, "before must be a message id", http.StatusBadRequest)
			return
		}
		before = &id
	}

	if err := h.gate.CanMessage(ctx, userID, contactID); err != nil {
		respondAppError(w, r, err)
		return
	}

	// Marked first so the returned page carries read_at
	if before == nil {
		if _, err := h.store.MarkRead(ctx, userID, contactID); err != nil {
			log.Warn().Err(err).Str("user_id", userID).Msg("Failed to mark messages read")
		}
	}

	messages, err := h.store.History(ctx, userID, contactID, queryInt(r, "limit", 0), before)
	if err != nil {
		respondAppError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{"messages": messages})
}
