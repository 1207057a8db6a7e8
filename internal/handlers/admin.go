package handlers

import (
	"net/http"
	"strconv"

	"chat-gateway/internal/middleware"
	"chat-gateway/internal/services"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

// AdminHandler serves the admin panel API
type AdminHandler struct {
	admin *services.AdminService
}

// NewAdminHandler creates a new admin handler
func NewAdminHandler(admin *services.AdminService) *AdminHandler {
	return &AdminHandler{admin: admin}
}

// AdminLoginRequest represents the admin login body
type AdminLoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// BlockRequest represents a single block body
type BlockRequest struct {
	Reason string `json:"reason"`
}

// BulkBlockRequest represents a bulk block body
type BulkBlockRequest struct {
	UserIDs []string `json:"user_ids"`
	Reason  string   `json:"reason"`
}

// EditMessageRequest represents a message edit body
type EditMessageRequest struct {
	Text string `json:"text"`
}

// WordRequest represents a critical word body
type WordRequest struct {
	Word string `json:"word"`
}

// ExtendRequest represents a subscription extension body
type ExtendRequest struct {
	Months int `json:"months"`
}

// Login handles POST /api/v1/admin/login
func (h *AdminHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req AdminLoginRequest
	if !decodeJSON(r, &req) {
		respondError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	token, err := h.admin.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		log.Warn().Str("username", req.Username).Msg("Admin login rejected")
		respondAppError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"token": token})
}

// ListFlagged handles GET /api/v1/admin/flagged?page=&limit=&reviewed=&search=&user_id=&sort=
func (h *AdminHandler) ListFlagged(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := services.FlaggedFilter{
		Reviewed: q.Get("reviewed") == "true",
		Search:   q.Get("search"),
		Identity: q.Get("user_id"),
		Sort:     q.Get("sort"),
	}
	page := services.Page{
		Number: queryInt(r, "page", 1),
		Size:   queryInt(r, "limit", 0),
	}

	result, err := h.admin.ListFlagged(r.Context(), filter, page)
	if err != nil {
		respondAppError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// MarkReviewed handles POST /api/v1/admin/flagged/{flag_id}/review
func (h *AdminHandler) MarkReviewed(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "flag_id")
	if !ok {
		return
	}
	if err := h.admin.MarkReviewed(r.Context(), id); err != nil {
		respondAppError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// BlockUser handles POST /api/v1/admin/users/{user_id}/block
func (h *AdminHandler) BlockUser(w http.ResponseWriter, r *http.Request) {
	var req BlockRequest
	// An empty body blocks with the default reason
	_ = decodeJSON(r, &req)

	ctx := r.Context()
	userID := chi.URLParam(r, "user_id")
	if err := h.admin.BlockIdentity(ctx, userID, req.Reason); err != nil {
		respondAppError(w, r, err)
		return
	}

	log.Info().Str("admin_id", middleware.GetAdminID(ctx)).Str("user_id", userID).Msg("User blocked by admin")
	w.WriteHeader(http.StatusNoContent)
}

// BlockUsers handles POST /api/v1/admin/users/block
func (h *AdminHandler) BlockUsers(w http.ResponseWriter, r *http.Request) {
	var req BulkBlockRequest
	if !decodeJSON(r, &req) {
		respondError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	n, err := h.admin.BlockIdentities(r.Context(), req.UserIDs, req.Reason)
	if err != nil {
		respondAppError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]int64{"blocked": n})
}

// UnblockUser handles POST /api/v1/admin/users/{user_id}/unblock
func (h *AdminHandler) UnblockUser(w http.ResponseWriter, r *http.Request) {
	if err := h.admin.UnblockIdentity(r.Context(), chi.URLParam(r, "user_id")); err != nil {
		respondAppError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ExtendSubscription handles POST /api/v1/admin/users/{user_id}/subscription
func (h *AdminHandler) ExtendSubscription(w http.ResponseWriter, r *http.Request) {
	var req ExtendRequest
	if !decodeJSON(r, &req) {
		respondError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	paidUntil, err := h.admin.ExtendSubscription(r.Context(), chi.URLParam(r, "user_id"), req.Months)
	if err != nil {
		respondAppError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"paid_until": paidUntil})
}

// RevokeSubscription handles DELETE /api/v1/admin/users/{user_id}/subscription
func (h *AdminHandler) RevokeSubscription(w http.ResponseWriter, r *http.Request) {
	if err := h.admin.RevokeSubscription(r.Context(), chi.URLParam(r, "user_id")); err != nil {
		respondAppError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// EditMessage handles PUT /api/v1/admin/messages/{message_id}
func (h *AdminHandler) EditMessage(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "message_id")
	if !ok {
		return
	}

	var req EditMessageRequest
	if !decodeJSON(r, &req) {
		respondError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.admin.EditMessage(r.Context(), id, req.Text); err != nil {
		respondAppError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Conversation handles GET /api/v1/admin/conversations/{user_a}/{user_b}?limit=&before=
func (h *AdminHandler) Conversation(w http.ResponseWriter, r *http.Request) {
	var before *int64
	if v := r.URL.Query().Get("before"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil || id <= 0 {
			respondError(w, "before must be a message id", http.StatusBadRequest)
			return
		}
		before = &id
	}

	conv, err := h.admin.Conversation(r.Context(),
		chi.URLParam(r, "user_a"), chi.URLParam(r, "user_b"),
		queryInt(r, "limit", 0), before)
	if err != nil {
		respondAppError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, conv)
}

// ListWords handles GET /api/v1/admin/critical-words
func (h *AdminHandler) ListWords(w http.ResponseWriter, r *http.Request) {
	words, err := h.admin.Words().ListWords(r.Context())
	if err != nil {
		respondAppError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"words": words})
}

// AddWord handles POST /api/v1/admin/critical-words
func (h *AdminHandler) AddWord(w http.ResponseWriter, r *http.Request) {
	var req WordRequest
	if !decodeJSON(r, &req) {
		respondError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := h.admin.Words().AddWord(r.Context(), req.Word); err != nil {
		respondAppError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

// DeleteWord handles DELETE /api/v1/admin/critical-words/{word_id}
func (h *AdminHandler) DeleteWord(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "word_id")
	if !ok {
		return
	}
	if err := h.admin.Words().RemoveWord(r.Context(), id); err != nil {
		respondAppError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Stats handles GET /api/v1/admin/stats
func (h *AdminHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.admin.Stats(r.Context())
	if err != nil {
		respondAppError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

func pathID(w http.ResponseWriter, r *http.Request, key string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, key), 10, 64)
	if err != nil || id <= 0 {
		respondError(w, key+" must be a positive integer", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}
