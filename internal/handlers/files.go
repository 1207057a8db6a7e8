package handlers

import (
	"net/http"

	"chat-gateway/internal/middleware"
	"chat-gateway/internal/services"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

// FileHandler handles temporary file requests
type FileHandler struct {
	fileService *services.FileService
}

// NewFileHandler creates a new file handler
func NewFileHandler(fileService *services.FileService) *FileHandler {
	return &FileHandler{
		fileService: fileService,
	}
}

// Upload handles POST /api/v1/files/upload
func (h *FileHandler) Upload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	var req services.UploadRequest
	if !decodeJSON(r, &req) {
		respondError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	response, err := h.fileService.CreateUpload(ctx, userID, req)
	if err != nil {
		respondAppError(w, r, err)
		return
	}

	log.Info().
		Str("user_id", userID).
		Str("file_id", response.FileID).
		Msg("Pre-signed URL generated")

	respondJSON(w, http.StatusOK, response)
}

// Download handles GET /api/v1/files/{file_id}
func (h *FileHandler) Download(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	response, err := h.fileService.DownloadURL(ctx, middleware.GetUserID(ctx), chi.URLParam(r, "file_id"))
	if err != nil {
		respondAppError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, response)
}
