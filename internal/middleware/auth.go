package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"chat-gateway/internal/apperrors"
	"chat-gateway/internal/services"

	"github.com/rs/zerolog/log"
)

type contextKey string

const (
	userIDKey  contextKey = "user_id"
	tokenKey   contextKey = "session_token"
	adminIDKey contextKey = "admin_id"
)

// AuthMiddleware authenticates requests carrying a Bearer session token
func AuthMiddleware(sessions *services.SessionRegistry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				respondError(w, apperrors.ErrAuthRequired)
				return
			}

			userID, err := sessions.Validate(r.Context(), token)
			if err != nil {
				if !apperrors.IsKind(err, apperrors.KindAuth) {
					log.Error().Err(err).Msg("Failed to validate session")
				}
				respondError(w, err)
				return
			}

			ctx := context.WithValue(r.Context(), userIDKey, userID)
			ctx = context.WithValue(ctx, tokenKey, token)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetUserID extracts user ID from context
func GetUserID(ctx context.Context) string {
	userID, ok := ctx.Value(userIDKey).(string)
	if !ok {
		return ""
	}
	return userID
}

// GetSessionToken extracts the session token from context
func GetSessionToken(ctx context.Context) string {
	token, _ := ctx.Value(tokenKey).(string)
	return token
}

func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", false
	}
	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

// respondError sends an error response
func respondError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(apperrors.HTTPStatus(err))
	json.NewEncoder(w).Encode(map[string]string{"error": apperrors.PublicMessage(err)})
}
