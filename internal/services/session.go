package services

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"chat-gateway/internal/apperrors"
	"chat-gateway/internal/models"

	"github.com/rs/zerolog/log"
)

const sessionTokenBytes = 32

// SessionRegistry issues and validates opaque session tokens
type SessionRegistry struct {
	sessions   SessionRepository
	users      UserRepository
	conns      *ConnectionManager
	defaultTTL time.Duration
	now        func() time.Time
}

// NewSessionRegistry creates a new session registry
func NewSessionRegistry(sessions SessionRepository, users UserRepository, conns *ConnectionManager, defaultTTL time.Duration) *SessionRegistry {
	return &SessionRegistry{
		sessions:   sessions,
		users:      users,
		conns:      conns,
		defaultTTL: defaultTTL,
		now:        time.Now,
	}
}

// Validate resolves a token to its identity. Absent, unknown and expired
// tokens all yield ErrInvalidOrExpired.
func (r *SessionRegistry) Validate(ctx context.Context, token string) (string, error) {
	if token == "" {
		return "", apperrors.ErrInvalidOrExpired
	}

	s, err := r.sessions.GetByToken(ctx, token)
	if err != nil {
		if apperrors.IsKind(err, apperrors.KindNotFound) {
			return "", apperrors.ErrInvalidOrExpired
		}
		return "", apperrors.Unavailable(err)
	}

	if s.Expired(r.now()) {
		if err := r.sessions.Delete(ctx, token); err != nil {
			log.Warn().Err(err).Str("user_id", s.UserID).Msg("Failed to delete expired session")
		}
		return "", apperrors.ErrInvalidOrExpired
	}
	return s.UserID, nil
}

// Issue creates a session for an identity. Blocked identities cannot
// obtain sessions. A non-positive ttl uses the registry default.
func (r *SessionRegistry) Issue(ctx context.Context, identity, deviceKind string, ttl time.Duration) (*models.Session, error) {
	user, err := r.users.GetByID(ctx, identity)
	if err != nil {
		return nil, err
	}
	if user.IsBlocked {
		return nil, apperrors.ErrIdentityBlocked
	}

	if ttl <= 0 {
		ttl = r.defaultTTL
	}

	token, err := generateToken()
	if err != nil {
		return nil, err
	}

	now := r.now()
	s := &models.Session{
		Token:      token,
		UserID:     identity,
		DeviceKind: deviceKind,
		ExpiresAt:  now.Add(ttl),
		CreatedAt:  now,
	}
	if err := r.sessions.Create(ctx, s); err != nil {
		if errors.Is(err, apperrors.ErrIdentityBlocked) {
			return nil, err
		}
		return nil, apperrors.Unavailable(err)
	}

	log.Info().
		Str("user_id", identity).
		Str("device_kind", deviceKind).
		Time("expires_at", s.ExpiresAt).
		Msg("Session issued")
	return s, nil
}

// Revoke deletes a session and closes any live connection opened with it
func (r *SessionRegistry) Revoke(ctx context.Context, token string) error {
	if err := r.sessions.Delete(ctx, token); err != nil {
		return apperrors.Unavailable(err)
	}
	r.conns.CloseToken(token, ClosePolicyViolation, "Session revoked")
	return nil
}

// RevokeAll deletes every session of an identity and closes all of its
// live connections
func (r *SessionRegistry) RevokeAll(ctx context.Context, identity, reason string) (int, error) {
	tokens, err := r.sessions.DeleteByUser(ctx, identity)
	if err != nil {
		return 0, apperrors.Unavailable(err)
	}
	closed := r.conns.CloseIdentity(identity, ClosePolicyViolation, reason)

	log.Info().
		Str("user_id", identity).
		Int("sessions", len(tokens)).
		Int("connections", closed).
		Msg("Sessions revoked")
	return len(tokens), nil
}

// PurgeExpired removes expired sessions from the store
func (r *SessionRegistry) PurgeExpired(ctx context.Context) error {
	n, err := r.sessions.DeleteExpired(ctx, r.now())
	if err != nil {
		return err
	}
	if n > 0 {
		log.Info().Int64("sessions", n).Msg("Expired sessions purged")
	}
	return nil
}

func generateToken() (string, error) {
	b := make([]byte, sessionTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate session token: %w", err)
	}
	return hex.EncodeToString(b), nil
}
