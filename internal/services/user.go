package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"chat-gateway/internal/apperrors"
	"chat-gateway/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"
)

const (
	minPasswordLength   = 8
	maxDisplayNameRunes = 50
)

// UserService handles registration and login
type UserService struct {
	users       UserRepository
	sessions    *SessionRegistry
	trialPeriod time.Duration
	now         func() time.Time
}

// NewUserService creates a new user service. New users get a subscription
// lasting trialPeriod.
func NewUserService(users UserRepository, sessions *SessionRegistry, trialPeriod time.Duration) *UserService {
	return &UserService{
		users:       users,
		sessions:    sessions,
		trialPeriod: trialPeriod,
		now:         time.Now,
	}
}

// Register creates a user identified by a new UUID
func (s *UserService) Register(ctx context.Context, phone, password, displayName string) (*models.User, error) {
	phone = strings.TrimSpace(phone)
	displayName = strings.TrimSpace(displayName)
	if phone == "" {
		return nil, apperrors.Validation("phone required")
	}
	if len(password) < minPasswordLength {
		return nil, apperrors.Validation(fmt.Sprintf("password must be at least %d characters", minPasswordLength))
	}
	if displayName == "" || len([]rune(displayName)) > maxDisplayNameRunes {
		return nil, apperrors.Validation(fmt.Sprintf("display name required (max %d chars)", maxDisplayNameRunes))
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	now := s.now()
	user := &models.User{
		ID:           uuid.New().String(),
		Phone:        phone,
		DisplayName:  displayName,
		PasswordHash: string(hash),
		PaidUntil:    now.Add(s.trialPeriod),
		CreatedAt:    now,
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, err
	}

	log.Info().Str("user_id", user.ID).Msg("User registered")
	return user, nil
}

// Login checks credentials and issues a session. Unknown phones and wrong
// passwords yield the same error.
func (s *UserService) Login(ctx context.Context, phone, password, deviceKind string) (*models.Session, *models.User, error) {
	user, err := s.users.GetByPhone(ctx, strings.TrimSpace(phone))
	if err != nil {
		if apperrors.IsKind(err, apperrors.KindNotFound) {
			return nil, nil, apperrors.ErrBadCredentials
		}
		return nil, nil, apperrors.Unavailable(err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, nil, apperrors.ErrBadCredentials
	}
	if user.IsBlocked {
		return nil, nil, apperrors.ErrIdentityBlocked
	}
	now := s.now()
	if !user.HasActiveSubscription(now) {
		return nil, nil, apperrors.ErrSubscription
	}

	session, err := s.sessions.Issue(ctx, user.ID, deviceKind, 0)
	if err != nil {
		return nil, nil, err
	}

	if err := s.users.TouchLastLogin(ctx, user.ID, now); err != nil {
		log.Warn().Err(err).Str("user_id", user.ID).Msg("Failed to update last login")
	}
	return session, user, nil
}

// Logout revokes the session the request was made with
func (s *UserService) Logout(ctx context.Context, token string) error {
	return s.sessions.Revoke(ctx, token)
}

// UpdatePushToken stores the device token used for offline notifications.
// An empty token clears it.
func (s *UserService) UpdatePushToken(ctx context.Context, userID, pushToken string) error {
	var token *string
	if pushToken = strings.TrimSpace(pushToken); pushToken != "" {
		token = &pushToken
	}
	if err := s.users.UpdatePushToken(ctx, userID, token); err != nil {
		return apperrors.Unavailable(err)
	}
	return nil
}

// GetUser returns a user by ID
func (s *UserService) GetUser(ctx context.Context, userID string) (*models.User, error) {
	return s.users.GetByID(ctx, userID)
}
