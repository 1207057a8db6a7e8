package services

import (
	"context"
	"time"

	"chat-gateway/internal/models"
	"chat-gateway/internal/repository"
)

// The interfaces below are satisfied by the pgx repositories in
// internal/repository and by the in-memory fakes in internal/testutil.

type UserRepository interface {
	Create(ctx context.Context, user *models.User) error
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetByPhone(ctx context.Context, phone string) (*models.User, error)
	UpdatePushToken(ctx context.Context, userID string, pushToken *string) error
	TouchLastLogin(ctx context.Context, userID string, at time.Time) error
	SetBlocked(ctx context.Context, userIDs []string, reason string) (int64, error)
	Unblock(ctx context.Context, userID string) error
	SetPaidUntil(ctx context.Context, userID string, paidUntil time.Time) error
}

type SessionRepository interface {
	Create(ctx context.Context, s *models.Session) error
	GetByToken(ctx context.Context, token string) (*models.Session, error)
	Delete(ctx context.Context, token string) error
	DeleteByUser(ctx context.Context, userID string) ([]string, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

type FriendshipRepository interface {
	Create(ctx context.Context, f *models.Friendship) error
	Delete(ctx context.Context, userAID, userBID string) error
	Authorized(ctx context.Context, userAID, userBID string) (bool, error)
	ListContacts(ctx context.Context, userID string) ([]*models.Contact, error)
}

type MessageRepository interface {
	// Create must insert the message and, if flagged, its flagged
	// conversation atomically.
	Create(ctx context.Context, msg *models.Message) error
	GetByID(ctx context.Context, id int64) (*models.Message, error)
	History(ctx context.Context, userA, userB string, limit int, before *int64) ([]*models.Message, error)
	MarkRead(ctx context.Context, userID, counterpart string, at time.Time) (int64, error)
	UpdateText(ctx context.Context, id int64, text string) error
}

type FlaggedRepository interface {
	List(ctx context.Context, q repository.FlaggedQuery) ([]*models.FlaggedEntry, int, error)
	MarkReviewed(ctx context.Context, id int64) error
}

type CriticalWordRepository interface {
	List(ctx context.Context) ([]*models.CriticalWord, error)
	Add(ctx context.Context, word string) error
	Delete(ctx context.Context, id int64) error
}

type FileRepository interface {
	Create(ctx context.Context, f *models.File) error
	GetByID(ctx context.Context, id string) (*models.File, error)
	ListExpired(ctx context.Context, now time.Time, limit int) ([]*models.File, error)
	Delete(ctx context.Context, id string) error
}

type AdminRepository interface {
	Create(ctx context.Context, a *models.AdminUser) error
	GetByUsername(ctx context.Context, username string) (*models.AdminUser, error)
	TouchLastLogin(ctx context.Context, id string, at time.Time) error
	Stats(ctx context.Context, now time.Time) (*models.Stats, error)
}
