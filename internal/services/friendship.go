package services

import (
	"context"
	"time"

	"chat-gateway/internal/apperrors"
	"chat-gateway/internal/models"

	"github.com/rs/zerolog/log"
)

// FriendshipGate decides whether two identities may exchange messages and
// maintains the friendship relation. A canonical pair row authorizes both
// directions.
type FriendshipGate struct {
	friends FriendshipRepository
	users   UserRepository
	now     func() time.Time
}

// NewFriendshipGate creates a new friendship gate
func NewFriendshipGate(friends FriendshipRepository, users UserRepository) *FriendshipGate {
	return &FriendshipGate{
		friends: friends,
		users:   users,
		now:     time.Now,
	}
}

// CanMessage returns nil when a and b are friends and neither is blocked.
// Otherwise it returns ErrNotFriends, without revealing whether b exists.
func (g *FriendshipGate) CanMessage(ctx context.Context, a, b string) error {
	if a == b {
		return apperrors.ErrNotFriends
	}

	userA, userB := models.CanonicalPair(a, b)
	ok, err := g.friends.Authorized(ctx, userA, userB)
	if err != nil {
		return apperrors.Unavailable(err)
	}
	if !ok {
		return apperrors.ErrNotFriends
	}
	return nil
}

// AddFriend creates the friendship between identity and the user owning
// phone. Adding an existing friend succeeds without changes.
func (g *FriendshipGate) AddFriend(ctx context.Context, identity, phone string) (*models.Contact, error) {
	friend, err := g.users.GetByPhone(ctx, phone)
	if err != nil {
		return nil, err
	}
	if friend.ID == identity {
		return nil, apperrors.Validation("cannot add yourself")
	}

	userA, userB := models.CanonicalPair(identity, friend.ID)
	f := &models.Friendship{
		UserAID:   userA,
		UserBID:   userB,
		CreatedAt: g.now(),
	}
	if err := g.friends.Create(ctx, f); err != nil {
		return nil, apperrors.Unavailable(err)
	}

	log.Info().Str("user_a_id", userA).Str("user_b_id", userB).Msg("Friendship created")

	return &models.Contact{
		UserID:      friend.ID,
		Phone:       friend.Phone,
		DisplayName: friend.DisplayName,
		Since:       f.CreatedAt,
	}, nil
}

// RemoveFriend deletes the friendship. The next message between the pair
// is rejected.
func (g *FriendshipGate) RemoveFriend(ctx context.Context, identity, friendID string) error {
	userA, userB := models.CanonicalPair(identity, friendID)
	if err := g.friends.Delete(ctx, userA, userB); err != nil {
		return err
	}
	log.Info().Str("user_a_id", userA).Str("user_b_id", userB).Msg("Friendship removed")
	return nil
}

// ListFriends returns the contacts of an identity
func (g *FriendshipGate) ListFriends(ctx context.Context, identity string) ([]*models.Contact, error) {
	contacts, err := g.friends.ListContacts(ctx, identity)
	if err != nil {
		return nil, apperrors.Unavailable(err)
	}
	return contacts, nil
}
