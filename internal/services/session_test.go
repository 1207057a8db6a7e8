package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"chat-gateway/internal/apperrors"
	"chat-gateway/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueAndValidate(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a := h.db.AddUser("+10000000001", "Alice")

	s, err := h.sessions.Issue(ctx, a.ID, "ios", 0)
	require.NoError(t, err)
	assert.Len(t, s.Token, 64)
	assert.WithinDuration(t, time.Now().Add(30*24*time.Hour), s.ExpiresAt, time.Minute)

	identity, err := h.sessions.Validate(ctx, s.Token)
	require.NoError(t, err)
	assert.Equal(t, a.ID, identity)
}

func TestIssueGeneratesDistinctTokens(t *testing.T) {
	h := newHarness(t)
	a := h.db.AddUser("+10000000001", "Alice")

	first, err := h.sessions.Issue(context.Background(), a.ID, "web", 0)
	require.NoError(t, err)
	second, err := h.sessions.Issue(context.Background(), a.ID, "web", 0)
	require.NoError(t, err)
	assert.NotEqual(t, first.Token, second.Token)
}

func TestValidateRejectsUnknownAndEmptyTokens(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	for _, token := range []string{"", "deadbeef"} {
		_, err := h.sessions.Validate(ctx, token)
		assert.ErrorIs(t, err, apperrors.ErrInvalidOrExpired)
		assert.True(t, apperrors.IsKind(err, apperrors.KindAuth))
	}
}

func TestValidateRejectsExpiredToken(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a := h.db.AddUser("+10000000001", "Alice")
	now := time.Now()

	h.db.AddSession(&models.Session{Token: "expired", UserID: a.ID, ExpiresAt: now.Add(-time.Second), CreatedAt: now.Add(-time.Hour)})
	h.db.AddSession(&models.Session{Token: "boundary", UserID: a.ID, ExpiresAt: now, CreatedAt: now.Add(-time.Hour)})
	h.sessions.now = func() time.Time { return now }

	_, err := h.sessions.Validate(ctx, "expired")
	assert.ErrorIs(t, err, apperrors.ErrInvalidOrExpired)
	assert.False(t, h.db.HasSession("expired"))

	_, err = h.sessions.Validate(ctx, "boundary")
	assert.ErrorIs(t, err, apperrors.ErrInvalidOrExpired)
}

func TestValidateStoreFailureIsNotAuthError(t *testing.T) {
	h := newHarness(t)
	h.db.FailReads(errors.New("db down"))

	_, err := h.sessions.Validate(context.Background(), "anything")
	assert.True(t, apperrors.IsKind(err, apperrors.KindPersistence))
}

func TestIssueRejectsBlockedIdentity(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a := h.db.AddUser("+10000000001", "Alice")
	require.NoError(t, h.admin.BlockIdentity(ctx, a.ID, "abuse"))

	_, err := h.sessions.Issue(ctx, a.ID, "web", 0)
	assert.ErrorIs(t, err, apperrors.ErrIdentityBlocked)
}

// lookupHookUsers runs afterLookup once GetByID has returned, so a block
// can land between the blocked check and the session insert
type lookupHookUsers struct {
	UserRepository
	afterLookup func(id string)
}

func (u *lookupHookUsers) GetByID(ctx context.Context, id string) (*models.User, error) {
	user, err := u.UserRepository.GetByID(ctx, id)
	if err == nil && u.afterLookup != nil {
		u.afterLookup(id)
	}
	return user, err
}

func TestIssueRacingBlockGetsNoSession(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a := h.db.AddUser("+10000000001", "Alice")

	users := &lookupHookUsers{
		UserRepository: h.db.Users(),
		afterLookup: func(id string) {
			require.NoError(t, h.admin.BlockIdentity(ctx, id, "abuse"))
		},
	}
	sessions := NewSessionRegistry(h.db.Sessions(), users, h.conns, time.Hour)

	s, err := sessions.Issue(ctx, a.ID, "web", 0)
	assert.ErrorIs(t, err, apperrors.ErrIdentityBlocked)
	assert.Nil(t, s)
	assert.True(t, h.db.User(a.ID).IsBlocked)
	assert.Zero(t, h.db.SessionCount(a.ID))
}

func TestIssueUnknownIdentity(t *testing.T) {
	h := newHarness(t)
	_, err := h.sessions.Issue(context.Background(), "ghost", "web", 0)
	assert.True(t, apperrors.IsKind(err, apperrors.KindNotFound))
}

func TestRevokeClosesConnectionsOfThatToken(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a := h.db.AddUser("+10000000001", "Alice")

	s1, err := h.sessions.Issue(ctx, a.ID, "ios", 0)
	require.NoError(t, err)
	s2, err := h.sessions.Issue(ctx, a.ID, "web", 0)
	require.NoError(t, err)

	phone := newTransportFor(h, s1.Token, a.ID)
	browser := newTransportFor(h, s2.Token, a.ID)

	require.NoError(t, h.sessions.Revoke(ctx, s1.Token))

	_, err = h.sessions.Validate(ctx, s1.Token)
	assert.ErrorIs(t, err, apperrors.ErrInvalidOrExpired)

	closed, code, _ := phone.Closed()
	assert.True(t, closed)
	assert.Equal(t, ClosePolicyViolation, code)

	closed, _, _ = browser.Closed()
	assert.False(t, closed)
	assert.True(t, h.conns.IsOnline(a.ID))
}

func TestPurgeExpired(t *testing.T) {
	h := newHarness(t)
	a := h.db.AddUser("+10000000001", "Alice")
	now := time.Now()
	h.db.AddSession(&models.Session{Token: "old", UserID: a.ID, ExpiresAt: now.Add(-time.Hour)})
	h.db.AddSession(&models.Session{Token: "fresh", UserID: a.ID, ExpiresAt: now.Add(time.Hour)})

	require.NoError(t, h.sessions.PurgeExpired(context.Background()))
	assert.False(t, h.db.HasSession("old"))
	assert.True(t, h.db.HasSession("fresh"))
}
