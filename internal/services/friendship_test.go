package services

import (
	"context"
	"testing"

	"chat-gateway/internal/apperrors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanMessage(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a, b := h.friends(t)
	c := h.db.AddUser("+10000000003", "Carol")

	assert.NoError(t, h.gate.CanMessage(ctx, a.ID, b.ID))
	assert.NoError(t, h.gate.CanMessage(ctx, b.ID, a.ID))

	assert.ErrorIs(t, h.gate.CanMessage(ctx, a.ID, c.ID), apperrors.ErrNotFriends)
	assert.ErrorIs(t, h.gate.CanMessage(ctx, a.ID, a.ID), apperrors.ErrNotFriends)
	assert.ErrorIs(t, h.gate.CanMessage(ctx, a.ID, "ghost"), apperrors.ErrNotFriends)
}

func TestAddFriend(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a := h.db.AddUser("+10000000001", "Alice")
	b := h.db.AddUser("+10000000002", "Bob")

	contact, err := h.gate.AddFriend(ctx, a.ID, "+10000000002")
	require.NoError(t, err)
	assert.Equal(t, b.ID, contact.UserID)
	assert.Equal(t, "Bob", contact.DisplayName)
	assert.NoError(t, h.gate.CanMessage(ctx, b.ID, a.ID))

	_, err = h.gate.AddFriend(ctx, b.ID, "+10000000001")
	require.NoError(t, err)

	friends, err := h.gate.ListFriends(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, friends, 1)
	assert.Equal(t, b.ID, friends[0].UserID)
}

func TestAddFriendRejectsSelfAndUnknown(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a := h.db.AddUser("+10000000001", "Alice")

	_, err := h.gate.AddFriend(ctx, a.ID, "+10000000001")
	assert.True(t, apperrors.IsKind(err, apperrors.KindValidation))

	_, err = h.gate.AddFriend(ctx, a.ID, "+19999999999")
	assert.True(t, apperrors.IsKind(err, apperrors.KindNotFound))
}

func TestRemoveFriend(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a, b := h.friends(t)

	require.NoError(t, h.gate.RemoveFriend(ctx, b.ID, a.ID))
	assert.ErrorIs(t, h.gate.CanMessage(ctx, a.ID, b.ID), apperrors.ErrNotFriends)

	err := h.gate.RemoveFriend(ctx, a.ID, b.ID)
	assert.True(t, apperrors.IsKind(err, apperrors.KindNotFound))

	friends, err := h.gate.ListFriends(ctx, a.ID)
	require.NoError(t, err)
	assert.Empty(t, friends)
}
