package services

import (
	"context"
	"fmt"
	"testing"
	"time"

	"chat-gateway/internal/apperrors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlockIdentityRevokesSessionsAndDisconnects(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a, b := h.friends(t)

	s, err := h.sessions.Issue(ctx, a.ID, "ios", 0)
	require.NoError(t, err)
	live := newTransportFor(h, s.Token, a.ID)
	other := newTransportFor(h, "tok-b", b.ID)

	require.NoError(t, h.admin.BlockIdentity(ctx, a.ID, "harassment"))

	_, err = h.sessions.Issue(ctx, a.ID, "ios", 0)
	assert.ErrorIs(t, err, apperrors.ErrIdentityBlocked)

	_, err = h.sessions.Validate(ctx, s.Token)
	assert.ErrorIs(t, err, apperrors.ErrInvalidOrExpired)
	assert.Zero(t, h.db.SessionCount(a.ID))

	closed, code, reason := live.Closed()
	assert.True(t, closed)
	assert.Equal(t, ClosePolicyViolation, code)
	assert.Equal(t, "Account blocked", reason)
	assert.False(t, h.conns.IsOnline(a.ID))

	closed, _, _ = other.Closed()
	assert.False(t, closed)

	user := h.db.User(a.ID)
	assert.True(t, user.IsBlocked)
	require.NotNil(t, user.BlockedReason)
	assert.Equal(t, "harassment", *user.BlockedReason)
}

func TestBlockIdentityDefaultsReason(t *testing.T) {
	h := newHarness(t)
	a := h.db.AddUser("+10000000001", "Alice")

	require.NoError(t, h.admin.BlockIdentity(context.Background(), a.ID, "  "))
	assert.Equal(t, "Admin blocked", *h.db.User(a.ID).BlockedReason)
}

func TestBlockUnknownIdentity(t *testing.T) {
	h := newHarness(t)
	err := h.admin.BlockIdentity(context.Background(), "ghost", "")
	assert.True(t, apperrors.IsKind(err, apperrors.KindNotFound))
}

func TestBlockIdentitiesBulk(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a, b := h.friends(t)

	n, err := h.admin.BlockIdentities(ctx, []string{a.ID, b.ID, "ghost"}, "spam ring")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	_, err = h.admin.BlockIdentities(ctx, nil, "")
	assert.True(t, apperrors.IsKind(err, apperrors.KindValidation))
}

func TestUnblockIdentityAllowsNewSessions(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a := h.db.AddUser("+10000000001", "Alice")
	require.NoError(t, h.admin.BlockIdentity(ctx, a.ID, ""))

	require.NoError(t, h.admin.UnblockIdentity(ctx, a.ID))
	assert.Nil(t, h.db.User(a.ID).BlockedReason)

	_, err := h.sessions.Issue(ctx, a.ID, "web", 0)
	assert.NoError(t, err)
}

func TestEditMessageOverwritesText(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a, b := h.friends(t)
	connA, _ := h.connect(a.ID)
	require.NoError(t, h.broadcaster.Dispatch(ctx, connA, ChatMessage{To: b.ID, Text: "rude words"}))
	id := h.db.AllMessages()[0].ID

	require.NoError(t, h.admin.EditMessage(ctx, id, "[edited by moderator]"))

	history, err := h.store.History(ctx, a.ID, b.ID, 0, nil)
	require.NoError(t, err)
	assert.Equal(t, "[edited by moderator]", history[0].Text)
}

func TestConversationShowsContextAroundFlag(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a := h.db.AddUser("+10000000001", "Alice")
	b := h.db.AddUser("+10000000002", "Bob")
	c := h.db.AddUser("+10000000003", "Carol")

	for i, text := range []string{"hi", "got the bomb?", "joking"} {
		from, to := a.ID, b.ID
		if i%2 == 1 {
			from, to = b.ID, a.ID
		}
		_, err := h.store.Append(ctx, from, to, text, i == 1)
		require.NoError(t, err)
	}
	_, err := h.store.Append(ctx, a.ID, c.ID, "other chat", false)
	require.NoError(t, err)

	conv, err := h.admin.Conversation(ctx, b.ID, a.ID, 0, nil)
	require.NoError(t, err)
	assert.Equal(t, "Bob", conv.UserA.DisplayName)
	assert.Equal(t, "Alice", conv.UserB.DisplayName)
	require.Len(t, conv.Messages, 3)
	assert.Equal(t, "hi", conv.Messages[0].Text)
	assert.True(t, conv.Messages[1].Flagged)

	require.NoError(t, h.admin.EditMessage(ctx, conv.Messages[2].ID, "[removed]"))

	older, err := h.admin.Conversation(ctx, a.ID, b.ID, 1, &conv.Messages[2].ID)
	require.NoError(t, err)
	require.Len(t, older.Messages, 1)
	assert.Equal(t, "got the bomb?", older.Messages[0].Text)

	latest, err := h.admin.Conversation(ctx, a.ID, b.ID, 1, nil)
	require.NoError(t, err)
	assert.Equal(t, "[removed]", latest.Messages[0].Text)
}

func TestConversationValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a := h.db.AddUser("+10000000001", "Alice")

	_, err := h.admin.Conversation(ctx, a.ID, a.ID, 0, nil)
	assert.True(t, apperrors.IsKind(err, apperrors.KindValidation))

	_, err = h.admin.Conversation(ctx, a.ID, "ghost", 0, nil)
	assert.True(t, apperrors.IsKind(err, apperrors.KindNotFound))
}

func TestListFlaggedSortsAndPages(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.filter.AddWord(ctx, "bomb"))

	a := h.db.AddUser("+10000000001", "Alice")
	b := h.db.AddUser("+10000000002", "Bob")
	c := h.db.AddUser("+10000000003", "Carol")
	h.db.Befriend(a.ID, b.ID)
	h.db.Befriend(a.ID, c.ID)
	connA, _ := h.connect(a.ID)

	for i := 0; i < 3; i++ {
		require.NoError(t, h.broadcaster.Dispatch(ctx, connA, ChatMessage{To: b.ID, Text: fmt.Sprintf("bomb %d", i)}))
	}
	require.NoError(t, h.broadcaster.Dispatch(ctx, connA, ChatMessage{To: c.ID, Text: "bomb latest"}))

	byVolume, err := h.admin.ListFlagged(ctx, FlaggedFilter{Sort: SortVolume}, Page{})
	require.NoError(t, err)
	require.Len(t, byVolume.Entries, 4)
	assert.Equal(t, 3, byVolume.Entries[0].PairFlags)
	assert.Equal(t, "bomb 2", byVolume.Entries[0].MessageText)
	assert.Equal(t, "bomb latest", byVolume.Entries[3].MessageText)

	byRecent, err := h.admin.ListFlagged(ctx, FlaggedFilter{Sort: SortRecent}, Page{})
	require.NoError(t, err)
	assert.Equal(t, "bomb latest", byRecent.Entries[0].MessageText)

	page, err := h.admin.ListFlagged(ctx, FlaggedFilter{}, Page{Number: 2, Size: 3})
	require.NoError(t, err)
	assert.Len(t, page.Entries, 1)
	assert.Equal(t, 4, page.Total)
	assert.Equal(t, 2, page.TotalPages)

	search, err := h.admin.ListFlagged(ctx, FlaggedFilter{Search: "carol"}, Page{})
	require.NoError(t, err)
	assert.Len(t, search.Entries, 1)
	assert.Equal(t, "Carol", otherSide(search.Entries[0].UserA.DisplayName, search.Entries[0].UserB.DisplayName, "Alice"))

	byUser, err := h.admin.ListFlagged(ctx, FlaggedFilter{Identity: b.ID}, Page{})
	require.NoError(t, err)
	assert.Len(t, byUser.Entries, 3)
}

func otherSide(a, b, self string) string {
	if a == self {
		return b
	}
	return a
}

func TestListFlaggedClampsPageSize(t *testing.T) {
	h := newHarness(t)
	page, err := h.admin.ListFlagged(context.Background(), FlaggedFilter{}, Page{Number: -1, Size: 1000})
	require.NoError(t, err)
	assert.Equal(t, 1, page.Page)
	assert.Equal(t, 100, page.PageSize)
	assert.NotNil(t, page.Entries)
}

func TestMarkReviewedUnknown(t *testing.T) {
	h := newHarness(t)
	err := h.admin.MarkReviewed(context.Background(), 42)
	assert.True(t, apperrors.IsKind(err, apperrors.KindNotFound))
}

func TestSubscriptionExtendAndRevoke(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a := h.db.AddUser("+10000000001", "Alice")
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	h.admin.now = func() time.Time { return now }

	require.NoError(t, h.admin.RevokeSubscription(ctx, a.ID))
	assert.False(t, h.db.User(a.ID).HasActiveSubscription(now))

	paidUntil, err := h.admin.ExtendSubscription(ctx, a.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, now.AddDate(0, 2, 0), paidUntil)

	paidUntil, err = h.admin.ExtendSubscription(ctx, a.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, now.AddDate(0, 3, 0), paidUntil)

	_, err = h.admin.ExtendSubscription(ctx, a.ID, 0)
	assert.True(t, apperrors.IsKind(err, apperrors.KindValidation))
}

func TestAdminLoginAndToken(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	admin, err := h.admin.CreateAdmin(ctx, "root", "s3cret-pass")
	require.NoError(t, err)

	_, err = h.admin.Login(ctx, "root", "wrong")
	assert.ErrorIs(t, err, apperrors.ErrBadCredentials)
	_, err = h.admin.Login(ctx, "nobody", "s3cret-pass")
	assert.ErrorIs(t, err, apperrors.ErrBadCredentials)

	token, err := h.admin.Login(ctx, "root", "s3cret-pass")
	require.NoError(t, err)

	adminID, err := h.admin.ValidateJWT(token)
	require.NoError(t, err)
	assert.Equal(t, admin.ID, adminID)

	_, err = h.admin.ValidateJWT(token + "x")
	assert.True(t, apperrors.IsKind(err, apperrors.KindAuth))

	_, err = h.admin.CreateAdmin(ctx, "root", "another")
	assert.True(t, apperrors.IsKind(err, apperrors.KindConflict))
}

func TestAdminTokenExpires(t *testing.T) {
	h := newHarness(t)
	h.admin.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }

	token, err := h.admin.GenerateJWT("admin-1")
	require.NoError(t, err)

	_, err = h.admin.ValidateJWT(token)
	assert.True(t, apperrors.IsKind(err, apperrors.KindAuth))
}

func TestStats(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.filter.AddWord(ctx, "bomb"))
	a, b := h.friends(t)
	connA, _ := h.connect(a.ID)
	require.NoError(t, h.broadcaster.Dispatch(ctx, connA, ChatMessage{To: b.ID, Text: "bomb"}))
	require.NoError(t, h.broadcaster.Dispatch(ctx, connA, ChatMessage{To: b.ID, Text: "fine"}))
	require.NoError(t, h.admin.BlockIdentity(ctx, b.ID, ""))

	stats, err := h.admin.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalUsers)
	assert.Equal(t, 1, stats.BlockedUsers)
	assert.Equal(t, 2, stats.TotalMessages)
	assert.Equal(t, 1, stats.FlaggedConversations)
	assert.Equal(t, 1, stats.CriticalWords)
}
