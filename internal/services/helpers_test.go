package services

import (
	"testing"
	"time"

	"chat-gateway/internal/models"
	"chat-gateway/internal/testutil"

	"github.com/google/uuid"
)

type harness struct {
	db          *testutil.DB
	conns       *ConnectionManager
	sessions    *SessionRegistry
	gate        *FriendshipGate
	filter      *ModerationFilter
	store       *MessageStore
	broadcaster *Broadcaster
	admin       *AdminService
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	db := testutil.NewDB()
	conns := NewConnectionManager()
	sessions := NewSessionRegistry(db.Sessions(), db.Users(), conns, 30*24*time.Hour)
	gate := NewFriendshipGate(db.Friendships(), db.Users())
	filter := NewModerationFilter(db.Words())
	store := NewMessageStore(db.Messages(), 5000, 50)

	return &harness{
		db:          db,
		conns:       conns,
		sessions:    sessions,
		gate:        gate,
		filter:      filter,
		store:       store,
		broadcaster: NewBroadcaster(conns, gate, filter, store),
		admin: NewAdminService(
			db.Admins(), db.Users(), db.Flagged(), store, sessions, filter,
			"test-secret", time.Hour,
		),
	}
}

// friends creates two users who are friends
func (h *harness) friends(t *testing.T) (*models.User, *models.User) {
	t.Helper()
	a := h.db.AddUser("+10000000001", "Alice")
	b := h.db.AddUser("+10000000002", "Bob")
	h.db.Befriend(a.ID, b.ID)
	return a, b
}

// connect registers a recording transport for the identity
func (h *harness) connect(identity string) (*Connection, *testutil.Transport) {
	tr := testutil.NewTransport()
	return h.conns.Register("tok-"+uuid.NewString(), identity, tr), tr
}
