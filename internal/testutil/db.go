// Package testutil provides in-memory stores and transports for tests.
package testutil

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"chat-gateway/internal/apperrors"
	"chat-gateway/internal/models"
	"chat-gateway/internal/repository"

	"github.com/google/uuid"
)

// DB is an in-memory stand-in for the PostgreSQL schema. The typed
// accessors (Users, Sessions, ...) satisfy the service repository
// interfaces.
type DB struct {
	mu sync.Mutex

	users       map[string]*models.User
	sessions    map[string]*models.Session
	friendships map[[2]string]*models.Friendship
	messages    []*models.Message
	flags       []*models.FlaggedConversation
	words       []*models.CriticalWord
	files       map[string]*models.File
	admins      map[string]*models.AdminUser

	nextMessageID int64
	nextFlagID    int64
	nextWordID    int64

	// Injected failures
	messageErr error
	flagErr    error
	storeErr   error
}

// NewDB creates an empty database
func NewDB() *DB {
	return &DB{
		users:       make(map[string]*models.User),
		sessions:    make(map[string]*models.Session),
		friendships: make(map[[2]string]*models.Friendship),
		files:       make(map[string]*models.File),
		admins:      make(map[string]*models.AdminUser),
	}
}

// FailMessageInsert makes message inserts fail with err. nil restores them.
func (db *DB) FailMessageInsert(err error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.messageErr = err
}

// FailFlagInsert makes the flagged conversation insert fail with err,
// which rolls back the message insert
func (db *DB) FailFlagInsert(err error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.flagErr = err
}

// FailReads makes friendship checks and session lookups fail with err
func (db *DB) FailReads(err error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.storeErr = err
}

// AddUser inserts an active, unblocked user
func (db *DB) AddUser(phone, displayName string) *models.User {
	now := time.Now()
	u := &models.User{
		ID:          uuid.New().String(),
		Phone:       phone,
		DisplayName: displayName,
		PaidUntil:   now.Add(30 * 24 * time.Hour),
		CreatedAt:   now,
	}
	db.mu.Lock()
	db.users[u.ID] = u
	db.mu.Unlock()
	return copyUser(u)
}

// User returns a snapshot of a user
func (db *DB) User(id string) *models.User {
	db.mu.Lock()
	defer db.mu.Unlock()
	u, ok := db.users[id]
	if !ok {
		return nil
	}
	return copyUser(u)
}

// Befriend stores the canonical pair for a and b
func (db *DB) Befriend(a, b string) {
	a, b = models.CanonicalPair(a, b)
	db.mu.Lock()
	db.friendships[[2]string{a, b}] = &models.Friendship{UserAID: a, UserBID: b, CreatedAt: time.Now()}
	db.mu.Unlock()
}

// AllMessages returns a snapshot of every stored message in id order
func (db *DB) AllMessages() []*models.Message {
	db.mu.Lock()
	defer db.mu.Unlock()
	out := make([]*models.Message, 0, len(db.messages))
	for _, m := range db.messages {
		out = append(out, copyMessage(m))
	}
	return out
}

// AllFlags returns a snapshot of every flagged conversation
func (db *DB) AllFlags() []*models.FlaggedConversation {
	db.mu.Lock()
	defer db.mu.Unlock()
	out := make([]*models.FlaggedConversation, 0, len(db.flags))
	for _, f := range db.flags {
		c := *f
		out = append(out, &c)
	}
	return out
}

// SessionCount returns the number of stored sessions of a user
func (db *DB) SessionCount(userID string) int {
	db.mu.Lock()
	defer db.mu.Unlock()
	n := 0
	for _, s := range db.sessions {
		if s.UserID == userID {
			n++
		}
	}
	return n
}

// AddSession stores a session directly
func (db *DB) AddSession(s *models.Session) {
	c := *s
	db.mu.Lock()
	db.sessions[s.Token] = &c
	db.mu.Unlock()
}

// HasSession reports whether a token is stored
func (db *DB) HasSession(token string) bool {
	db.mu.Lock()
	defer db.mu.Unlock()
	_, ok := db.sessions[token]
	return ok
}

// HasFile reports whether a file record is stored
func (db *DB) HasFile(id string) bool {
	db.mu.Lock()
	defer db.mu.Unlock()
	_, ok := db.files[id]
	return ok
}

// AddFile stores a file record directly
func (db *DB) AddFile(f *models.File) {
	c := *f
	db.mu.Lock()
	db.files[f.ID] = &c
	db.mu.Unlock()
}

func (db *DB) Users() *Users             { return &Users{db} }
func (db *DB) Sessions() *Sessions       { return &Sessions{db} }
func (db *DB) Friendships() *Friendships { return &Friendships{db} }
func (db *DB) Messages() *Messages       { return &Messages{db} }
func (db *DB) Flagged() *Flagged         { return &Flagged{db} }
func (db *DB) Words() *Words             { return &Words{db} }
func (db *DB) Files() *Files             { return &Files{db} }
func (db *DB) Admins() *Admins           { return &Admins{db} }

func copyUser(u *models.User) *models.User {
	c := *u
	return &c
}

func copyMessage(m *models.Message) *models.Message {
	c := *m
	return &c
}

func notFound(what string) error {
	return fmt.Errorf("%s not found: %w", what, apperrors.ErrNotFound)
}

// Users implements the user repository
type Users struct{ db *DB }

func (r *Users) Create(ctx context.Context, user *models.User) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, u := range r.db.users {
		if u.Phone == user.Phone {
			return fmt.Errorf("phone already registered: %w", apperrors.ErrAlreadyExists)
		}
	}
	r.db.users[user.ID] = copyUser(user)
	return nil
}

func (r *Users) GetByID(ctx context.Context, id string) (*models.User, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	u, ok := r.db.users[id]
	if !ok {
		return nil, notFound("user")
	}
	return copyUser(u), nil
}

func (r *Users) GetByPhone(ctx context.Context, phone string) (*models.User, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, u := range r.db.users {
		if u.Phone == phone {
			return copyUser(u), nil
		}
	}
	return nil, notFound("user")
}

func (r *Users) UpdatePushToken(ctx context.Context, userID string, pushToken *string) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if u, ok := r.db.users[userID]; ok {
		u.PushToken = pushToken
	}
	return nil
}

func (r *Users) TouchLastLogin(ctx context.Context, userID string, at time.Time) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if u, ok := r.db.users[userID]; ok {
		u.LastLogin = &at
	}
	return nil
}

func (r *Users) SetBlocked(ctx context.Context, userIDs []string, reason string) (int64, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var n int64
	for _, id := range userIDs {
		if u, ok := r.db.users[id]; ok {
			u.IsBlocked = true
			reason := reason
			u.BlockedReason = &reason
			n++
		}
	}
	return n, nil
}

func (r *Users) Unblock(ctx context.Context, userID string) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	u, ok := r.db.users[userID]
	if !ok {
		return notFound("user")
	}
	u.IsBlocked = false
	u.BlockedReason = nil
	return nil
}

func (r *Users) SetPaidUntil(ctx context.Context, userID string, paidUntil time.Time) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	u, ok := r.db.users[userID]
	if !ok {
		return notFound("user")
	}
	u.PaidUntil = paidUntil
	return nil
}

// Sessions implements the session repository
type Sessions struct{ db *DB }

func (r *Sessions) Create(ctx context.Context, s *models.Session) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if u, ok := r.db.users[s.UserID]; !ok || u.IsBlocked {
		return apperrors.ErrIdentityBlocked
	}
	c := *s
	r.db.sessions[s.Token] = &c
	return nil
}

func (r *Sessions) GetByToken(ctx context.Context, token string) (*models.Session, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if r.db.storeErr != nil {
		return nil, r.db.storeErr
	}
	s, ok := r.db.sessions[token]
	if !ok {
		return nil, notFound("session")
	}
	c := *s
	return &c, nil
}

func (r *Sessions) Delete(ctx context.Context, token string) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	delete(r.db.sessions, token)
	return nil
}

func (r *Sessions) DeleteByUser(ctx context.Context, userID string) ([]string, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var tokens []string
	for token, s := range r.db.sessions {
		if s.UserID == userID {
			tokens = append(tokens, token)
			delete(r.db.sessions, token)
		}
	}
	return tokens, nil
}

func (r *Sessions) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var n int64
	for token, s := range r.db.sessions {
		if s.Expired(now) {
			delete(r.db.sessions, token)
			n++
		}
	}
	return n, nil
}

// Friendships implements the friendship repository
type Friendships struct{ db *DB }

func (r *Friendships) Create(ctx context.Context, f *models.Friendship) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	key := [2]string{f.UserAID, f.UserBID}
	if _, ok := r.db.friendships[key]; !ok {
		c := *f
		r.db.friendships[key] = &c
	}
	return nil
}

func (r *Friendships) Delete(ctx context.Context, userAID, userBID string) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	key := [2]string{userAID, userBID}
	if _, ok := r.db.friendships[key]; !ok {
		return notFound("friendship")
	}
	delete(r.db.friendships, key)
	return nil
}

func (r *Friendships) Authorized(ctx context.Context, userAID, userBID string) (bool, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if r.db.storeErr != nil {
		return false, r.db.storeErr
	}
	if _, ok := r.db.friendships[[2]string{userAID, userBID}]; !ok {
		return false, nil
	}
	ua, okA := r.db.users[userAID]
	ub, okB := r.db.users[userBID]
	return okA && okB && !ua.IsBlocked && !ub.IsBlocked, nil
}

func (r *Friendships) ListContacts(ctx context.Context, userID string) ([]*models.Contact, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var contacts []*models.Contact
	for key, f := range r.db.friendships {
		other := ""
		switch userID {
		case key[0]:
			other = key[1]
		case key[1]:
			other = key[0]
		default:
			continue
		}
		u, ok := r.db.users[other]
		if !ok {
			continue
		}
		contacts = append(contacts, &models.Contact{
			UserID:      u.ID,
			Phone:       u.Phone,
			DisplayName: u.DisplayName,
			Since:       f.CreatedAt,
		})
	}
	sort.Slice(contacts, func(i, j int) bool {
		if contacts[i].DisplayName != contacts[j].DisplayName {
			return contacts[i].DisplayName < contacts[j].DisplayName
		}
		return contacts[i].Phone < contacts[j].Phone
	})
	return contacts, nil
}

// Messages implements the message repository. Create stores the message
// and its flag together or not at all.
type Messages struct{ db *DB }

func (r *Messages) Create(ctx context.Context, msg *models.Message) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if r.db.messageErr != nil {
		return fmt.Errorf("failed to create message: %w", r.db.messageErr)
	}
	if msg.Flagged && r.db.flagErr != nil {
		return fmt.Errorf("failed to flag conversation: %w", r.db.flagErr)
	}

	r.db.nextMessageID++
	msg.ID = r.db.nextMessageID
	r.db.messages = append(r.db.messages, copyMessage(msg))

	if msg.Flagged {
		a, b := models.CanonicalPair(msg.FromID, msg.ToID)
		r.db.nextFlagID++
		r.db.flags = append(r.db.flags, &models.FlaggedConversation{
			ID:        r.db.nextFlagID,
			UserAID:   a,
			UserBID:   b,
			MessageID: msg.ID,
			FlaggedAt: msg.CreatedAt,
		})
	}
	return nil
}

func (r *Messages) GetByID(ctx context.Context, id int64) (*models.Message, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, m := range r.db.messages {
		if m.ID == id {
			return copyMessage(m), nil
		}
	}
	return nil, notFound("message")
}

func (r *Messages) History(ctx context.Context, userA, userB string, limit int, before *int64) ([]*models.Message, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var out []*models.Message
	for i := len(r.db.messages) - 1; i >= 0 && len(out) < limit; i-- {
		m := r.db.messages[i]
		if before != nil && m.ID >= *before {
			continue
		}
		if (m.FromID == userA && m.ToID == userB) || (m.FromID == userB && m.ToID == userA) {
			out = append(out, copyMessage(m))
		}
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (r *Messages) MarkRead(ctx context.Context, userID, counterpart string, at time.Time) (int64, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var n int64
	for _, m := range r.db.messages {
		if m.ToID == userID && m.FromID == counterpart && m.ReadAt == nil {
			readAt := at
			m.ReadAt = &readAt
			n++
		}
	}
	return n, nil
}

func (r *Messages) UpdateText(ctx context.Context, id int64, text string) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, m := range r.db.messages {
		if m.ID == id {
			m.Text = text
			return nil
		}
	}
	return notFound("message")
}

// Flagged implements the review queue repository
type Flagged struct{ db *DB }

func (r *Flagged) List(ctx context.Context, q repository.FlaggedQuery) ([]*models.FlaggedEntry, int, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	pairFlags := make(map[[2]string]int)
	var matched []*models.FlaggedEntry
	for _, f := range r.db.flags {
		if f.Reviewed != q.Reviewed {
			continue
		}
		if q.UserID != "" && f.UserAID != q.UserID && f.UserBID != q.UserID {
			continue
		}
		ua, ub := r.db.users[f.UserAID], r.db.users[f.UserBID]
		if ua == nil || ub == nil {
			continue
		}
		if q.Search != "" && !matchesSearch(q.Search, ua, ub) {
			continue
		}

		e := &models.FlaggedEntry{
			FlaggedConversation: *f,
			UserA:               summary(ua),
			UserB:               summary(ub),
		}
		for _, m := range r.db.messages {
			if m.ID == f.MessageID {
				e.MessageText = m.Text
			}
		}
		pairFlags[[2]string{f.UserAID, f.UserBID}]++
		matched = append(matched, e)
	}
	for _, e := range matched {
		e.PairFlags = pairFlags[[2]string{e.UserAID, e.UserBID}]
	}

	sort.SliceStable(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		if q.SortByVolume && a.PairFlags != b.PairFlags {
			return a.PairFlags > b.PairFlags
		}
		if !a.FlaggedAt.Equal(b.FlaggedAt) {
			return a.FlaggedAt.After(b.FlaggedAt)
		}
		return a.ID > b.ID
	})

	total := len(matched)
	start := min(q.Offset, total)
	end := min(start+q.Limit, total)
	return matched[start:end], total, nil
}

func (r *Flagged) MarkReviewed(ctx context.Context, id int64) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, f := range r.db.flags {
		if f.ID == id {
			f.Reviewed = true
			return nil
		}
	}
	return notFound("flagged conversation")
}

func matchesSearch(search string, users ...*models.User) bool {
	search = strings.ToLower(search)
	for _, u := range users {
		if strings.Contains(strings.ToLower(u.Phone), search) ||
			strings.Contains(strings.ToLower(u.DisplayName), search) {
			return true
		}
	}
	return false
}

func summary(u *models.User) models.IdentitySummary {
	return models.IdentitySummary{
		ID:          u.ID,
		Phone:       u.Phone,
		DisplayName: u.DisplayName,
		IsBlocked:   u.IsBlocked,
	}
}

// Words implements the critical word repository
type Words struct{ db *DB }

func (r *Words) List(ctx context.Context) ([]*models.CriticalWord, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	out := make([]*models.CriticalWord, 0, len(r.db.words))
	for _, w := range r.db.words {
		c := *w
		out = append(out, &c)
	}
	return out, nil
}

func (r *Words) Add(ctx context.Context, word string) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, w := range r.db.words {
		if w.Word == word {
			return nil
		}
	}
	r.db.nextWordID++
	r.db.words = append(r.db.words, &models.CriticalWord{ID: r.db.nextWordID, Word: word, CreatedAt: time.Now()})
	return nil
}

func (r *Words) Delete(ctx context.Context, id int64) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for i, w := range r.db.words {
		if w.ID == id {
			r.db.words = append(r.db.words[:i], r.db.words[i+1:]...)
			return nil
		}
	}
	return notFound("critical word")
}

// Files implements the file repository
type Files struct{ db *DB }

func (r *Files) Create(ctx context.Context, f *models.File) error {
	r.db.AddFile(f)
	return nil
}

func (r *Files) GetByID(ctx context.Context, id string) (*models.File, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	f, ok := r.db.files[id]
	if !ok {
		return nil, notFound("file")
	}
	c := *f
	return &c, nil
}

func (r *Files) ListExpired(ctx context.Context, now time.Time, limit int) ([]*models.File, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var out []*models.File
	for _, f := range r.db.files {
		if f.ExpiresAt.Before(now) && len(out) < limit {
			c := *f
			out = append(out, &c)
		}
	}
	return out, nil
}

func (r *Files) Delete(ctx context.Context, id string) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	delete(r.db.files, id)
	return nil
}

// Admins implements the admin repository
type Admins struct{ db *DB }

func (r *Admins) Create(ctx context.Context, a *models.AdminUser) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if _, ok := r.db.admins[a.Username]; ok {
		return fmt.Errorf("admin already exists: %w", apperrors.ErrAlreadyExists)
	}
	c := *a
	r.db.admins[a.Username] = &c
	return nil
}

func (r *Admins) GetByUsername(ctx context.Context, username string) (*models.AdminUser, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	a, ok := r.db.admins[username]
	if !ok {
		return nil, notFound("admin")
	}
	c := *a
	return &c, nil
}

func (r *Admins) TouchLastLogin(ctx context.Context, id string, at time.Time) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, a := range r.db.admins {
		if a.ID == id {
			a.LastLogin = &at
		}
	}
	return nil
}

func (r *Admins) Stats(ctx context.Context, now time.Time) (*models.Stats, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	s := &models.Stats{
		TotalUsers:    len(r.db.users),
		TotalMessages: len(r.db.messages),
		CriticalWords: len(r.db.words),
	}
	for _, u := range r.db.users {
		if u.IsBlocked {
			s.BlockedUsers++
		}
		if u.HasActiveSubscription(now) {
			s.ActiveUsers++
		}
	}
	for _, f := range r.db.flags {
		if !f.Reviewed {
			s.FlaggedConversations++
		}
	}
	return s, nil
}
