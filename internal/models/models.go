package models

import "time"

// User is a registered participant. Its ID is the canonical identity.
type User struct {
	ID            string     `json:"id"`
	Phone         string     `json:"phone"`
	DisplayName   string     `json:"display_name"`
	PasswordHash  string     `json:"-"`
	PushToken     *string    `json:"push_token,omitempty"`
	IsBlocked     bool       `json:"is_blocked"`
	BlockedReason *string    `json:"blocked_reason,omitempty"`
	PaidUntil     time.Time  `json:"paid_until"`
	CreatedAt     time.Time  `json:"created_at"`
	LastLogin     *time.Time `json:"last_login,omitempty"`
}

// HasActiveSubscription reports whether the subscription is valid at t
func (u *User) HasActiveSubscription(t time.Time) bool {
	return u.PaidUntil.After(t)
}

// Session binds an opaque token to one identity until ExpiresAt
type Session struct {
	Token      string    `json:"token"`
	UserID     string    `json:"user_id"`
	DeviceKind string    `json:"device_kind"`
	ExpiresAt  time.Time `json:"expires_at"`
	CreatedAt  time.Time `json:"created_at"`
}

// Expired reports whether the session is no longer valid at t
func (s *Session) Expired(t time.Time) bool {
	return !s.ExpiresAt.After(t)
}

// Friendship is stored with UserAID < UserBID
type Friendship struct {
	UserAID   string    `json:"user_a_id"`
	UserBID   string    `json:"user_b_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Contact is a friend as seen from one side of the pair
type Contact struct {
	UserID      string    `json:"user_id"`
	Phone       string    `json:"phone"`
	DisplayName string    `json:"display_name"`
	Since       time.Time `json:"since"`
}

// Message is a persisted direct message
type Message struct {
	ID        int64      `json:"id"`
	FromID    string     `json:"from"`
	ToID      string     `json:"to"`
	Text      string     `json:"text"`
	Flagged   bool       `json:"flagged"`
	CreatedAt time.Time  `json:"created_at"`
	ReadAt    *time.Time `json:"read_at,omitempty"`
}

// FlaggedConversation points at the message that triggered moderation
type FlaggedConversation struct {
	ID        int64     `json:"id"`
	UserAID   string    `json:"user_a_id"`
	UserBID   string    `json:"user_b_id"`
	MessageID int64     `json:"message_id"`
	FlaggedAt time.Time `json:"flagged_at"`
	Reviewed  bool      `json:"reviewed"`
}

// IdentitySummary is the identity metadata shown in the review queue
type IdentitySummary struct {
	ID          string `json:"id"`
	Phone       string `json:"phone"`
	DisplayName string `json:"display_name"`
	IsBlocked   bool   `json:"is_blocked"`
}

// FlaggedEntry is a review-queue row joined with both identities
type FlaggedEntry struct {
	FlaggedConversation
	UserA       IdentitySummary `json:"user_a"`
	UserB       IdentitySummary `json:"user_b"`
	MessageText string          `json:"message_text"`
	PairFlags   int             `json:"pair_flags"`
}

// CriticalWord is a lowercase moderation trigger
type CriticalWord struct {
	ID        int64     `json:"id"`
	Word      string    `json:"word"`
	CreatedAt time.Time `json:"created_at"`
}

// File is a temporary upload shared between two identities
type File struct {
	ID          string    `json:"id"`
	OwnerID     string    `json:"owner_id"`
	RecipientID string    `json:"recipient_id"`
	FileName    string    `json:"file_name"`
	FileSize    int64     `json:"file_size"`
	ContentType string    `json:"content_type"`
	S3Key       string    `json:"-"`
	ExpiresAt   time.Time `json:"expires_at"`
	CreatedAt   time.Time `json:"created_at"`
}

// AdminUser can access the review queue
type AdminUser struct {
	ID           string     `json:"id"`
	Username     string     `json:"username"`
	PasswordHash string     `json:"-"`
	CreatedAt    time.Time  `json:"created_at"`
	LastLogin    *time.Time `json:"last_login,omitempty"`
}

// Stats summarises the system for the admin dashboard
type Stats struct {
	TotalUsers           int `json:"total_users"`
	ActiveUsers          int `json:"active_users"`
	BlockedUsers         int `json:"blocked_users"`
	TotalMessages        int `json:"total_messages"`
	FlaggedConversations int `json:"flagged_conversations"`
	CriticalWords        int `json:"critical_words"`
}

// CanonicalPair orders two identities so a pair has one representation
func CanonicalPair(a, b string) (string, string) {
	if a > b {
		return b, a
	}
	return a, b
}
