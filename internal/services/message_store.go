package services

import (
	"context"
	"hash/fnv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"chat-gateway/internal/apperrors"
	"chat-gateway/internal/models"
)

const (
	maxHistoryLimit = 200
	pairLockStripes = 64
)

// MessageStore is the durable message log
type MessageStore struct {
	repo         MessageRepository
	maxLength    int
	defaultLimit int
	now          func() time.Time

	clockMu sync.Mutex
	last    time.Time

	// Appends for one pair are serialized so ids and timestamps agree
	pairLocks [pairLockStripes]sync.Mutex
}

// NewMessageStore creates a message store. maxLength is counted in code points.
func NewMessageStore(repo MessageRepository, maxLength, defaultLimit int) *MessageStore {
	return &MessageStore{
		repo:         repo,
		maxLength:    maxLength,
		defaultLimit: defaultLimit,
		now:          time.Now,
	}
}

// ValidateText trims text and checks it is non-empty and within the limit
func (s *MessageStore) ValidateText(text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", apperrors.ErrInvalidMessage
	}
	if utf8.RuneCountInString(text) > s.maxLength {
		return "", apperrors.ErrMessageTooLong
	}
	return text, nil
}

// Append persists a message. When flagged, the flagged conversation row is
// written in the same transaction.
func (s *MessageStore) Append(ctx context.Context, from, to, text string, flagged bool) (*models.Message, error) {
	lock := s.pairLock(from, to)
	lock.Lock()
	defer lock.Unlock()

	msg := &models.Message{
		FromID:    from,
		ToID:      to,
		Text:      text,
		Flagged:   flagged,
		CreatedAt: s.timestamp(),
	}
	if err := s.repo.Create(ctx, msg); err != nil {
		return nil, apperrors.Persistence(err)
	}
	return msg, nil
}

// History returns messages between a and b, oldest first. before is an
// exclusive message id cursor for fetching older pages.
func (s *MessageStore) History(ctx context.Context, a, b string, limit int, before *int64) ([]*models.Message, error) {
	if limit <= 0 {
		limit = s.defaultLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	messages, err := s.repo.History(ctx, a, b, limit, before)
	if err != nil {
		return nil, apperrors.Unavailable(err)
	}
	if messages == nil {
		messages = []*models.Message{}
	}
	return messages, nil
}

// MarkRead marks every unread message from counterpart to identity as read
func (s *MessageStore) MarkRead(ctx context.Context, identity, counterpart string) (int64, error) {
	n, err := s.repo.MarkRead(ctx, identity, counterpart, s.now().UTC())
	if err != nil {
		return 0, apperrors.Unavailable(err)
	}
	return n, nil
}

// EditText overwrites a message's text. The previous text is not kept.
func (s *MessageStore) EditText(ctx context.Context, id int64, text string) error {
	text, err := s.ValidateText(text)
	if err != nil {
		return err
	}
	if err := s.repo.UpdateText(ctx, id, text); err != nil {
		if apperrors.IsKind(err, apperrors.KindNotFound) {
			return err
		}
		return apperrors.Unavailable(err)
	}
	return nil
}

// timestamp returns a strictly increasing time at microsecond precision,
// which is what the database stores
func (s *MessageStore) timestamp() time.Time {
	s.clockMu.Lock()
	defer s.clockMu.Unlock()

	t := s.now().UTC().Truncate(time.Microsecond)
	if !t.After(s.last) {
		t = s.last.Add(time.Microsecond)
	}
	s.last = t
	return t
}

func (s *MessageStore) pairLock(a, b string) *sync.Mutex {
	a, b = models.CanonicalPair(a, b)
	h := fnv.New32a()
	h.Write([]byte(a))
	h.Write([]byte{0})
	h.Write([]byte(b))
	return &s.pairLocks[h.Sum32()%pairLockStripes]
}
