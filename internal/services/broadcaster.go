package services

import (
	"context"
	"time"

	"chat-gateway/internal/apperrors"
	"chat-gateway/internal/models"

	"github.com/rs/zerolog/log"
)

const notifyTimeout = 10 * time.Second

// Notifier alerts an identity that has no live connection
type Notifier interface {
	NotifyOffline(ctx context.Context, msg *models.Message) error
}

// FileVerifier checks that a file announced over the gateway was uploaded
// by the sender for the recipient
type FileVerifier interface {
	VerifyShare(ctx context.Context, fileID, from, to string) (*models.File, error)
}

// Broadcaster turns inbound events into persisted messages and live
// deliveries
type Broadcaster struct {
	conns    *ConnectionManager
	gate     *FriendshipGate
	filter   *ModerationFilter
	store    *MessageStore
	notifier Notifier
	files    FileVerifier
}

// NewBroadcaster creates a new broadcaster
func NewBroadcaster(conns *ConnectionManager, gate *FriendshipGate, filter *ModerationFilter, store *MessageStore) *Broadcaster {
	return &Broadcaster{
		conns:  conns,
		gate:   gate,
		filter: filter,
		store:  store,
	}
}

// WithNotifier sets the notifier used when a recipient is offline
func (b *Broadcaster) WithNotifier(n Notifier) *Broadcaster {
	b.notifier = n
	return b
}

// WithFileVerifier makes file notifications require a matching upload
func (b *Broadcaster) WithFileVerifier(v FileVerifier) *Broadcaster {
	b.files = v
	return b
}

// Dispatch handles one inbound event from sender. Any failure is reported
// to the sending connection only, which stays open.
func (b *Broadcaster) Dispatch(ctx context.Context, sender *Connection, ev InboundEvent) error {
	var err error
	switch e := ev.(type) {
	case ChatMessage:
		err = b.SendMessage(ctx, sender, e)
	case FileNotification:
		err = b.NotifyFile(ctx, sender, e)
	default:
		err = apperrors.ErrUnknownEventType
	}

	if err != nil {
		b.Reject(sender, err)
	}
	return err
}

// Reject sends an error frame to one connection
func (b *Broadcaster) Reject(conn *Connection, err error) {
	if apperrors.KindOf(err) == apperrors.KindInternal || apperrors.IsKind(err, apperrors.KindPersistence) {
		log.Error().Err(err).Str("user_id", conn.Identity).Msg("Failed to handle event")
	} else {
		log.Debug().Err(err).Str("user_id", conn.Identity).Msg("Event rejected")
	}
	_ = b.conns.Send(conn, EncodeError(err))
}

// SendMessage validates, authorizes, moderates, persists and delivers a
// chat message, then acknowledges it to the sending connection. Nothing is
// persisted unless every earlier step passed, and nothing is delivered
// unless persistence succeeded.
func (b *Broadcaster) SendMessage(ctx context.Context, sender *Connection, in ChatMessage) error {
	if in.To == "" || in.To == sender.Identity {
		return apperrors.ErrInvalidMessage
	}
	text, err := b.store.ValidateText(in.Text)
	if err != nil {
		return err
	}

	if err := b.gate.CanMessage(ctx, sender.Identity, in.To); err != nil {
		return err
	}

	scan := b.filter.Scan(text)
	if scan.Matched {
		log.Info().
			Str("from", sender.Identity).
			Str("to", in.To).
			Strs("words", scan.Words).
			Msg("Message flagged")
	}

	msg, err := b.store.Append(ctx, sender.Identity, in.To, text, scan.Matched)
	if err != nil {
		return err
	}

	delivered := b.conns.SendToIdentity(in.To, encodeFrame(newMessageFrame(TypeMessage, msg)))
	if delivered == 0 && b.notifier != nil {
		go b.notifyOffline(msg)
	}

	_ = b.conns.Send(sender, encodeFrame(newMessageFrame(TypeSent, msg)))

	log.Debug().
		Int64("message_id", msg.ID).
		Str("from", msg.FromID).
		Str("to", msg.ToID).
		Int("delivered", delivered).
		Bool("flagged", msg.Flagged).
		Msg("Message dispatched")
	return nil
}

// NotifyFile forwards a file announcement to the recipient's live
// connections. Nothing is persisted.
func (b *Broadcaster) NotifyFile(ctx context.Context, sender *Connection, in FileNotification) error {
	if in.To == "" || in.To == sender.Identity || in.FileID == "" {
		return apperrors.ErrInvalidMessage
	}

	if err := b.gate.CanMessage(ctx, sender.Identity, in.To); err != nil {
		return err
	}

	if b.files != nil {
		f, err := b.files.VerifyShare(ctx, in.FileID, sender.Identity, in.To)
		if err != nil {
			return err
		}
		in.FileName = f.FileName
		in.FileSize = f.FileSize
		in.FileType = f.ContentType
	}

	frame := encodeFrame(FileAvailableFrame{
		Type:     TypeFileAvailable,
		From:     sender.Identity,
		FileID:   in.FileID,
		FileName: in.FileName,
		FileSize: in.FileSize,
		FileType: in.FileType,
	})
	delivered := b.conns.SendToIdentity(in.To, frame)

	log.Info().
		Str("from", sender.Identity).
		Str("to", in.To).
		Str("file_id", in.FileID).
		Int("delivered", delivered).
		Msg("File announced")
	return nil
}

func (b *Broadcaster) notifyOffline(msg *models.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
	defer cancel()

	if err := b.notifier.NotifyOffline(ctx, msg); err != nil {
		log.Warn().Err(err).Str("user_id", msg.ToID).Msg("Failed to notify offline recipient")
	}
}
