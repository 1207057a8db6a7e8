package services

import (
	"context"
	"fmt"

	"chat-gateway/internal/models"

	"github.com/rs/zerolog/log"
	"github.com/sideshow/apns2"
	"github.com/sideshow/apns2/payload"
	"github.com/sideshow/apns2/token"
)

// Pusher sends one notification to APNs
type Pusher interface {
	PushWithContext(ctx apns2.Context, n *apns2.Notification) (*apns2.Response, error)
}

// APNSOptions configures token-based APNs authentication
type APNSOptions struct {
	KeyFile    string
	KeyID      string
	TeamID     string
	Topic      string
	Production bool
}

// NewAPNSClient creates an APNs client authenticated with a .p8 key
func NewAPNSClient(opts APNSOptions) (*apns2.Client, error) {
	authKey, err := token.AuthKeyFromFile(opts.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load APNs key: %w", err)
	}

	client := apns2.NewTokenClient(&token.Token{
		AuthKey: authKey,
		KeyID:   opts.KeyID,
		TeamID:  opts.TeamID,
	})
	if opts.Production {
		return client.Production(), nil
	}
	return client.Development(), nil
}

// PushService notifies offline recipients through APNs. The message text
// is not included in the notification.
type PushService struct {
	users  UserRepository
	pusher Pusher
	topic  string
}

// NewPushService creates a new push service
func NewPushService(users UserRepository, pusher Pusher, topic string) *PushService {
	return &PushService{
		users:  users,
		pusher: pusher,
		topic:  topic,
	}
}

// NotifyOffline tells the recipient of msg that a message is waiting.
// Recipients without a push token are skipped.
func (s *PushService) NotifyOffline(ctx context.Context, msg *models.Message) error {
	recipient, err := s.users.GetByID(ctx, msg.ToID)
	if err != nil {
		return err
	}
	if recipient.PushToken == nil || *recipient.PushToken == "" {
		return nil
	}

	title := "New message"
	if sender, err := s.users.GetByID(ctx, msg.FromID); err == nil {
		title = sender.DisplayName
	}

	notification := &apns2.Notification{
		DeviceToken: *recipient.PushToken,
		Topic:       s.topic,
		Payload: payload.NewPayload().
			AlertTitle(title).
			AlertBody("You have a new message").
			Sound("default").
			ThreadID(msg.FromID).
			Custom("from", msg.FromID).
			Custom("message_id", msg.ID),
	}

	res, err := s.pusher.PushWithContext(ctx, notification)
	if err != nil {
		return fmt.Errorf("failed to send push notification: %w", err)
	}
	if res.Sent() {
		log.Debug().Str("user_id", msg.ToID).Str("apns_id", res.ApnsID).Msg("Push notification sent")
		return nil
	}

	switch res.Reason {
	case apns2.ReasonBadDeviceToken, apns2.ReasonUnregistered:
		log.Info().Str("user_id", msg.ToID).Str("reason", res.Reason).Msg("Clearing stale push token")
		if err := s.users.UpdatePushToken(ctx, msg.ToID, nil); err != nil {
			return err
		}
		return nil
	}
	return fmt.Errorf("push notification rejected: %d %s", res.StatusCode, res.Reason)
}
