package services

import (
	"encoding/json"

	"chat-gateway/internal/apperrors"
	"chat-gateway/internal/models"
)

// Frame types exchanged over the gateway
const (
	TypeMessage          = "message"
	TypeFileNotification = "file_notification"
	TypeSent             = "sent"
	TypeError            = "error"
	TypeFileAvailable    = "file_available"
)

// InboundEvent is a decoded client frame. The set of implementations is
// closed: ChatMessage and FileNotification.
type InboundEvent interface {
	inboundType() string
}

// ChatMessage is a text message from the client
type ChatMessage struct {
	To   string `json:"to"`
	Text string `json:"text"`
}

// FileNotification announces an uploaded file to a contact
type FileNotification struct {
	To       string `json:"to"`
	FileID   string `json:"fileId"`
	FileName string `json:"fileName"`
	FileSize int64  `json:"fileSize"`
	FileType string `json:"fileType"`
}

func (ChatMessage) inboundType() string      { return TypeMessage }
func (FileNotification) inboundType() string { return TypeFileNotification }

// DecodeInbound parses a client frame. Unknown types are rejected.
func DecodeInbound(data []byte) (InboundEvent, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, apperrors.ErrMalformedEnvelope
	}

	switch head.Type {
	case TypeMessage:
		var msg ChatMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, apperrors.ErrMalformedEnvelope
		}
		return msg, nil
	case TypeFileNotification:
		var n FileNotification
		if err := json.Unmarshal(data, &n); err != nil {
			return nil, apperrors.ErrMalformedEnvelope
		}
		return n, nil
	default:
		return nil, apperrors.ErrUnknownEventType
	}
}

// MessageFrame is sent to the recipient (type "message") and echoed to
// the sender as an acknowledgement (type "sent")
type MessageFrame struct {
	Type      string `json:"type"`
	ID        int64  `json:"id"`
	From      string `json:"from"`
	To        string `json:"to"`
	Text      string `json:"text"`
	Timestamp int64  `json:"timestamp"`
	Flagged   bool   `json:"flagged"`
}

// ErrorFrame reports a failure to the originating connection
type ErrorFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// FileAvailableFrame tells the recipient a file can be downloaded
type FileAvailableFrame struct {
	Type     string `json:"type"`
	From     string `json:"from"`
	FileID   string `json:"fileId"`
	FileName string `json:"fileName"`
	FileSize int64  `json:"fileSize"`
	FileType string `json:"fileType"`
}

func newMessageFrame(frameType string, m *models.Message) MessageFrame {
	return MessageFrame{
		Type:      frameType,
		ID:        m.ID,
		From:      m.FromID,
		To:        m.ToID,
		Text:      m.Text,
		Timestamp: m.CreatedAt.UnixMilli(),
		Flagged:   m.Flagged,
	}
}

// EncodeError builds an error frame carrying only the public message of err
func EncodeError(err error) []byte {
	return encodeFrame(ErrorFrame{Type: TypeError, Message: apperrors.PublicMessage(err)})
}

func encodeFrame(v any) []byte {
	// Frame types contain only strings, numbers and bools
	data, _ := json.Marshal(v)
	return data
}
