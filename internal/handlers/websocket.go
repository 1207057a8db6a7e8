package handlers

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"chat-gateway/internal/apperrors"
	"chat-gateway/internal/services"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

const (
	closeServerError   = websocket.CloseInternalServerErr
	closeNormalClosure = websocket.CloseNormalClosure
)

var (
	errConnClosed     = errors.New("connection closed")
	errSendBufferFull = errors.New("send buffer full")
)

// WebSocketHandler handles gateway connections
type WebSocketHandler struct {
	upgrader    websocket.Upgrader
	sessions    *services.SessionRegistry
	conns       *services.ConnectionManager
	broadcaster *services.Broadcaster
	sendBuffer  int
}

// NewWebSocketHandler creates a new WebSocket handler. An empty
// allowedOrigins list, or one containing "*", accepts every origin.
func NewWebSocketHandler(
	sessions *services.SessionRegistry,
	conns *services.ConnectionManager,
	broadcaster *services.Broadcaster,
	allowedOrigins []string,
	sendBuffer int,
) *WebSocketHandler {
	return &WebSocketHandler{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
		sessions:    sessions,
		conns:       conns,
		broadcaster: broadcaster,
		sendBuffer:  sendBuffer,
	}
}

// HandleWebSocket handles GET /ws?token=
func (h *WebSocketHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("Failed to upgrade WebSocket connection")
		return
	}

	token := r.URL.Query().Get("token")
	if token == "" {
		rejectConn(ws, services.ClosePolicyViolation, apperrors.ErrAuthRequired.Error())
		return
	}

	ctx := r.Context()
	userID, err := h.sessions.Validate(ctx, token)
	if err != nil {
		if apperrors.IsKind(err, apperrors.KindAuth) {
			rejectConn(ws, services.ClosePolicyViolation, apperrors.ErrInvalidOrExpired.Error())
		} else {
			log.Error().Err(err).Msg("Failed to validate WebSocket session")
			rejectConn(ws, closeServerError, "Server error")
		}
		return
	}

	client := newWSClient(ws, h.sendBuffer)
	conn := h.conns.Register(token, userID, client)

	pumpDone := make(chan struct{})
	go func() {
		client.writePump()
		close(pumpDone)
	}()

	// A revoke that ran between Validate and Register closed nothing
	if _, err := h.sessions.Validate(ctx, token); err != nil {
		h.conns.Unregister(conn)
		if apperrors.IsKind(err, apperrors.KindAuth) {
			client.Close(services.ClosePolicyViolation, apperrors.ErrInvalidOrExpired.Error())
		} else {
			client.Close(closeServerError, "Server error")
		}
		<-pumpDone
		log.Info().Str("user_id", userID).Msg("WebSocket session revoked during connect")
		return
	}

	log.Info().Str("user_id", userID).Str("conn_id", conn.ID).Msg("WebSocket connection established")

	ws.SetReadLimit(maxMessageSize)
	ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Warn().Err(err).Str("user_id", userID).Msg("WebSocket error")
			}
			break
		}

		ev, err := services.DecodeInbound(data)
		if err != nil {
			h.broadcaster.Reject(conn, err)
			continue
		}
		h.broadcaster.Dispatch(ctx, conn, ev)
	}

	h.conns.Unregister(conn)
	client.Close(closeNormalClosure, "")
	<-pumpDone

	log.Info().Str("user_id", userID).Str("conn_id", conn.ID).Msg("WebSocket connection closed")
}

// wsClient is the Transport for one WebSocket. Frames are queued on send
// and written by writePump, which is the only writer after registration.
type wsClient struct {
	ws   *websocket.Conn
	send chan []byte
	done chan struct{}

	closeOnce   sync.Once
	closeCode   int
	closeReason string
}

func newWSClient(ws *websocket.Conn, buffer int) *wsClient {
	return &wsClient{
		ws:   ws,
		send: make(chan []byte, buffer),
		done: make(chan struct{}),
	}
}

// Send queues a frame without blocking
func (c *wsClient) Send(frame []byte) error {
	select {
	case <-c.done:
		return errConnClosed
	default:
	}

	select {
	case c.send <- frame:
		return nil
	case <-c.done:
		return errConnClosed
	default:
		return errSendBufferFull
	}
}

// Close asks the write pump to send a close frame and drop the socket
func (c *wsClient) Close(code int, reason string) {
	c.closeOnce.Do(func() {
		c.closeCode = code
		c.closeReason = reason
		close(c.done)
	})
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case frame := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.Close(closeNormalClosure, "")
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close(closeNormalClosure, "")
				return
			}
		case <-c.done:
			c.flush()
			msg := websocket.FormatCloseMessage(c.closeCode, c.closeReason)
			c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
			return
		}
	}
}

// flush writes frames that were queued before Close
func (c *wsClient) flush() {
	for {
		select {
		case frame := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		default:
			return
		}
	}
}

func rejectConn(ws *websocket.Conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	ws.Close()
}

func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(r *http.Request) bool { return true }
	}
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(r *http.Request) bool { return true }
		}
		set[o] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || set[origin]
	}
}
