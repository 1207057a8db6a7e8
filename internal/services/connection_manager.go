package services

import (
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Close codes sent when the server terminates a connection
const (
	ClosePolicyViolation = 1008
	CloseGoingAway       = 1001
)

// Transport is one live, full-duplex client connection.
// Send must not block; it returns an error when the frame cannot be queued.
type Transport interface {
	Send(frame []byte) error
	Close(code int, reason string)
}

// Connection binds a transport to the session that opened it
type Connection struct {
	ID       string
	Token    string
	Identity string

	transport Transport
}

// ConnectionManager tracks live connections per identity. An identity may
// hold any number of connections (one per device or tab).
type ConnectionManager struct {
	mu         sync.Mutex
	byIdentity map[string]map[string]*Connection
	byToken    map[string]map[string]*Connection
}

// NewConnectionManager creates an empty connection registry
func NewConnectionManager() *ConnectionManager {
	return &ConnectionManager{
		byIdentity: make(map[string]map[string]*Connection),
		byToken:    make(map[string]map[string]*Connection),
	}
}

// Register adds a connection for an authenticated identity
func (m *ConnectionManager) Register(token, identity string, t Transport) *Connection {
	conn := &Connection{
		ID:        uuid.New().String(),
		Token:     token,
		Identity:  identity,
		transport: t,
	}

	m.mu.Lock()
	addTo(m.byIdentity, identity, conn)
	addTo(m.byToken, token, conn)
	total := len(m.byIdentity[identity])
	m.mu.Unlock()

	log.Info().
		Str("user_id", identity).
		Str("conn_id", conn.ID).
		Int("connections", total).
		Msg("Connection registered")
	return conn
}

// Unregister removes a connection. Removing an unknown connection is a no-op.
func (m *ConnectionManager) Unregister(conn *Connection) {
	m.mu.Lock()
	removed := m.removeLocked(conn)
	m.mu.Unlock()

	if removed {
		log.Info().Str("user_id", conn.Identity).Str("conn_id", conn.ID).Msg("Connection unregistered")
	}
}

// ConnectionsFor returns a snapshot of the identity's live connections
func (m *ConnectionManager) ConnectionsFor(identity string) []*Connection {
	m.mu.Lock()
	defer m.mu.Unlock()

	conns := make([]*Connection, 0, len(m.byIdentity[identity]))
	for _, c := range m.byIdentity[identity] {
		conns = append(conns, c)
	}
	return conns
}

// IsOnline reports whether the identity has at least one live connection
func (m *ConnectionManager) IsOnline(identity string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byIdentity[identity]) > 0
}

// Count returns the number of live connections
func (m *ConnectionManager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, conns := range m.byIdentity {
		n += len(conns)
	}
	return n
}

// Send queues a frame on one connection. A failed write drops the connection.
func (m *ConnectionManager) Send(conn *Connection, frame []byte) error {
	if err := conn.transport.Send(frame); err != nil {
		m.drop(conn, err)
		return err
	}
	return nil
}

// SendToIdentity queues a frame on every live connection of the identity
// and returns how many accepted it. Connections that fail are dropped; the
// others are unaffected.
func (m *ConnectionManager) SendToIdentity(identity string, frame []byte) int {
	m.mu.Lock()
	var failed []*Connection
	delivered := 0
	for _, c := range m.byIdentity[identity] {
		if err := c.transport.Send(frame); err != nil {
			log.Warn().Err(err).Str("user_id", identity).Str("conn_id", c.ID).Msg("Dropping connection after failed send")
			failed = append(failed, c)
			continue
		}
		delivered++
	}
	for _, c := range failed {
		m.removeLocked(c)
	}
	m.mu.Unlock()

	for _, c := range failed {
		c.transport.Close(CloseGoingAway, "send failed")
	}
	return delivered
}

// CloseToken closes every connection opened with the token
func (m *ConnectionManager) CloseToken(token string, code int, reason string) int {
	m.mu.Lock()
	conns := snapshot(m.byToken[token])
	for _, c := range conns {
		m.removeLocked(c)
	}
	m.mu.Unlock()

	for _, c := range conns {
		c.transport.Close(code, reason)
	}
	return len(conns)
}

// CloseIdentity closes every connection of the identity
func (m *ConnectionManager) CloseIdentity(identity string, code int, reason string) int {
	m.mu.Lock()
	conns := snapshot(m.byIdentity[identity])
	for _, c := range conns {
		m.removeLocked(c)
	}
	m.mu.Unlock()

	for _, c := range conns {
		c.transport.Close(code, reason)
	}
	if len(conns) > 0 {
		log.Info().Str("user_id", identity).Int("connections", len(conns)).Str("reason", reason).Msg("Connections closed")
	}
	return len(conns)
}

// CloseAll closes every connection, used on shutdown
func (m *ConnectionManager) CloseAll(code int, reason string) int {
	m.mu.Lock()
	var conns []*Connection
	for _, byID := range m.byIdentity {
		conns = append(conns, snapshot(byID)...)
	}
	m.byIdentity = make(map[string]map[string]*Connection)
	m.byToken = make(map[string]map[string]*Connection)
	m.mu.Unlock()

	for _, c := range conns {
		c.transport.Close(code, reason)
	}
	return len(conns)
}

func (m *ConnectionManager) drop(conn *Connection, cause error) {
	m.mu.Lock()
	removed := m.removeLocked(conn)
	m.mu.Unlock()

	if removed {
		log.Warn().Err(cause).Str("user_id", conn.Identity).Str("conn_id", conn.ID).Msg("Dropping connection after failed send")
		conn.transport.Close(CloseGoingAway, "send failed")
	}
}

func (m *ConnectionManager) removeLocked(conn *Connection) bool {
	removed := removeFrom(m.byIdentity, conn.Identity, conn.ID)
	removeFrom(m.byToken, conn.Token, conn.ID)
	return removed
}

func addTo(index map[string]map[string]*Connection, key string, conn *Connection) {
	set, ok := index[key]
	if !ok {
		set = make(map[string]*Connection)
		index[key] = set
	}
	set[conn.ID] = conn
}

func removeFrom(index map[string]map[string]*Connection, key, id string) bool {
	set, ok := index[key]
	if !ok {
		return false
	}
	if _, ok := set[id]; !ok {
		return false
	}
	delete(set, id)
	if len(set) == 0 {
		delete(index, key)
	}
	return true
}

func snapshot(set map[string]*Connection) []*Connection {
	conns := make([]*Connection, 0, len(set))
	for _, c := range set {
		conns = append(conns, c)
	}
	return conns
}
