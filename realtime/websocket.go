// Package realtime pushes live data to dashboard clients: a websocket
// session manager with channel subscriptions, an in-process pubsub layer
// with retained payloads, and polling metric streams with ring-buffer
// history.
package realtime

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// MessageType enumerates the websocket envelope types.
type MessageType string

const (
	TypeSubscribe   MessageType = "SUBSCRIBE"
	TypeUnsubscribe MessageType = "UNSUBSCRIBE"
	TypeData        MessageType = "DATA"
	TypeError       MessageType = "ERROR"
	TypePing        MessageType = "PING"
	TypePong        MessageType = "PONG"
	TypeAuth        MessageType = "AUTH"
	TypeAuthSuccess MessageType = "AUTH_SUCCESS"
	TypeAuthFailure MessageType = "AUTH_FAILURE"
)

// Message is the JSON envelope exchanged with clients.
type Message struct {
	Type      MessageType `json:"type"`
	Channel   string      `json:"channel,omitempty"`
	Data      any         `json:"data,omitempty"`
	ID        string      `json:"id,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

func newMessage(t MessageType) Message {
	return Message{Type: t, Timestamp: time.Now().UTC()}
}

// SendFunc delivers one envelope to a client. Tests inject recorders; the
// gorilla adapter writes JSON frames.
type SendFunc func(Message) error

// Connection is one client session.
type Connection struct {
	ID            string
	UserID        string
	ConnectedAt   time.Time
	send          SendFunc
	subscriptions map[string]struct{}
	lastActivity  time.Time
	authenticated bool
}

// AuthFunc validates an AUTH token and returns the user it belongs to.
type AuthFunc func(token string) (userID string, ok bool)

// DefaultMaxPerUser caps concurrent connections per user.
const DefaultMaxPerUser = 5

// DefaultPingInterval is the cadence of server-initiated PING frames.
const DefaultPingInterval = 30 * time.Second

// Manager tracks websocket sessions, their channel subscriptions, and the
// per-user connection index. All methods are safe for concurrent use.
type Manager struct {
	mu         sync.Mutex
	conns      map[string]*Connection
	byUser     map[string][]string // connection ids, oldest first
	maxPerUser int
	pingEvery  time.Duration
	auth       AuthFunc
	pingDone   chan struct{}
}

// NewManager creates a session manager. A nil auth func fails every AUTH.
func NewManager(auth AuthFunc) *Manager {
	return &Manager{
		conns:      make(map[string]*Connection),
		byUser:     make(map[string][]string),
		maxPerUser: DefaultMaxPerUser,
		pingEvery:  DefaultPingInterval,
		auth:       auth,
	}
}

// SetMaxPerUser changes the per-user connection cap. Values below 1 are
// ignored.
func (m *Manager) SetMaxPerUser(n int) {
	if n < 1 {
		return
	}
	m.mu.Lock()
	m.maxPerUser = n
	m.mu.Unlock()
}

// SetPingInterval changes the ping cadence for the next StartPinger call.
func (m *Manager) SetPingInterval(d time.Duration) {
	if d <= 0 {
		return
	}
	m.mu.Lock()
	m.pingEvery = d
	m.mu.Unlock()
}

// Connect registers a session. When the user already holds the maximum
// number of connections, the oldest is evicted first.
func (m *Manager) Connect(id string, send SendFunc, userID string) *Connection {
	now := time.Now().UTC()
	conn := &Connection{
		ID:            id,
		UserID:        userID,
		ConnectedAt:   now,
		send:          send,
		subscriptions: make(map[string]struct{}),
		lastActivity:  now,
	}

	var evicted string
	m.mu.Lock()
	if userID != "" {
		ids := m.byUser[userID]
		if len(ids) >= m.maxPerUser {
			evicted = ids[0]
		}
		m.byUser[userID] = append(ids, id)
	}
	m.conns[id] = conn
	m.mu.Unlock()

	if evicted != "" {
		m.Disconnect(evicted)
	}
	return conn
}

// Disconnect removes a session and its user-index entry.
func (m *Manager) Disconnect(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	conn, ok := m.conns[id]
	if !ok {
		return
	}
	delete(m.conns, id)
	if conn.UserID != "" {
		ids := m.byUser[conn.UserID]
		for i, cid := range ids {
			if cid == id {
				ids = append(ids[:i], ids[i+1:]...)
				break
			}
		}
		if len(ids) == 0 {
			delete(m.byUser, conn.UserID)
		} else {
			m.byUser[conn.UserID] = ids
		}
	}
}

// Connections returns the number of live sessions.
func (m *Manager) Connections() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.conns)
}

// UserConnections returns the ids of a user's sessions, oldest first.
func (m *Manager) UserConnections(userID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.byUser[userID]...)
}

// HandleMessage processes one raw client frame. Unknown envelope types and
// malformed frames come back to the client as ERROR messages.
func (m *Manager) HandleMessage(id string, raw []byte) {
	m.mu.Lock()
	conn, ok := m.conns[id]
	if ok {
		conn.lastActivity = time.Now().UTC()
	}
	m.mu.Unlock()
	if !ok {
		return
	}

	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		m.sendError(conn, "malformed message")
		return
	}

	switch msg.Type {
	case TypeSubscribe:
		if msg.Channel == "" {
			m.sendError(conn, "subscribe requires a channel")
			return
		}
		m.mu.Lock()
		conn.subscriptions[msg.Channel] = struct{}{}
		m.mu.Unlock()
	case TypeUnsubscribe:
		m.mu.Lock()
		delete(conn.subscriptions, msg.Channel)
		m.mu.Unlock()
	case TypePing:
		reply := newMessage(TypePong)
		reply.ID = msg.ID
		_ = conn.send(reply)
	case TypePong:
		// Activity already stamped above.
	case TypeAuth:
		m.handleAuth(conn, msg)
	default:
		m.sendError(conn, fmt.Sprintf("unsupported message type %q", msg.Type))
	}
}

func (m *Manager) handleAuth(conn *Connection, msg Message) {
	token, _ := msg.Data.(string)
	if m.auth == nil {
		_ = conn.send(newMessage(TypeAuthFailure))
		return
	}
	userID, ok := m.auth(token)
	if !ok {
		_ = conn.send(newMessage(TypeAuthFailure))
		return
	}
	m.mu.Lock()
	conn.authenticated = true
	if conn.UserID == "" {
		conn.UserID = userID
		m.byUser[userID] = append(m.byUser[userID], conn.ID)
	}
	m.mu.Unlock()
	reply := newMessage(TypeAuthSuccess)
	reply.Data = map[string]any{"user_id": userID}
	_ = conn.send(reply)
}

func (m *Manager) sendError(conn *Connection, reason string) {
	msg := newMessage(TypeError)
	msg.Data = map[string]any{"error": reason}
	_ = conn.send(msg)
}

// Broadcast sends a DATA envelope to every session subscribed to the
// channel, returning how many received it.
func (m *Manager) Broadcast(channel string, payload any) int {
	m.mu.Lock()
	targets := make([]*Connection, 0, len(m.conns))
	for _, conn := range m.conns {
		if _, ok := conn.subscriptions[channel]; ok {
			targets = append(targets, conn)
		}
	}
	m.mu.Unlock()

	msg := newMessage(TypeData)
	msg.Channel = channel
	msg.Data = payload
	sent := 0
	for _, conn := range targets {
		if conn.send(msg) == nil {
			sent++
		}
	}
	return sent
}

// SendToUser sends a DATA envelope to every session of one user.
func (m *Manager) SendToUser(userID string, payload any) int {
	m.mu.Lock()
	targets := make([]*Connection, 0)
	for _, id := range m.byUser[userID] {
		if conn, ok := m.conns[id]; ok {
			targets = append(targets, conn)
		}
	}
	m.mu.Unlock()

	msg := newMessage(TypeData)
	msg.Data = payload
	sent := 0
	for _, conn := range targets {
		if conn.send(msg) == nil {
			sent++
		}
	}
	return sent
}

// StartPinger begins emitting PING frames to every session on the
// configured interval.
func (m *Manager) StartPinger() {
	m.mu.Lock()
	if m.pingDone != nil {
		m.mu.Unlock()
		return
	}
	done := make(chan struct{})
	m.pingDone = done
	interval := m.pingEvery
	m.mu.Unlock()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				m.pingAll()
			}
		}
	}()
}

// StopPinger halts the ping loop.
func (m *Manager) StopPinger() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pingDone != nil {
		close(m.pingDone)
		m.pingDone = nil
	}
}

func (m *Manager) pingAll() {
	m.mu.Lock()
	targets := make([]*Connection, 0, len(m.conns))
	for _, conn := range m.conns {
		targets = append(targets, conn)
	}
	m.mu.Unlock()
	msg := newMessage(TypePing)
	for _, conn := range targets {
		_ = conn.send(msg)
	}
}
