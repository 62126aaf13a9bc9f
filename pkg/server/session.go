package server

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/decred/slog"
	"github.com/google/uuid"
)

// DefaultReconnectGrace is how long a disconnected session survives
// awaiting a REATTACH.
const DefaultReconnectGrace = 30 * time.Second

// Conn is the transport handle a session writes to. Sends must be
// delivered in call order per connection.
type Conn interface {
	Send(frame []byte) error
	Close() error
}

// Session binds a transport connection to a player identity and a
// seat. Mutations go through the SessionManager's lock.
type Session struct {
	ID           string
	UserID       string
	RoomID       string
	Seat         int
	Chips        int64
	Nickname     string
	InActiveHand bool

	conn  Conn
	grace *time.Timer
}

// persistedSession is the durable form of a Session; the transport
// handle and grace timer are never persisted.
type persistedSession struct {
	ID           string `json:"sessionId"`
	UserID       string `json:"userId,omitempty"`
	RoomID       string `json:"roomId,omitempty"`
	Seat         int    `json:"seat"`
	Chips        int64  `json:"chips"`
	Nickname     string `json:"nickname,omitempty"`
	InActiveHand bool   `json:"inActiveHand"`
}

// NormalizeUserID canonicalizes a player identity: lowercased and
// trimmed, the form every registry keys on.
func NormalizeUserID(userID string) string {
	return strings.ToLower(strings.TrimSpace(userID))
}

// SessionManager owns every live session, indexed by session id and by
// bound user id. The user index is single-valued: an identity belongs
// to at most one live session.
type SessionManager struct {
	log   slog.Logger
	store Store
	grace time.Duration

	mu     sync.Mutex
	byID   map[string]*Session
	byUser map[string]*Session
}

// NewSessionManager creates a manager persisting into store.
func NewSessionManager(store Store, grace time.Duration, log slog.Logger) *SessionManager {
	if grace == 0 {
		grace = DefaultReconnectGrace
	}
	return &SessionManager{
		log:    log,
		store:  store,
		grace:  grace,
		byID:   make(map[string]*Session),
		byUser: make(map[string]*Session),
	}
}

// Grace returns the configured reconnect grace period.
func (m *SessionManager) Grace() time.Duration { return m.grace }

// Create mints a new session for a fresh connection.
func (m *SessionManager) Create(conn Conn) *Session {
	s := &Session{
		ID:   uuid.NewString(),
		Seat: -1,
		conn: conn,
	}
	m.mu.Lock()
	m.byID[s.ID] = s
	m.mu.Unlock()
	m.persist(s)
	return s
}

// Get looks up a live session by id.
func (m *SessionManager) Get(sessionID string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.byID[sessionID]
	return s, ok
}

// Bind normalizes userID and binds it to the session, releasing any
// previous binding the session held. It refuses identities already
// bound to another live session. The durable write is awaited so a
// later reattach can depend on it.
func (m *SessionManager) Bind(s *Session, userID string) error {
	norm := NormalizeUserID(userID)
	if norm == "" {
		return fmt.Errorf("empty user id")
	}
	m.mu.Lock()
	if other, ok := m.byUser[norm]; ok && other != s {
		m.mu.Unlock()
		return fmt.Errorf("user %q already attached to another session", norm)
	}
	if s.UserID != "" && s.UserID != norm {
		delete(m.byUser, s.UserID)
	}
	s.UserID = norm
	m.byUser[norm] = s
	m.mu.Unlock()
	return m.persistSync(s)
}

// UpdateBinding is an alias of Bind. The bridge calls Bind directly,
// for ATTACH and for a command-supplied identity alike.
func (m *SessionManager) UpdateBinding(s *Session, userID string) error {
	return m.Bind(s, userID)
}

// ReplaceSocket swaps the session's transport without touching its
// identity or seat.
func (m *SessionManager) ReplaceSocket(s *Session, conn Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.conn != nil && s.conn != conn {
		s.conn.Close()
	}
	s.conn = conn
}

// HandleDisconnect detaches the transport and arms the reconnect grace
// timer. onExpire runs if no reattach lands in time, after the session
// has been removed from all indices. A non-nil conn that is no longer
// the session's current transport is a stale close (the session
// already reattached elsewhere) and is ignored.
func (m *SessionManager) HandleDisconnect(s *Session, conn Conn, onExpire func(*Session)) {
	m.mu.Lock()
	if conn != nil && s.conn != nil && s.conn != conn {
		m.mu.Unlock()
		return
	}
	s.conn = nil
	if s.grace != nil {
		s.grace.Stop()
	}
	s.grace = time.AfterFunc(m.grace, func() {
		m.mu.Lock()
		if s.conn != nil {
			// Reattached while the callback was in flight.
			m.mu.Unlock()
			return
		}
		delete(m.byID, s.ID)
		if s.UserID != "" {
			delete(m.byUser, s.UserID)
		}
		m.mu.Unlock()
		if err := m.store.Del(sessionKeyPrefix + s.ID); err != nil {
			m.log.Warnf("deleting expired session %s: %v", s.ID, err)
		}
		m.log.Debugf("session %s expired after grace", s.ID)
		if onExpire != nil {
			onExpire(s)
		}
	})
	m.mu.Unlock()
}

// HandleReconnect cancels the grace timer after a reattach.
func (m *SessionManager) HandleReconnect(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.grace != nil {
		s.grace.Stop()
		s.grace = nil
	}
}

// Reattach resumes a prior session on a new connection: live sessions
// get their socket replaced, and sessions this manager does not hold
// (for instance after a restart) are restored from the store. A session
// whose grace expired had its record deleted and is refused as unknown.
func (m *SessionManager) Reattach(sessionID string, conn Conn) (*Session, error) {
	if s, ok := m.Get(sessionID); ok {
		m.ReplaceSocket(s, conn)
		m.HandleReconnect(s)
		return s, nil
	}
	raw, ok, err := m.store.Get(sessionKeyPrefix + sessionID)
	if err != nil {
		return nil, fmt.Errorf("loading session %s: %w", sessionID, err)
	}
	if !ok {
		return nil, fmt.Errorf("unknown session %s", sessionID)
	}
	var rec persistedSession
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decoding session %s: %w", sessionID, err)
	}
	return m.Restore(rec, conn)
}

// Restore rebuilds a session from its durable record on a fresh
// connection.
func (m *SessionManager) Restore(rec persistedSession, conn Conn) (*Session, error) {
	s := &Session{
		ID:           rec.ID,
		UserID:       rec.UserID,
		RoomID:       rec.RoomID,
		Seat:         rec.Seat,
		Chips:        rec.Chips,
		Nickname:     rec.Nickname,
		InActiveHand: rec.InActiveHand,
		conn:         conn,
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.UserID != "" {
		if other, ok := m.byUser[s.UserID]; ok && other.ID != s.ID {
			return nil, fmt.Errorf("user %q already attached to another session", s.UserID)
		}
		m.byUser[s.UserID] = s
	}
	m.byID[s.ID] = s
	return s, nil
}

// Send delivers a frame to the session's transport, if attached.
func (m *SessionManager) Send(s *Session, frame []byte) {
	m.mu.Lock()
	conn := s.conn
	m.mu.Unlock()
	if conn == nil {
		return
	}
	if err := conn.Send(frame); err != nil {
		m.log.Debugf("send to session %s: %v", s.ID, err)
	}
}

// InRoom snapshots the sessions currently subscribed to a table.
func (m *SessionManager) InRoom(roomID string) []*Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Session
	for _, s := range m.byID {
		if s.RoomID == roomID {
			out = append(out, s)
		}
	}
	return out
}

// Drop discards a session entirely, removing indices and the durable
// record. Used for the placeholder session a REATTACH supersedes.
func (m *SessionManager) Drop(s *Session) {
	m.mu.Lock()
	delete(m.byID, s.ID)
	if s.UserID != "" {
		delete(m.byUser, s.UserID)
	}
	if s.grace != nil {
		s.grace.Stop()
		s.grace = nil
	}
	s.conn = nil
	m.mu.Unlock()
	if err := m.store.Del(sessionKeyPrefix + s.ID); err != nil {
		m.log.Warnf("deleting session %s: %v", s.ID, err)
	}
}

// All snapshots every live session.
func (m *SessionManager) All() []*Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Session, 0, len(m.byID))
	for _, s := range m.byID {
		out = append(out, s)
	}
	return out
}

// Count reports the number of live sessions.
func (m *SessionManager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byID)
}

// UpdateSeat records the session's current table binding snapshot and
// persists it.
func (m *SessionManager) UpdateSeat(s *Session, roomID string, seat int, chips int64, nickname string) {
	m.mu.Lock()
	s.RoomID = roomID
	s.Seat = seat
	s.Chips = chips
	if nickname != "" {
		s.Nickname = nickname
	}
	m.mu.Unlock()
	m.persist(s)
}

// SetRoom subscribes the session to a table's broadcasts.
func (m *SessionManager) SetRoom(s *Session, roomID string) {
	m.mu.Lock()
	s.RoomID = roomID
	m.mu.Unlock()
	m.persist(s)
}

func (m *SessionManager) record(s *Session) persistedSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	return persistedSession{
		ID:           s.ID,
		UserID:       s.UserID,
		RoomID:       s.RoomID,
		Seat:         s.Seat,
		Chips:        s.Chips,
		Nickname:     s.Nickname,
		InActiveHand: s.InActiveHand,
	}
}

// persist writes the session record best-effort.
func (m *SessionManager) persist(s *Session) {
	if err := m.persistSync(s); err != nil {
		m.log.Warnf("persisting session %s: %v", s.ID, err)
	}
}

func (m *SessionManager) persistSync(s *Session) error {
	raw, err := json.Marshal(m.record(s))
	if err != nil {
		return err
	}
	return m.store.Set(sessionKeyPrefix+s.ID, raw)
}
