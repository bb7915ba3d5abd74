package server

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/NicolasHaas/warden/pkg/command"
	"github.com/NicolasHaas/warden/pkg/metrics"
	"github.com/NicolasHaas/warden/pkg/model"
	"github.com/NicolasHaas/warden/pkg/punish"
)

// Conn is the proxy's handle on a player connection.
type Conn interface {
	// Send delivers an informational message to the player.
	Send(msg string) error
	// Close disconnects the player, showing msg as the reason.
	Close(msg string) error
}

// Session is a connected subject.
type Session struct {
	ID          uint32          `json:"id"`
	SubjectID   model.SubjectID `json:"subject_id"`
	Name        string          `json:"name"`
	Server      string          `json:"server,omitempty"`
	ConnectedAt time.Time       `json:"connected_at"`

	conn Conn
}

// SessionRegistry tracks connected subjects. It is the engine's
// punish.Connections and resolves online player names for commands.
type SessionRegistry struct {
	mu       sync.RWMutex
	sessions map[uint32]*Session // sessionID -> session

	metrics *metrics.Metrics
	log     *slog.Logger
}

var (
	_ punish.Connections = (*SessionRegistry)(nil)
	_ command.Resolver   = (*SessionRegistry)(nil)
)

// NewSessionRegistry creates an empty registry.
func NewSessionRegistry(m *metrics.Metrics, log *slog.Logger) *SessionRegistry {
	if m == nil {
		m = metrics.New()
	}
	if log == nil {
		log = slog.Default()
	}
	return &SessionRegistry{
		sessions: make(map[uint32]*Session),
		metrics:  m,
		log:      log,
	}
}

// Create registers a connection for subject and returns a snapshot of
// the new session.
func (sr *SessionRegistry) Create(subject model.SubjectID, name string, conn Conn) Session {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	// Generate random session ID
	var id uint32
	for {
		b := make([]byte, 4)
		if _, err := rand.Read(b); err != nil {
			panic("crypto/rand failure: " + err.Error())
		}
		id = binary.BigEndian.Uint32(b)
		if id != 0 {
			if _, exists := sr.sessions[id]; !exists {
				break
			}
		}
	}

	sess := &Session{
		ID:          id,
		SubjectID:   subject,
		Name:        command.SanitizeText(name),
		ConnectedAt: time.Now().UTC(),
		conn:        conn,
	}
	sr.sessions[id] = sess
	sr.metrics.ActiveSessions.Store(int64(len(sr.sessions)))
	return *sess
}

// Get returns a snapshot of a session by ID.
func (sr *SessionRegistry) Get(id uint32) (Session, bool) {
	sr.mu.RLock()
	defer sr.mu.RUnlock()
	s, ok := sr.sessions[id]
	if !ok {
		return Session{}, false
	}
	return *s, true
}

// BySubject returns snapshots of every session held by subject.
func (sr *SessionRegistry) BySubject(subject model.SubjectID) []Session {
	sr.mu.RLock()
	defer sr.mu.RUnlock()
	var out []Session
	for _, s := range sr.sessions {
		if s.SubjectID == subject {
			out = append(out, *s)
		}
	}
	return out
}

// SetServer records which backend server a session is on.
func (sr *SessionRegistry) SetServer(id uint32, server string) bool {
	sr.mu.Lock()
	defer sr.mu.Unlock()
	s, ok := sr.sessions[id]
	if ok {
		s.Server = server
	}
	return ok
}

// Remove removes a session.
func (sr *SessionRegistry) Remove(id uint32) {
	sr.mu.Lock()
	defer sr.mu.Unlock()
	delete(sr.sessions, id)
	sr.metrics.ActiveSessions.Store(int64(len(sr.sessions)))
}

// Count returns the number of active sessions.
func (sr *SessionRegistry) Count() int {
	sr.mu.RLock()
	defer sr.mu.RUnlock()
	return len(sr.sessions)
}

// All returns all active sessions (snapshot).
func (sr *SessionRegistry) All() []Session {
	sr.mu.RLock()
	defer sr.mu.RUnlock()
	result := make([]Session, 0, len(sr.sessions))
	for _, s := range sr.sessions {
		result = append(result, *s)
	}
	return result
}

// Send delivers msg to one session.
func (sr *SessionRegistry) Send(id uint32, msg string) {
	sr.mu.RLock()
	s, ok := sr.sessions[id]
	sr.mu.RUnlock()
	if !ok {
		return
	}
	if err := s.conn.Send(msg); err != nil {
		sr.log.Warn("send failed", "session", id, "subject", s.SubjectID, "err", err)
	}
}

// Kick closes one session with msg and removes it.
func (sr *SessionRegistry) Kick(id uint32, msg string) {
	sr.mu.Lock()
	s, ok := sr.sessions[id]
	if ok {
		delete(sr.sessions, id)
		sr.metrics.ActiveSessions.Store(int64(len(sr.sessions)))
	}
	sr.mu.Unlock()
	if !ok {
		return
	}
	if err := s.conn.Close(msg); err != nil {
		sr.log.Warn("close failed", "session", id, "subject", s.SubjectID, "err", err)
	}
}

// Disconnect closes every session of subject, showing the notice.
func (sr *SessionRegistry) Disconnect(subject model.SubjectID, n punish.Notice) {
	for _, s := range sr.BySubject(subject) {
		sr.Kick(s.ID, n.Message)
		sr.log.Info("disconnected", "subject", subject, "session", s.ID, "punishment", n.Punishment.Ref())
	}
}

// Notify sends the notice to every session of subject.
func (sr *SessionRegistry) Notify(subject model.SubjectID, n punish.Notice) {
	for _, s := range sr.BySubject(subject) {
		sr.Send(s.ID, n.Message)
	}
}

// Resolve maps the name of a connected player to their subject. Names
// match case-insensitively.
func (sr *SessionRegistry) Resolve(_ context.Context, target string) (model.SubjectID, error) {
	target = strings.TrimSpace(target)
	sr.mu.RLock()
	defer sr.mu.RUnlock()
	for _, s := range sr.sessions {
		if strings.EqualFold(s.Name, target) {
			return s.SubjectID, nil
		}
	}
	return model.SubjectID{}, fmt.Errorf("%w: %q is not online", command.ErrSubjectNotResolved, target)
}
