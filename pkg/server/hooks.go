package server

import (
	"context"

	"github.com/NicolasHaas/warden/pkg/async"
	"github.com/NicolasHaas/warden/pkg/gate"
	"github.com/NicolasHaas/warden/pkg/model"
)

// LoginResult is the outcome of Login.
type LoginResult struct {
	gate.Decision
	Session Session
}

// Login registers conn for subject straight away and checks for an
// active ban in the background. A refused subject is disconnected with
// the decision's message once the check completes.
func (s *Server) Login(ctx context.Context, subject model.SubjectID, name string, conn Conn) *async.Future[LoginResult] {
	sess := s.sessions.Create(subject, name, conn)
	s.log.Debug("session opened", "session", sess.ID, "subject", subject, "name", sess.Name)

	return async.Handle(s.gate.CheckLogin(ctx, subject), func(d gate.Decision, _ error) LoginResult {
		if !d.Allowed {
			s.sessions.Kick(sess.ID, d.Message)
		}
		return LoginResult{Decision: d, Session: sess}
	})
}

// Chat runs the mute check for a message from session id. An allowed
// message is handed to deliver; a blocked one is answered with the
// reason. The returned Future never fails.
func (s *Server) Chat(ctx context.Context, id uint32, text string, deliver func(Session, string)) *async.Future[gate.Decision] {
	sess, ok := s.sessions.Get(id)
	if !ok {
		return async.Resolved(gate.Decision{}, nil)
	}
	return async.Handle(s.gate.CheckChat(ctx, sess.SubjectID), func(d gate.Decision, _ error) gate.Decision {
		if d.Allowed {
			if deliver != nil {
				deliver(sess, text)
			}
			return d
		}
		s.sessions.Send(id, d.Message)
		return d
	})
}

// SwitchServer records the move and reminds a muted subject of the
// mute.
func (s *Server) SwitchServer(ctx context.Context, id uint32, server string) *async.Future[gate.Decision] {
	sess, ok := s.sessions.Get(id)
	if !ok || !s.sessions.SetServer(id, server) {
		return async.Resolved(gate.Decision{Allowed: true}, nil)
	}
	return s.gate.OnServerSwitch(ctx, sess.SubjectID)
}

// Logout forgets session id.
func (s *Server) Logout(id uint32) {
	s.sessions.Remove(id)
	s.log.Debug("session closed", "session", id)
}
