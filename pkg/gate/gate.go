// Package gate answers the two questions the proxy asks on its hot
// paths: may this subject log in, and may this chat message go out.
//
// Checks never block the caller. Each returns a Future[Decision]; the
// caller may wait for it before proceeding or act on it a moment later.
// A storage failure never opens the gate: logins are refused and chat
// is held back until the store answers again.
package gate

import (
	"context"
	"log/slog"
	"time"

	"github.com/NicolasHaas/warden/pkg/async"
	"github.com/NicolasHaas/warden/pkg/metrics"
	"github.com/NicolasHaas/warden/pkg/model"
	"github.com/NicolasHaas/warden/pkg/punish"
)

const (
	// UnavailableLogin is shown when a ban check could not be completed.
	UnavailableLogin = "Unable to verify your account right now. Please try again in a moment."
	// UnavailableChat is shown when a mute check could not be completed.
	UnavailableChat = "Your message could not be sent right now. Please try again in a moment."
)

// Lookup is the read side of the punishment engine.
type Lookup interface {
	ActiveBan(ctx context.Context, subject model.SubjectID) *async.Future[*model.Punishment]
	ActiveMute(ctx context.Context, subject model.SubjectID) *async.Future[*model.Punishment]
	Now() time.Time
}

var _ Lookup = (*punish.Engine)(nil)

// Decision is the outcome of a check. When Allowed is false, Message is
// what the subject should be told. Err is set when the store could not
// be consulted.
type Decision struct {
	Allowed    bool
	Punishment *model.Punishment
	Message    string
	Err        error
}

// Gate wraps a Lookup with the login, chat and server-switch policies.
type Gate struct {
	lookup  Lookup
	conns   punish.Connections
	metrics *metrics.Metrics
	log     *slog.Logger
}

// New creates a gate. conns receives server-switch mute reminders and
// may be nil when those are not wanted.
func New(lookup Lookup, conns punish.Connections, m *metrics.Metrics, log *slog.Logger) *Gate {
	if m == nil {
		m = metrics.New()
	}
	if log == nil {
		log = slog.Default()
	}
	return &Gate{lookup: lookup, conns: conns, metrics: m, log: log}
}

// CheckLogin decides whether subject may connect. A banned subject is
// refused with the ban message. A failed lookup refuses the login.
func (g *Gate) CheckLogin(ctx context.Context, subject model.SubjectID) *async.Future[Decision] {
	g.metrics.LoginsChecked.Add(1)
	return g.decide(g.lookup.ActiveBan(ctx, subject), func(p *model.Punishment, err error) Decision {
		if err != nil {
			g.metrics.GateFailures.Add(1)
			g.metrics.LoginsDenied.Add(1)
			g.log.Error("ban check failed, refusing login", "subject", subject, "err", err)
			return Decision{Message: UnavailableLogin, Err: err}
		}
		if p == nil {
			return Decision{Allowed: true}
		}
		g.metrics.LoginsDenied.Add(1)
		g.log.Info("login refused", "subject", subject, "ban", p.Ref())
		return Decision{Punishment: p, Message: punish.BanMessage(p, g.lookup.Now())}
	})
}

// CheckChat decides whether a message from subject may be delivered.
// A muted subject's message is dropped and they are told why. A failed
// lookup drops the message too.
func (g *Gate) CheckChat(ctx context.Context, subject model.SubjectID) *async.Future[Decision] {
	return g.decide(g.lookup.ActiveMute(ctx, subject), func(p *model.Punishment, err error) Decision {
		if err != nil {
			g.metrics.GateFailures.Add(1)
			g.metrics.ChatBlocked.Add(1)
			g.log.Error("mute check failed, blocking chat", "subject", subject, "err", err)
			return Decision{Message: UnavailableChat, Err: err}
		}
		if p == nil {
			return Decision{Allowed: true}
		}
		g.metrics.ChatBlocked.Add(1)
		g.log.Debug("chat blocked", "subject", subject, "mute", p.Ref())
		return Decision{Punishment: p, Message: punish.MuteMessage(p, g.lookup.Now())}
	})
}

// OnServerSwitch re-checks the mute when a connected subject moves to
// another backend server and, if muted, sends them a reminder. Moving is
// always allowed; a failed lookup skips the reminder.
func (g *Gate) OnServerSwitch(ctx context.Context, subject model.SubjectID) *async.Future[Decision] {
	return g.decide(g.lookup.ActiveMute(ctx, subject), func(p *model.Punishment, err error) Decision {
		if err != nil {
			g.metrics.GateFailures.Add(1)
			g.log.Warn("mute check on server switch failed", "subject", subject, "err", err)
			return Decision{Allowed: true, Err: err}
		}
		if p == nil {
			return Decision{Allowed: true}
		}
		msg := punish.MuteMessage(p, g.lookup.Now())
		if g.conns != nil {
			g.conns.Notify(subject, punish.Notice{Punishment: p, Message: msg})
			g.metrics.SwitchNotices.Add(1)
		}
		return Decision{Allowed: true, Punishment: p, Message: msg}
	})
}

// decide turns a lookup into a Decision. The returned Future never
// fails; lookup errors land in Decision.Err.
func (g *Gate) decide(f *async.Future[*model.Punishment], fn func(*model.Punishment, error) Decision) *async.Future[Decision] {
	return async.Handle(f, fn)
}
