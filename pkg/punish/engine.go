// Package punish records bans, kicks and mutes and answers "is this
// subject currently banned or muted".
//
// Every operation runs on the shared worker pool and returns a Future.
// A new ban or mute replaces the subject's current record of that kind
// through the store's Supersede, which clears the old row and inserts
// the new one atomically. The record is validated before the store is
// touched, so rejected input never lifts an existing punishment. Once
// the write starts it is no longer tied to the caller's cancellation;
// the store's statement timeout still bounds it.
package punish

import (
	"context"
	"log/slog"
	"time"

	"github.com/NicolasHaas/warden/pkg/async"
	"github.com/NicolasHaas/warden/pkg/datastore"
	"github.com/NicolasHaas/warden/pkg/events"
	"github.com/NicolasHaas/warden/pkg/metrics"
	"github.com/NicolasHaas/warden/pkg/model"
)

// Permanent passed as a duration issues a punishment with no expiry.
const Permanent time.Duration = 0

// Options are the engine's collaborators. Only Store is required.
type Options struct {
	Store       datastore.PunishmentStore
	Pool        *async.Pool
	Events      events.Publisher
	Connections Connections
	Metrics     *metrics.Metrics
	Logger      *slog.Logger
	// Clock defaults to time.Now in UTC.
	Clock func() time.Time
}

// Engine implements the moderation use cases on top of a PunishmentStore.
type Engine struct {
	store   datastore.PunishmentStore
	pool    *async.Pool
	events  events.Publisher
	conns   Connections
	metrics *metrics.Metrics
	log     *slog.Logger
	clock   func() time.Time
}

type nopPublisher struct{}

func (nopPublisher) Publish(events.Event) {}

// New creates an engine.
func New(opts Options) (*Engine, error) {
	if opts.Store == nil {
		return nil, ErrNoStore
	}
	e := &Engine{
		store:   opts.Store,
		pool:    opts.Pool,
		events:  opts.Events,
		conns:   opts.Connections,
		metrics: opts.Metrics,
		log:     opts.Logger,
		clock:   opts.Clock,
	}
	if e.log == nil {
		e.log = slog.Default()
	}
	if e.pool == nil {
		e.pool = async.NewPool(async.DefaultPoolSize, e.log)
	}
	if e.events == nil {
		e.events = nopPublisher{}
	}
	if e.conns == nil {
		e.conns = nopConnections{}
	}
	if e.metrics == nil {
		e.metrics = metrics.New()
	}
	if e.clock == nil {
		e.clock = func() time.Time { return time.Now().UTC() }
	}
	return e, nil
}

// Now returns the engine's current time.
func (e *Engine) Now() time.Time {
	return e.clock()
}

// Ban replaces any active ban of subject with a new one. d <= 0 is
// permanent. A connected subject is disconnected with the ban message.
func (e *Engine) Ban(ctx context.Context, subject model.SubjectID, reason string, d time.Duration, issuer string) *async.Future[*model.Punishment] {
	return async.Submit(e.pool, ctx, func(ctx context.Context) (*model.Punishment, error) {
		return e.issue(ctx, model.KindBan, subject, reason, d, issuer)
	})
}

// Mute replaces any active mute of subject with a new one. d <= 0 is
// permanent. A connected subject is told about the mute.
func (e *Engine) Mute(ctx context.Context, subject model.SubjectID, reason string, d time.Duration, issuer string) *async.Future[*model.Punishment] {
	return async.Submit(e.pool, ctx, func(ctx context.Context) (*model.Punishment, error) {
		return e.issue(ctx, model.KindMute, subject, reason, d, issuer)
	})
}

// Kick records a kick and disconnects subject. Nothing is superseded and
// the record never expires.
func (e *Engine) Kick(ctx context.Context, subject model.SubjectID, reason, issuer string) *async.Future[*model.Punishment] {
	return async.Submit(e.pool, ctx, func(ctx context.Context) (*model.Punishment, error) {
		return e.issue(ctx, model.KindKick, subject, reason, Permanent, issuer)
	})
}

func (e *Engine) issue(ctx context.Context, kind model.Kind, subject model.SubjectID, reason string, d time.Duration, issuer string) (*model.Punishment, error) {
	op := opName(kind)
	now := e.clock()

	n := model.NewPunishment{
		SubjectID: subject,
		Kind:      kind,
		Reason:    reason,
		Issuer:    issuer,
		CreatedAt: now,
	}
	if kind.Standing() && d > 0 {
		exp := now.Add(d)
		n.ExpiresAt = &exp
	}
	n.Normalize()
	if err := n.Validate(); err != nil {
		return nil, opErr(op, subject, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, opErr(op, subject, err)
	}

	wctx := context.WithoutCancel(ctx)
	var (
		p   *model.Punishment
		err error
	)
	if kind.Standing() {
		var superseded int64
		p, superseded, err = e.store.Supersede(wctx, n)
		if err == nil && superseded > 0 {
			e.log.Debug("superseded active punishment", "subject", subject, "kind", kind, "count", superseded)
		}
	} else {
		p, err = e.store.Insert(wctx, n)
	}
	if err != nil {
		e.metrics.EngineErrors.Add(1)
		return nil, opErr(op, subject, err)
	}

	switch kind {
	case model.KindBan:
		e.metrics.BansIssued.Add(1)
	case model.KindMute:
		e.metrics.MutesIssued.Add(1)
	case model.KindKick:
		e.metrics.KicksIssued.Add(1)
	}

	e.log.Info("punishment issued",
		"id", p.ID,
		"subject", p.SubjectID,
		"kind", p.Kind,
		"issuer", p.Issuer,
		"remaining", RemainingText(p, now),
	)

	e.events.Publish(events.Issued(p))

	notice := noticeFor(p, now)
	if kind == model.KindMute {
		e.conns.Notify(subject, notice)
	} else {
		e.conns.Disconnect(subject, notice)
	}
	return p, nil
}

// Unban clears the subject's active ban. It reports false, not an
// error, when there was nothing to clear.
func (e *Engine) Unban(ctx context.Context, subject model.SubjectID, actor string) *async.Future[bool] {
	return async.Submit(e.pool, ctx, func(ctx context.Context) (bool, error) {
		return e.revoke(ctx, model.KindBan, subject, actor)
	})
}

// Unmute clears the subject's active mute. It reports false, not an
// error, when there was nothing to clear.
func (e *Engine) Unmute(ctx context.Context, subject model.SubjectID, actor string) *async.Future[bool] {
	return async.Submit(e.pool, ctx, func(ctx context.Context) (bool, error) {
		return e.revoke(ctx, model.KindMute, subject, actor)
	})
}

func (e *Engine) revoke(ctx context.Context, kind model.Kind, subject model.SubjectID, actor string) (bool, error) {
	op := "un" + opName(kind)
	n, err := e.store.DeactivateActive(ctx, subject, kind)
	if err != nil {
		e.metrics.EngineErrors.Add(1)
		return false, opErr(op, subject, err)
	}
	if n == 0 {
		return false, nil
	}

	if kind == model.KindBan {
		e.metrics.Unbans.Add(1)
	} else {
		e.metrics.Unmutes.Add(1)
	}
	e.log.Info("punishment revoked", "subject", subject, "kind", kind, "actor", actor, "count", n)
	e.events.Publish(events.Revoked(subject, kind, actor, n, e.clock()))
	return true, nil
}

// ActiveBan returns the subject's ban in force now, or nil.
func (e *Engine) ActiveBan(ctx context.Context, subject model.SubjectID) *async.Future[*model.Punishment] {
	return e.active(ctx, model.KindBan, subject)
}

// ActiveMute returns the subject's mute in force now, or nil.
func (e *Engine) ActiveMute(ctx context.Context, subject model.SubjectID) *async.Future[*model.Punishment] {
	return e.active(ctx, model.KindMute, subject)
}

func (e *Engine) active(ctx context.Context, kind model.Kind, subject model.SubjectID) *async.Future[*model.Punishment] {
	op := "active " + opName(kind)
	return async.Submit(e.pool, ctx, func(ctx context.Context) (*model.Punishment, error) {
		p, err := e.store.FindActive(ctx, subject, kind, e.clock())
		if err != nil {
			e.metrics.EngineErrors.Add(1)
			return nil, opErr(op, subject, err)
		}
		return p, nil
	})
}

// IsBanned reports whether the subject has a ban in force now.
func (e *Engine) IsBanned(ctx context.Context, subject model.SubjectID) *async.Future[bool] {
	return async.Then(e.ActiveBan(ctx, subject), present)
}

// IsMuted reports whether the subject has a mute in force now.
func (e *Engine) IsMuted(ctx context.Context, subject model.SubjectID) *async.Future[bool] {
	return async.Then(e.ActiveMute(ctx, subject), present)
}

func present(p *model.Punishment) (bool, error) {
	return p != nil, nil
}

// History returns every record for subject, newest first.
func (e *Engine) History(ctx context.Context, subject model.SubjectID) *async.Future[[]model.Punishment] {
	return async.Submit(e.pool, ctx, func(ctx context.Context) ([]model.Punishment, error) {
		history, err := e.store.FindAllForSubject(ctx, subject)
		if err != nil {
			e.metrics.EngineErrors.Add(1)
			return nil, opErr("history", subject, err)
		}
		return history, nil
	})
}

// ByID looks up a single record, or nil.
func (e *Engine) ByID(ctx context.Context, id int64) *async.Future[*model.Punishment] {
	return async.Submit(e.pool, ctx, func(ctx context.Context) (*model.Punishment, error) {
		p, err := e.store.FindByID(ctx, id)
		if err != nil {
			e.metrics.EngineErrors.Add(1)
			return nil, opErr("lookup", model.SubjectID{}, err)
		}
		return p, nil
	})
}

func opName(kind model.Kind) string {
	switch kind {
	case model.KindBan:
		return "ban"
	case model.KindMute:
		return "mute"
	case model.KindKick:
		return "kick"
	}
	return "unknown"
}
