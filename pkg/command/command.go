// Package command turns moderator input into engine calls. It owns
// everything the engine trusts its callers to have done: resolving a
// target to a subject, parsing duration text, defaulting the issuer and
// building the messages shown to the moderator.
package command

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode"

	"github.com/NicolasHaas/warden/pkg/async"
	"github.com/NicolasHaas/warden/pkg/datastore"
	"github.com/NicolasHaas/warden/pkg/duration"
	"github.com/NicolasHaas/warden/pkg/model"
	"github.com/NicolasHaas/warden/pkg/punish"
)

// DefaultConsoleIssuer is recorded when a command has no human issuer.
const DefaultConsoleIssuer = "CONSOLE"

var (
	ErrInvalidDuration    = errors.New("invalid duration")
	ErrSubjectNotResolved = errors.New("subject not resolved")
	ErrReasonRequired     = errors.New("reason is required")
)

// Engine is the subset of *punish.Engine commands drive.
type Engine interface {
	Ban(ctx context.Context, subject model.SubjectID, reason string, d time.Duration, issuer string) *async.Future[*model.Punishment]
	Mute(ctx context.Context, subject model.SubjectID, reason string, d time.Duration, issuer string) *async.Future[*model.Punishment]
	Kick(ctx context.Context, subject model.SubjectID, reason, issuer string) *async.Future[*model.Punishment]
	Unban(ctx context.Context, subject model.SubjectID, actor string) *async.Future[bool]
	Unmute(ctx context.Context, subject model.SubjectID, actor string) *async.Future[bool]
	ActiveBan(ctx context.Context, subject model.SubjectID) *async.Future[*model.Punishment]
	ActiveMute(ctx context.Context, subject model.SubjectID) *async.Future[*model.Punishment]
	History(ctx context.Context, subject model.SubjectID) *async.Future[[]model.Punishment]
	ByID(ctx context.Context, id int64) *async.Future[*model.Punishment]
}

var _ Engine = (*punish.Engine)(nil)

// ParseDuration validates duration text for a ban or mute. Permanent
// input returns punish.Permanent.
func ParseDuration(text string) (time.Duration, error) {
	r := duration.Parse(text)
	switch r.Kind {
	case duration.Permanent:
		return punish.Permanent, nil
	case duration.Finite:
		return r.Duration, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidDuration, text)
}

// Request is a ban, mute or kick as typed by a moderator. Duration is
// ignored for kicks.
type Request struct {
	Target   string
	Duration string
	Reason   string
	Issuer   string
}

// Status is a subject's current standing punishments.
type Status struct {
	Subject model.SubjectID   `json:"subject_id" yaml:"subject_id"`
	Banned  bool              `json:"banned" yaml:"banned"`
	Muted   bool              `json:"muted" yaml:"muted"`
	Ban     *model.Punishment `json:"ban,omitempty" yaml:"ban,omitempty"`
	Mute    *model.Punishment `json:"mute,omitempty" yaml:"mute,omitempty"`
}

// Handler runs moderation commands and waits for their results.
type Handler struct {
	engine   Engine
	resolver Resolver
	console  string
	log      *slog.Logger
}

// NewHandler creates a handler. An empty console issuer uses
// DefaultConsoleIssuer.
func NewHandler(engine Engine, resolver Resolver, console string, log *slog.Logger) *Handler {
	if strings.TrimSpace(console) == "" {
		console = DefaultConsoleIssuer
	}
	if resolver == nil {
		resolver = UUIDResolver{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Handler{engine: engine, resolver: resolver, console: console, log: log}
}

// SanitizeText trims s, collapses newlines to spaces and strips other
// control characters so reasons and names cannot spoof the client UI.
func SanitizeText(s string) string {
	return strings.TrimSpace(strings.Map(func(r rune) rune {
		if r == '\n' || r == '\r' {
			return ' '
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s))
}

func (h *Handler) issuer(name string) string {
	if name = SanitizeText(name); name != "" {
		return name
	}
	return h.console
}

func (h *Handler) prepare(ctx context.Context, req Request, timed bool) (model.SubjectID, time.Duration, error) {
	subject, err := h.resolver.Resolve(ctx, req.Target)
	if err != nil {
		return model.SubjectID{}, 0, err
	}
	reason := SanitizeText(req.Reason)
	if reason == "" {
		return model.SubjectID{}, 0, ErrReasonRequired
	}
	if len(reason) > model.MaxReasonLength {
		return model.SubjectID{}, 0, model.ErrReasonTooLong
	}
	if len(h.issuer(req.Issuer)) > model.MaxIssuerLength {
		return model.SubjectID{}, 0, model.ErrIssuerTooLong
	}
	if !timed {
		return subject, 0, nil
	}
	d, err := ParseDuration(req.Duration)
	if err != nil {
		return model.SubjectID{}, 0, err
	}
	return subject, d, nil
}

// Ban resolves, validates and issues a ban.
func (h *Handler) Ban(ctx context.Context, req Request) (*model.Punishment, error) {
	subject, d, err := h.prepare(ctx, req, true)
	if err != nil {
		return nil, err
	}
	return h.engine.Ban(ctx, subject, SanitizeText(req.Reason), d, h.issuer(req.Issuer)).Wait(ctx)
}

// Mute resolves, validates and issues a mute.
func (h *Handler) Mute(ctx context.Context, req Request) (*model.Punishment, error) {
	subject, d, err := h.prepare(ctx, req, true)
	if err != nil {
		return nil, err
	}
	return h.engine.Mute(ctx, subject, SanitizeText(req.Reason), d, h.issuer(req.Issuer)).Wait(ctx)
}

// Kick resolves, validates and issues a kick.
func (h *Handler) Kick(ctx context.Context, req Request) (*model.Punishment, error) {
	subject, _, err := h.prepare(ctx, req, false)
	if err != nil {
		return nil, err
	}
	return h.engine.Kick(ctx, subject, SanitizeText(req.Reason), h.issuer(req.Issuer)).Wait(ctx)
}

// Unban clears target's ban and reports whether there was one.
func (h *Handler) Unban(ctx context.Context, target, actor string) (bool, error) {
	subject, err := h.resolver.Resolve(ctx, target)
	if err != nil {
		return false, err
	}
	return h.engine.Unban(ctx, subject, h.issuer(actor)).Wait(ctx)
}

// Unmute clears target's mute and reports whether there was one.
func (h *Handler) Unmute(ctx context.Context, target, actor string) (bool, error) {
	subject, err := h.resolver.Resolve(ctx, target)
	if err != nil {
		return false, err
	}
	return h.engine.Unmute(ctx, subject, h.issuer(actor)).Wait(ctx)
}

// Status returns target's active ban and mute. Both lookups run
// concurrently.
func (h *Handler) Status(ctx context.Context, target string) (Status, error) {
	subject, err := h.resolver.Resolve(ctx, target)
	if err != nil {
		return Status{}, err
	}
	banF := h.engine.ActiveBan(ctx, subject)
	muteF := h.engine.ActiveMute(ctx, subject)

	ban, err := banF.Wait(ctx)
	if err != nil {
		return Status{}, err
	}
	mute, err := muteF.Wait(ctx)
	if err != nil {
		return Status{}, err
	}
	return Status{Subject: subject, Banned: ban != nil, Muted: mute != nil, Ban: ban, Mute: mute}, nil
}

// History returns every record for target, newest first.
func (h *Handler) History(ctx context.Context, target string) (model.SubjectID, []model.Punishment, error) {
	subject, err := h.resolver.Resolve(ctx, target)
	if err != nil {
		return model.SubjectID{}, nil, err
	}
	history, err := h.engine.History(ctx, subject).Wait(ctx)
	return subject, history, err
}

// Lookup returns the record with the given id, or nil.
func (h *Handler) Lookup(ctx context.Context, id int64) (*model.Punishment, error) {
	return h.engine.ByID(ctx, id).Wait(ctx)
}

// UserMessage renders err for the moderator who issued the command.
func UserMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidDuration):
		return "Invalid duration. Use units s, m, h, d, w (e.g. 30m, 1d12h) or \"perm\"."
	case errors.Is(err, ErrSubjectNotResolved):
		return "Unknown player. Use their UUID or the name of a connected player."
	case errors.Is(err, ErrReasonRequired):
		return "A reason is required."
	case errors.Is(err, model.ErrReasonTooLong), errors.Is(err, model.ErrIssuerTooLong):
		return "Reason or issuer is too long."
	case datastore.IsStorageError(err), errors.Is(err, async.ErrPoolClosed),
		errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return "The operation did not complete. Please try again."
	}
	return "The operation failed: " + err.Error()
}

// Rejected reports whether err is an input problem the moderator can
// fix, as opposed to a storage failure worth retrying.
func Rejected(err error) bool {
	return errors.Is(err, ErrInvalidDuration) ||
		errors.Is(err, ErrSubjectNotResolved) ||
		errors.Is(err, ErrReasonRequired) ||
		errors.Is(err, model.ErrReasonTooLong) ||
		errors.Is(err, model.ErrIssuerTooLong)
}
