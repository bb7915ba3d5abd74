package model

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const MaxReasonLength = 256
const MaxIssuerLength = 64

var ErrReasonEmpty = errors.New("reason must not be empty")
var ErrReasonTooLong = fmt.Errorf("reason must not exceed %d characters", MaxReasonLength)
var ErrIssuerEmpty = errors.New("issuer must not be empty")
var ErrIssuerTooLong = fmt.Errorf("issuer must not exceed %d characters", MaxIssuerLength)
var ErrInvalidExpiry = errors.New("expiry must be after creation time")
var ErrSubjectEmpty = errors.New("subject id must not be nil")

// SubjectID identifies a player account. One per distinct account.
type SubjectID = uuid.UUID

// Punishment is a single ban, kick, or mute record.
// Records are never deleted; Active flips to false when they stop counting.
type Punishment struct {
	ID        int64      `json:"id" yaml:"id"`
	SubjectID SubjectID  `json:"subject_id" yaml:"subject_id"`
	Kind      Kind       `json:"kind" yaml:"kind"`
	Reason    string     `json:"reason" yaml:"reason"`
	Issuer    string     `json:"issuer" yaml:"issuer"`
	CreatedAt time.Time  `json:"created_at" yaml:"created_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty" yaml:"expires_at,omitempty"` // nil = permanent
	Active    bool       `json:"active" yaml:"active"`
}

// NewPunishment holds the caller-supplied fields of a record before the
// store assigns its ID.
type NewPunishment struct {
	SubjectID SubjectID
	Kind      Kind
	Reason    string
	Issuer    string
	CreatedAt time.Time
	ExpiresAt *time.Time
}

// Normalize truncates the timestamps to the millisecond precision
// records are stored at. Validate after normalizing: a sub-millisecond
// duration collapses to an expiry equal to CreatedAt.
func (n *NewPunishment) Normalize() {
	n.CreatedAt = Millis(n.CreatedAt)
	if n.ExpiresAt != nil {
		exp := Millis(*n.ExpiresAt)
		n.ExpiresAt = &exp
	}
}

// Validate checks the fields a store needs before inserting.
func (n *NewPunishment) Validate() error {
	if n.SubjectID == uuid.Nil {
		return ErrSubjectEmpty
	}
	if !n.Kind.Valid() {
		return ErrInvalidKind
	}
	reason := strings.TrimSpace(n.Reason)
	if reason == "" {
		return ErrReasonEmpty
	}
	if len(reason) > MaxReasonLength {
		return ErrReasonTooLong
	}
	issuer := strings.TrimSpace(n.Issuer)
	if issuer == "" {
		return ErrIssuerEmpty
	}
	if len(issuer) > MaxIssuerLength {
		return ErrIssuerTooLong
	}
	if n.ExpiresAt != nil && !n.ExpiresAt.After(n.CreatedAt) {
		return ErrInvalidExpiry
	}
	return nil
}

// Record builds the stored form of n with the given ID. New records are active.
func (n *NewPunishment) Record(id int64) *Punishment {
	p := &Punishment{
		ID:        id,
		SubjectID: n.SubjectID,
		Kind:      n.Kind,
		Reason:    strings.TrimSpace(n.Reason),
		Issuer:    strings.TrimSpace(n.Issuer),
		CreatedAt: n.CreatedAt,
		Active:    true,
	}
	if n.ExpiresAt != nil {
		exp := *n.ExpiresAt
		p.ExpiresAt = &exp
	}
	return p
}

// Ref returns the short human-facing reference, e.g. "#42".
func (p *Punishment) Ref() string {
	return fmt.Sprintf("#%d", p.ID)
}

// IsPermanent reports whether the punishment has no expiry.
func (p *Punishment) IsPermanent() bool {
	return p.ExpiresAt == nil
}

// IsExpiredAt reports whether the expiry has passed at asOf.
// An expiry equal to asOf counts as passed.
func (p *Punishment) IsExpiredAt(asOf time.Time) bool {
	return p.ExpiresAt != nil && !p.ExpiresAt.After(asOf)
}

// InForceAt reports whether the record counts toward the subject's state at asOf.
func (p *Punishment) InForceAt(asOf time.Time) bool {
	return p.Active && !p.IsExpiredAt(asOf)
}

// Remaining returns the time left at asOf. Permanent punishments return
// (0, true); expired ones return (0, false).
func (p *Punishment) Remaining(asOf time.Time) (time.Duration, bool) {
	if p.ExpiresAt == nil {
		return 0, true
	}
	left := p.ExpiresAt.Sub(asOf)
	if left < 0 {
		left = 0
	}
	return left, false
}

// Millis truncates t to millisecond precision in UTC, the resolution records are stored at.
func Millis(t time.Time) time.Time {
	return time.UnixMilli(t.UnixMilli()).UTC()
}
