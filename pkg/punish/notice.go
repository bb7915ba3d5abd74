package punish

import (
	"fmt"
	"time"

	"github.com/NicolasHaas/warden/pkg/duration"
	"github.com/NicolasHaas/warden/pkg/model"
)

// Notice is what a connected subject is told about a punishment.
type Notice struct {
	Punishment *model.Punishment
	Message    string
}

// Connections is the session side of the proxy. Disconnect and Notify
// are no-ops for subjects that are not connected and must not block.
type Connections interface {
	Disconnect(subject model.SubjectID, n Notice)
	Notify(subject model.SubjectID, n Notice)
}

type nopConnections struct{}

func (nopConnections) Disconnect(model.SubjectID, Notice) {}
func (nopConnections) Notify(model.SubjectID, Notice)     {}

// RemainingText renders the time left on p at asOf, or "permanent".
func RemainingText(p *model.Punishment, asOf time.Time) string {
	left, permanent := p.Remaining(asOf)
	if permanent {
		return "permanent"
	}
	return duration.Format(left)
}

// BanMessage is shown on disconnect and on every refused login.
func BanMessage(p *model.Punishment, asOf time.Time) string {
	return fmt.Sprintf("You are banned from this network.\nReason: %s\nBanned by: %s\nDuration: %s\nBan ID: %s",
		p.Reason, p.Issuer, RemainingText(p, asOf), p.Ref())
}

// KickMessage is shown when a subject is kicked.
func KickMessage(p *model.Punishment) string {
	return fmt.Sprintf("You were kicked from this network.\nReason: %s\nKicked by: %s\nKick ID: %s",
		p.Reason, p.Issuer, p.Ref())
}

// MuteMessage is sent when a mute is issued and whenever a muted
// subject tries to chat.
func MuteMessage(p *model.Punishment, asOf time.Time) string {
	return fmt.Sprintf("You are muted.\nReason: %s\nMuted by: %s\nDuration: %s\nMute ID: %s",
		p.Reason, p.Issuer, RemainingText(p, asOf), p.Ref())
}

func noticeFor(p *model.Punishment, asOf time.Time) Notice {
	var msg string
	switch p.Kind {
	case model.KindBan:
		msg = BanMessage(p, asOf)
	case model.KindKick:
		msg = KickMessage(p)
	case model.KindMute:
		msg = MuteMessage(p, asOf)
	}
	return Notice{Punishment: p, Message: msg}
}
