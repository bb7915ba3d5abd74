// Package model defines the core domain types for Warden.
package model

import (
	"errors"
	"strings"
)

// Kind is the closed set of punishment types.
type Kind int

const (
	KindBan  Kind = iota + 1 // Blocks logins until revoked or expired
	KindKick                 // Instantaneous disconnect, audit record only
	KindMute                 // Blocks chat until revoked or expired
)

var ErrInvalidKind = errors.New("invalid punishment kind: must be ban, kick, or mute")

func (k Kind) String() string {
	switch k {
	case KindBan:
		return "BAN"
	case KindKick:
		return "KICK"
	case KindMute:
		return "MUTE"
	default:
		return "UNKNOWN"
	}
}

// Valid returns true if the kind is one of Ban, Kick, or Mute.
func (k Kind) Valid() bool {
	return k >= KindBan && k <= KindMute
}

// Standing reports whether the kind describes a state that stays in force
// over time. Kicks are instantaneous and never standing.
func (k Kind) Standing() bool {
	return k == KindBan || k == KindMute
}

// ParseKind converts a case-insensitive name to a Kind.
func ParseKind(s string) (Kind, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "BAN":
		return KindBan, nil
	case "KICK":
		return KindKick, nil
	case "MUTE":
		return KindMute, nil
	default:
		return 0, ErrInvalidKind
	}
}

// MarshalText encodes the kind by name so JSON and YAML output stay readable.
func (k Kind) MarshalText() ([]byte, error) {
	if !k.Valid() {
		return nil, ErrInvalidKind
	}
	return []byte(k.String()), nil
}

// UnmarshalText decodes a kind name.
func (k *Kind) UnmarshalText(text []byte) error {
	parsed, err := ParseKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}
