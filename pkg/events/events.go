// Package events carries punishment notifications from the engine to
// whoever wants them: staff chat relays, audit logs, the MQTT sink.
package events

import (
	"log/slog"
	"sync"
	"time"

	"github.com/NicolasHaas/warden/pkg/model"
)

// Type names an event.
type Type string

const (
	// PunishmentIssued fires once per recorded ban, kick or mute.
	PunishmentIssued Type = "punishment.issued"
	// PunishmentRevoked fires when an unban or unmute changed at least one record.
	PunishmentRevoked Type = "punishment.revoked"
)

// Event is delivered to every subscriber. Issued events carry the full
// record in Punishment; revoked events carry Actor and Count instead.
type Event struct {
	Type       Type              `json:"type"`
	At         time.Time         `json:"at"`
	SubjectID  model.SubjectID   `json:"subject_id"`
	Kind       model.Kind        `json:"kind"`
	Punishment *model.Punishment `json:"punishment,omitempty"`
	Actor      string            `json:"actor,omitempty"`
	Count      int64             `json:"count,omitempty"`
}

// Issued builds the event for a freshly inserted record.
func Issued(p *model.Punishment) Event {
	return Event{
		Type:       PunishmentIssued,
		At:         p.CreatedAt,
		SubjectID:  p.SubjectID,
		Kind:       p.Kind,
		Punishment: p,
	}
}

// Revoked builds the event for an unban or unmute.
func Revoked(subject model.SubjectID, kind model.Kind, actor string, count int64, at time.Time) Event {
	return Event{
		Type:      PunishmentRevoked,
		At:        at,
		SubjectID: subject,
		Kind:      kind,
		Actor:     actor,
		Count:     count,
	}
}

// Handler receives events. It runs on the publisher's goroutine and
// must not block for long.
type Handler func(Event)

// Publisher is what the engine needs from a bus.
type Publisher interface {
	Publish(Event)
}

// Bus fans events out to subscribers in subscription order.
type Bus struct {
	log *slog.Logger

	mu     sync.RWMutex
	nextID int
	subs   []subscription
}

type subscription struct {
	id int
	h  Handler
}

// NewBus creates an empty bus.
func NewBus(log *slog.Logger) *Bus {
	if log == nil {
		log = slog.Default()
	}
	return &Bus{log: log}
}

// Subscribe registers h and returns a function that removes it.
func (b *Bus) Subscribe(h Handler) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.subs = append(b.subs, subscription{id: id, h: h})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, s := range b.subs {
			if s.id == id {
				b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
				return
			}
		}
	}
}

// Publish delivers e to every subscriber. A panicking handler is logged
// and skipped; the rest still receive the event.
func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	subs := make([]subscription, len(b.subs))
	copy(subs, b.subs)
	b.mu.RUnlock()

	for _, s := range subs {
		b.deliver(s.h, e)
	}
}

func (b *Bus) deliver(h Handler, e Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("event handler panicked", "type", e.Type, "panic", r)
		}
	}()
	h(e)
}
