package events_test

import (
	"testing"
	"time"

	"github.com/NicolasHaas/warden/pkg/events"
	"github.com/NicolasHaas/warden/pkg/logging"
	"github.com/NicolasHaas/warden/pkg/model"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
)

func TestBusDeliversInOrder(t *testing.T) {
	bus := events.NewBus(logging.Discard())

	var got []string
	bus.Subscribe(func(events.Event) { got = append(got, "first") })
	bus.Subscribe(func(events.Event) { got = append(got, "second") })

	bus.Publish(events.Event{Type: events.PunishmentIssued})

	if diff := cmp.Diff([]string{"first", "second"}, got); diff != "" {
		t.Errorf("delivery order mismatch (-want +got):\n%s", diff)
	}
}

func TestBusUnsubscribe(t *testing.T) {
	bus := events.NewBus(logging.Discard())

	var calls int
	unsubscribe := bus.Subscribe(func(events.Event) { calls++ })
	bus.Publish(events.Event{})
	unsubscribe()
	bus.Publish(events.Event{})
	unsubscribe()

	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestBusSurvivesPanickingHandler(t *testing.T) {
	bus := events.NewBus(logging.Discard())

	var reached bool
	bus.Subscribe(func(events.Event) { panic("bad handler") })
	bus.Subscribe(func(events.Event) { reached = true })

	bus.Publish(events.Event{})

	if !reached {
		t.Error("second handler did not receive the event")
	}
}

func TestIssuedAndRevoked(t *testing.T) {
	subject := uuid.New()
	created := time.UnixMilli(1_700_000_000_000).UTC()
	p := &model.Punishment{ID: 7, SubjectID: subject, Kind: model.KindMute, Reason: "caps", Issuer: "Mod1", CreatedAt: created, Active: true}

	issued := events.Issued(p)
	want := events.Event{Type: events.PunishmentIssued, At: created, SubjectID: subject, Kind: model.KindMute, Punishment: p}
	if diff := cmp.Diff(want, issued); diff != "" {
		t.Errorf("Issued mismatch (-want +got):\n%s", diff)
	}

	revoked := events.Revoked(subject, model.KindBan, "Mod2", 1, created)
	if revoked.Type != events.PunishmentRevoked || revoked.Actor != "Mod2" || revoked.Count != 1 || revoked.Punishment != nil {
		t.Errorf("Revoked = %+v", revoked)
	}
}
