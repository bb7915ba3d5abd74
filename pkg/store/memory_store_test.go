package store_test

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/NicolasHaas/warden/pkg/datastore"
	"github.com/NicolasHaas/warden/pkg/model"
	"github.com/NicolasHaas/warden/pkg/store"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
)

var baseTime = time.UnixMilli(1_700_000_000_000).UTC()

// withStores runs fn against every backend so the memory store keeps
// matching SQLite.
func withStores(t *testing.T, fn func(t *testing.T, st store.Backend)) {
	t.Helper()

	t.Run("sqlite", func(t *testing.T) {
		st, err := store.Open(filepath.Join(t.TempDir(), "test.db"), datastore.Options{})
		if err != nil {
			t.Fatalf("Open: unexpected error: %v", err)
		}
		t.Cleanup(func() { _ = st.Close() })
		fn(t, st)
	})

	t.Run("memory", func(t *testing.T) {
		st, err := store.Open(store.MemoryPath, datastore.Options{})
		if err != nil {
			t.Fatalf("Open: unexpected error: %v", err)
		}
		fn(t, st)
	})
}

func TestStoreBasicFlow(t *testing.T) {
	withStores(t, func(t *testing.T, st store.Backend) {
		ctx := context.Background()
		subject := uuid.New()
		exp := baseTime.Add(time.Hour)

		p, err := st.Insert(ctx, model.NewPunishment{
			SubjectID: subject, Kind: model.KindMute, Reason: "  caps  ", Issuer: "Mod1",
			CreatedAt: baseTime.Add(123 * time.Microsecond), ExpiresAt: &exp,
		})
		if err != nil {
			t.Fatalf("Insert: unexpected error: %v", err)
		}
		if p.ID == 0 {
			t.Fatalf("Insert: expected non-zero ID")
		}
		if p.Reason != "caps" {
			t.Errorf("Insert: reason = %q, want trimmed %q", p.Reason, "caps")
		}
		if !p.CreatedAt.Equal(baseTime) {
			t.Errorf("Insert: created_at = %v, want millisecond-truncated %v", p.CreatedAt, baseTime)
		}

		got, err := st.FindActive(ctx, subject, model.KindMute, baseTime.Add(time.Minute))
		if err != nil {
			t.Fatalf("FindActive: unexpected error: %v", err)
		}
		if diff := cmp.Diff(p, got); diff != "" {
			t.Errorf("FindActive mismatch (-want +got):\n%s", diff)
		}

		n, err := st.DeactivateExpired(ctx, exp)
		if err != nil {
			t.Fatalf("DeactivateExpired: unexpected error: %v", err)
		}
		if n != 1 {
			t.Errorf("DeactivateExpired = %d, want 1", n)
		}

		got, err = st.FindActive(ctx, subject, model.KindMute, baseTime)
		if err != nil {
			t.Fatalf("FindActive: unexpected error: %v", err)
		}
		if got != nil {
			t.Errorf("FindActive after sweep: expected nil, got %+v", got)
		}
	})
}

func TestStoreSupersedeOrdering(t *testing.T) {
	withStores(t, func(t *testing.T, st store.Backend) {
		ctx := context.Background()
		subject := uuid.New()

		var ids []int64
		for i, issuer := range []string{"Mod1", "Mod2", "Mod3"} {
			// Same instant for the last two: the higher ID wins the tie.
			created := baseTime.Add(time.Duration(min(i, 1)) * time.Second)
			p, err := st.Insert(ctx, model.NewPunishment{SubjectID: subject, Kind: model.KindBan, Reason: "spam", Issuer: issuer, CreatedAt: created})
			if err != nil {
				t.Fatalf("Insert: unexpected error: %v", err)
			}
			ids = append(ids, p.ID)
		}

		got, err := st.FindActive(ctx, subject, model.KindBan, baseTime.Add(time.Hour))
		if err != nil {
			t.Fatalf("FindActive: unexpected error: %v", err)
		}
		if got == nil || got.Issuer != "Mod3" {
			t.Fatalf("FindActive: expected Mod3's record, got %+v", got)
		}

		history, err := st.FindAllForSubject(ctx, subject)
		if err != nil {
			t.Fatalf("FindAllForSubject: unexpected error: %v", err)
		}
		var gotIDs []int64
		for _, h := range history {
			gotIDs = append(gotIDs, h.ID)
		}
		want := []int64{ids[2], ids[1], ids[0]}
		if diff := cmp.Diff(want, gotIDs); diff != "" {
			t.Errorf("history order mismatch (-want +got):\n%s", diff)
		}

		n, err := st.DeactivateActive(ctx, subject, model.KindBan)
		if err != nil {
			t.Fatalf("DeactivateActive: unexpected error: %v", err)
		}
		if n != 3 {
			t.Errorf("DeactivateActive = %d, want 3", n)
		}
	})
}

func TestStoreSupersede(t *testing.T) {
	withStores(t, func(t *testing.T, st store.Backend) {
		ctx := context.Background()
		subject := uuid.New()

		first, _, err := st.Supersede(ctx, model.NewPunishment{SubjectID: subject, Kind: model.KindMute, Reason: "spam", Issuer: "Mod1", CreatedAt: baseTime})
		if err != nil {
			t.Fatalf("Supersede: unexpected error: %v", err)
		}
		second, cleared, err := st.Supersede(ctx, model.NewPunishment{SubjectID: subject, Kind: model.KindMute, Reason: "caps", Issuer: "Mod2", CreatedAt: baseTime.Add(time.Second)})
		if err != nil {
			t.Fatalf("Supersede: unexpected error: %v", err)
		}
		if cleared != 1 {
			t.Errorf("cleared = %d, want 1", cleared)
		}

		history, err := st.FindAllForSubject(ctx, subject)
		if err != nil {
			t.Fatalf("FindAllForSubject: unexpected error: %v", err)
		}
		got := map[int64]bool{}
		for _, h := range history {
			got[h.ID] = h.Active
		}
		want := map[int64]bool{first.ID: false, second.ID: true}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("active flags mismatch (-want +got):\n%s", diff)
		}
	})
}

func TestStoreValidation(t *testing.T) {
	withStores(t, func(t *testing.T, st store.Backend) {
		ctx := context.Background()
		subject := uuid.New()
		_, err := st.Insert(ctx, model.NewPunishment{SubjectID: subject, Kind: model.KindBan, Reason: "spam", Issuer: "", CreatedAt: baseTime})
		if !errors.Is(err, model.ErrIssuerEmpty) {
			t.Errorf("Insert: expected ErrIssuerEmpty, got %v", err)
		}
		if datastore.IsStorageError(err) {
			t.Errorf("Insert: validation error wrapped as StorageError: %v", err)
		}

		standing, err := st.Insert(ctx, model.NewPunishment{SubjectID: subject, Kind: model.KindBan, Reason: "spam", Issuer: "Mod1", CreatedAt: baseTime})
		if err != nil {
			t.Fatalf("Insert: unexpected error: %v", err)
		}
		_, _, err = st.Supersede(ctx, model.NewPunishment{SubjectID: subject, Kind: model.KindBan, Reason: strings.Repeat("r", model.MaxReasonLength+1), Issuer: "Mod2", CreatedAt: baseTime})
		if !errors.Is(err, model.ErrReasonTooLong) {
			t.Errorf("Supersede: expected ErrReasonTooLong, got %v", err)
		}
		got, err := st.FindActive(ctx, subject, model.KindBan, baseTime.Add(time.Second))
		if err != nil {
			t.Fatalf("FindActive: unexpected error: %v", err)
		}
		if got == nil || got.ID != standing.ID {
			t.Errorf("rejected supersede lifted the standing ban: %+v", got)
		}
	})
}

func TestStoreReturnsCopies(t *testing.T) {
	withStores(t, func(t *testing.T, st store.Backend) {
		ctx := context.Background()
		p, err := st.Insert(ctx, model.NewPunishment{SubjectID: uuid.New(), Kind: model.KindBan, Reason: "spam", Issuer: "Mod1", CreatedAt: baseTime})
		if err != nil {
			t.Fatalf("Insert: unexpected error: %v", err)
		}
		p.Active = false
		p.Reason = "mutated"

		got, err := st.FindByID(ctx, p.ID)
		if err != nil {
			t.Fatalf("FindByID: unexpected error: %v", err)
		}
		if !got.Active || got.Reason != "spam" {
			t.Errorf("FindByID: stored record was mutated through returned pointer: %+v", got)
		}
	})
}

func TestMemoryFail(t *testing.T) {
	st := store.NewMemory()
	ctx := context.Background()
	outage := errors.New("connection refused")

	st.Fail(outage)
	_, err := st.FindActive(ctx, uuid.New(), model.KindBan, baseTime)
	var se *datastore.StorageError
	if !errors.As(err, &se) {
		t.Fatalf("FindActive: expected StorageError, got %v", err)
	}
	if !errors.Is(err, outage) {
		t.Errorf("FindActive: expected wrapped outage error, got %v", err)
	}

	st.Fail(nil)
	if _, err := st.FindActive(ctx, uuid.New(), model.KindBan, baseTime); err != nil {
		t.Errorf("FindActive after recovery: unexpected error: %v", err)
	}
}

func TestMemoryLen(t *testing.T) {
	now := baseTime.Add(time.Hour)
	st := store.NewMemoryWithClock(func() time.Time { return now })
	ctx := context.Background()
	past := baseTime.Add(time.Minute)

	for _, n := range []model.NewPunishment{
		{SubjectID: uuid.New(), Kind: model.KindBan, Reason: "a", Issuer: "Mod1", CreatedAt: baseTime},
		{SubjectID: uuid.New(), Kind: model.KindMute, Reason: "b", Issuer: "Mod1", CreatedAt: baseTime, ExpiresAt: &past},
	} {
		if _, err := st.Insert(ctx, n); err != nil {
			t.Fatalf("Insert: unexpected error: %v", err)
		}
	}

	total, inForce := st.Len()
	if total != 2 || inForce != 1 {
		t.Errorf("Len = (%d, %d), want (2, 1)", total, inForce)
	}
}
