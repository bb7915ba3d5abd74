package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/NicolasHaas/warden/pkg/datastore"
	"github.com/NicolasHaas/warden/pkg/model"
)

// MemoryStore provides an in-memory punishment table for tests and for
// ephemeral deployments. It mirrors SQLite behavior for validation,
// millisecond precision, ordering and error handling.
type MemoryStore struct {
	mu sync.RWMutex

	now func() time.Time

	nextID  int64
	records map[int64]*model.Punishment
	failure error
}

// NewMemory creates a MemoryStore using time.Now().UTC().
func NewMemory() *MemoryStore {
	return NewMemoryWithClock(func() time.Time { return time.Now().UTC() })
}

// NewMemoryWithClock creates a MemoryStore with a custom clock. Only Len
// reads the clock; queries take their reference instant from the caller.
func NewMemoryWithClock(now func() time.Time) *MemoryStore {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &MemoryStore{
		now:     now,
		nextID:  1,
		records: make(map[int64]*model.Punishment),
	}
}

// Close is a no-op for MemoryStore.
func (s *MemoryStore) Close() error {
	return nil
}

// Fail makes every following call return a *datastore.StorageError
// wrapping err. Fail(nil) restores normal operation.
func (s *MemoryStore) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failure = err
}

// Len returns the number of stored records and how many are in force now.
func (s *MemoryStore) Len() (total, inForce int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	now := s.now()
	for _, p := range s.records {
		if p.InForceAt(now) {
			inForce++
		}
	}
	return len(s.records), inForce
}

func (s *MemoryStore) check(ctx context.Context, op string) error {
	if err := ctx.Err(); err != nil {
		return &datastore.StorageError{Op: op, Err: err}
	}
	if s.failure != nil {
		return &datastore.StorageError{Op: op, Err: s.failure}
	}
	return nil
}

// Insert validates and stores a new active punishment. Validation
// failures are returned as the model's sentinel errors.
func (s *MemoryStore) Insert(ctx context.Context, n model.NewPunishment) (*model.Punishment, error) {
	n.Normalize()
	if err := n.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx, "insert punishment"); err != nil {
		return nil, err
	}
	return s.insert(n), nil
}

// Supersede clears the active (subject, kind) records and inserts n
// under one lock, so no reader sees the gap between the two.
func (s *MemoryStore) Supersede(ctx context.Context, n model.NewPunishment) (*model.Punishment, int64, error) {
	n.Normalize()
	if err := n.Validate(); err != nil {
		return nil, 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx, "supersede punishment"); err != nil {
		return nil, 0, err
	}
	cleared := s.deactivate(n.SubjectID, n.Kind)
	return s.insert(n), cleared, nil
}

func (s *MemoryStore) insert(n model.NewPunishment) *model.Punishment {
	rec := n.Record(s.nextID)
	s.nextID++
	s.records[rec.ID] = rec
	out := copyPunishment(rec)
	return &out
}

// DeactivateActive sets Active = false on every active record for (subject, kind).
func (s *MemoryStore) DeactivateActive(ctx context.Context, subject model.SubjectID, kind model.Kind) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx, "deactivate active"); err != nil {
		return 0, err
	}
	return s.deactivate(subject, kind), nil
}

func (s *MemoryStore) deactivate(subject model.SubjectID, kind model.Kind) int64 {
	var n int64
	for _, p := range s.records {
		if p.Active && p.SubjectID == subject && p.Kind == kind {
			p.Active = false
			n++
		}
	}
	return n
}

// DeactivateExpired sets Active = false on every active record with an
// expiry at or before asOf.
func (s *MemoryStore) DeactivateExpired(ctx context.Context, asOf time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx, "deactivate expired"); err != nil {
		return 0, err
	}

	asOf = model.Millis(asOf)
	var n int64
	for _, p := range s.records {
		if p.Active && p.IsExpiredAt(asOf) {
			p.Active = false
			n++
		}
	}
	return n, nil
}

// FindActive returns the newest in-force record for (subject, kind) at asOf.
func (s *MemoryStore) FindActive(ctx context.Context, subject model.SubjectID, kind model.Kind, asOf time.Time) (*model.Punishment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx, "find active"); err != nil {
		return nil, err
	}

	asOf = model.Millis(asOf)
	var best *model.Punishment
	for _, p := range s.records {
		if p.SubjectID != subject || p.Kind != kind || !p.InForceAt(asOf) {
			continue
		}
		if best == nil || newer(p, best) {
			best = p
		}
	}
	if best == nil {
		return nil, nil
	}
	out := copyPunishment(best)
	return &out, nil
}

// FindAllForSubject returns every record for subject, newest first.
func (s *MemoryStore) FindAllForSubject(ctx context.Context, subject model.SubjectID) ([]model.Punishment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx, "find history"); err != nil {
		return nil, err
	}

	history := make([]model.Punishment, 0)
	for _, p := range s.records {
		if p.SubjectID == subject {
			history = append(history, copyPunishment(p))
		}
	}
	sort.Slice(history, func(i, j int) bool {
		return newer(&history[i], &history[j])
	})
	return history, nil
}

// FindByID retrieves a record by its ID.
func (s *MemoryStore) FindByID(ctx context.Context, id int64) (*model.Punishment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx, "find by id"); err != nil {
		return nil, err
	}

	p, ok := s.records[id]
	if !ok {
		return nil, nil
	}
	out := copyPunishment(p)
	return &out, nil
}

// newer matches the SQL ordering: created_at DESC, id DESC.
func newer(a, b *model.Punishment) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID > b.ID
}

func copyPunishment(p *model.Punishment) model.Punishment {
	out := *p
	if p.ExpiresAt != nil {
		exp := *p.ExpiresAt
		out.ExpiresAt = &exp
	}
	return out
}
