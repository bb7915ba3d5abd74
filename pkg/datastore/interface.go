package datastore

import (
	"context"
	"io"
	"time"

	"github.com/NicolasHaas/warden/pkg/model"
)

// DataProviderFactory hands out stores. Tx stores see their own writes
// and publish them only on Commit.
type DataProviderFactory interface {
	NonTx() DataStore
	Tx(context.Context) (DataStoreTx, error)
}

// DataStoreTx is a DataStore bound to one open transaction.
type DataStoreTx interface {
	DataStore
	Rollback() error
	Commit() error
}

// DataStore defines the persistence interface for Warden.
// Implementations include the default SQLite store and the in-memory
// store in pkg/store used by tests.
type DataStore interface {
	io.Closer
	PunishmentStore
}

// PunishmentStore is the durable table of punishment records. Every method
// blocks on I/O; callers that must not block run them on a worker pool.
// Failures are returned as *StorageError. Lookups that find nothing
// return (nil, nil).
type PunishmentStore interface {
	PunishmentReadProvider
	PunishmentWriteProvider
}

// Compile-time check: ProviderFactory implements DataProviderFactory.
var _ DataProviderFactory = (*ProviderFactory)(nil)

type PunishmentReadProvider interface {
	// FindActive returns the newest active record for (subject, kind) whose
	// expiry is absent or after asOf.
	FindActive(ctx context.Context, subject model.SubjectID, kind model.Kind, asOf time.Time) (*model.Punishment, error)
	// FindAllForSubject returns the full history of a subject, newest first.
	FindAllForSubject(ctx context.Context, subject model.SubjectID) ([]model.Punishment, error)
	FindByID(ctx context.Context, id int64) (*model.Punishment, error)
}

type PunishmentWriteProvider interface {
	// Insert assigns an ID and persists an active record.
	Insert(ctx context.Context, p model.NewPunishment) (*model.Punishment, error)
	// Supersede clears every active record for (p.SubjectID, p.Kind) and
	// inserts p, atomically: either both happen or neither does. It
	// returns the new record and how many rows were cleared.
	Supersede(ctx context.Context, p model.NewPunishment) (*model.Punishment, int64, error)
	// DeactivateActive clears every active record for (subject, kind) and
	// returns how many rows changed.
	DeactivateActive(ctx context.Context, subject model.SubjectID, kind model.Kind) (int64, error)
	// DeactivateExpired clears every active record whose expiry is at or
	// before asOf and returns how many rows changed.
	DeactivateExpired(ctx context.Context, asOf time.Time) (int64, error)
}
