package store

import (
	"fmt"
	"strings"

	"github.com/NicolasHaas/warden/pkg/datastore"
)

// MemoryPath selects the in-memory backend in Open.
const MemoryPath = ":memory:"

// Backend is a punishment table plus its lifecycle.
type Backend interface {
	datastore.PunishmentStore
	Close() error
}

// Open returns the SQLite store at path, or a MemoryStore when path is
// MemoryPath. Records in the memory backend are lost on restart.
func Open(path string, opts datastore.Options) (Backend, error) {
	path = strings.TrimSpace(path)
	if path == MemoryPath {
		return NewMemory(), nil
	}
	f, err := datastore.NewProviderFactoryWithOptions(path, opts)
	if err != nil {
		return nil, fmt.Errorf("store: open %q: %w", path, err)
	}
	return &sqlBackend{DataStore: f.NonTx(), factory: f}, nil
}

type sqlBackend struct {
	datastore.DataStore
	factory *datastore.ProviderFactory
}

func (b *sqlBackend) Close() error {
	return b.factory.Close()
}

// Compile-time check: *MemoryStore implements datastore.DataStore.
var _ datastore.DataStore = (*MemoryStore)(nil)
