package datastore

import (
	"context"
	"fmt"
)

const schemaV1 = `
CREATE TABLE IF NOT EXISTS punishments (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	subject_id TEXT    NOT NULL CHECK(length(subject_id) = 36),
	kind       TEXT    NOT NULL CHECK(kind IN ('BAN', 'KICK', 'MUTE')),
	reason     TEXT    NOT NULL CHECK(length(reason) > 0),
	issuer     TEXT    NOT NULL CHECK(length(issuer) > 0),
	created_at INTEGER NOT NULL,
	expires_at INTEGER CHECK(expires_at IS NULL OR expires_at > created_at),
	active     INTEGER NOT NULL DEFAULT 1 CHECK(active IN (0, 1))
);

CREATE INDEX IF NOT EXISTS idx_punishments_subject_kind_active
	ON punishments (subject_id, kind, active);
`

// migration is one schema version. Statements run in a single transaction.
type migration struct {
	version    int
	statements []string
}

var migrations = []migration{
	{
		version:    1,
		statements: []string{schemaV1},
	},
	{
		// Sweeper scans by (active, expires_at).
		version: 2,
		statements: []string{
			"CREATE INDEX IF NOT EXISTS idx_punishments_active_expires ON punishments (active, expires_at)",
		},
	},
}

func (s *ProviderFactory) migrate(ctx context.Context) error {
	if err := s.ensureSchemaMigrations(ctx); err != nil {
		return err
	}
	currentVersion, err := s.getSchemaVersion(ctx)
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		if err := s.applyMigration(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

func (s *ProviderFactory) applyMigration(ctx context.Context, m migration) error {
	tx, err := s.beginTx(ctx)
	if err != nil {
		return fmt.Errorf("datastore: migrate v%d: %w", m.version, err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range m.statements {
		if err := execMigration(ctx, tx, stmt); err != nil {
			return fmt.Errorf("datastore: migrate v%d: %w", m.version, err)
		}
	}
	if _, err := tx.ExecContext(ctx, "UPDATE schema_migrations SET version = ?", m.version); err != nil {
		return fmt.Errorf("datastore: update schema version: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("datastore: commit v%d: %w", m.version, err)
	}
	return nil
}

func (s *ProviderFactory) ensureSchemaMigrations(ctx context.Context) error {
	if _, err := s.DB.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS schema_migrations (version INTEGER NOT NULL)"); err != nil {
		return fmt.Errorf("datastore: create schema_migrations: %w", err)
	}
	var count int
	if err := s.DB.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations").Scan(&count); err != nil {
		return fmt.Errorf("datastore: check schema_migrations: %w", err)
	}
	if count == 0 {
		if _, err := s.DB.ExecContext(ctx, "INSERT INTO schema_migrations (version) VALUES (0)"); err != nil {
			return fmt.Errorf("datastore: init schema_migrations: %w", err)
		}
	}
	return nil
}

func (s *ProviderFactory) getSchemaVersion(ctx context.Context) (int, error) {
	var version int
	if err := s.DB.QueryRowContext(ctx, "SELECT version FROM schema_migrations LIMIT 1").Scan(&version); err != nil {
		return 0, fmt.Errorf("datastore: read schema version: %w", err)
	}
	return version, nil
}

// SchemaVersion reports the applied schema version.
func (s *ProviderFactory) SchemaVersion(ctx context.Context) (int, error) {
	return s.getSchemaVersion(ctx)
}

func execMigration(ctx context.Context, p *txProvider, stmt string) error {
	if _, err := p.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("exec: %w", err)
	}
	return nil
}
