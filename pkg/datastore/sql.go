package datastore

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/NicolasHaas/warden/pkg/model"
)

const (
	DefaultStatementTimeout = 5 * time.Second
	DefaultMaxOpenConns     = 8
)

// DB is satisfied by both *sqlx.DB and *sqlx.Tx.
type DB interface {
	sqlx.ExtContext
}

// Options tunes the connection pool.
type Options struct {
	// StatementTimeout bounds every store call, including waiting for a
	// pooled connection. Zero uses DefaultStatementTimeout.
	StatementTimeout time.Duration
	// MaxOpenConns caps the pool. Zero uses DefaultMaxOpenConns.
	MaxOpenConns int
}

func (o Options) normalized() Options {
	if o.StatementTimeout <= 0 {
		o.StatementTimeout = DefaultStatementTimeout
	}
	if o.MaxOpenConns <= 0 {
		o.MaxOpenConns = DefaultMaxOpenConns
	}
	return o
}

type baseProvider struct {
	DB
	timeout time.Duration
}

func (p *baseProvider) Close() error {
	return nil
}

func (p *baseProvider) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, p.timeout)
}

type nonTxProvider struct {
	baseProvider
	factory *ProviderFactory
}

type txProvider struct {
	baseProvider
	tx *sqlx.Tx
}

func (c *txProvider) Rollback() error {
	return c.tx.Rollback()
}

func (c *txProvider) Commit() error {
	return c.tx.Commit()
}

// ProviderFactory hands out providers bound to a shared SQLite pool.
type ProviderFactory struct {
	DB   *sqlx.DB
	opts Options
}

func (sf *ProviderFactory) NonTx() DataStore {
	return &nonTxProvider{
		baseProvider: baseProvider{
			DB:      sf.DB,
			timeout: sf.opts.StatementTimeout,
		},
		factory: sf,
	}
}

func (sf *ProviderFactory) Tx(ctx context.Context) (DataStoreTx, error) {
	return sf.beginTx(ctx)
}

func (sf *ProviderFactory) beginTx(ctx context.Context) (*txProvider, error) {
	tx, err := sf.DB.BeginTxx(ctx, nil)
	if err != nil {
		return nil, storageErr("begin tx", err)
	}

	return &txProvider{
		baseProvider: baseProvider{
			DB:      tx,
			timeout: sf.opts.StatementTimeout,
		},
		tx: tx,
	}, nil
}

// NewProviderFactory opens (or creates) a SQLite database with default
// pool options and runs migrations.
func NewProviderFactory(dbPath string) (*ProviderFactory, error) {
	return NewProviderFactoryWithOptions(dbPath, Options{})
}

// NewProviderFactoryWithOptions opens (or creates) a SQLite database and runs migrations.
func NewProviderFactoryWithOptions(dbPath string, opts Options) (*ProviderFactory, error) {
	if strings.TrimSpace(dbPath) == "" {
		return nil, fmt.Errorf("datastore: database path is required")
	}
	opts = opts.normalized()

	// WAL for concurrent readers; busy_timeout avoids "database is locked"
	// while the sweeper and request traffic write at the same time.
	dsn := filepath.Clean(dbPath) + "?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	DB, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("datastore: open DB: %w", err)
	}
	DB.SetMaxOpenConns(opts.MaxOpenConns)

	ctx, cancel := context.WithTimeout(context.Background(), opts.StatementTimeout)
	defer cancel()
	if err := DB.PingContext(ctx); err != nil {
		_ = DB.Close()
		return nil, fmt.Errorf("datastore: ping DB: %w", err)
	}

	s := &ProviderFactory{DB: DB, opts: opts}
	if err := s.migrate(context.Background()); err != nil {
		_ = DB.Close()
		return nil, fmt.Errorf("datastore: migrate: %w", err)
	}
	return s, nil
}

// Close closes the database pool.
func (s *ProviderFactory) Close() error {
	return s.DB.Close()
}

// ---- Punishments ----

const punishmentColumns = "id, subject_id, kind, reason, issuer, created_at, expires_at, active"

type punishmentRow struct {
	ID        int64         `db:"id"`
	SubjectID string        `db:"subject_id"`
	Kind      string        `db:"kind"`
	Reason    string        `db:"reason"`
	Issuer    string        `db:"issuer"`
	CreatedAt int64         `db:"created_at"`
	ExpiresAt sql.NullInt64 `db:"expires_at"`
	Active    bool          `db:"active"`
}

func (r *punishmentRow) toModel() (*model.Punishment, error) {
	subject, err := uuid.Parse(r.SubjectID)
	if err != nil {
		return nil, fmt.Errorf("subject id %q: %w", r.SubjectID, err)
	}
	kind, err := model.ParseKind(r.Kind)
	if err != nil {
		return nil, fmt.Errorf("row %d: %w", r.ID, err)
	}
	p := &model.Punishment{
		ID:        r.ID,
		SubjectID: subject,
		Kind:      kind,
		Reason:    r.Reason,
		Issuer:    r.Issuer,
		CreatedAt: time.UnixMilli(r.CreatedAt).UTC(),
		Active:    r.Active,
	}
	if r.ExpiresAt.Valid {
		exp := time.UnixMilli(r.ExpiresAt.Int64).UTC()
		p.ExpiresAt = &exp
	}
	return p, nil
}

// Insert validates and stores a new active punishment. Validation
// failures are returned as the model's sentinel errors, not StorageError.
func (s *baseProvider) Insert(ctx context.Context, n model.NewPunishment) (*model.Punishment, error) {
	n.Normalize()
	if err := n.Validate(); err != nil {
		return nil, err
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.insert(ctx, n)
}

// Supersede clears the active (subject, kind) records and inserts n. On
// a transaction provider both statements join that transaction.
func (s *baseProvider) Supersede(ctx context.Context, n model.NewPunishment) (*model.Punishment, int64, error) {
	n.Normalize()
	if err := n.Validate(); err != nil {
		return nil, 0, err
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.supersede(ctx, n)
}

// Supersede runs the clear and the insert in a transaction of its own.
func (s *nonTxProvider) Supersede(ctx context.Context, n model.NewPunishment) (*model.Punishment, int64, error) {
	n.Normalize()
	if err := n.Validate(); err != nil {
		return nil, 0, err
	}

	// One budget for the whole transaction; cancelling it rolls back.
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	tx, err := s.factory.beginTx(ctx)
	if err != nil {
		return nil, 0, err
	}
	rec, cleared, err := tx.supersede(ctx, n)
	if err != nil {
		_ = tx.Rollback()
		return nil, 0, err
	}
	if err := tx.Commit(); err != nil {
		return nil, 0, storageErr("commit supersede", err)
	}
	return rec, cleared, nil
}

func (s *baseProvider) supersede(ctx context.Context, n model.NewPunishment) (*model.Punishment, int64, error) {
	cleared, err := s.deactivate(ctx, n.SubjectID, n.Kind)
	if err != nil {
		return nil, 0, err
	}
	rec, err := s.insert(ctx, n)
	if err != nil {
		return nil, 0, err
	}
	return rec, cleared, nil
}

// insert expects n to be normalized and valid.
func (s *baseProvider) insert(ctx context.Context, n model.NewPunishment) (*model.Punishment, error) {
	var expires sql.NullInt64
	if n.ExpiresAt != nil {
		expires = sql.NullInt64{Int64: n.ExpiresAt.UnixMilli(), Valid: true}
	}

	rec := n.Record(0)
	res, err := s.ExecContext(ctx,
		"INSERT INTO punishments (subject_id, kind, reason, issuer, created_at, expires_at, active) VALUES (?, ?, ?, ?, ?, ?, 1)",
		rec.SubjectID.String(), rec.Kind.String(), rec.Reason, rec.Issuer, rec.CreatedAt.UnixMilli(), expires)
	if err != nil {
		return nil, storageErr("insert punishment", err)
	}
	rec.ID, err = res.LastInsertId()
	if err != nil {
		return nil, storageErr("insert punishment", err)
	}
	return rec, nil
}

// DeactivateActive sets active = 0 on every active row for (subject, kind).
func (s *baseProvider) DeactivateActive(ctx context.Context, subject model.SubjectID, kind model.Kind) (int64, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.deactivate(ctx, subject, kind)
}

func (s *baseProvider) deactivate(ctx context.Context, subject model.SubjectID, kind model.Kind) (int64, error) {
	res, err := s.ExecContext(ctx,
		"UPDATE punishments SET active = 0 WHERE subject_id = ? AND kind = ? AND active = 1",
		subject.String(), kind.String())
	if err != nil {
		return 0, storageErr("deactivate active", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, storageErr("deactivate active", err)
	}
	return n, nil
}

// DeactivateExpired sets active = 0 on every active row with expires_at <= asOf.
func (s *baseProvider) DeactivateExpired(ctx context.Context, asOf time.Time) (int64, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	res, err := s.ExecContext(ctx,
		"UPDATE punishments SET active = 0 WHERE active = 1 AND expires_at IS NOT NULL AND expires_at <= ?",
		asOf.UnixMilli())
	if err != nil {
		return 0, storageErr("deactivate expired", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, storageErr("deactivate expired", err)
	}
	return n, nil
}

// FindActive returns the newest in-force record for (subject, kind) at asOf.
func (s *baseProvider) FindActive(ctx context.Context, subject model.SubjectID, kind model.Kind, asOf time.Time) (*model.Punishment, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var row punishmentRow
	err := sqlx.GetContext(ctx, s, &row,
		"SELECT "+punishmentColumns+` FROM punishments
		WHERE subject_id = ? AND kind = ? AND active = 1
		AND (expires_at IS NULL OR expires_at > ?)
		ORDER BY created_at DESC, id DESC
		LIMIT 1`,
		subject.String(), kind.String(), asOf.UnixMilli())
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("find active", err)
	}
	p, err := row.toModel()
	if err != nil {
		return nil, storageErr("find active", err)
	}
	return p, nil
}

// FindAllForSubject returns every record for subject, newest first.
func (s *baseProvider) FindAllForSubject(ctx context.Context, subject model.SubjectID) ([]model.Punishment, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var rows []punishmentRow
	err := sqlx.SelectContext(ctx, s, &rows,
		"SELECT "+punishmentColumns+" FROM punishments WHERE subject_id = ? ORDER BY created_at DESC, id DESC",
		subject.String())
	if err != nil {
		return nil, storageErr("find history", err)
	}

	history := make([]model.Punishment, 0, len(rows))
	for i := range rows {
		p, err := rows[i].toModel()
		if err != nil {
			return nil, storageErr("find history", err)
		}
		history = append(history, *p)
	}
	return history, nil
}

// FindByID retrieves a record by its ID.
func (s *baseProvider) FindByID(ctx context.Context, id int64) (*model.Punishment, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var row punishmentRow
	err := sqlx.GetContext(ctx, s, &row, "SELECT "+punishmentColumns+" FROM punishments WHERE id = ?", id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("find by id", err)
	}
	p, err := row.toModel()
	if err != nil {
		return nil, storageErr("find by id", err)
	}
	return p, nil
}
