// Package postgres stores snapshots in PostgreSQL through a pgx pool.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrSnakeDoc/integrator/internal/domain"
	"github.com/MrSnakeDoc/integrator/internal/payload"
)

const (
	insertSQL = `
INSERT INTO snapshots (payload, fingerprint, observed_at, source_url, created_at, updated_at)
VALUES ($1::json, $2, $3, $4, $5, $5)
RETURNING id;`

	// payload::text returns the stored bytes untouched for json columns.
	selectColumns = `SELECT id, payload::text, fingerprint, observed_at, source_url, created_at, updated_at FROM snapshots`

	getSQL       = selectColumns + ` WHERE id = $1;`
	getLockedSQL = selectColumns + ` WHERE id = $1 FOR UPDATE;`
	latestSQL    = selectColumns + ` ORDER BY observed_at DESC, id DESC LIMIT 1;`
	listSQL      = selectColumns + ` ORDER BY created_at DESC, id DESC LIMIT $1 OFFSET $2;`
	countSQL     = `SELECT COUNT(*) FROM snapshots;`

	updateSQL = `
UPDATE snapshots
SET payload = $1::json, fingerprint = $2, observed_at = $3, source_url = $4, updated_at = $5
WHERE id = $6;`

	deleteSQL = `DELETE FROM snapshots WHERE id = $1;`
)

// Store implements domain.Store on PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the clock used for created_at/updated_at.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New wraps an existing pool. The schema must already be migrated.
func New(pool *pgxpool.Pool, opts ...Option) *Store {
	s := &Store{pool: pool, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Open migrates the database behind dsn and connects a pool to it.
func Open(ctx context.Context, dsn string, opts ...Option) (*Store, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("postgres store: dsn required")
	}
	if _, err := Migrate(ctx, dsn); err != nil {
		return nil, err
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return New(pool, opts...), nil
}

// Pool exposes the underlying pool.
func (s *Store) Pool() *pgxpool.Pool { return s.pool }

func (s *Store) Create(ctx context.Context, snap *domain.Snapshot) error {
	body, err := payload.Canonical(snap.Payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	now := s.now().UTC().Truncate(time.Microsecond)
	var id int64
	err = s.pool.QueryRow(ctx, insertSQL, string(body), snap.Fingerprint, snap.ObservedAt, snap.SourceURL, now).Scan(&id)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("create snapshot: %w", domain.ErrDuplicateFingerprint)
		}
		return fmt.Errorf("create snapshot: %w", err)
	}

	snap.ID = id
	snap.CreatedAt = now
	snap.UpdatedAt = now
	return nil
}

func (s *Store) Get(ctx context.Context, id int64) (*domain.Snapshot, error) {
	snap, err := scanSnapshot(s.pool.QueryRow(ctx, getSQL, id))
	if err != nil {
		return nil, fmt.Errorf("get snapshot %d: %w", id, err)
	}
	return snap, nil
}

func (s *Store) Latest(ctx context.Context) (*domain.Snapshot, error) {
	snap, err := scanSnapshot(s.pool.QueryRow(ctx, latestSQL))
	if err != nil {
		return nil, fmt.Errorf("latest snapshot: %w", err)
	}
	return snap, nil
}

func (s *Store) List(ctx context.Context, offset, limit int) ([]*domain.Snapshot, int, error) {
	var total int
	if err := s.pool.QueryRow(ctx, countSQL).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count snapshots: %w", err)
	}
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 || offset >= total {
		return []*domain.Snapshot{}, total, nil
	}

	rows, err := s.pool.Query(ctx, listSQL, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()

	page := make([]*domain.Snapshot, 0, limit)
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("list snapshots: %w", err)
		}
		page = append(page, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("list snapshots: %w", err)
	}
	return page, total, nil
}

func (s *Store) Update(ctx context.Context, id int64, patch domain.Patch) (*domain.Snapshot, error) {
	var updated *domain.Snapshot
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		snap, err := scanSnapshot(tx.QueryRow(ctx, getLockedSQL, id))
		if err != nil {
			return err
		}
		if err := patch.Apply(snap); err != nil {
			return err
		}
		body, err := payload.Canonical(snap.Payload)
		if err != nil {
			return fmt.Errorf("encode payload: %w", err)
		}

		now := s.now().UTC().Truncate(time.Microsecond)
		if _, err := tx.Exec(ctx, updateSQL, string(body), snap.Fingerprint, snap.ObservedAt, snap.SourceURL, now, id); err != nil {
			if isUniqueViolation(err) {
				return domain.ErrDuplicateFingerprint
			}
			return err
		}
		snap.UpdatedAt = now
		updated = snap
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("update snapshot %d: %w", id, err)
	}
	return updated, nil
}

func (s *Store) Delete(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, deleteSQL, id)
	if err != nil {
		return fmt.Errorf("delete snapshot %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("delete snapshot %d: %w", id, domain.ErrNotFound)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func scanSnapshot(row pgx.Row) (*domain.Snapshot, error) {
	var (
		snap domain.Snapshot
		body string
	)
	err := row.Scan(&snap.ID, &body, &snap.Fingerprint, &snap.ObservedAt, &snap.SourceURL, &snap.CreatedAt, &snap.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}

	v, err := payload.Decode([]byte(body))
	if err != nil {
		return nil, fmt.Errorf("decode stored payload: %w", err)
	}
	snap.Payload = v
	return &snap, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation
}

var _ domain.Store = (*Store)(nil)
