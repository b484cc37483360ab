// Package sqlite is the default snapshot store, backed by a single SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	sqlitedrv "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/MrSnakeDoc/integrator/internal/domain"
	"github.com/MrSnakeDoc/integrator/internal/payload"
)

const driverName = "sqlite"

const (
	insertSQL = `
INSERT INTO snapshots (payload, fingerprint, observed_at, source_url, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?);`

	selectColumns = `SELECT id, payload, fingerprint, observed_at, source_url, created_at, updated_at FROM snapshots`

	getSQL    = selectColumns + ` WHERE id = ?;`
	latestSQL = selectColumns + ` ORDER BY observed_at DESC, id DESC LIMIT 1;`
	listSQL   = selectColumns + ` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?;`
	countSQL  = `SELECT COUNT(*) FROM snapshots;`

	updateSQL = `
UPDATE snapshots
SET payload = ?, fingerprint = ?, observed_at = ?, source_url = ?, updated_at = ?
WHERE id = ?;`

	deleteSQL = `DELETE FROM snapshots WHERE id = ?;`
)

// Store implements domain.Store on SQLite.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the clock used for created_at/updated_at.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Open migrates the database at path and returns a store using it.
func Open(ctx context.Context, path string, opts ...Option) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlite store: path required")
	}
	if _, err := Migrate(ctx, path); err != nil {
		return nil, err
	}

	db, err := sql.Open(driverName, dsn(path))
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite database: %w", err)
	}

	s := &Store{db: db, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// dsn adds the pragmas every connection needs. busy_timeout lets concurrent
// writers wait for the lock instead of failing with SQLITE_BUSY.
func dsn(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return "file:" + strings.TrimPrefix(path, "file:") + sep +
		"_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_txlock=immediate"
}

func (s *Store) Create(ctx context.Context, snap *domain.Snapshot) error {
	body, err := payload.Canonical(snap.Payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	now := s.now()
	res, err := s.db.ExecContext(ctx, insertSQL,
		string(body), snap.Fingerprint, snap.ObservedAt.UnixNano(), snap.SourceURL,
		now.UnixNano(), now.UnixNano())
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("create snapshot: %w", domain.ErrDuplicateFingerprint)
		}
		return fmt.Errorf("create snapshot: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("create snapshot: last insert id: %w", err)
	}
	snap.ID = id
	snap.CreatedAt = time.Unix(0, now.UnixNano()).UTC()
	snap.UpdatedAt = snap.CreatedAt
	return nil
}

func (s *Store) Get(ctx context.Context, id int64) (*domain.Snapshot, error) {
	snap, err := scanSnapshot(s.db.QueryRowContext(ctx, getSQL, id))
	if err != nil {
		return nil, fmt.Errorf("get snapshot %d: %w", id, err)
	}
	return snap, nil
}

func (s *Store) Latest(ctx context.Context) (*domain.Snapshot, error) {
	snap, err := scanSnapshot(s.db.QueryRowContext(ctx, latestSQL))
	if err != nil {
		return nil, fmt.Errorf("latest snapshot: %w", err)
	}
	return snap, nil
}

func (s *Store) List(ctx context.Context, offset, limit int) ([]*domain.Snapshot, int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx, countSQL).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count snapshots: %w", err)
	}
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 || offset >= total {
		return []*domain.Snapshot{}, total, nil
	}

	rows, err := s.db.QueryContext(ctx, listSQL, limit, offset)
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

// Update runs read-modify-write in one immediate transaction so the
// fingerprint recomputed by the patch is checked against committed rows.
func (s *Store) Update(ctx context.Context, id int64, patch domain.Patch) (*domain.Snapshot, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("update snapshot %d: begin: %w", id, err)
	}
	defer func() { _ = tx.Rollback() }()

	snap, err := scanSnapshot(tx.QueryRowContext(ctx, getSQL, id))
	if err != nil {
		return nil, fmt.Errorf("update snapshot %d: %w", id, err)
	}
	if err := patch.Apply(snap); err != nil {
		return nil, fmt.Errorf("update snapshot %d: %w", id, err)
	}
	body, err := payload.Canonical(snap.Payload)
	if err != nil {
		return nil, fmt.Errorf("update snapshot %d: encode payload: %w", id, err)
	}

	now := s.now()
	if _, err := tx.ExecContext(ctx, updateSQL,
		string(body), snap.Fingerprint, snap.ObservedAt.UnixNano(), snap.SourceURL, now.UnixNano(), id); err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("update snapshot %d: %w", id, domain.ErrDuplicateFingerprint)
		}
		return nil, fmt.Errorf("update snapshot %d: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("update snapshot %d: commit: %w", id, err)
	}

	snap.UpdatedAt = time.Unix(0, now.UnixNano()).UTC()
	return snap, nil
}

func (s *Store) Delete(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, deleteSQL, id)
	if err != nil {
		return fmt.Errorf("delete snapshot %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete snapshot %d: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("delete snapshot %d: %w", id, domain.ErrNotFound)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *Store) Close() error { return s.db.Close() }

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSnapshot(row rowScanner) (*domain.Snapshot, error) {
	var (
		snap                             domain.Snapshot
		body                             string
		observedAt, createdAt, updatedAt int64
	)
	err := row.Scan(&snap.ID, &body, &snap.Fingerprint, &observedAt, &snap.SourceURL, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}

	v, err := payload.Decode([]byte(body))
	if err != nil {
		return nil, fmt.Errorf("decode stored payload: %w", err)
	}
	snap.Payload = v
	snap.ObservedAt = time.Unix(0, observedAt).UTC()
	snap.CreatedAt = time.Unix(0, createdAt).UTC()
	snap.UpdatedAt = time.Unix(0, updatedAt).UTC()
	return &snap, nil
}

func isUniqueViolation(err error) bool {
	var serr *sqlitedrv.Error
	if !errors.As(err, &serr) {
		return false
	}
	code := serr.Code()
	return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE ||
		(code&0xff == sqlite3.SQLITE_CONSTRAINT && strings.Contains(serr.Error(), "UNIQUE"))
}

var _ domain.Store = (*Store)(nil)
