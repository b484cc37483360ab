package domain

import "context"

// Store persists snapshots. Implementations must enforce fingerprint
// uniqueness atomically and report it as ErrDuplicateFingerprint; that
// constraint is what keeps concurrent ingestion runs from storing the same
// content twice.
type Store interface {
	// Create assigns ID, CreatedAt and UpdatedAt on success.
	Create(ctx context.Context, s *Snapshot) error
	Get(ctx context.Context, id int64) (*Snapshot, error)
	// Latest returns the snapshot with the greatest ObservedAt (ties: greatest ID),
	// or ErrNotFound when the store is empty.
	Latest(ctx context.Context) (*Snapshot, error)
	// List returns a page ordered by CreatedAt descending and the total row count.
	List(ctx context.Context, offset, limit int) ([]*Snapshot, int, error)
	Update(ctx context.Context, id int64, patch Patch) (*Snapshot, error)
	Delete(ctx context.Context, id int64) error

	Ping(ctx context.Context) error
	Close() error
}

// LatestReader is the read side ChangeDetector needs.
type LatestReader interface {
	Latest(ctx context.Context) (*Snapshot, error)
}
