// Package memory is an in-process snapshot store.
// It backs tests and the "memory" store driver; nothing survives a restart.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/MrSnakeDoc/integrator/internal/domain"
)

// Store keeps snapshots in maps guarded by a single RWMutex, so every
// mutation (including the fingerprint uniqueness check) is atomic.
type Store struct {
	mu            sync.RWMutex
	snapshots     map[int64]*domain.Snapshot // ID -> Snapshot
	byFingerprint map[string]int64           // Fingerprint -> ID
	lastID        int64
	now           func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the clock used for CreatedAt/UpdatedAt.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New creates an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		snapshots:     make(map[int64]*domain.Snapshot),
		byFingerprint: make(map[string]int64),
		now:           time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Create stores a copy of snap and assigns its ID and timestamps.
func (s *Store) Create(_ context.Context, snap *domain.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byFingerprint[snap.Fingerprint]; exists {
		return fmt.Errorf("create snapshot: %w", domain.ErrDuplicateFingerprint)
	}

	s.lastID++
	now := s.now()
	snap.ID = s.lastID
	snap.CreatedAt = now
	snap.UpdatedAt = now

	s.snapshots[snap.ID] = snap.Clone()
	s.byFingerprint[snap.Fingerprint] = snap.ID
	return nil
}

// Get retrieves a snapshot by ID.
func (s *Store) Get(_ context.Context, id int64) (*domain.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap, ok := s.snapshots[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return snap.Clone(), nil
}

// Latest returns the snapshot with the greatest ObservedAt.
func (s *Store) Latest(_ context.Context) (*domain.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *domain.Snapshot
	for _, snap := range s.snapshots {
		if snap.Newer(latest) {
			latest = snap
		}
	}
	if latest == nil {
		return nil, domain.ErrNotFound
	}
	return latest.Clone(), nil
}

// List returns a page ordered by CreatedAt descending (ties: ID descending).
func (s *Store) List(_ context.Context, offset, limit int) ([]*domain.Snapshot, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := make([]*domain.Snapshot, 0, len(s.snapshots))
	for _, snap := range s.snapshots {
		all = append(all, snap)
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.After(all[j].CreatedAt)
		}
		return all[i].ID > all[j].ID
	})

	total := len(all)
	if offset < 0 {
		offset = 0
	}
	if offset >= total || limit <= 0 {
		return []*domain.Snapshot{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}

	page := make([]*domain.Snapshot, 0, end-offset)
	for _, snap := range all[offset:end] {
		page = append(page, snap.Clone())
	}
	return page, total, nil
}

// Update applies patch to the snapshot with the given ID.
func (s *Store) Update(_ context.Context, id int64, patch domain.Patch) (*domain.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.snapshots[id]
	if !ok {
		return nil, domain.ErrNotFound
	}

	next := current.Clone()
	if err := patch.Apply(next); err != nil {
		return nil, fmt.Errorf("update snapshot: %w", err)
	}
	if owner, exists := s.byFingerprint[next.Fingerprint]; exists && owner != id {
		return nil, fmt.Errorf("update snapshot: %w", domain.ErrDuplicateFingerprint)
	}
	next.UpdatedAt = s.now()

	delete(s.byFingerprint, current.Fingerprint)
	s.byFingerprint[next.Fingerprint] = id
	s.snapshots[id] = next
	return next.Clone(), nil
}

// Delete removes a snapshot.
func (s *Store) Delete(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap, ok := s.snapshots[id]
	if !ok {
		return domain.ErrNotFound
	}
	delete(s.byFingerprint, snap.Fingerprint)
	delete(s.snapshots, id)
	return nil
}

// Count returns the number of stored snapshots.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.snapshots)
}

func (s *Store) Ping(context.Context) error { return nil }
func (s *Store) Close() error               { return nil }

var _ domain.Store = (*Store)(nil)
