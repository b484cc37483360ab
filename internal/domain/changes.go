package domain

import (
	"context"
	"errors"
)

// ChangeDetector decides whether a freshly computed fingerprint is new.
//
// It is a fast path that saves a write when nothing changed. Correctness
// under concurrent runs comes from the store's uniqueness constraint.
type ChangeDetector struct {
	store LatestReader
}

// NewChangeDetector creates a detector reading from store.
func NewChangeDetector(store LatestReader) *ChangeDetector {
	return &ChangeDetector{store: store}
}

// HasChanged reports true when no snapshot exists yet or when the latest
// snapshot's fingerprint differs from candidate (byte-exact comparison).
func (d *ChangeDetector) HasChanged(ctx context.Context, candidate string) (bool, error) {
	latest, err := d.store.Latest(ctx)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return true, nil
		}
		return false, err
	}
	return latest.Fingerprint != candidate, nil
}
