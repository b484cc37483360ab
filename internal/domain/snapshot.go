package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/MrSnakeDoc/integrator/internal/payload"
)

var (
	// ErrNotFound is returned when no snapshot matches the request.
	ErrNotFound = errors.New("snapshot not found")
	// ErrDuplicateFingerprint is returned when a snapshot with the same
	// fingerprint is already stored.
	ErrDuplicateFingerprint = errors.New("snapshot fingerprint already exists")
	// ErrInvalidPayload is returned when a payload is not a non-empty collection.
	ErrInvalidPayload = errors.New("payload must be a non-empty collection")
)

// Snapshot is one persisted, timestamped copy of the upstream payload.
//
// Fingerprint is the digest of the canonical form of Payload and is unique
// across all snapshots. The pair only changes through Patch.Apply.
type Snapshot struct {
	// ID is assigned by the store on creation.
	ID int64

	// Payload is the fetched (or supplied) document.
	Payload payload.Value

	// Fingerprint is payload.Fingerprint(Payload).
	Fingerprint string

	// ObservedAt is when this payload was confirmed current.
	// It defines the "latest" snapshot, not CreatedAt.
	ObservedAt time.Time

	// SourceURL is where the payload came from.
	SourceURL string

	// Storage bookkeeping.
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewSnapshot builds an unsaved snapshot and computes its fingerprint.
func NewSnapshot(p payload.Value, sourceURL string, observedAt time.Time) (*Snapshot, error) {
	fp, err := payload.Fingerprint(p)
	if err != nil {
		return nil, err
	}
	return &Snapshot{
		Payload:     p,
		Fingerprint: fp,
		ObservedAt:  observedAt,
		SourceURL:   sourceURL,
	}, nil
}

// ValidatePayload checks that p decodes to a non-empty collection.
func ValidatePayload(p payload.Value) error {
	if !payload.IsCollection(p) {
		return fmt.Errorf("%w: got %s", ErrInvalidPayload, kindOf(p))
	}
	if payload.Count(p) == 0 {
		return fmt.Errorf("%w: collection is empty", ErrInvalidPayload)
	}
	return nil
}

// Patch is a partial update. Nil fields are left untouched.
type Patch struct {
	Payload   payload.Value
	SourceURL *string

	// ObservedAt is applied only together with Payload.
	ObservedAt time.Time
}

// Apply mutates s. A new payload always brings a new fingerprint and a new
// observation time, never one without the other.
func (p Patch) Apply(s *Snapshot) error {
	if p.Payload != nil {
		fp, err := payload.Fingerprint(p.Payload)
		if err != nil {
			return err
		}
		s.Payload = p.Payload
		s.Fingerprint = fp
		s.ObservedAt = p.ObservedAt
	}
	if p.SourceURL != nil {
		s.SourceURL = *p.SourceURL
	}
	return nil
}

// Clone returns a shallow copy. Payload trees are never mutated in place,
// so sharing them is safe.
func (s *Snapshot) Clone() *Snapshot {
	c := *s
	return &c
}

// Newer reports whether s should be preferred over other as the latest
// snapshot: greater ObservedAt, ties broken by greater ID.
func (s *Snapshot) Newer(other *Snapshot) bool {
	if other == nil {
		return true
	}
	if !s.ObservedAt.Equal(other.ObservedAt) {
		return s.ObservedAt.After(other.ObservedAt)
	}
	return s.ID > other.ID
}

func kindOf(v payload.Value) string {
	if v == nil {
		return "nothing"
	}
	return v.Kind().String()
}
