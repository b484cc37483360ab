// Package storetest holds the behaviour every domain.Store implementation
// must share. Store packages call Run from their own tests.
package storetest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MrSnakeDoc/integrator/internal/domain"
	"github.com/MrSnakeDoc/integrator/internal/payload"
)

// Factory builds an empty store whose bookkeeping timestamps come from now.
type Factory func(t *testing.T, now func() time.Time) domain.Store

// Clock is a deterministic clock advancing by step on every call.
type Clock struct {
	mu   sync.Mutex
	next time.Time
	step time.Duration
}

// NewClock starts at start (truncated to the second so every backend keeps
// full precision).
func NewClock(start time.Time, step time.Duration) *Clock {
	return &Clock{next: start.UTC().Truncate(time.Second), step: step}
}

// Now returns the current tick and advances the clock.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.next
	c.next = c.next.Add(c.step)
	return t
}

var base = time.Date(2025, 8, 26, 23, 35, 9, 0, time.UTC)

// Run executes the contract suite against the stores built by f.
func Run(t *testing.T, f Factory) {
	t.Run("create and get", func(t *testing.T) { testCreateGet(t, f) })
	t.Run("duplicate fingerprint", func(t *testing.T) { testDuplicate(t, f) })
	t.Run("latest on empty store", func(t *testing.T) { testLatestEmpty(t, f) })
	t.Run("latest follows observed_at", func(t *testing.T) { testLatestOrdering(t, f) })
	t.Run("latest tie breaks on id", func(t *testing.T) { testLatestTie(t, f) })
	t.Run("list pages by created_at", func(t *testing.T) { testList(t, f) })
	t.Run("update", func(t *testing.T) { testUpdate(t, f) })
	t.Run("update duplicate", func(t *testing.T) { testUpdateDuplicate(t, f) })
	t.Run("delete", func(t *testing.T) { testDelete(t, f) })
}

// Snapshot builds an unsaved snapshot from a JSON literal.
func Snapshot(t *testing.T, doc string, observedAt time.Time) *domain.Snapshot {
	t.Helper()
	v, err := payload.Decode([]byte(doc))
	if err != nil {
		t.Fatalf("decode %q: %v", doc, err)
	}
	snap, err := domain.NewSnapshot(v, "https://example.com/api/data", observedAt)
	if err != nil {
		t.Fatalf("new snapshot: %v", err)
	}
	return snap
}

func newStore(t *testing.T, f Factory) domain.Store {
	t.Helper()
	clock := NewClock(base, time.Second)
	return f(t, clock.Now)
}

func mustCreate(t *testing.T, s domain.Store, snap *domain.Snapshot) *domain.Snapshot {
	t.Helper()
	if err := s.Create(context.Background(), snap); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	return snap
}

func canonical(t *testing.T, v payload.Value) string {
	t.Helper()
	b, err := payload.Canonical(v)
	if err != nil {
		t.Fatalf("canonical: %v", err)
	}
	return string(b)
}

func testCreateGet(t *testing.T, f Factory) {
	ctx := context.Background()
	s := newStore(t, f)

	snap := mustCreate(t, s, Snapshot(t, `{"id":1,"name":"Acme"}`, base))
	if snap.ID <= 0 {
		t.Fatalf("Create() assigned ID %d, want > 0", snap.ID)
	}
	if snap.CreatedAt.IsZero() || snap.UpdatedAt.IsZero() {
		t.Error("Create() should set CreatedAt and UpdatedAt")
	}

	got, err := s.Get(ctx, snap.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Fingerprint != snap.Fingerprint {
		t.Errorf("Fingerprint = %s, want %s", got.Fingerprint, snap.Fingerprint)
	}
	if canonical(t, got.Payload) != `{"id":1,"name":"Acme"}` {
		t.Errorf("Payload = %s", canonical(t, got.Payload))
	}
	if !got.ObservedAt.Equal(base) {
		t.Errorf("ObservedAt = %v, want %v", got.ObservedAt, base)
	}
	if got.SourceURL != "https://example.com/api/data" {
		t.Errorf("SourceURL = %q", got.SourceURL)
	}

	if _, err := s.Get(ctx, snap.ID+1000); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Get(missing) error = %v, want ErrNotFound", err)
	}
}

func testDuplicate(t *testing.T, f Factory) {
	ctx := context.Background()
	s := newStore(t, f)

	mustCreate(t, s, Snapshot(t, `{"a":1}`, base))
	err := s.Create(ctx, Snapshot(t, `{"a":1}`, base.Add(time.Hour)))
	if !errors.Is(err, domain.ErrDuplicateFingerprint) {
		t.Fatalf("Create(duplicate) error = %v, want ErrDuplicateFingerprint", err)
	}

	_, total, err := s.List(ctx, 0, 10)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if total != 1 {
		t.Errorf("total = %d, want 1", total)
	}
}

func testLatestEmpty(t *testing.T, f Factory) {
	s := newStore(t, f)
	if _, err := s.Latest(context.Background()); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Latest() error = %v, want ErrNotFound", err)
	}
}

func testLatestOrdering(t *testing.T, f Factory) {
	s := newStore(t, f)
	t1, t2, t3 := base, base.Add(time.Hour), base.Add(2*time.Hour)

	// Insertion order deliberately differs from observation order.
	mustCreate(t, s, Snapshot(t, `{"v":2}`, t2))
	want := mustCreate(t, s, Snapshot(t, `{"v":3}`, t3))
	mustCreate(t, s, Snapshot(t, `{"v":1}`, t1))

	got, err := s.Latest(context.Background())
	if err != nil {
		t.Fatalf("Latest() error = %v", err)
	}
	if got.ID != want.ID {
		t.Errorf("Latest().ID = %d, want %d (observed at t3)", got.ID, want.ID)
	}
}

func testLatestTie(t *testing.T, f Factory) {
	s := newStore(t, f)

	mustCreate(t, s, Snapshot(t, `{"v":"first"}`, base))
	second := mustCreate(t, s, Snapshot(t, `{"v":"second"}`, base))

	got, err := s.Latest(context.Background())
	if err != nil {
		t.Fatalf("Latest() error = %v", err)
	}
	if got.ID != second.ID {
		t.Errorf("Latest().ID = %d, want %d", got.ID, second.ID)
	}
}

func testList(t *testing.T, f Factory) {
	ctx := context.Background()
	s := newStore(t, f)

	var ids []int64
	for i, doc := range []string{`{"n":0}`, `{"n":1}`, `{"n":2}`, `{"n":3}`, `{"n":4}`} {
		// observed_at runs backwards so list order cannot be confused with latest order
		snap := mustCreate(t, s, Snapshot(t, doc, base.Add(-time.Duration(i)*time.Hour)))
		ids = append(ids, snap.ID)
	}

	page, total, err := s.List(ctx, 0, 2)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if total != 5 {
		t.Errorf("total = %d, want 5", total)
	}
	if len(page) != 2 || page[0].ID != ids[4] || page[1].ID != ids[3] {
		t.Fatalf("first page = %v, want ids [%d %d]", pageIDs(page), ids[4], ids[3])
	}

	page, _, err = s.List(ctx, 4, 2)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(page) != 1 || page[0].ID != ids[0] {
		t.Errorf("last page = %v, want [%d]", pageIDs(page), ids[0])
	}

	page, _, err = s.List(ctx, 10, 2)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(page) != 0 {
		t.Errorf("page past the end = %v, want empty", pageIDs(page))
	}
}

func testUpdate(t *testing.T, f Factory) {
	ctx := context.Background()
	s := newStore(t, f)

	snap := mustCreate(t, s, Snapshot(t, `{"key":"value"}`, base))

	url := "https://updated.com/api/data"
	got, err := s.Update(ctx, snap.ID, domain.Patch{SourceURL: &url})
	if err != nil {
		t.Fatalf("Update(source_url) error = %v", err)
	}
	if got.SourceURL != url {
		t.Errorf("SourceURL = %q, want %q", got.SourceURL, url)
	}
	if got.Fingerprint != snap.Fingerprint || !got.ObservedAt.Equal(snap.ObservedAt) {
		t.Error("source_url update must not touch fingerprint or observed_at")
	}

	newPayload, _ := payload.Decode([]byte(`{"updated":"value"}`))
	observed := base.Add(24 * time.Hour)
	got, err = s.Update(ctx, snap.ID, domain.Patch{Payload: newPayload, ObservedAt: observed})
	if err != nil {
		t.Fatalf("Update(payload) error = %v", err)
	}
	wantFP, _ := payload.Fingerprint(newPayload)
	if got.Fingerprint != wantFP {
		t.Errorf("Fingerprint = %s, want %s", got.Fingerprint, wantFP)
	}
	if !got.ObservedAt.Equal(observed) {
		t.Errorf("ObservedAt = %v, want %v", got.ObservedAt, observed)
	}
	if !got.UpdatedAt.After(snap.UpdatedAt) {
		t.Errorf("UpdatedAt = %v, want after %v", got.UpdatedAt, snap.UpdatedAt)
	}

	reread, err := s.Get(ctx, snap.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if canonical(t, reread.Payload) != `{"updated":"value"}` || reread.SourceURL != url {
		t.Errorf("persisted snapshot = %s %q", canonical(t, reread.Payload), reread.SourceURL)
	}

	// the old fingerprint is free again
	mustCreate(t, s, Snapshot(t, `{"key":"value"}`, base))

	if _, err := s.Update(ctx, snap.ID+1000, domain.Patch{SourceURL: &url}); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Update(missing) error = %v, want ErrNotFound", err)
	}
}

func testUpdateDuplicate(t *testing.T, f Factory) {
	ctx := context.Background()
	s := newStore(t, f)

	mustCreate(t, s, Snapshot(t, `{"a":1}`, base))
	second := mustCreate(t, s, Snapshot(t, `{"b":2}`, base))

	taken, _ := payload.Decode([]byte(`{"a":1}`))
	_, err := s.Update(ctx, second.ID, domain.Patch{Payload: taken, ObservedAt: base})
	if !errors.Is(err, domain.ErrDuplicateFingerprint) {
		t.Fatalf("Update(taken fingerprint) error = %v, want ErrDuplicateFingerprint", err)
	}

	// re-submitting its own payload is not a conflict
	own, _ := payload.Decode([]byte(`{"b":2}`))
	if _, err := s.Update(ctx, second.ID, domain.Patch{Payload: own, ObservedAt: base.Add(time.Minute)}); err != nil {
		t.Errorf("Update(own fingerprint) error = %v", err)
	}
}

func testDelete(t *testing.T, f Factory) {
	ctx := context.Background()
	s := newStore(t, f)

	snap := mustCreate(t, s, Snapshot(t, `{"gone":true}`, base))
	if err := s.Delete(ctx, snap.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := s.Get(ctx, snap.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Get(deleted) error = %v, want ErrNotFound", err)
	}
	if err := s.Delete(ctx, snap.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Delete(deleted) error = %v, want ErrNotFound", err)
	}

	// deleting releases the fingerprint
	mustCreate(t, s, Snapshot(t, `{"gone":true}`, base))
}

func pageIDs(page []*domain.Snapshot) []int64 {
	ids := make([]int64, 0, len(page))
	for _, s := range page {
		ids = append(ids, s.ID)
	}
	return ids
}
