package casflight

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/opentide/casflight/verstore"
)

func newTestUpdater(t *testing.T, store verstore.Store, optsOpt func(*UpdaterOptions)) *Updater {
	t.Helper()
	opts := UpdaterOptions{Store: store, Kind: "user"}
	if optsOpt != nil {
		optsOpt(&opts)
	}
	u, err := NewUpdater(opts)
	if err != nil {
		t.Fatalf("NewUpdater: %v", err)
	}
	return u
}

func seedRecord(t *testing.T, store verstore.Store, key string, attrs verstore.Attrs) verstore.Record {
	t.Helper()
	rec, err := store.Create(context.Background(), key, attrs)
	if err != nil {
		t.Fatalf("Create %q: %v", key, err)
	}
	return rec
}

// racingStore wraps a Store and, for the first `races` Patch calls, sneaks a
// competing write in first so the wrapped Patch hits a version conflict.
type racingStore struct {
	verstore.Store
	races atomic.Int32
}

func (s *racingStore) Patch(ctx context.Context, key string, changes verstore.Attrs, expectedVersion int64) (verstore.Record, error) {
	if s.races.Add(-1) >= 0 {
		if _, err := s.Store.Patch(ctx, key, verstore.Attrs{"racer": "yes"}, expectedVersion); err != nil {
			return verstore.Record{}, err
		}
	}
	return s.Store.Patch(ctx, key, changes, expectedVersion)
}

// ==============================
// Happy path
// ==============================

// TestUpdateAppliesChangesAndBumpsVersion: a single uncontended update applies
// the change set and bumps the version by exactly 1.
func TestUpdateAppliesChangesAndBumpsVersion(t *testing.T) {
	ctx := context.Background()
	store := verstore.NewMemory()
	u := newTestUpdater(t, store, nil)
	seedRecord(t, store, "123", verstore.Attrs{})

	rec, err := u.Update(ctx, "123", func(_ context.Context, cur verstore.Record) (verstore.Attrs, error) {
		if cur.Version != 1 {
			t.Fatalf("mutate saw version %d, want 1", cur.Version)
		}
		return verstore.Attrs{"name": "X"}, nil
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if rec.Version != 2 || rec.Attrs["name"] != "X" {
		t.Fatalf("unexpected result: %+v", rec)
	}

	stored, ok, err := store.Get(ctx, "123")
	if err != nil || !ok {
		t.Fatalf("Get after update: ok=%v err=%v", ok, err)
	}
	if stored.Version != 2 || stored.Attrs["name"] != "X" {
		t.Fatalf("stored record mismatch: %+v", stored)
	}
}

// TestUpdateEmptyChangeSetStillBumps: no-op mutations still consume a version.
func TestUpdateEmptyChangeSetStillBumps(t *testing.T) {
	ctx := context.Background()
	store := verstore.NewMemory()
	u := newTestUpdater(t, store, nil)
	seedRecord(t, store, "k", verstore.Attrs{"name": "A"})

	rec, err := u.Update(ctx, "k", func(context.Context, verstore.Record) (verstore.Attrs, error) {
		return verstore.Attrs{}, nil
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if rec.Version != 2 || rec.Attrs["name"] != "A" {
		t.Fatalf("empty change set should only bump version, got %+v", rec)
	}
}

// ==============================
// Error paths
// ==============================

func TestUpdateNotFound(t *testing.T) {
	ctx := context.Background()
	u := newTestUpdater(t, verstore.NewMemory(), nil)

	_, err := u.Update(ctx, "ghost", func(context.Context, verstore.Record) (verstore.Attrs, error) {
		t.Fatal("mutate must not run for a missing record")
		return nil, nil
	})
	var nf *NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("want *NotFoundError, got %v", err)
	}
	if nf.Kind != "user" || nf.Key != "ghost" {
		t.Fatalf("unexpected error fields: %+v", nf)
	}
	if !errors.Is(err, verstore.ErrNotFound) {
		t.Fatalf("NotFoundError should unwrap to ErrNotFound")
	}
}

// TestMutateErrorPropagatesWithoutRetry: a domain error from mutate surfaces
// unmodified on first occurrence; there is no second attempt.
func TestMutateErrorPropagatesWithoutRetry(t *testing.T) {
	ctx := context.Background()
	store := verstore.NewMemory()
	u := newTestUpdater(t, store, nil)
	seedRecord(t, store, "k", verstore.Attrs{})

	domainErr := errors.New("email already taken")
	var mutateCalls atomic.Int32
	_, err := u.Update(ctx, "k", func(context.Context, verstore.Record) (verstore.Attrs, error) {
		mutateCalls.Add(1)
		return nil, domainErr
	})
	if !errors.Is(err, domainErr) {
		t.Fatalf("want domain error, got %v", err)
	}
	if n := mutateCalls.Load(); n != 1 {
		t.Fatalf("mutate should run exactly once, ran %d times", n)
	}

	stored, _, _ := store.Get(ctx, "k")
	if stored.Version != 1 {
		t.Fatalf("failed update must not bump version, got %d", stored.Version)
	}
}

// ==============================
// Conflict handling
// ==============================

// TestConflictRetriesWithFreshState: each attempt re-fetches; mutate sees the
// state as of that attempt, never stale data from an earlier one.
func TestConflictRetriesWithFreshState(t *testing.T) {
	ctx := context.Background()
	rs := &racingStore{Store: verstore.NewMemory()}
	rs.races.Store(2)
	hooks := &recordingHooks{}
	u := newTestUpdater(t, rs, func(o *UpdaterOptions) { o.Hooks = hooks })
	seedRecord(t, rs.Store, "k", verstore.Attrs{})

	var seen []int64
	rec, err := u.Update(ctx, "k", func(_ context.Context, cur verstore.Record) (verstore.Attrs, error) {
		seen = append(seen, cur.Version)
		return verstore.Attrs{"name": "X"}, nil
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}

	// two injected races: attempts observed versions 1, 2, 3; winner wrote 4
	if len(seen) != 3 || seen[0] != 1 || seen[1] != 2 || seen[2] != 3 {
		t.Fatalf("mutate saw versions %v, want [1 2 3]", seen)
	}
	if rec.Version != 4 || rec.Attrs["name"] != "X" {
		t.Fatalf("unexpected winner: %+v", rec)
	}

	hooks.mu.Lock()
	conflicts := append([]int(nil), hooks.conflicts...)
	hooks.mu.Unlock()
	if len(conflicts) != 2 || conflicts[0] != 1 || conflicts[1] != 2 {
		t.Fatalf("expected conflict hooks for attempts [1 2], got %v", conflicts)
	}
}

// TestLockExceededAfterBudget: persistent conflicts exhaust the attempt budget
// after exactly maxAttempts fetch+patch cycles.
func TestLockExceededAfterBudget(t *testing.T) {
	ctx := context.Background()
	rs := &racingStore{Store: verstore.NewMemory()}
	rs.races.Store(1 << 20) // effectively always conflict
	hooks := &recordingHooks{}
	u := newTestUpdater(t, rs, func(o *UpdaterOptions) { o.Hooks = hooks })
	seedRecord(t, rs.Store, "k", verstore.Attrs{})

	var mutateCalls atomic.Int32
	_, err := u.Update(ctx, "k", func(context.Context, verstore.Record) (verstore.Attrs, error) {
		mutateCalls.Add(1)
		return verstore.Attrs{"name": "X"}, nil
	}, WithMaxAttempts(3))

	var le *LockExceededError
	if !errors.As(err, &le) {
		t.Fatalf("want *LockExceededError, got %v", err)
	}
	if le.Attempts != 3 || le.Kind != "user" || le.Key != "k" {
		t.Fatalf("unexpected error fields: %+v", le)
	}
	if !errors.Is(err, verstore.ErrVersionConflict) {
		t.Fatalf("LockExceededError should unwrap to ErrVersionConflict")
	}
	if n := mutateCalls.Load(); n != 3 {
		t.Fatalf("mutate should run once per attempt (3), ran %d times", n)
	}

	hooks.mu.Lock()
	exceeds := append([]int(nil), hooks.lockExceeds...)
	hooks.mu.Unlock()
	if len(exceeds) != 1 || exceeds[0] != 3 {
		t.Fatalf("expected one LockExceeded hook with 3 attempts, got %v", exceeds)
	}
}

// ==============================
// Contention
// ==============================

// TestConcurrentUpdatersAllWinEventually: N contending updaters each succeed
// exactly once; versions advance by exactly 1 per success with no skips.
func TestConcurrentUpdatersAllWinEventually(t *testing.T) {
	ctx := context.Background()
	store := verstore.NewMemory()
	u := newTestUpdater(t, store, func(o *UpdaterOptions) { o.MaxAttempts = 100 })
	seedRecord(t, store, "k", verstore.Attrs{"count": 0})

	const n = 8
	var wg sync.WaitGroup
	errCh := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := u.Update(ctx, "k", func(_ context.Context, cur verstore.Record) (verstore.Attrs, error) {
				count, _ := cur.Attrs["count"].(int)
				return verstore.Attrs{"count": count + 1}, nil
			})
			errCh <- err
		}()
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		if err != nil {
			t.Fatalf("contended update failed: %v", err)
		}
	}

	final, ok, err := store.Get(ctx, "k")
	if err != nil || !ok {
		t.Fatalf("Get final: ok=%v err=%v", ok, err)
	}
	if final.Version != 1+n {
		t.Fatalf("version should advance by exactly 1 per success: got %d want %d", final.Version, 1+n)
	}
	if count, _ := final.Attrs["count"].(int); count != n {
		t.Fatalf("lost update detected: count=%d want %d", count, n)
	}
}

func TestUpdaterRequiresStore(t *testing.T) {
	if _, err := NewUpdater(UpdaterOptions{}); err == nil {
		t.Fatalf("NewUpdater without store should fail")
	}
}
