package verstore

import (
	"context"
	"errors"
	"testing"
)

func TestMemoryCreateGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()

	rec, err := s.Create(ctx, "u1", Attrs{"email": "ada@example.com"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if rec.Version != 1 || rec.Attrs["email"] != "ada@example.com" {
		t.Fatalf("unexpected created record: %+v", rec)
	}

	got, ok, err := s.Get(ctx, "u1")
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if got.Key != "u1" || got.Version != 1 || got.Attrs["email"] != "ada@example.com" {
		t.Fatalf("unexpected record: %+v", got)
	}

	if _, err := s.Create(ctx, "u1", Attrs{}); !errors.Is(err, ErrExists) {
		t.Fatalf("duplicate Create should be ErrExists, got %v", err)
	}
}

func TestMemoryGetMiss(t *testing.T) {
	_, ok, err := NewMemory().Get(context.Background(), "missing")
	if err != nil || ok {
		t.Fatalf("miss expected, ok=%v err=%v", ok, err)
	}
}

func TestMemoryPatchConditional(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	if _, err := s.Create(ctx, "u1", Attrs{"name": "A"}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	// winning patch bumps version and merges changes
	rec, err := s.Patch(ctx, "u1", Attrs{"name": "B", "role": "admin"}, 1)
	if err != nil {
		t.Fatalf("Patch: %v", err)
	}
	if rec.Version != 2 || rec.Attrs["name"] != "B" || rec.Attrs["role"] != "admin" {
		t.Fatalf("unexpected patched record: %+v", rec)
	}

	// the losing expectedVersion can never succeed again
	if _, err := s.Patch(ctx, "u1", Attrs{"name": "C"}, 1); !errors.Is(err, ErrVersionConflict) {
		t.Fatalf("stale patch should be ErrVersionConflict, got %v", err)
	}

	// missing records are not conflicts
	if _, err := s.Patch(ctx, "ghost", Attrs{}, 1); !errors.Is(err, ErrNotFound) {
		t.Fatalf("patch on missing should be ErrNotFound, got %v", err)
	}
}

func TestMemoryAttrIsolation(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	if _, err := s.Create(ctx, "u1", Attrs{"name": "A"}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, _, _ := s.Get(ctx, "u1")
	got.Attrs["name"] = "mutated"

	again, _, _ := s.Get(ctx, "u1")
	if again.Attrs["name"] != "A" {
		t.Fatalf("caller mutation leaked into store: %+v", again)
	}
}

func TestMemoryDeleteIdempotent(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	if _, err := s.Create(ctx, "u1", Attrs{}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := s.Delete(ctx, "u1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := s.Delete(ctx, "u1"); err != nil {
		t.Fatalf("second Delete: %v", err)
	}
	if _, ok, _ := s.Get(ctx, "u1"); ok {
		t.Fatalf("record survived delete")
	}
}
