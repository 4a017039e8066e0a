package verstore

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
)

func newRedisStore(t *testing.T) *Redis {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	s, err := NewRedis(RedisConfig{Client: client, Namespace: "user"})
	if err != nil {
		t.Fatalf("NewRedis: %v", err)
	}
	return s
}

func TestRedisCreateGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newRedisStore(t)

	rec, err := s.Create(ctx, "u1", Attrs{"email": "ada@example.com"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if rec.Version != 1 {
		t.Fatalf("created version = %d, want 1", rec.Version)
	}

	got, ok, err := s.Get(ctx, "u1")
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if got.Version != 1 || got.Attrs["email"] != "ada@example.com" {
		t.Fatalf("unexpected record: %+v", got)
	}

	if _, err := s.Create(ctx, "u1", Attrs{}); !errors.Is(err, ErrExists) {
		t.Fatalf("duplicate Create should be ErrExists, got %v", err)
	}
}

func TestRedisGetMiss(t *testing.T) {
	s := newRedisStore(t)
	_, ok, err := s.Get(context.Background(), "missing")
	if err != nil || ok {
		t.Fatalf("miss expected, ok=%v err=%v", ok, err)
	}
}

func TestRedisPatchScriptSemantics(t *testing.T) {
	ctx := context.Background()
	s := newRedisStore(t)
	if _, err := s.Create(ctx, "u1", Attrs{"name": "A"}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	// conditional write wins against the version it observed
	rec, err := s.Patch(ctx, "u1", Attrs{"name": "B", "role": "admin"}, 1)
	if err != nil {
		t.Fatalf("Patch: %v", err)
	}
	if rec.Version != 2 || rec.Attrs["name"] != "B" || rec.Attrs["role"] != "admin" {
		t.Fatalf("unexpected patched record: %+v", rec)
	}

	// the same expectedVersion can never win twice
	if _, err := s.Patch(ctx, "u1", Attrs{"name": "C"}, 1); !errors.Is(err, ErrVersionConflict) {
		t.Fatalf("stale patch should be ErrVersionConflict, got %v", err)
	}

	// losing writes leave no trace
	got, _, err := s.Get(ctx, "u1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Version != 2 || got.Attrs["name"] != "B" {
		t.Fatalf("conflicting patch mutated the record: %+v", got)
	}

	if _, err := s.Patch(ctx, "ghost", Attrs{}, 1); !errors.Is(err, ErrNotFound) {
		t.Fatalf("patch on missing should be ErrNotFound, got %v", err)
	}
}

func TestRedisReservedAttrRejected(t *testing.T) {
	ctx := context.Background()
	s := newRedisStore(t)
	if _, err := s.Create(ctx, "u1", Attrs{versionField: int64(9)}); err == nil {
		t.Fatalf("reserved attr name should be rejected on Create")
	}
	if _, err := s.Create(ctx, "u1", Attrs{}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := s.Patch(ctx, "u1", Attrs{versionField: int64(9)}, 1); err == nil {
		t.Fatalf("reserved attr name should be rejected on Patch")
	}
}

func TestRedisDelete(t *testing.T) {
	ctx := context.Background()
	s := newRedisStore(t)
	if _, err := s.Create(ctx, "u1", Attrs{}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := s.Delete(ctx, "u1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok, _ := s.Get(ctx, "u1"); ok {
		t.Fatalf("record survived delete")
	}
}
