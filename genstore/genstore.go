// Package genstore tracks a generation counter per cache key. The fetch
// coordinator snapshots a key's generation before an upstream fetch begins
// and only caches the result if the generation is unchanged when the fetch
// settles; Invalidate bumps the generation, so a racing flight's result is
// fenced out instead of resurrecting stale data.
package genstore

import (
	"context"
	"time"
)

// GenStore abstracts where generations live.
// Use LocalGenStore (default) for in-process gens, or RedisGenStore to share
// fencing across replicas and survive restarts.
type GenStore interface {
	// Snapshot returns the current generation; missing => 0.
	Snapshot(ctx context.Context, storageKey string) (uint64, error)
	// Bump atomically increments and returns the new generation.
	Bump(ctx context.Context, storageKey string) (uint64, error)
	// Cleanup prunes old metadata if applicable (no-op for Redis).
	Cleanup(retention time.Duration)
	// Close releases resources (no-op ok).
	Close(context.Context) error
}
