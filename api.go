package casflight

import (
	"context"
	"time"

	c "github.com/opentide/casflight/codec"
	gen "github.com/opentide/casflight/genstore"
	pr "github.com/opentide/casflight/provider"
)

// SetCostFunc maps a cache write to a cost for providers that budget by cost
// (e.g. Ristretto). raw is the framed entry as written.
type SetCostFunc func(key string, raw []byte) int64

// FetchFunc loads a value from the upstream. ok=false is the "no value"
// outcome: not an error, but nothing to cache either.
type FetchFunc[V any] func(ctx context.Context) (v V, ok bool, err error)

// Fetcher is the high-level, provider-agnostic fetch cache: TTL expiry plus
// request coalescing. V is the caller's value type; serialization is handled
// by a pluggable Codec[V].
//
// Guarantees per key:
//   - a fresh cached value is returned with zero fetch calls;
//   - concurrent callers while a fetch is in flight share exactly one
//     upstream call and all receive its outcome;
//   - a failed or "no value" fetch is never cached, so the next call retries
//     the upstream.
type Fetcher[V any] interface {
	Enabled() bool
	Close(context.Context) error

	// GetOrFetch returns the cached value for key if it is younger than ttl,
	// otherwise runs (or joins) a single fetch for the key. ttl <= 0 uses
	// Options.DefaultTTL. ok=false means the fetch reported no value.
	GetOrFetch(ctx context.Context, key string, fetch FetchFunc[V], ttl time.Duration) (v V, ok bool, err error)

	// Invalidate bumps the key's generation and clears the cached entry.
	// A fetch already in flight for the key will observe the bump and skip
	// its cache write.
	Invalidate(ctx context.Context, key string) error
}

// Options tune the behavior of the fetch cache.
// Only Namespace is required; others have sensible defaults.
type Options[V any] struct {
	// Required
	Namespace string // logical namespace to avoid collisions. e.g. "secret", "client", "jwks"

	Provider pr.Provider  // nil => in-process memory provider
	Codec    c.Codec[V]   // nil => codec.JSON[V]

	Logger          Logger        // if nil, NopLogger is used
	Hooks           Hooks         // if nil, NopHooks is used
	DefaultTTL      time.Duration // 0 => 5m
	CleanupInterval time.Duration // 0 => 1h
	GenRetention    time.Duration // 0 => 30d
	Disabled        bool          // default false (enabled); disabled => fetch pass-through
	ComputeSetCost  SetCostFunc   // default 1
	GenStore        gen.GenStore  // nil => LocalGenStore (in-process)
}

func New[V any](opts Options[V]) (Fetcher[V], error) {
	return newFetcher[V](opts)
}
