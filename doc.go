// Package casflight provides two concurrency-control primitives for services
// that keep versioned records in a key-value store and fetch expensive upstream
// values (secrets, client credentials, tenant config) on demand:
//
//   - Updater: an optimistic-concurrency update loop. Mutations are retried
//     against fresh state until the store's atomic conditional write (CAS on a
//     per-record version) succeeds, up to a bounded attempt budget.
//   - Fetcher[V]: a TTL cache with request coalescing. Concurrent callers for
//     the same key share exactly one in-flight upstream fetch; failed or empty
//     fetches are never cached.
//
// Components:
//   - verstore.Store: versioned record store with a conditional Patch.
//     In-memory and Redis (hash + Lua CAS script) implementations.
//   - provider.Provider: byte store with TTL backing the fetch cache
//     (in-process map, Ristretto, BigCache, Redis).
//   - codec.Codec[V]: (de)serializes V <-> []byte.
//   - genstore.GenStore: generation counter per cache key fencing stale
//     flight results against Invalidate.
//
// Fetch pattern:
//
//	v, ok, err := fetcher.GetOrFetch(ctx, clientID, loadClientConfig, 5*time.Minute)
//
// Update pattern:
//
//	rec, err := updater.Update(ctx, userID, func(ctx context.Context, cur verstore.Record) (verstore.Attrs, error) {
//	    return verstore.Attrs{"email": newEmail}, nil
//	})
package casflight
