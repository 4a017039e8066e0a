package casflight

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	c "github.com/opentide/casflight/codec"
	gen "github.com/opentide/casflight/genstore"
	"github.com/opentide/casflight/internal/wire"
	pr "github.com/opentide/casflight/provider"
	"github.com/opentide/casflight/provider/memory"
)

const (
	defaultTTL          = 5 * time.Minute
	defaultSweep        = time.Hour
	defaultGenRetention = 30 * 24 * time.Hour
)

type fetcher[V any] struct {
	ns             string
	provider       pr.Provider
	codec          c.Codec[V]
	log            Logger
	hooks          Hooks
	enabled        bool
	defaultTTL     time.Duration
	sweepInterval  time.Duration
	genRetention   time.Duration
	computeSetCost SetCostFunc
	gen            gen.GenStore

	// one flight per key; callers arriving mid-flight share its outcome
	group singleflight.Group

	timeNow func() time.Time // for testing
}

// flightResult carries a flight's outcome to every coalesced waiter.
// ok=false is the "no value" case; errors travel on the error return.
type flightResult[V any] struct {
	value V
	ok    bool
}

func newFetcher[V any](opts Options[V]) (*fetcher[V], error) {
	if opts.Namespace == "" {
		return nil, fmt.Errorf("casflight: namespace is required")
	}

	f := &fetcher[V]{
		ns:      opts.Namespace,
		enabled: !opts.Disabled,
		timeNow: time.Now,
	}

	// defaults
	f.log = coalesce[Logger](opts.Logger, NopLogger{})
	f.hooks = coalesce[Hooks](opts.Hooks, NopHooks{})
	f.defaultTTL = coalesce[time.Duration](opts.DefaultTTL, defaultTTL)
	f.sweepInterval = coalesce[time.Duration](opts.CleanupInterval, defaultSweep)
	f.genRetention = coalesce[time.Duration](opts.GenRetention, defaultGenRetention)

	if opts.Provider != nil {
		f.provider = opts.Provider
	} else {
		f.provider = memory.New()
	}

	if opts.Codec != nil {
		f.codec = opts.Codec
	} else {
		f.codec = c.JSON[V]{}
	}

	if opts.ComputeSetCost != nil {
		f.computeSetCost = opts.ComputeSetCost
	} else {
		f.computeSetCost = func(_ string, _ []byte) int64 { return 1 }
	}

	if opts.GenStore != nil {
		f.gen = opts.GenStore
	} else {
		// default to in-process generations with periodic cleanup
		f.gen = gen.NewLocalGenStore(f.sweepInterval, f.genRetention)
	}

	return f, nil
}

func (f *fetcher[V]) Enabled() bool { return f.enabled }

func (f *fetcher[V]) Close(ctx context.Context) error {
	// Close gen store first (best effort)
	if f.gen != nil {
		_ = f.gen.Close(ctx)
	}
	if f.provider != nil {
		return f.provider.Close(ctx)
	}
	return nil
}

func (f *fetcher[V]) GetOrFetch(ctx context.Context, key string, fetch FetchFunc[V], ttl time.Duration) (V, bool, error) {
	var zero V
	if !f.enabled {
		// pass-through: no caching, no coalescing
		return fetch(ctx)
	}
	if ttl <= 0 {
		ttl = f.defaultTTL
	}

	if v, ok := f.lookup(ctx, key, ttl); ok {
		return v, true, nil
	}

	res, err, shared := f.group.Do(key, func() (any, error) {
		// The flight's outcome is shared by every waiter, so detach it from
		// the first caller's cancellation; it runs to completion.
		fctx := context.WithoutCancel(ctx)

		// A flight that settled between our miss and acquiring the flight
		// may have filled the cache already.
		if v, ok := f.lookup(fctx, key, ttl); ok {
			return flightResult[V]{value: v, ok: true}, nil
		}

		obs := f.snapshotGen(f.entryKey(key))
		v, ok, err := fetch(fctx)
		if err != nil {
			return nil, err
		}
		if !ok {
			// "no value" is never cached; the next call retries upstream
			f.hooks.EmptyFetch(key)
			return flightResult[V]{}, nil
		}
		f.store(fctx, key, v, obs, ttl)
		return flightResult[V]{value: v, ok: true}, nil
	})
	if shared {
		f.hooks.FlightShared(key)
	}
	if err != nil {
		return zero, false, err
	}
	r := res.(flightResult[V])
	return r.value, r.ok, nil
}

func (f *fetcher[V]) Invalidate(ctx context.Context, key string) error {
	if !f.enabled {
		return nil
	}
	k := f.entryKey(key)
	newGen, bumpErr := f.gen.Bump(ctx, k)
	if bumpErr != nil {
		f.hooks.GenBumpError(k, bumpErr)
	}
	delErr := f.provider.Del(ctx, k)
	if bumpErr != nil && delErr != nil {
		f.hooks.InvalidateOutage(key, bumpErr, delErr)
		return &InvalidateError{Key: key, BumpErr: bumpErr, DelErr: delErr}
	}
	f.log.Debug("invalidated key (bumped gen + cleared entry)", Fields{"key": key, "newGen": newGen})
	return nil
}

// lookup returns the cached value when the entry is intact, its generation is
// current, and it is younger than ttl. Anything else is deleted on the spot
// and treated as a miss.
func (f *fetcher[V]) lookup(ctx context.Context, key string, ttl time.Duration) (V, bool) {
	var zero V
	k := f.entryKey(key)
	raw, ok, err := f.provider.Get(ctx, k)
	if err != nil {
		f.log.Warn("provider get error", Fields{"key": key, "err": err})
		return zero, false
	}
	if !ok {
		return zero, false
	}
	g, fetchedAt, payload, err := wire.DecodeEntry(raw)
	if err != nil {
		f.selfHeal(ctx, k, "corrupt")
		return zero, false
	}
	if g != f.snapshotGen(k) {
		f.selfHeal(ctx, k, "gen_mismatch")
		return zero, false
	}
	if f.timeNow().Sub(time.Unix(0, fetchedAt)) >= ttl {
		// lazy expiry; there is no background refresh
		f.selfHeal(ctx, k, "expired")
		return zero, false
	}
	v, err := f.codec.Decode(payload)
	if err != nil {
		f.selfHeal(ctx, k, "value_decode")
		return zero, false
	}
	return v, true
}

// store writes the fetched value iff the key's generation still equals the
// one observed before the fetch began. A bump in between means Invalidate
// raced the flight and the result must not be served.
func (f *fetcher[V]) store(ctx context.Context, key string, value V, observedGen uint64, ttl time.Duration) {
	k := f.entryKey(key)
	if f.snapshotGen(k) != observedGen {
		f.hooks.StaleWriteSkipped(k)
		f.log.Debug("cache write skipped (gen moved during flight)", Fields{"key": key, "obs": observedGen})
		return
	}
	payload, err := f.codec.Encode(value)
	if err != nil {
		// best-effort cache; the caller still gets the fetched value
		f.log.Warn("value encode failed, not cached", Fields{"key": key, "err": err})
		return
	}
	raw := wire.EncodeEntry(observedGen, f.timeNow().UnixNano(), payload)
	ok, err := f.provider.Set(ctx, k, raw, f.computeSetCost(k, raw), ttl)
	if err != nil {
		f.log.Warn("provider set error", Fields{"key": key, "err": err})
		return
	}
	if !ok {
		f.hooks.ProviderSetRejected(k)
		f.log.Debug("cache write rejected by provider (pressure)", Fields{"key": key})
	}
}

func (f *fetcher[V]) selfHeal(ctx context.Context, storageKey, reason string) {
	_ = f.provider.Del(ctx, storageKey)
	f.hooks.SelfHeal(storageKey, reason)
}

func (f *fetcher[V]) snapshotGen(storageKey string) uint64 {
	g, err := f.gen.Snapshot(context.Background(), storageKey)
	if err != nil {
		// Conservative: treat as 0 so fenced writes will skip; reads self-heal
		f.hooks.GenSnapshotError(storageKey, err)
		f.log.Warn("gen snapshot error", Fields{"key": storageKey, "err": err})
		return 0
	}
	return g
}

func (f *fetcher[V]) entryKey(userKey string) string {
	// isolate by namespace
	return "entry:" + f.ns + ":" + userKey
}
