package casflight

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/opentide/casflight/verstore"
)

// DefaultMaxAttempts bounds the Update retry loop. The count includes the
// first try: 10 permits 10 fetch+patch cycles total.
const DefaultMaxAttempts = 10

// MutateFunc computes the partial change set for the current record state.
// It is re-invoked on every attempt with freshly fetched data, so it must
// tolerate repeated invocation; side effects such as secondary lookups are
// not idempotence-guarded here. An error aborts the update without retry.
type MutateFunc func(ctx context.Context, current verstore.Record) (verstore.Attrs, error)

type updateOptions struct {
	maxAttempts int
}

// UpdateOption tunes a single Update call.
type UpdateOption func(*updateOptions)

// WithMaxAttempts overrides the updater's attempt budget for one call.
// n < 1 is ignored.
func WithMaxAttempts(n int) UpdateOption {
	return func(o *updateOptions) {
		if n >= 1 {
			o.maxAttempts = n
		}
	}
}

// Updater runs optimistic-concurrency updates against a versioned store.
// Correctness is delegated to the store's atomic conditional write: concurrent
// updaters race, exactly one per contended version wins, losers retry against
// fresh state.
type Updater struct {
	store       verstore.Store
	kind        string
	maxAttempts int
	log         Logger
	hooks       Hooks
}

// UpdaterOptions configure an Updater. Only Store is required.
type UpdaterOptions struct {
	// Required
	Store verstore.Store

	Kind        string // entity kind for error text and hooks, e.g. "user"; "" => "record"
	MaxAttempts int    // 0 => DefaultMaxAttempts
	Logger      Logger // if nil, NopLogger is used
	Hooks       Hooks  // if nil, NopHooks is used
}

func NewUpdater(opts UpdaterOptions) (*Updater, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("casflight: store is required")
	}
	u := &Updater{store: opts.Store}
	u.kind = coalesce(opts.Kind, "record")
	u.maxAttempts = coalesce(opts.MaxAttempts, DefaultMaxAttempts)
	u.log = coalesce[Logger](opts.Logger, NopLogger{})
	u.hooks = coalesce[Hooks](opts.Hooks, NopHooks{})
	return u, nil
}

// Update mutates the record under key without lost updates. Per attempt it
// fetches the current record, invokes mutate on it, and issues a conditional
// patch against the fetched version. Only version conflicts are retried;
// every other error (missing record, store error, mutate error) surfaces
// immediately and unmodified.
//
// An empty change set still bumps the version; there is no no-op short
// circuit.
func (u *Updater) Update(ctx context.Context, key string, mutate MutateFunc, opts ...UpdateOption) (verstore.Record, error) {
	o := updateOptions{maxAttempts: u.maxAttempts}
	for _, fn := range opts {
		fn(&o)
	}

	started := time.Now()
	for attempt := 1; ; attempt++ {
		current, ok, err := u.store.Get(ctx, key)
		if err != nil {
			return verstore.Record{}, err
		}
		if !ok {
			return verstore.Record{}, &NotFoundError{Kind: u.kind, Key: key}
		}

		changes, err := mutate(ctx, current)
		if err != nil {
			return verstore.Record{}, err
		}

		patched, err := u.store.Patch(ctx, key, changes, current.Version)
		if err == nil {
			return patched, nil
		}
		if !errors.Is(err, verstore.ErrVersionConflict) {
			return verstore.Record{}, err
		}

		if attempt >= o.maxAttempts {
			u.hooks.LockExceeded(u.kind, key, attempt)
			u.log.Warn("optimistic lock exceeded", Fields{
				"kind":     u.kind,
				"key":      key,
				"attempts": attempt,
				"elapsed":  time.Since(started),
			})
			return verstore.Record{}, &LockExceededError{Kind: u.kind, Key: key, Attempts: attempt}
		}
		u.hooks.UpdateConflict(u.kind, key, attempt)
		u.log.Debug("version conflict, retrying", Fields{"kind": u.kind, "key": key, "attempt": attempt})
	}
}
