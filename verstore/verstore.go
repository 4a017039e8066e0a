// Package verstore defines the versioned record store used by the optimistic
// update loop in casflight.
//
// A Record carries a monotonically increasing version starting at 1. The only
// mutation primitive is Patch: an atomic conditional write that applies a
// partial change set iff the stored version still equals the version the
// caller observed. Implementations MUST make the version check and the write
// a single atomic step; the version field is the sole concurrency token, no
// external locks are taken.
//
// Conflicts surface as the typed sentinel ErrVersionConflict raised at the
// store boundary, so callers dispatch with errors.Is instead of inspecting
// message text.
package verstore

import (
	"context"
	"errors"
)

var (
	// ErrVersionConflict means the conditional check failed: the stored
	// version no longer matches the expected one.
	ErrVersionConflict = errors.New("verstore: version conflict")

	// ErrNotFound means the record does not exist.
	ErrNotFound = errors.New("verstore: record not found")

	// ErrExists means Create targeted a key that already holds a record.
	ErrExists = errors.New("verstore: record already exists")
)

// Attrs is a partial attribute set: the stored shape of a record's domain
// attributes, and the change sets applied by Patch.
type Attrs map[string]any

// Record is a versioned entity. Version is 1 on creation and incremented by
// exactly 1 on every successful Patch; it is never decremented.
type Record struct {
	Key     string
	Version int64
	Attrs   Attrs
}

// Store is a record store with an atomic conditional write.
// Implementations must be safe for concurrent use.
type Store interface {
	// Get returns (record, true, nil) on hit; (zero, false, nil) on miss.
	Get(ctx context.Context, key string) (Record, bool, error)

	// Create stores attrs under key with Version=1.
	// Returns ErrExists if the key already holds a record.
	Create(ctx context.Context, key string, attrs Attrs) (Record, error)

	// Patch applies changes and sets Version=expectedVersion+1 iff the stored
	// version equals expectedVersion, atomically. Returns the record as stored
	// after the write. Returns ErrVersionConflict when the check fails and
	// ErrNotFound when the record is absent.
	Patch(ctx context.Context, key string, changes Attrs, expectedVersion int64) (Record, error)

	// Delete removes a record. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// Close releases resources.
	Close(ctx context.Context) error
}

// clone deep-copies the top-level attr map. Values are copied by assignment;
// stores treat attr values as immutable.
func clone(a Attrs) Attrs {
	if a == nil {
		return Attrs{}
	}
	out := make(Attrs, len(a))
	for k, v := range a {
		out[k] = v
	}
	return out
}
