package casflight

// Hooks lightweight callbacks for high-signal events.
// Implementations MUST be cheap and non-blocking.
// The cache and the updater call them on hot paths.
type Hooks interface {
	// A cache entry was deleted on read.
	// reason ∈ {"corrupt", "gen_mismatch", "value_decode", "expired"}
	SelfHeal(storageKey, reason string)

	// Provider returned ok=false on Set (backpressure/eviction).
	ProviderSetRejected(storageKey string)

	// A completed fetch was not cached because the key's generation moved
	// (Invalidate raced the flight).
	StaleWriteSkipped(storageKey string)

	// A caller joined an in-flight fetch instead of starting its own.
	FlightShared(key string)

	// A fetch resolved to "no value"; nothing was cached.
	EmptyFetch(key string)

	// GenStore errors (snapshot or bump).
	GenSnapshotError(storageKey string, err error)
	GenBumpError(storageKey string, err error)

	// Both gen bump and delete failed during Invalidate (likely backend outage).
	InvalidateOutage(key string, bumpErr, delErr error)

	// An Update attempt lost the conditional write and will retry
	// (attempt is 1-based).
	UpdateConflict(kind, key string, attempt int)

	// Every permitted Update attempt hit a conflict.
	LockExceeded(kind, key string, attempts int)
}

// NopHooks is the default no-op
type NopHooks struct{}

func (NopHooks) SelfHeal(string, string)            {}
func (NopHooks) ProviderSetRejected(string)         {}
func (NopHooks) StaleWriteSkipped(string)           {}
func (NopHooks) FlightShared(string)                {}
func (NopHooks) EmptyFetch(string)                  {}
func (NopHooks) GenSnapshotError(string, error)     {}
func (NopHooks) GenBumpError(string, error)         {}
func (NopHooks) InvalidateOutage(string, error, error) {}
func (NopHooks) UpdateConflict(string, string, int) {}
func (NopHooks) LockExceeded(string, string, int)   {}
