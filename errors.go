package casflight

import (
	"fmt"

	"github.com/opentide/casflight/verstore"
)

// NotFoundError reports that the record targeted by Update did not exist
// at the start of an attempt. It is never retried.
type NotFoundError struct {
	Kind string // entity kind, e.g. "user"
	Key  string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.Key)
}

func (e *NotFoundError) Unwrap() error { return verstore.ErrNotFound }

// LockExceededError reports that every permitted Update attempt hit a version
// conflict. Attempts counts fetch+patch cycles including the first try.
type LockExceededError struct {
	Kind     string
	Key      string
	Attempts int
}

func (e *LockExceededError) Error() string {
	return fmt.Sprintf("optimistic lock exceeded for %s %q after %d attempts", e.Kind, e.Key, e.Attempts)
}

func (e *LockExceededError) Unwrap() error { return verstore.ErrVersionConflict }

// InvalidateError reports a fully failed Invalidate: neither the generation
// bump nor the entry delete went through, so a stale value may still be served
// until its TTL elapses.
type InvalidateError struct {
	Key     string
	BumpErr error
	DelErr  error
}

func (e *InvalidateError) Error() string {
	switch {
	case e.BumpErr != nil && e.DelErr != nil:
		return fmt.Sprintf("invalidate %q failed: gen bump and delete failed: bump=%v; delete=%v",
			e.Key, e.BumpErr, e.DelErr)
	case e.BumpErr != nil:
		return fmt.Sprintf("invalidate %q: gen bump failed: %v", e.Key, e.BumpErr)
	case e.DelErr != nil:
		return fmt.Sprintf("invalidate %q: delete failed: %v", e.Key, e.DelErr)
	default:
		return fmt.Sprintf("invalidate %q: unknown error", e.Key)
	}
}

func (e *InvalidateError) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.BumpErr != nil {
		errs = append(errs, e.BumpErr)
	}
	if e.DelErr != nil {
		errs = append(errs, e.DelErr)
	}
	return errs
}
