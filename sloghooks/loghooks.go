package sloghooks

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sync/atomic"

	"github.com/opentide/casflight"
)

type Options struct {
	// Sampling to avoid floods; 0/1 = log all.
	SelfHealEvery     uint64
	FlightSharedEvery uint64
	ConflictEvery     uint64
	// Optional key redactor. Defaults to SHA-256 prefix.
	Redact func(string) string
}

type Hooks struct {
	l    *slog.Logger
	opts Options

	selfHealCtr atomic.Uint64
	sharedCtr   atomic.Uint64
	conflictCtr atomic.Uint64
}

var _ casflight.Hooks = (*Hooks)(nil)

func New(l *slog.Logger, opts Options) *Hooks {
	return &Hooks{l: l, opts: opts}
}

func (h *Hooks) redact(k string) string {
	if h.opts.Redact != nil {
		return h.opts.Redact(k)
	}
	sum := sha256.Sum256([]byte(k))
	return hex.EncodeToString(sum[:8])
}

func sample(n uint64, ctr *atomic.Uint64) bool {
	if n == 0 || n == 1 {
		return true
	}
	return ctr.Add(1)%n == 0
}

func (h *Hooks) SelfHeal(storageKey, reason string) {
	if h.l == nil || !sample(h.opts.SelfHealEvery, &h.selfHealCtr) {
		return
	}
	h.l.Debug("casflight.self_heal",
		"key", h.redact(storageKey),
		"reason", reason)
}

func (h *Hooks) ProviderSetRejected(storageKey string) {
	if h.l == nil {
		return
	}
	h.l.Warn("casflight.provider_set_rejected",
		"key", h.redact(storageKey))
}

func (h *Hooks) StaleWriteSkipped(storageKey string) {
	if h.l == nil {
		return
	}
	h.l.Debug("casflight.stale_write_skipped",
		"key", h.redact(storageKey))
}

func (h *Hooks) FlightShared(key string) {
	if h.l == nil || !sample(h.opts.FlightSharedEvery, &h.sharedCtr) {
		return
	}
	h.l.Debug("casflight.flight_shared",
		"key", h.redact(key))
}

func (h *Hooks) EmptyFetch(key string) {
	if h.l == nil {
		return
	}
	h.l.Debug("casflight.empty_fetch",
		"key", h.redact(key))
}

func (h *Hooks) GenSnapshotError(storageKey string, err error) {
	if h.l == nil {
		return
	}
	h.l.Warn("casflight.gen_snapshot_error",
		"key", h.redact(storageKey),
		"err", err)
}

func (h *Hooks) GenBumpError(storageKey string, err error) {
	if h.l == nil {
		return
	}
	h.l.Warn("casflight.gen_bump_error",
		"key", h.redact(storageKey),
		"err", err)
}

func (h *Hooks) InvalidateOutage(key string, bumpErr, delErr error) {
	if h.l == nil {
		return
	}
	h.l.Error("casflight.invalidate_outage",
		"key", h.redact(key),
		"bump_err", bumpErr,
		"del_err", delErr)
}

func (h *Hooks) UpdateConflict(kind, key string, attempt int) {
	if h.l == nil || !sample(h.opts.ConflictEvery, &h.conflictCtr) {
		return
	}
	h.l.Debug("casflight.update_conflict",
		"kind", kind,
		"key", h.redact(key),
		"attempt", attempt)
}

func (h *Hooks) LockExceeded(kind, key string, attempts int) {
	if h.l == nil {
		return
	}
	h.l.Warn("casflight.lock_exceeded",
		"kind", kind,
		"key", h.redact(key),
		"attempts", attempts)
}
