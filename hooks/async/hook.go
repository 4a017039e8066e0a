// usage:
//
// import (
//
//	"log/slog"
//
//	"github.com/opentide/casflight"
//	"github.com/opentide/casflight/hooks/async"
//	"github.com/opentide/casflight/sloghooks"
//
// )
//
//	raw := sloghooks.New(slog.Default(), sloghooks.Options{
//	    SelfHealEvery: 10, // sample logs: ~every 10th self-heal
//	    ConflictEvery: 1,  // log every update conflict
//	})
//
// hooks := asynchook.New(raw, 1, 1000) // 1 worker; queue 1000 events
// defer hooks.Close()
//
//	fetcher, _ := casflight.New[ClientConfig](casflight.Options[ClientConfig]{
//	    Namespace: "app:prod:client",
//	    Hooks:     hooks, // or `raw` if you don’t want async
//	})
package asynchook

import (
	"sync"

	"github.com/opentide/casflight"
)

type Hooks struct {
	inner casflight.Hooks
	q     chan func()
	wg    sync.WaitGroup
	once  sync.Once
}

var _ casflight.Hooks = (*Hooks)(nil)

func New(inner casflight.Hooks, workers, qlen int) *Hooks {
	if workers <= 0 {
		workers = 1
	}
	if qlen <= 0 {
		qlen = 1024
	}

	h := &Hooks{inner: inner, q: make(chan func(), qlen)}
	h.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer h.wg.Done()
			for f := range h.q {
				f()
			}
		}()
	}
	return h
}

func (h *Hooks) Close() {
	h.once.Do(func() {
		close(h.q)
		h.wg.Wait()
	})
}

func (h *Hooks) try(f func()) {
	select {
	case h.q <- f:
	default: // drop
	}
}

func (h *Hooks) SelfHeal(k, r string)             { h.try(func() { h.inner.SelfHeal(k, r) }) }
func (h *Hooks) ProviderSetRejected(k string)     { h.try(func() { h.inner.ProviderSetRejected(k) }) }
func (h *Hooks) StaleWriteSkipped(k string)       { h.try(func() { h.inner.StaleWriteSkipped(k) }) }
func (h *Hooks) FlightShared(k string)            { h.try(func() { h.inner.FlightShared(k) }) }
func (h *Hooks) EmptyFetch(k string)              { h.try(func() { h.inner.EmptyFetch(k) }) }
func (h *Hooks) GenBumpError(k string, err error) { h.try(func() { h.inner.GenBumpError(k, err) }) }
func (h *Hooks) GenSnapshotError(k string, err error) {
	h.try(func() { h.inner.GenSnapshotError(k, err) })
}
func (h *Hooks) InvalidateOutage(k string, be, de error) {
	h.try(func() { h.inner.InvalidateOutage(k, be, de) })
}
func (h *Hooks) UpdateConflict(kind, k string, attempt int) {
	h.try(func() { h.inner.UpdateConflict(kind, k, attempt) })
}
func (h *Hooks) LockExceeded(kind, k string, attempts int) {
	h.try(func() { h.inner.LockExceeded(kind, k, attempts) })
}
