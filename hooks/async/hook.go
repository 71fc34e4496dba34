// Package asynchook decouples hook consumers from the cache hot path.
//
// Events are queued to a bounded channel and delivered by background workers;
// when the queue is full the event is dropped rather than blocking a cache
// operation.
//
// usage:
//
//	raw := prom.New(prometheus.DefaultRegisterer)
//	hooks := asynchook.New(raw, 1, 1000) // 1 worker; queue 1000 events
//	defer hooks.Close()
//
//	mgr, _ := tierkv.New[User](tierkv.Options[User]{
//	    Handles: chain,
//	    Codec:   codec.JSON[User]{},
//	    Hooks:   hooks, // or `raw` if you don't want async
//	})
package asynchook

import (
	"sync"

	"github.com/unkn0wn-root/tierkv"
)

type Hooks struct {
	inner tierkv.Hooks
	q     chan func()
	wg    sync.WaitGroup
	once  sync.Once
}

var _ tierkv.Hooks = (*Hooks)(nil)

func New(inner tierkv.Hooks, workers, qlen int) *Hooks {
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

func (h *Hooks) CASAttempt(k string, ok bool)      { h.try(func() { h.inner.CASAttempt(k, ok) }) }
func (h *Hooks) CASConflict(k string, n int)       { h.try(func() { h.inner.CASConflict(k, n) }) }
func (h *Hooks) RetriesExhausted(k string, n int)  { h.try(func() { h.inner.RetriesExhausted(k, n) }) }
func (h *Hooks) Backfill(k string, i int)          { h.try(func() { h.inner.Backfill(k, i) }) }
func (h *Hooks) SelfHeal(name, k string)           { h.try(func() { h.inner.SelfHeal(name, k) }) }
func (h *Hooks) RegionClearSkipped(name string)    { h.try(func() { h.inner.RegionClearSkipped(name) }) }
func (h *Hooks) SecondaryFailure(name, op string, err error) {
	h.try(func() { h.inner.SecondaryFailure(name, op, err) })
}
