package sync

import (
	"sync"
	"sync/atomic"
)

// Listener receives every applied diff, in apply order.
type Listener func(Diff)

type subscriber struct {
	fn      Listener
	removed atomic.Bool
}

// Registry fans applied diffs out to UI consumers. Publish is only ever
// called from the session's event loop, so listeners observe diffs in
// strict apply order; nothing is batched or dropped.
type Registry struct {
	mu   sync.Mutex
	subs []*subscriber
}

func NewRegistry() *Registry {
	return &Registry{}
}

// Subscribe registers a listener and returns its unsubscribe func, which
// is safe to call more than once and from inside a listener callback.
func (r *Registry) Subscribe(fn Listener) (unsubscribe func()) {
	sub := &subscriber{fn: fn}
	r.mu.Lock()
	r.subs = append(r.subs, sub)
	r.mu.Unlock()
	return func() {
		if !sub.removed.CompareAndSwap(false, true) {
			return
		}
		r.mu.Lock()
		for i, s := range r.subs {
			if s == sub {
				r.subs = append(r.subs[:i], r.subs[i+1:]...)
				break
			}
		}
		r.mu.Unlock()
	}
}

// Publish delivers the diff to every live subscriber. The list is
// snapshotted first so a listener may unsubscribe itself (or others)
// mid-delivery without invalidating the iteration.
func (r *Registry) Publish(d Diff) {
	r.mu.Lock()
	subs := make([]*subscriber, len(r.subs))
	copy(subs, r.subs)
	r.mu.Unlock()
	for _, s := range subs {
		if s.removed.Load() {
			continue
		}
		s.fn(d)
	}
}

// Clear detaches every subscriber, used on session teardown.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.subs {
		s.removed.Store(true)
	}
	r.subs = nil
}
