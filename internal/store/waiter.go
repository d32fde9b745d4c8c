package store

import "sync"

// WakeReason tells a woken waiter why it was signalled.
type WakeReason int

const (
	// WakeData means new messages may be available; re-read to find out.
	WakeData WakeReason = iota
	// WakeGone means the stream was deleted while waiting.
	WakeGone
)

// WaiterRegistry holds the pending long-poll and SSE readers per stream
// path. Notify wakes every waiter for a path once; a spurious wake is
// allowed, waiters always re-read.
type WaiterRegistry struct {
	mu      sync.Mutex
	waiters map[string][]chan WakeReason

	// onChange, when set, observes the number of registered waiters. Used
	// for the active-waiters gauge.
	onChange func(delta int)
}

// NewWaiterRegistry creates an empty registry.
func NewWaiterRegistry() *WaiterRegistry {
	return &WaiterRegistry{waiters: make(map[string][]chan WakeReason)}
}

// OnChange installs a callback invoked with +1/-1 as waiters come and go.
func (r *WaiterRegistry) OnChange(fn func(delta int)) {
	r.mu.Lock()
	r.onChange = fn
	r.mu.Unlock()
}

// Register adds a waiter for path. The returned channel receives at most one
// wake; the cancel func must be called when the waiter is done.
func (r *WaiterRegistry) Register(path string) (<-chan WakeReason, func()) {
	ch := make(chan WakeReason, 1)

	r.mu.Lock()
	r.waiters[path] = append(r.waiters[path], ch)
	onChange := r.onChange
	r.mu.Unlock()
	if onChange != nil {
		onChange(1)
	}

	cancel := func() {
		r.mu.Lock()
		list := r.waiters[path]
		for i, w := range list {
			if w == ch {
				r.waiters[path] = append(list[:i], list[i+1:]...)
				break
			}
		}
		if len(r.waiters[path]) == 0 {
			delete(r.waiters, path)
		}
		fn := r.onChange
		r.mu.Unlock()
		if fn != nil {
			fn(-1)
		}
	}
	return ch, cancel
}

// Notify wakes all waiters for path once.
func (r *WaiterRegistry) Notify(path string) {
	r.wake(path, WakeData)
}

// Drop wakes all waiters for path with a terminal signal, telling them the
// stream no longer exists.
func (r *WaiterRegistry) Drop(path string) {
	r.wake(path, WakeGone)
}

func (r *WaiterRegistry) wake(path string, reason WakeReason) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, ch := range r.waiters[path] {
		select {
		case ch <- reason:
		default:
		}
	}
}
