package graph

import "sync"

// Guard wraps a Store behind a mutex so the serializer thread and the
// worker job engine thread can share one command graph. Access is always
// scoped: callers obtain the Store via With, mutate or query it, and the
// lock is released automatically when With returns, on every exit path
// including a panic.
type Guard struct {
	mu    sync.Mutex
	store *Store
}

// NewGuard wraps store for concurrent access.
func NewGuard(store *Store) *Guard {
	return &Guard{store: store}
}

// With acquires the guard, runs fn against the underlying Store, and
// releases the guard before returning, even if fn panics.
func (g *Guard) With(fn func(*Store)) {
	g.mu.Lock()
	defer g.mu.Unlock()

	fn(g.store)
}
