// Package horizon implements horizon accounting (component C5): once a
// horizon command is done on its node, every strictly earlier transitive
// predecessor of that horizon on the same node can be erased from the
// command graph store, bounding the graph's growth for long-running
// programs. Command ids are never reused, matching the data model's
// monotone id invariant: Accountant only ever calls Store.Erase, never
// resets the id generator.
package horizon

import (
	"github.com/distex-rt/distex/pkg/graph"
	"github.com/distex-rt/distex/pkg/ids"
)

// Accountant prunes a guarded command graph store in reaction to horizon
// completions reported by the worker job engine (via
// engine.WithHorizonHandler).
type Accountant struct {
	guard *graph.Guard
}

// New creates an Accountant over the given guarded command graph store.
func New(guard *graph.Guard) *Accountant {
	return &Accountant{guard: guard}
}

// Prune erases every transitive predecessor of the now-done horizon
// command h. h itself is kept: its command_id must remain valid, since a
// later flush may still reference it as an already-flushed dependency.
func (a *Accountant) Prune(h ids.CommandID) {
	a.guard.With(func(store *graph.Store) {
		visited := make(map[ids.CommandID]bool)

		var walk func(id ids.CommandID)

		walk = func(id ids.CommandID) {
			if visited[id] {
				return
			}

			visited[id] = true

			for e := range store.Dependencies(id) {
				walk(e.Command)
			}
		}

		for e := range store.Dependencies(h) {
			walk(e.Command)
		}

		for id := range visited {
			store.Erase(id)
		}
	})
}
