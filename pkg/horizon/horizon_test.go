package horizon_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/distex-rt/distex/pkg/command"
	"github.com/distex-rt/distex/pkg/graph"
	"github.com/distex-rt/distex/pkg/horizon"
	"github.com/distex-rt/distex/pkg/ids"
)

func TestPruneErasesStrictlyEarlierPredecessors(t *testing.T) {
	t.Parallel()

	store := graph.NewStore()
	nid := ids.NodeID(0)

	a := store.AddCommand(command.Compute, nid, ids.TaskID(1))
	b := store.AddCommand(command.Compute, nid, ids.TaskID(2))
	store.AddDependency(a, b, false)

	h := store.AddCommand(command.Horizon, nid, ids.TaskID(0))
	store.AddDependency(b, h, false)

	after := store.AddCommand(command.Compute, nid, ids.TaskID(3))
	store.AddDependency(h, after, false)

	guard := graph.NewGuard(store)
	acc := horizon.New(guard)
	acc.Prune(h)

	guard.With(func(s *graph.Store) {
		assert.False(t, s.Exists(a))
		assert.False(t, s.Exists(b))
		assert.True(t, s.Exists(h), "the horizon command itself must survive pruning")
		assert.True(t, s.Exists(after), "commands after the horizon are untouched")
	})
}

func TestPruneOnHorizonWithNoPredecessorsIsNoop(t *testing.T) {
	t.Parallel()

	store := graph.NewStore()
	h := store.AddCommand(command.Horizon, ids.NodeID(0), ids.TaskID(0))

	guard := graph.NewGuard(store)
	horizon.New(guard).Prune(h)

	guard.With(func(s *graph.Store) {
		assert.True(t, s.Exists(h))
	})
}
