package serializer_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/distex-rt/distex/pkg/command"
	"github.com/distex-rt/distex/pkg/graph"
	"github.com/distex-rt/distex/pkg/ids"
	"github.com/distex-rt/distex/pkg/serializer"
)

type emitted struct {
	nid  ids.NodeID
	pkt  command.Packet
	deps []ids.CommandID
}

type recordingSink struct {
	emits []emitted
}

func (r *recordingSink) Emit(nid ids.NodeID, pkt command.Packet, deps []ids.CommandID) error {
	cp := make([]ids.CommandID, len(deps))
	copy(cp, deps)
	r.emits = append(r.emits, emitted{nid: nid, pkt: pkt, deps: cp})

	return nil
}

// buildTwoNodePushScenario builds S1: T1 computes on node 0 and pushes
// buffer b[0,10) to node 1; T2 on node 1 awaits that push then computes.
func buildTwoNodePushScenario(t *testing.T) (*graph.Store, ids.TaskID, ids.TaskID, ids.CommandID, ids.CommandID) {
	t.Helper()

	store := graph.NewStore()

	t1 := ids.TaskID(1)
	t2 := ids.TaskID(2)
	n0 := ids.NodeID(0)
	n1 := ids.NodeID(1)
	buf := ids.BufferID(1)
	sr := command.Subrange{Offset: 0, Extent: 10}

	computeT1 := store.AddCommand(command.Compute, n0, t1)
	store.SetPacket(computeT1, command.Packet{Kind: command.Compute, Compute: command.ComputeData{Task: t1, Subrange: sr}})

	push := store.AddCommand(command.Push, n0, ids.TaskID(0))
	store.SetPacket(push, command.Packet{Kind: command.Push, Push: command.PushData{Buffer: buf, Target: n1, Subrange: sr}})
	store.AddDependency(computeT1, push, false)

	awaitPush := store.AddCommand(command.AwaitPush, n1, ids.TaskID(0))
	store.SetPacket(awaitPush, command.Packet{
		Kind: command.AwaitPush,
		AwaitPush: command.AwaitPushData{
			Buffer: buf, Source: n0, SourceCommand: push, Subrange: sr,
		},
	})

	computeT2 := store.AddCommand(command.Compute, n1, t2)
	store.SetPacket(computeT2, command.Packet{Kind: command.Compute, Compute: command.ComputeData{Task: t2, Subrange: sr}})
	store.AddDependency(awaitPush, computeT2, false)

	return store, t1, t2, push, awaitPush
}

func TestFlushTwoNodePushAwaitPush(t *testing.T) {
	t.Parallel()

	store, t1, t2, push, awaitPush := buildTwoNodePushScenario(t)
	sink := &recordingSink{}
	s := serializer.New(graph.NewGuard(store), sink)

	require.NoError(t, s.Flush(t1))
	require.Len(t, sink.emits, 2) // compute(T1), push

	require.NoError(t, s.Flush(t2))
	require.Len(t, sink.emits, 4) // + await_push, compute(T2)

	awaitEmit := sink.emits[2]
	assert.Equal(t, command.AwaitPush, awaitEmit.pkt.Kind)
	assert.Empty(t, awaitEmit.deps)

	computeT2Emit := sink.emits[3]
	assert.Equal(t, command.Compute, computeT2Emit.pkt.Kind)
	require.Len(t, computeT2Emit.deps, 1)
	assert.Equal(t, awaitPush, computeT2Emit.deps[0])

	assert.True(t, store.IsFlushed(push))
	assert.True(t, store.IsFlushed(awaitPush))
}

func TestFlushIsIdempotent(t *testing.T) {
	t.Parallel()

	store, t1, _, _, _ := buildTwoNodePushScenario(t)
	sink := &recordingSink{}
	s := serializer.New(graph.NewGuard(store), sink)

	require.NoError(t, s.Flush(t1))
	emitsAfterFirst := len(sink.emits)

	require.NoError(t, s.Flush(t1))
	assert.Equal(t, emitsAfterFirst, len(sink.emits), "second flush of the same task must emit nothing new")
}

func TestFlushDedupesSharedDependency(t *testing.T) {
	t.Parallel()

	store, t1, t2, _, awaitPush := buildTwoNodePushScenario(t)
	sink := &recordingSink{}
	s := serializer.New(graph.NewGuard(store), sink)

	require.NoError(t, s.Flush(t1))
	require.NoError(t, s.Flush(t2))

	// await_push must appear in sink.emits exactly once.
	count := 0

	for _, e := range sink.emits {
		if e.pkt.Kind == command.AwaitPush {
			count++
		}
	}

	assert.Equal(t, 1, count)
	assert.True(t, store.IsFlushed(awaitPush))
}

func TestFlushRejectsCrossNodeDependency(t *testing.T) {
	t.Parallel()

	store := graph.NewStore()
	t1 := ids.TaskID(1)

	a := store.AddCommand(command.Compute, ids.NodeID(0), t1)
	store.SetPacket(a, command.Packet{Kind: command.Compute})

	b := store.AddCommand(command.Compute, ids.NodeID(1), ids.TaskID(0))
	store.SetPacket(b, command.Packet{Kind: command.Compute})
	store.AddDependency(b, a, false)

	sink := &recordingSink{}
	s := serializer.New(graph.NewGuard(store), sink)

	err := s.Flush(t1)
	require.Error(t, err)
	assert.ErrorIs(t, err, serializer.ErrCrossNodeDependency)
}
