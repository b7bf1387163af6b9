package engine_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/distex-rt/distex/pkg/collab"
	"github.com/distex-rt/distex/pkg/command"
	"github.com/distex-rt/distex/pkg/engine"
	"github.com/distex-rt/distex/pkg/ids"
)

func TestEngineOrderingAwaitPushBeforeCompute(t *testing.T) {
	t.Parallel()

	store := collab.NewMemoryTaskStore()

	var ranOrder []string

	t2 := ids.TaskID(2)
	store.RegisterCompute(t2, func(context.Context, command.Subrange) error {
		ranOrder = append(ranOrder, "compute")

		return nil
	})

	net := collab.NewNetwork()
	btmB := collab.NewMemoryBufferTransferManager(net)
	btmA := collab.NewMemoryBufferTransferManager(net)
	queue := collab.NewMemoryDeviceQueue(store, false)

	e := engine.New(store, queue, btmB)

	sr := command.Subrange{Offset: 0, Extent: 10}
	pushCid := ids.CommandID(10)

	// Node A pushes first (independent engine instance, same network).
	eA := engine.New(store, collab.NewMemoryDeviceQueue(store, false), btmA)
	eA.Submit(command.Packet{
		CommandID: pushCid,
		Kind:      command.Push,
		Push:      command.PushData{Buffer: ids.BufferID(1), Target: ids.NodeID(1), Subrange: sr},
	}, nil)
	require.NoError(t, eA.RunUntilIdle(context.Background()))
	assert.True(t, eA.IsDone(pushCid))

	awaitCid := ids.CommandID(20)
	computeCid := ids.CommandID(21)

	e.Submit(command.Packet{
		CommandID: awaitCid,
		Kind:      command.AwaitPush,
		AwaitPush: command.AwaitPushData{Buffer: ids.BufferID(1), Source: ids.NodeID(0), SourceCommand: pushCid, Subrange: sr},
	}, nil)
	e.Submit(command.Packet{
		CommandID: computeCid,
		Kind:      command.Compute,
		Compute:   command.ComputeData{Task: t2, Subrange: sr},
	}, []ids.CommandID{awaitCid})

	require.NoError(t, e.RunUntilIdle(context.Background()))

	assert.True(t, e.IsDone(awaitCid))
	assert.True(t, e.IsDone(computeCid))
	require.Len(t, ranOrder, 1)
	assert.Equal(t, "compute", ranOrder[0])
}

func TestEngineComputeWaitsForTaskDefinition(t *testing.T) {
	t.Parallel()

	store := collab.NewMemoryTaskStore()
	queue := collab.NewMemoryDeviceQueue(store, false)
	net := collab.NewNetwork()
	btm := collab.NewMemoryBufferTransferManager(net)

	e := engine.New(store, queue, btm)

	tid := ids.TaskID(5)
	computeCid := ids.CommandID(1)
	e.Submit(command.Packet{CommandID: computeCid, Kind: command.Compute, Compute: command.ComputeData{Task: tid}}, nil)

	// Before the task definition exists, the job must stay pollable but not done.
	_, err := e.PollOnce(context.Background())
	require.NoError(t, err)
	assert.False(t, e.IsDone(computeCid))

	store.RegisterCompute(tid, func(context.Context, command.Subrange) error { return nil })

	require.NoError(t, e.RunUntilIdle(context.Background()))
	assert.True(t, e.IsDone(computeCid))
}

func TestEngineMasterAccessCompletesOnFirstPoll(t *testing.T) {
	t.Parallel()

	store := collab.NewMemoryTaskStore()
	queue := collab.NewMemoryDeviceQueue(store, false)
	net := collab.NewNetwork()
	btm := collab.NewMemoryBufferTransferManager(net)

	e := engine.New(store, queue, btm)

	tid := ids.TaskID(9)

	invoked := false
	store.RegisterMaster(tid, func(context.Context) error {
		invoked = true

		return nil
	})

	cid := ids.CommandID(1)
	e.Submit(command.Packet{CommandID: cid, Kind: command.MasterAccess, MasterAccess: command.MasterAccessData{Task: tid}}, nil)

	require.NoError(t, e.RunUntilIdle(context.Background()))
	assert.True(t, invoked)
	assert.True(t, e.IsDone(cid))
}

func TestEngineHorizonCallback(t *testing.T) {
	t.Parallel()

	store := collab.NewMemoryTaskStore()
	queue := collab.NewMemoryDeviceQueue(store, false)
	net := collab.NewNetwork()
	btm := collab.NewMemoryBufferTransferManager(net)

	var pruned ids.CommandID

	e := engine.New(store, queue, btm, engine.WithHorizonHandler(func(cid ids.CommandID) {
		pruned = cid
	}))

	cid := ids.CommandID(42)
	e.Submit(command.Packet{CommandID: cid, Kind: command.Horizon}, nil)

	require.NoError(t, e.RunUntilIdle(context.Background()))
	assert.Equal(t, cid, pruned)
}
