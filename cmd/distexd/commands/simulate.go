// Package commands implements CLI command handlers for distexd.
package commands

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/distex-rt/distex/pkg/collab"
	"github.com/distex-rt/distex/pkg/command"
	"github.com/distex-rt/distex/pkg/engine"
	"github.com/distex-rt/distex/pkg/graph"
	"github.com/distex-rt/distex/pkg/horizon"
	"github.com/distex-rt/distex/pkg/ids"
	"github.com/distex-rt/distex/pkg/serializer"
)

// engineSink routes every command the serializer emits to the engine
// owned by that command's node, playing the role of the network
// transport between C3 and C4 for an in-process demo.
type engineSink struct {
	engines map[ids.NodeID]*engine.Engine
}

func (s *engineSink) Emit(nid ids.NodeID, pkt command.Packet, deps []ids.CommandID) error {
	e, ok := s.engines[nid]
	if !ok {
		return fmt.Errorf("simulate: no engine registered for node %s", nid)
	}

	e.Submit(pkt, deps)

	return nil
}

// NewSimulateCommand runs the two-node push/await_push scenario (S1) with
// in-memory fake collaborators, end to end: it builds a tiny command
// graph by hand (standing in for the out-of-scope planner), flushes it
// through the real serializer, drives two real worker job engines to
// completion, and prints a per-task status table and the elapsed time.
func NewSimulateCommand() *cobra.Command {
	var buflen uint64

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run a two-node push/await_push scenario against in-memory collaborators",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSimulate(cmd, buflen)
		},
	}

	cmd.Flags().Uint64Var(&buflen, "buffer-len", 64, "length of the simulated buffer range transferred between nodes")

	return cmd
}

func runSimulate(cmd *cobra.Command, buflen uint64) error {
	ctx := context.Background()

	store := graph.NewStore()
	guard := graph.NewGuard(store)

	nodeA, nodeB := ids.NodeID(0), ids.NodeID(1)
	t1, t2 := ids.TaskID(1), ids.TaskID(2)
	buf := ids.BufferID(1)
	sr := command.Subrange{Offset: 0, Extent: buflen}

	var pushCid, awaitCid ids.CommandID

	guard.With(func(s *graph.Store) {
		computeT1 := s.AddCommand(command.Compute, nodeA, t1)
		s.SetPacket(computeT1, command.Packet{Kind: command.Compute, Compute: command.ComputeData{Task: t1, Subrange: sr}})

		pushCid = s.AddCommand(command.Push, nodeA, ids.TaskID(0))
		s.SetPacket(pushCid, command.Packet{Kind: command.Push, Push: command.PushData{Buffer: buf, Target: nodeB, Subrange: sr}})
		s.AddDependency(computeT1, pushCid, false)

		awaitCid = s.AddCommand(command.AwaitPush, nodeB, ids.TaskID(0))
		s.SetPacket(awaitCid, command.Packet{
			Kind: command.AwaitPush,
			AwaitPush: command.AwaitPushData{
				Buffer: buf, Source: nodeA, SourceCommand: pushCid, Subrange: sr,
			},
		})

		computeT2 := s.AddCommand(command.Compute, nodeB, t2)
		s.SetPacket(computeT2, command.Packet{Kind: command.Compute, Compute: command.ComputeData{Task: t2, Subrange: sr}})
		s.AddDependency(awaitCid, computeT2, false)

		horizonCid := s.AddCommand(command.Horizon, nodeA, ids.TaskID(0))
		s.AddDependency(computeT1, horizonCid, false)
	})

	taskStore := collab.NewMemoryTaskStore()

	var (
		t1Ran, t2Ran bool
	)

	taskStore.RegisterCompute(t1, func(context.Context, command.Subrange) error {
		t1Ran = true

		return nil
	})
	taskStore.RegisterCompute(t2, func(context.Context, command.Subrange) error {
		t2Ran = true

		return nil
	})

	net := collab.NewNetwork()

	accountant := horizon.New(guard)

	engineA := engine.New(taskStore, collab.NewMemoryDeviceQueue(taskStore, false), collab.NewMemoryBufferTransferManager(net),
		engine.WithHorizonHandler(accountant.Prune))
	engineB := engine.New(taskStore, collab.NewMemoryDeviceQueue(taskStore, false), collab.NewMemoryBufferTransferManager(net))

	sink := &engineSink{engines: map[ids.NodeID]*engine.Engine{nodeA: engineA, nodeB: engineB}}
	ser := serializer.New(guard, sink)

	start := time.Now()

	if err := ser.Flush(t1); err != nil {
		return fmt.Errorf("flush task 1: %w", err)
	}

	if err := ser.Flush(t2); err != nil {
		return fmt.Errorf("flush task 2: %w", err)
	}

	// Both engines poll cooperatively until the transfer and both kernels
	// complete; node B's await_push only resolves once node A's engine has
	// pushed, so the two must be interleaved rather than run to idle
	// independently.
	for range 1000 {
		progA, errA := engineA.PollOnce(ctx)
		if errA != nil {
			return fmt.Errorf("node A engine: %w", errA)
		}

		progB, errB := engineB.PollOnce(ctx)
		if errB != nil {
			return fmt.Errorf("node B engine: %w", errB)
		}

		if engineA.IsDone(pushCid) && engineB.IsDone(awaitCid) && t1Ran && t2Ran {
			break
		}

		if !progA && !progB {
			time.Sleep(time.Microsecond)
		}
	}

	elapsed := time.Since(start)

	printResult(cmd, t1Ran, t2Ran, elapsed, start)

	return nil
}

func printResult(cmd *cobra.Command, t1Ran, t2Ran bool, elapsed time.Duration, start time.Time) {
	green := color.New(color.FgGreen).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()

	status := func(ok bool) string {
		if ok {
			return green("done")
		}

		return red("stuck")
	}

	w := table.NewWriter()
	w.SetOutputMirror(os.Stdout)
	w.AppendHeader(table.Row{"Task", "Node", "Status"})
	w.AppendRow(table.Row{"T1 compute", "N0", status(t1Ran)})
	w.AppendRow(table.Row{"T2 compute", "N1", status(t2Ran)})
	w.Render()

	fmt.Fprintf(cmd.OutOrStdout(), "scenario completed in %s (started %s)\n", elapsed, humanize.Time(start))
}
