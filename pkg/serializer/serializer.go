// Package serializer implements the graph serializer (component C3): it
// walks the task commands produced by a flush(tid) trigger, recursively
// emits their un-flushed ancestors first, and hands every emitted command
// to a sink in a valid topological order. The algorithm mirrors
// celerity-runtime's graph_serializer::flush/serialize_and_flush
// (original_source/src/graph_serializer.cc) translated from an
// exception-free assert-heavy C++ style into Go's explicit error returns:
// every invariant violation that original code asserted on is instead
// returned as an error and treated as fatal by the caller.
package serializer

import (
	"errors"
	"fmt"

	"github.com/distex-rt/distex/pkg/command"
	"github.com/distex-rt/distex/pkg/graph"
	"github.com/distex-rt/distex/pkg/ids"
)

// ErrCrossNodeDependency is returned when a command depends on a command
// owned by a different node, other than the push/await_push pairing which
// is exempt from the same-node rule.
var ErrCrossNodeDependency = errors.New("serializer: dependency on a different node")

// ErrTaskDependencyNotFlushed is returned when a task-command dependency
// from another task has not yet been flushed, which should never happen
// given the planner's task-ordering contract.
var ErrTaskDependencyNotFlushed = errors.New("serializer: task command dependency not yet flushed")

// ErrSameTaskDependency is returned when a task command depends on
// another command from its own task; such a dependency should always be
// an edge within the command graph store itself, not a separately flushed
// reference.
var ErrSameTaskDependency = errors.New("serializer: task command depends on a command from the same task")

// ErrAlreadyFlushed is returned when serialize_and_flush is asked to flush
// a command a second time.
var ErrAlreadyFlushed = errors.New("serializer: command already flushed")

// Sink receives serialized commands in the order they must be transmitted
// to their owning node. Implementations must be reliable and preserve
// per-destination-node order; the in-process transport used by the CLI's
// simulate command and the tests in this package satisfy that by
// construction.
type Sink interface {
	Emit(nid ids.NodeID, pkt command.Packet, dependencies []ids.CommandID) error
}

// Serializer walks a command graph guard and emits commands to a Sink.
type Serializer struct {
	guard *graph.Guard
	sink  Sink
}

// New creates a Serializer over the given guarded command graph store.
func New(guard *graph.Guard, sink Sink) *Serializer {
	return &Serializer{guard: guard, sink: sink}
}

// Flush ships every task command of tid, plus every un-flushed ancestor
// required to make those commands executable, to each owning node's sink,
// then ships every push and horizon command that depends on one of tid's
// commands.
// A second Flush of a tid whose commands are already flushed emits
// nothing (idempotent flush, testable property 2).
func (s *Serializer) Flush(tid ids.TaskID) error {
	var flushErr error

	s.guard.With(func(store *graph.Store) {
		var cmds []ids.CommandID

		isTaskCommand := func(k command.Kind) bool { return k == command.Compute || k == command.MasterAccess }
		for id := range store.TaskCommands(tid, isTaskCommand) {
			if store.IsFlushed(id) {
				continue
			}

			cmds = append(cmds, id)
		}

		flushErr = flushCommands(store, s.sink, tid, cmds)
	})

	return flushErr
}

type pending struct {
	cmd  ids.CommandID
	deps []ids.CommandID
}

func flushCommands(store *graph.Store, sink Sink, tid ids.TaskID, cmds []ids.CommandID) error {
	var (
		horizonCmds []ids.CommandID
		planned     []pending
	)

	flushAncestor := func(dep ids.CommandID) error {
		var depDeps []ids.CommandID

		for e := range store.Dependencies(dep) {
			if !store.IsFlushed(e.Command) {
				return fmt.Errorf("serializer: second-level dependency %s of %s not flushed: %w", e.Command, dep, ErrTaskDependencyNotFlushed)
			}

			depDeps = append(depDeps, e.Command)
		}

		return serializeAndFlush(store, sink, dep, depDeps)
	}

	for _, cmd := range cmds {
		var deps []ids.CommandID

		for e := range store.Dependencies(cmd) {
			d := e.Command
			if store.Kind(d) == command.Nop {
				continue
			}

			deps = append(deps, d)

			if store.NodeID(d) != store.NodeID(cmd) {
				return fmt.Errorf("serializer: command %s depends on %s on a different node: %w", cmd, d, ErrCrossNodeDependency)
			}

			if depTid, isTaskCmd := store.TaskID(d); isTaskCmd {
				if depTid == tid {
					return fmt.Errorf("serializer: command %s: %w", cmd, ErrSameTaskDependency)
				}

				if !store.IsFlushed(d) {
					return fmt.Errorf("serializer: command %s depends on unflushed task command %s: %w", cmd, d, ErrTaskDependencyNotFlushed)
				}

				continue
			}

			if !store.IsFlushed(d) {
				if err := flushAncestor(d); err != nil {
					return err
				}
			}

			if store.Kind(d) == command.AwaitPush {
				pushCid := store.Packet(d).AwaitPush.SourceCommand
				if !store.IsFlushed(pushCid) {
					if err := flushAncestor(pushCid); err != nil {
						return err
					}
				}
			}
		}

		planned = append(planned, pending{cmd: cmd, deps: deps})

		for e := range store.Dependents(cmd) {
			if k := store.Kind(e.Command); k == command.Horizon || k == command.Push {
				horizonCmds = append(horizonCmds, e.Command)
			}
		}
	}

	for _, p := range planned {
		if err := serializeAndFlush(store, sink, p.cmd, p.deps); err != nil {
			return err
		}
	}

	for _, h := range horizonCmds {
		if store.IsFlushed(h) {
			continue
		}

		if err := flushAncestor(h); err != nil {
			return err
		}
	}

	return nil
}

func serializeAndFlush(store *graph.Store, sink Sink, cmd ids.CommandID, deps []ids.CommandID) error {
	if store.IsFlushed(cmd) {
		return fmt.Errorf("serializer: command %s: %w", cmd, ErrAlreadyFlushed)
	}

	if store.Kind(cmd) == command.Nop {
		return nil
	}

	pkt := store.Packet(cmd)
	pkt.CommandID = cmd

	if err := sink.Emit(store.NodeID(cmd), pkt, deps); err != nil {
		return fmt.Errorf("serializer: emit %s to %s: %w", cmd, store.NodeID(cmd), err)
	}

	store.MarkFlushed(cmd)

	return nil
}
