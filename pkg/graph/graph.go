// Package graph implements the command graph store (the specification's
// component C2): a DAG of commands with stable handles, dependency
// queries, and monotone flushed tracking. It is modeled on
// pkg/toposort.IntGraph's adjacency-list design, generalized from dense
// integer node IDs to the sparse ids.CommandID space and extended with
// per-node metadata (kind, owning node, task, payload, flushed bit) and
// tombstone erasure for horizon pruning.
package graph

import (
	"fmt"
	"iter"

	"github.com/distex-rt/distex/pkg/command"
	"github.com/distex-rt/distex/pkg/ids"
)

// Edge is a dependency edge endpoint paired with its anti-dependency flag.
type Edge struct {
	Command ids.CommandID
	Anti    bool
}

type node struct {
	id       ids.CommandID
	kind     command.Kind
	nid      ids.NodeID
	tid      ids.TaskID
	hasTask  bool
	packet   command.Packet
	flushed  bool
	preds    []Edge
	succs    []Edge
}

// Store holds the command graph for one process. It is safe for
// concurrent use only through the synchronization its caller provides;
// distex wraps it in a mutex-guarded Guard (see pkg/graph.Guard) because
// the serializer and the worker job engine run on different threads and
// share one Store.
type Store struct {
	gen   ids.CommandIDGenerator
	nodes map[ids.CommandID]*node

	// taskCommands indexes task commands (Compute, MasterAccess) by the
	// task they were derived from, in insertion order. This plays the role
	// of the begin/end sentinel pair bracketing a task's commands: since
	// nodes never move and taskCommands is append-only until erasure, the
	// slice boundaries are exactly that bracket.
	taskCommands map[ids.TaskID][]ids.CommandID
}

// NewStore creates an empty command graph store.
func NewStore() *Store {
	return &Store{
		nodes:        make(map[ids.CommandID]*node),
		taskCommands: make(map[ids.TaskID][]ids.CommandID),
	}
}

// AddCommand creates a new command node owned by nid and returns its
// stable handle. For task commands (Compute, MasterAccess), tid must be
// the owning task; for all other kinds it is ignored.
func (s *Store) AddCommand(kind command.Kind, nid ids.NodeID, tid ids.TaskID) ids.CommandID {
	id := s.gen.Next()

	n := &node{id: id, kind: kind, nid: nid}

	if kind == command.Compute || kind == command.MasterAccess {
		n.tid = tid
		n.hasTask = true
		s.taskCommands[tid] = append(s.taskCommands[tid], id)
	}

	s.nodes[id] = n

	return id
}

// SetPacket attaches the wire packet payload a command will be serialized
// as. Call this once, before the command is ever flushed.
func (s *Store) SetPacket(h ids.CommandID, pkt command.Packet) {
	s.mustNode(h).packet = pkt
}

// Packet returns the wire packet payload previously attached via SetPacket.
func (s *Store) Packet(h ids.CommandID) command.Packet {
	return s.mustNode(h).packet
}

// Kind returns the command kind of h.
func (s *Store) Kind(h ids.CommandID) command.Kind {
	return s.mustNode(h).kind
}

// NodeID returns the owning cluster node of h.
func (s *Store) NodeID(h ids.CommandID) ids.NodeID {
	return s.mustNode(h).nid
}

// TaskID returns the owning task of h and whether h is a task command at all.
func (s *Store) TaskID(h ids.CommandID) (ids.TaskID, bool) {
	n := s.mustNode(h)

	return n.tid, n.hasTask
}

// AddDependency records that succ depends on pred: pred must be emitted
// (and, for local ordering, done) strictly before succ.
func (s *Store) AddDependency(pred, succ ids.CommandID, anti bool) {
	predNode := s.mustNode(pred)
	succNode := s.mustNode(succ)

	succNode.preds = append(succNode.preds, Edge{Command: pred, Anti: anti})
	predNode.succs = append(predNode.succs, Edge{Command: succ, Anti: anti})
}

// Dependencies lazily iterates the first-level predecessors of h in
// insertion order.
func (s *Store) Dependencies(h ids.CommandID) iter.Seq[Edge] {
	edges := s.mustNode(h).preds

	return func(yield func(Edge) bool) {
		for _, e := range edges {
			if !yield(e) {
				return
			}
		}
	}
}

// Dependents lazily iterates the first-level successors of h in insertion order.
func (s *Store) Dependents(h ids.CommandID) iter.Seq[Edge] {
	edges := s.mustNode(h).succs

	return func(yield func(Edge) bool) {
		for _, e := range edges {
			if !yield(e) {
				return
			}
		}
	}
}

// TaskCommands lazily iterates the task commands (Compute, MasterAccess)
// belonging to tid, in the order they were added, restricted to kinds for
// which keep returns true. A nil keep keeps every task command.
func (s *Store) TaskCommands(tid ids.TaskID, keep func(command.Kind) bool) iter.Seq[ids.CommandID] {
	cmds := s.taskCommands[tid]

	return func(yield func(ids.CommandID) bool) {
		for _, id := range cmds {
			n, ok := s.nodes[id]
			if !ok {
				continue // erased by horizon pruning
			}

			if keep != nil && !keep(n.kind) {
				continue
			}

			if !yield(id) {
				return
			}
		}
	}
}

// MarkFlushed sets h's flushed flag. The flag is monotone: marking an
// already-flushed command is a no-op, never an error, so idempotent
// re-flush attempts are safe.
func (s *Store) MarkFlushed(h ids.CommandID) {
	s.mustNode(h).flushed = true
}

// IsFlushed reports whether h has been flushed.
func (s *Store) IsFlushed(h ids.CommandID) bool {
	return s.mustNode(h).flushed
}

// Erase removes h from the graph. Used only by horizon pruning, after
// every strictly-earlier predecessor of a done horizon command has been
// identified as safe to discard. Erasure never invalidates other handles:
// other nodes' edge lists may still name h, but a correctly operating
// caller has already proven nothing else needs to traverse through it.
func (s *Store) Erase(h ids.CommandID) {
	delete(s.nodes, h)
}

// Exists reports whether h still refers to a live command.
func (s *Store) Exists(h ids.CommandID) bool {
	_, ok := s.nodes[h]

	return ok
}

func (s *Store) mustNode(h ids.CommandID) *node {
	n, ok := s.nodes[h]
	if !ok {
		panic(fmt.Sprintf("graph: command %s does not exist (erased or never added)", h))
	}

	return n
}
