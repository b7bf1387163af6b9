// Package ids defines the opaque, phantom-typed identifiers shared by the
// command graph, the serializer, and the worker job engine. All four ID
// kinds are distinct Go types wrapping the same underlying representation
// so a TaskID can never be passed where a CommandID is expected, even
// though both are just unsigned integers underneath.
package ids

import "fmt"

// TaskID identifies a user task in the task graph.
type TaskID uint64

// NodeID identifies a cluster node.
type NodeID uint64

// BufferID identifies a named buffer.
type BufferID uint64

// CommandID identifies a command in the command graph. CommandIDs are
// issued monotonically by a single generator and are never reused, even
// after the command they named has been erased by horizon pruning.
type CommandID uint64

func (id TaskID) String() string    { return fmt.Sprintf("T%d", uint64(id)) }
func (id NodeID) String() string    { return fmt.Sprintf("N%d", uint64(id)) }
func (id BufferID) String() string  { return fmt.Sprintf("B%d", uint64(id)) }
func (id CommandID) String() string { return fmt.Sprintf("C%d", uint64(id)) }

// CommandIDGenerator issues monotonically increasing CommandIDs.
type CommandIDGenerator struct {
	next CommandID
}

// Next returns the next unused CommandID.
func (g *CommandIDGenerator) Next() CommandID {
	id := g.next
	g.next++

	return id
}
