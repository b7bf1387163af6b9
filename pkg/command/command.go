// Package command defines the closed set of command kinds that make up a
// command graph, their typed payloads, and the wire packet the serializer
// hands to the worker job engine. Dispatch over command kinds uses an
// exhaustive type switch rather than runtime type assertions, the
// tagged-variant re-architecture called for in place of the original
// isa<X>-downcast style.
package command

import "github.com/distex-rt/distex/pkg/ids"

// Kind is the closed set of command kinds a command graph node can hold.
type Kind int

const (
	// Nop is an empty placeholder command, never emitted by the serializer.
	Nop Kind = iota
	// Compute executes a task's kernel over a subrange on the owning node's device.
	Compute
	// MasterAccess invokes a task's functor synchronously on the master node.
	MasterAccess
	// Push submits a buffer subrange to another node.
	Push
	// AwaitPush waits for a paired Push to arrive from another node.
	AwaitPush
	// Horizon is a synthetic join point bounding graph growth.
	Horizon
)

// String renders the kind using the same names as the wire packet tag.
func (k Kind) String() string {
	switch k {
	case Nop:
		return "nop"
	case Compute:
		return "compute"
	case MasterAccess:
		return "master_access"
	case Push:
		return "push"
	case AwaitPush:
		return "await_push"
	case Horizon:
		return "horizon"
	default:
		return "unknown"
	}
}

// Subrange is an N-dimensional offset+extent pair. distex only needs the
// 1-D case its buffers are sliced on; higher dimensions are represented as
// independent Subrange triples per axis by callers that need them.
type Subrange struct {
	Offset uint64
	Extent uint64
}

// End returns the exclusive end of the subrange, Offset+Extent.
func (s Subrange) End() uint64 { return s.Offset + s.Extent }

// Overlaps reports whether s and other cover any common offset.
func (s Subrange) Overlaps(other Subrange) bool {
	return s.Offset < other.End() && other.Offset < s.End()
}

// ComputeData is the payload of a Compute command.
type ComputeData struct {
	Task     ids.TaskID
	Subrange Subrange
}

// MasterAccessData is the payload of a MasterAccess command.
type MasterAccessData struct {
	Task ids.TaskID
}

// PushData is the payload of a Push command.
type PushData struct {
	Buffer   ids.BufferID
	Target   ids.NodeID
	Subrange Subrange
}

// AwaitPushData is the payload of an AwaitPush command. SourceCommand
// identifies the paired Push so the worker job engine can report a
// dependency list entry without a graph edge reaching across nodes.
type AwaitPushData struct {
	Buffer        ids.BufferID
	Source        ids.NodeID
	SourceCommand ids.CommandID
	Subrange      Subrange
}

// Packet is the wire format the serializer hands to its sink (command_pkg
// in the specification): a fixed header plus a tagged payload. Only one of
// the typed fields is meaningful, selected by Kind; the others are zero.
type Packet struct {
	CommandID    ids.CommandID
	Kind         Kind
	Compute      ComputeData
	MasterAccess MasterAccessData
	Push         PushData
	AwaitPush    AwaitPushData
}
