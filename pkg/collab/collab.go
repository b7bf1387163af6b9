// Package collab defines the contracts the worker job engine uses to talk
// to the three external collaborators the specification keeps out of
// scope: the user-task store, the accelerator device queue, and the
// buffer-transfer manager. Only the interfaces live here; the core engine
// in pkg/engine depends on these, never on a concrete backend.
package collab

import (
	"context"
	"time"

	"github.com/distex-rt/distex/pkg/command"
	"github.com/distex-rt/distex/pkg/ids"
)

// ComputeKernel is the function body of a compute task, invoked with the
// subrange assigned to one command.
type ComputeKernel func(ctx context.Context, sr command.Subrange) error

// MasterFunctor is the function body of a master-access task, invoked
// synchronously on the master node.
type MasterFunctor func(ctx context.Context) error

// TaskStore looks up user-supplied task bodies by id. HasTask must return
// false (not an error) until the task's definition has actually been
// registered; the engine treats that as a temporary wait condition,
// re-checking on every poll, matching compute_job::execute's behavior in
// the original worker job implementation.
type TaskStore interface {
	HasTask(tid ids.TaskID) bool
	ComputeKernel(tid ids.TaskID) (ComputeKernel, bool)
	MasterFunctor(tid ids.TaskID) (MasterFunctor, bool)
}

// DeviceEvent reports the asynchronous completion of a submitted kernel.
type DeviceEvent interface {
	// Complete reports whether the kernel has finished executing. On some
	// backends this call may block; the engine never calls it more than
	// once per poll and may route it through a completion-strategy
	// workaround (see pkg/engine) rather than calling it directly.
	Complete() bool
}

// ProfiledEvent is implemented by a DeviceEvent whose backend supports
// kernel timeline profiling.
type ProfiledEvent interface {
	Profile() (queued, submit, start, end time.Time)
}

// DeviceQueue submits compute kernels to an accelerator command queue.
type DeviceQueue interface {
	Execute(tid ids.TaskID, sr command.Subrange) (DeviceEvent, error)
	ProfilingEnabled() bool
}

// TransferHandle reports the asynchronous completion of a buffer
// transfer, in either direction.
type TransferHandle interface {
	Complete() bool
}

// BufferTransferManager moves buffer subranges between nodes. Push
// submits a range to a remote node; AwaitPush blocks (asynchronously, via
// the returned handle) until a matching push from a remote node arrives.
type BufferTransferManager interface {
	Push(pkt command.Packet) (TransferHandle, error)
	AwaitPush(pkt command.Packet) (TransferHandle, error)
}
