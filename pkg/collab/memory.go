package collab

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/pierrec/lz4/v4"

	"github.com/distex-rt/distex/pkg/command"
	"github.com/distex-rt/distex/pkg/ids"
)

// MemoryTaskStore is an in-process TaskStore backed by maps, used by the
// CLI's simulate command and by tests. Task registration is expected to
// race with command arrival (see TestEngineComputeWaitsForTaskDefinition
// and the engine's compute-job wait behavior), so HasTask/ComputeKernel/MasterFunctor are safe for
// concurrent use while Register* calls happen from another goroutine.
type MemoryTaskStore struct {
	mu       sync.RWMutex
	compute  map[ids.TaskID]ComputeKernel
	master   map[ids.TaskID]MasterFunctor
}

// NewMemoryTaskStore creates an empty task store.
func NewMemoryTaskStore() *MemoryTaskStore {
	return &MemoryTaskStore{
		compute: make(map[ids.TaskID]ComputeKernel),
		master:  make(map[ids.TaskID]MasterFunctor),
	}
}

// RegisterCompute makes a compute task's kernel visible to the engine.
func (s *MemoryTaskStore) RegisterCompute(tid ids.TaskID, kernel ComputeKernel) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.compute[tid] = kernel
}

// RegisterMaster makes a master-access task's functor visible to the engine.
func (s *MemoryTaskStore) RegisterMaster(tid ids.TaskID, functor MasterFunctor) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.master[tid] = functor
}

// HasTask reports whether tid has been registered as either kind of task.
func (s *MemoryTaskStore) HasTask(tid ids.TaskID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.compute[tid]; ok {
		return true
	}

	_, ok := s.master[tid]

	return ok
}

// ComputeKernel returns tid's registered compute kernel, if any.
func (s *MemoryTaskStore) ComputeKernel(tid ids.TaskID) (ComputeKernel, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	k, ok := s.compute[tid]

	return k, ok
}

// MasterFunctor returns tid's registered master functor, if any.
func (s *MemoryTaskStore) MasterFunctor(tid ids.TaskID) (MasterFunctor, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	f, ok := s.master[tid]

	return f, ok
}

// memoryEvent is a DeviceEvent backed by an atomic completion flag set
// once a kernel goroutine finishes.
type memoryEvent struct {
	done atomic.Bool
}

func (e *memoryEvent) Complete() bool { return e.done.Load() }

// MemoryDeviceQueue runs compute kernels on goroutines instead of a real
// accelerator, completing the returned event when the kernel function
// returns. It never blocks Execute or Complete, matching the engine's
// non-blocking poll contract without needing a real device backend.
type MemoryDeviceQueue struct {
	store      *MemoryTaskStore
	profiling  bool
}

// NewMemoryDeviceQueue creates a fake device queue that looks up kernels
// in store.
func NewMemoryDeviceQueue(store *MemoryTaskStore, profilingEnabled bool) *MemoryDeviceQueue {
	return &MemoryDeviceQueue{store: store, profiling: profilingEnabled}
}

// Execute runs tid's compute kernel over sr on a goroutine.
func (q *MemoryDeviceQueue) Execute(tid ids.TaskID, sr command.Subrange) (DeviceEvent, error) {
	kernel, ok := q.store.ComputeKernel(tid)
	if !ok {
		return nil, fmt.Errorf("collab: no compute kernel registered for task %s", tid)
	}

	ev := &memoryEvent{}

	go func() {
		_ = kernel(context.Background(), sr)
		ev.done.Store(true)
	}()

	return ev, nil
}

// ProfilingEnabled reports whether this fake queue was constructed with
// profiling turned on.
func (q *MemoryDeviceQueue) ProfilingEnabled() bool { return q.profiling }

// transferKey identifies one in-flight buffer transfer by the buffer and
// the push command that originated it, matching await_push_data's
// (bid, source_cid) pairing in the wire packet.
type transferKey struct {
	buffer ids.BufferID
	source ids.CommandID
}

// Network is the shared medium between every node's MemoryBufferTransferManager
// in one simulate run. A real buffer-transfer manager would move bytes
// over a socket; this fake moves an LZ4-compressed placeholder payload
// through a map, which is enough to exercise the same push/await_push
// completion-handle protocol the engine depends on.
type Network struct {
	mu        sync.Mutex
	delivered map[transferKey][]byte
}

// NewNetwork creates an empty transfer medium shared by every node in a
// simulate run.
func NewNetwork() *Network {
	return &Network{delivered: make(map[transferKey][]byte)}
}

func (n *Network) deliver(key transferKey, payload []byte) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.delivered[key] = payload
}

func (n *Network) take(key transferKey) ([]byte, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()

	payload, ok := n.delivered[key]

	return payload, ok
}

// alwaysCompleteHandle is returned by Push: in this fake, the push is
// considered complete as soon as the payload has been handed to the
// network, since there is no separate transport acknowledgement to wait
// for.
type alwaysCompleteHandle struct{}

func (alwaysCompleteHandle) Complete() bool { return true }

// pollingHandle is returned by AwaitPush: it reports complete once a
// matching push has deposited its payload into the network.
type pollingHandle struct {
	net *Network
	key transferKey
}

func (h *pollingHandle) Complete() bool {
	payload, ok := h.net.take(h.key)
	if !ok {
		return false
	}

	_, err := decompress(payload)

	return err == nil
}

// MemoryBufferTransferManager is a fake BufferTransferManager over a
// shared Network, used by the CLI's simulate command and by tests.
type MemoryBufferTransferManager struct {
	net *Network
}

// NewMemoryBufferTransferManager creates a fake transfer manager attached
// to a shared network.
func NewMemoryBufferTransferManager(net *Network) *MemoryBufferTransferManager {
	return &MemoryBufferTransferManager{net: net}
}

// Push compresses a placeholder payload sized to the subrange and deposits
// it into the network, keyed by the push command's own id so the paired
// await_push (which carries that id as SourceCommand) can find it.
func (m *MemoryBufferTransferManager) Push(pkt command.Packet) (TransferHandle, error) {
	payload := make([]byte, pkt.Push.Subrange.Extent)

	compressed, err := compress(payload)
	if err != nil {
		return nil, fmt.Errorf("collab: compress push payload: %w", err)
	}

	key := transferKey{buffer: pkt.Push.Buffer, source: pkt.CommandID}
	m.net.deliver(key, compressed)

	return alwaysCompleteHandle{}, nil
}

// AwaitPush returns a handle that completes once the paired push (by
// buffer and source command id) has deposited its payload.
func (m *MemoryBufferTransferManager) AwaitPush(pkt command.Packet) (TransferHandle, error) {
	key := transferKey{buffer: pkt.AwaitPush.Buffer, source: pkt.AwaitPush.SourceCommand}

	return &pollingHandle{net: m.net, key: key}, nil
}

func compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer

	zw := lz4.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		return nil, err
	}

	if err := zw.Close(); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

func decompress(data []byte) ([]byte, error) {
	zr := lz4.NewReader(bytes.NewReader(data))

	return io.ReadAll(zr)
}
