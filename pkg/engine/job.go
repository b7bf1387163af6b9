package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/distex-rt/distex/pkg/collab"
	"github.com/distex-rt/distex/pkg/command"
)

// ErrMasterFunctorMissing is returned by a master-access job whose task
// has no registered functor on the master node. Unlike a missing compute
// task (a temporary wait condition), this is a fatal error: the master
// node must already have every master-access task's body, per the data
// model.
var ErrMasterFunctorMissing = errors.New("engine: master-access task has no registered functor")

// job is the per-kind behavior a worker job engine job wraps. Start is
// called once, after every dependency is done locally; Poll is called
// repeatedly from the engine's single poll loop and must never block.
type job interface {
	kind() command.Kind
	start(ctx context.Context) error
	poll(ctx context.Context) (done bool, err error)
}

// nopJob completes immediately; the serializer never actually emits nop
// commands (see serializer.serializeAndFlush), but the engine still
// accepts one for completeness and for tests that exercise the job state
// machine directly.
type nopJob struct{}

func (nopJob) kind() command.Kind                      { return command.Nop }
func (nopJob) start(context.Context) error             { return nil }
func (nopJob) poll(context.Context) (bool, error)      { return true, nil }

// horizonJob completes immediately once its dependencies (every task
// command since the previous horizon) are done; horizon accounting itself
// reacts to the engine's done notification, not to anything this job does.
type horizonJob struct{}

func (horizonJob) kind() command.Kind                 { return command.Horizon }
func (horizonJob) start(context.Context) error        { return nil }
func (horizonJob) poll(context.Context) (bool, error) { return true, nil }

// masterAccessJob invokes its task's functor synchronously on first poll.
type masterAccessJob struct {
	data  command.MasterAccessData
	store collab.TaskStore
}

func (j *masterAccessJob) kind() command.Kind          { return command.MasterAccess }
func (j *masterAccessJob) start(context.Context) error { return nil }

func (j *masterAccessJob) poll(ctx context.Context) (bool, error) {
	functor, ok := j.store.MasterFunctor(j.data.Task)
	if !ok {
		return false, fmt.Errorf("task %s: %w", j.data.Task, ErrMasterFunctorMissing)
	}

	return true, functor(ctx)
}

// pushJob submits a buffer subrange to the buffer-transfer manager on
// first poll and completes once the returned handle reports complete.
type pushJob struct {
	pkt    command.Packet
	btm    collab.BufferTransferManager
	handle collab.TransferHandle
}

func (j *pushJob) kind() command.Kind          { return command.Push }
func (j *pushJob) start(context.Context) error { return nil }

func (j *pushJob) poll(context.Context) (bool, error) {
	if j.handle == nil {
		h, err := j.btm.Push(j.pkt)
		if err != nil {
			return false, fmt.Errorf("push buffer %s: %w", j.pkt.Push.Buffer, err)
		}

		j.handle = h
	}

	return j.handle.Complete(), nil
}

// awaitPushJob waits for a paired push to arrive.
type awaitPushJob struct {
	pkt    command.Packet
	btm    collab.BufferTransferManager
	handle collab.TransferHandle
}

func (j *awaitPushJob) kind() command.Kind          { return command.AwaitPush }
func (j *awaitPushJob) start(context.Context) error { return nil }

func (j *awaitPushJob) poll(context.Context) (bool, error) {
	if j.handle == nil {
		h, err := j.btm.AwaitPush(j.pkt)
		if err != nil {
			return false, fmt.Errorf("await push of buffer %s: %w", j.pkt.AwaitPush.Buffer, err)
		}

		j.handle = h
	}

	return j.handle.Complete(), nil
}

// computeJob submits a kernel to the device queue once its task
// definition is registered, and completes once the device event reports
// complete. It implements the compute-kernel completion workaround: under
// CompletionStrategyFuture, the event's blocking-prone status query is
// offloaded to a background goroutine and observed through a channel with
// a microsecond-scale poll timeout, rather than called directly from the
// engine's poll loop.
type computeJob struct {
	data      command.ComputeData
	store     collab.TaskStore
	queue     collab.DeviceQueue
	strategy  CompletionStrategy
	logger    *slog.Logger
	waitLogged bool
	submitted  bool
	event      collab.DeviceEvent
	future     chan struct{}
}

func (j *computeJob) kind() command.Kind          { return command.Compute }
func (j *computeJob) start(context.Context) error { return nil }

func (j *computeJob) poll(ctx context.Context) (bool, error) {
	if !j.store.HasTask(j.data.Task) {
		if !j.waitLogged && j.logger != nil {
			j.logger.DebugContext(ctx, "waiting for task definition", slog.String("task", j.data.Task.String()))
			j.waitLogged = true
		}

		return false, nil
	}

	if !j.submitted {
		ev, err := j.queue.Execute(j.data.Task, j.data.Subrange)
		if err != nil {
			return false, fmt.Errorf("submit kernel for task %s: %w", j.data.Task, err)
		}

		j.event = ev
		j.submitted = true

		if j.strategy == CompletionStrategyFuture {
			j.future = make(chan struct{})

			go func(ev collab.DeviceEvent, done chan struct{}) {
				for !ev.Complete() {
				}

				close(done)
			}(ev, j.future)
		}
	}

	var complete bool

	if j.strategy == CompletionStrategyFuture {
		select {
		case <-j.future:
			complete = true
		case <-time.After(time.Microsecond):
			complete = false
		}
	} else {
		complete = j.event.Complete()
	}

	if complete {
		j.logProfiling(ctx)
	}

	return complete, nil
}

func (j *computeJob) logProfiling(ctx context.Context) {
	if j.logger == nil || !j.queue.ProfilingEnabled() {
		return
	}

	profiled, ok := j.event.(collab.ProfiledEvent)
	if !ok {
		return
	}

	queued, submit, start, end := profiled.Profile()
	j.logger.DebugContext(ctx, "kernel timeline",
		slog.String("task", j.data.Task.String()),
		slog.Duration("queued_to_submit", submit.Sub(queued)),
		slog.Duration("submit_to_start", start.Sub(submit)),
		slog.Duration("start_to_end", end.Sub(start)),
	)
}
