package pg

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ValentinKolb/dCCL/lib/device"
)

// --------------------------------------------------------------------------
// Operation Types
// --------------------------------------------------------------------------

type OpType uint8

const (
	OpAllReduce OpType = iota
	OpAllReduceSparse
	OpBroadcast
	OpReduce
	OpAllGather
	OpAllGatherBase
	OpReduceScatter
	OpReduceScatterBase
	OpBarrier
	OpHealthCheck
)

func (o OpType) String() string {
	switch o {
	case OpAllReduce:
		return "allreduce"
	case OpAllReduceSparse:
		return "allreduce_sparse"
	case OpBroadcast:
		return "broadcast"
	case OpReduce:
		return "reduce"
	case OpAllGather:
		return "allgather"
	case OpAllGatherBase:
		return "allgather_base"
	case OpReduceScatter:
		return "reduce_scatter"
	case OpReduceScatterBase:
		return "reduce_scatter_base"
	case OpBarrier:
		return "barrier"
	case OpHealthCheck:
		return "healthcheck"
	default:
		return fmt.Sprintf("op(%d)", o)
	}
}

// --------------------------------------------------------------------------
// Work Handle
// --------------------------------------------------------------------------

type WorkState uint8

const (
	WorkPending WorkState = iota
	WorkSucceeded
	WorkFailed
)

func (s WorkState) String() string {
	switch s {
	case WorkPending:
		return "pending"
	case WorkSucceeded:
		return "succeeded"
	default:
		return "failed"
	}
}

// Work is the handle of a dispatched collective. It moves exactly once from
// pending to succeeded or failed.
//
// The output tensors belong to the collective until the work completed, the
// caller must neither read nor write them before.
type Work struct {
	pg      *ProcessGroup
	comm    *Communicator
	id      uint64
	seq     uint64
	op      OpType
	events  []*device.Event
	outputs []*device.Tensor
	sparse  []*device.SparseTensor
	timeout time.Duration
	start   time.Time

	mu    sync.Mutex
	state WorkState
	err   error
	done  chan struct{}
}

func (pg *ProcessGroup) newWork(op OpType, seq uint64, comm *Communicator, events []*device.Event, timeout time.Duration) *Work {
	w := &Work{
		pg:      pg,
		comm:    comm,
		id:      pg.workIDs.Add(1),
		seq:     seq,
		op:      op,
		events:  events,
		timeout: timeout,
		start:   time.Now(),
		done:    make(chan struct{}),
	}
	collectivesTotal(op).Inc()
	return w
}

func (w *Work) SequenceNumber() uint64 { return w.seq }
func (w *Work) OpType() OpType         { return w.op }

// State polls the work and returns its state
func (w *Work) State() WorkState {
	w.poll()
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// IsCompleted reports without blocking whether the work has finished,
// successfully or not.
func (w *Work) IsCompleted() bool {
	return w.State() != WorkPending
}

// IsSuccess reports whether the work finished successfully
func (w *Work) IsSuccess() bool {
	return w.State() == WorkSucceeded
}

// Exception returns the error of a failed work, nil otherwise
func (w *Work) Exception() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

// Wait blocks until the work completes or timeout elapses. A timeout of zero
// uses the timeout of the collective. On timeout the work fails with
// ErrCOperationTimeout and, in blocking wait mode, its communicator is
// aborted. Otherwise the watchdog aborts it once the collective is still
// not done after its timeout.
func (w *Work) Wait(timeout time.Duration) error {
	if timeout <= 0 {
		timeout = w.timeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for _, ev := range w.events {
		select {
		case <-ev.Done():
		case <-w.done:
			return w.Exception()
		case <-timer.C:
			err := newError(ErrCOperationTimeout, context.DeadlineExceeded,
				"%s did not complete within %s in wait", w, timeout)
			if w.finish(err) && w.pg.opts.BlockingWait {
				w.pg.abortCommunicator(w.comm, err)
			}
			return w.Exception()
		}
	}

	w.poll()
	<-w.done
	return w.Exception()
}

// Synchronize makes the given streams wait for the completion of the work
// on their device without blocking the host.
func (w *Work) Synchronize(streams ...*device.Stream) {
	for _, s := range streams {
		for i, ev := range w.events {
			if w.comm.devices[i] == s.Device() {
				s.WaitEvent(ev)
			}
		}
	}
}

// Result returns the output tensors of a successfully completed work.
func (w *Work) Result() ([]*device.Tensor, error) {
	if err := w.checkResult(); err != nil {
		return nil, err
	}
	return w.outputs, nil
}

// SparseResult returns the output of a successfully completed sparse all-reduce.
func (w *Work) SparseResult() ([]*device.SparseTensor, error) {
	if err := w.checkResult(); err != nil {
		return nil, err
	}
	if w.op != OpAllReduceSparse {
		return nil, newError(ErrCInvalidState, nil, "%s has no sparse result", w)
	}
	return w.sparse, nil
}

func (w *Work) checkResult() error {
	switch w.State() {
	case WorkPending:
		return newError(ErrCInvalidState, nil, "result of %s requested before completion", w)
	case WorkFailed:
		return newError(ErrCInvalidState, w.Exception(), "result of failed %s requested", w)
	}
	return nil
}

// poll completes the work if all events fired or the communicator failed
func (w *Work) poll() {
	select {
	case <-w.done:
		return
	default:
	}

	if err := w.comm.asyncError(); err != nil {
		w.finish(newError(ErrCOperation, err, "%s failed", w))
		return
	}
	if w.comm.IsAborted() {
		w.finish(newError(ErrCOperation, w.comm.AbortReason(), "communicator of %s was aborted", w))
		return
	}
	if w.eventsDone() {
		w.finish(nil)
	}
}

// eventsDone reports whether the completion events of all devices fired
func (w *Work) eventsDone() bool {
	for _, ev := range w.events {
		if !ev.Query() {
			return false
		}
	}
	return true
}

// finish moves the work into its final state. Returns false if the work
// had already finished.
func (w *Work) finish(err error) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state != WorkPending {
		return false
	}
	if err != nil {
		w.state = WorkFailed
		w.err = err
		workFailedTotal(CodeOf(err)).Inc()
		plog.Errorf("rank %d: %v", w.pg.rank, err)
	} else {
		w.state = WorkSucceeded
		workDuration(w.op).UpdateDuration(w.start)
	}
	close(w.done)
	return true
}

func (w *Work) String() string {
	return fmt.Sprintf("Work(SeqNum=%d, OpType=%s, Timeout(ms)=%d)", w.seq, w.op, w.timeout.Milliseconds())
}
