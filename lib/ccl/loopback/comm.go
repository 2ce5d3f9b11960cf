package loopback

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/ValentinKolb/dCCL/lib/ccl"
	"github.com/ValentinKolb/dCCL/lib/device"
	"github.com/pkg/errors"
)

const (
	opAllReduce     = "allreduce"
	opBroadcast     = "broadcast"
	opReduce        = "reduce"
	opAllGather     = "allgather"
	opReduceScatter = "reducescatter"
	opSplit         = "split"
)

// comm is the communicator of one rank on one device
type comm struct {
	lib  *Library
	cl   *clique
	rank int
	dev  int

	seq       atomic.Uint64
	aborted   atomic.Bool
	destroyed atomic.Bool

	mu       sync.Mutex
	asyncErr error
}

func (c *comm) Rank() int   { return c.rank }
func (c *comm) Size() int   { return c.cl.nranks }
func (c *comm) Device() int { return c.dev }

// --------------------------------------------------------------------------
// Collectives
// --------------------------------------------------------------------------

func (c *comm) AllReduce(send, recv *device.Tensor, op ccl.ReduceOp, stream *device.Stream) error {
	if err := c.check(stream, send, recv); err != nil {
		return err
	}
	if send.Numel() != recv.Numel() {
		return ccl.NewError(ccl.InvalidArgument, "allreduce: send has %d elements, recv has %d", send.Numel(), recv.Numel())
	}
	return c.enqueue(stream, opAllReduce, func() *contribution {
		return snapshot(opAllReduce, send, 0, op)
	}, func(s *slot) {
		reduceInto(recv, s.inputs, op, 0, recv.Numel())
	})
}

func (c *comm) Broadcast(send, recv *device.Tensor, root int, stream *device.Stream) error {
	if err := c.check(stream, send, recv); err != nil {
		return err
	}
	if err := c.checkRoot(root); err != nil {
		return err
	}
	if send.Numel() != recv.Numel() {
		return ccl.NewError(ccl.InvalidArgument, "broadcast: send has %d elements, recv has %d", send.Numel(), recv.Numel())
	}
	return c.enqueue(stream, opBroadcast, func() *contribution {
		return snapshot(opBroadcast, send, root, ccl.Sum)
	}, func(s *slot) {
		for i, v := range s.inputs[root].data {
			recv.Set(i, v)
		}
	})
}

func (c *comm) Reduce(send, recv *device.Tensor, op ccl.ReduceOp, root int, stream *device.Stream) error {
	if err := c.check(stream, send, recv); err != nil {
		return err
	}
	if err := c.checkRoot(root); err != nil {
		return err
	}
	if send.Numel() != recv.Numel() {
		return ccl.NewError(ccl.InvalidArgument, "reduce: send has %d elements, recv has %d", send.Numel(), recv.Numel())
	}
	return c.enqueue(stream, opReduce, func() *contribution {
		return snapshot(opReduce, send, root, op)
	}, func(s *slot) {
		if c.rank == root {
			reduceInto(recv, s.inputs, op, 0, recv.Numel())
		}
	})
}

func (c *comm) AllGather(send, recv *device.Tensor, stream *device.Stream) error {
	if err := c.check(stream, send, recv); err != nil {
		return err
	}
	if recv.Numel() != send.Numel()*c.Size() {
		return ccl.NewError(ccl.InvalidArgument, "allgather: recv needs %d elements, has %d", send.Numel()*c.Size(), recv.Numel())
	}
	return c.enqueue(stream, opAllGather, func() *contribution {
		return snapshot(opAllGather, send, 0, ccl.Sum)
	}, func(s *slot) {
		block := send.Numel()
		for r, in := range s.inputs {
			for i, v := range in.data {
				recv.Set(r*block+i, v)
			}
		}
	})
}

func (c *comm) ReduceScatter(send, recv *device.Tensor, op ccl.ReduceOp, stream *device.Stream) error {
	if err := c.check(stream, send, recv); err != nil {
		return err
	}
	if send.Numel() != recv.Numel()*c.Size() {
		return ccl.NewError(ccl.InvalidArgument, "reducescatter: send needs %d elements, has %d", recv.Numel()*c.Size(), send.Numel())
	}
	return c.enqueue(stream, opReduceScatter, func() *contribution {
		return snapshot(opReduceScatter, send, 0, op)
	}, func(s *slot) {
		reduceInto(recv, s.inputs, op, c.rank*recv.Numel(), recv.Numel())
	})
}

// --------------------------------------------------------------------------
// Split
// --------------------------------------------------------------------------

func (c *comm) Split(ctx context.Context, color int, key int) (ccl.IComm, error) {
	if !c.lib.split {
		return nil, ccl.NewError(ccl.InvalidUsage, "communicator split is not supported by %s %s", Name, c.lib.version)
	}
	if err := c.usable(); err != nil {
		return nil, err
	}

	seq := c.seq.Add(1)
	s := c.cl.arrive(seq, c.rank, &contribution{op: opSplit, color: color, key: key})
	select {
	case <-s.full:
	case <-c.cl.aborted:
		return nil, c.cl.abortErr
	case <-ctx.Done():
		return nil, errors.Wrapf(ctx.Err(), "rank %d waiting for split of communicator %s", c.rank, c.cl.name())
	}
	defer c.cl.depart(seq, s)
	if s.err != nil {
		return nil, s.err
	}
	if color < 0 {
		return nil, nil
	}

	s.mu.Lock()
	err := c.cl.partition(s)
	var child *clique
	newRank := -1
	if err == nil {
		child = s.children[color]
		newRank = s.childRank[c.rank]
	}
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	cc := &comm{lib: c.lib, cl: child, rank: newRank, dev: c.dev}
	child.mu.Lock()
	child.members[newRank] = cc
	child.mu.Unlock()
	plog.Debugf("rank %d of %s split into rank %d/%d of %s (color %d)", c.rank, c.cl.name(), newRank, child.nranks, child.name(), color)
	return cc, nil
}

// --------------------------------------------------------------------------
// Error handling and teardown
// --------------------------------------------------------------------------

func (c *comm) GetAsyncError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.asyncErr
}

func (c *comm) setAsyncError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.asyncErr == nil {
		c.asyncErr = err
		plog.Warningf("rank %d of %s: %v", c.rank, c.cl.name(), err)
	}
}

func (c *comm) Abort() error {
	if !c.aborted.CompareAndSwap(false, true) {
		return nil
	}
	c.cl.abort(ccl.NewError(ccl.RemoteError, "communicator %s aborted by rank %d", c.cl.name(), c.rank))
	return nil
}

func (c *comm) Destroy() error {
	c.destroyed.Store(true)
	return nil
}

func (c *comm) usable() error {
	switch {
	case c.aborted.Load():
		return ccl.NewError(ccl.InvalidUsage, "communicator %s was aborted", c.cl.name())
	case c.destroyed.Load():
		return ccl.NewError(ccl.InvalidUsage, "communicator %s was destroyed", c.cl.name())
	}
	return nil
}

func (c *comm) check(stream *device.Stream, tensors ...*device.Tensor) error {
	if err := c.usable(); err != nil {
		return err
	}
	if stream == nil {
		return ccl.NewError(ccl.InvalidArgument, "stream must not be nil")
	}
	if stream.Device() != c.dev {
		return ccl.NewError(ccl.InvalidArgument, "stream of device %d used with communicator of device %d", stream.Device(), c.dev)
	}
	for _, t := range tensors {
		if t == nil {
			return ccl.NewError(ccl.InvalidArgument, "tensor must not be nil")
		}
		if t.Device() != c.dev {
			return ccl.NewError(ccl.InvalidArgument, "tensor on device %d used with communicator of device %d", t.Device(), c.dev)
		}
	}
	return nil
}

func (c *comm) checkRoot(root int) error {
	if root < 0 || root >= c.Size() {
		return ccl.NewError(ccl.InvalidArgument, "invalid root %d, communicator has %d ranks", root, c.Size())
	}
	return nil
}

// enqueue numbers the call on the host and launches it on stream. The input
// is captured when the stream reaches the call, after all prior work.
func (c *comm) enqueue(stream *device.Stream, op string, in func() *contribution, apply func(s *slot)) error {
	seq := c.seq.Add(1)
	ok := stream.Launch(func() {
		if err := c.execute(seq, op, in(), apply); err != nil {
			c.setAsyncError(err)
		}
	})
	if !ok {
		return ccl.NewError(ccl.InvalidUsage, "%s: stream %d is closed", op, stream.ID())
	}
	return nil
}

func (c *comm) execute(seq uint64, op string, in *contribution, apply func(s *slot)) error {
	if c.cl.isAborted() {
		return c.cl.abortErr
	}

	var fault error
	if hook := c.lib.faultHook(); hook != nil {
		fault = hook(OpInfo{Op: op, Rank: c.rank, Size: c.Size(), Device: c.dev, Seq: seq})
	}

	s := c.cl.arrive(seq, c.rank, in)
	select {
	case <-s.full:
	case <-c.cl.aborted:
		return c.cl.abortErr
	}
	defer c.cl.depart(seq, s)

	if s.err != nil {
		return s.err
	}
	if fault != nil {
		return errors.Wrapf(fault, "%s seq %d on rank %d", op, seq, c.rank)
	}
	apply(s)
	return nil
}

// --------------------------------------------------------------------------
// Helpers
// --------------------------------------------------------------------------

func snapshot(op string, t *device.Tensor, root int, redOp ccl.ReduceOp) *contribution {
	return &contribution{
		op:    op,
		data:  append([]float64(nil), t.Data()...),
		dtype: t.DType(),
		numel: t.Numel(),
		root:  root,
		redOp: redOp,
	}
}

// reduceInto stores in out[i] the reduction of element offset+i over all inputs
func reduceInto(out *device.Tensor, inputs []*contribution, op ccl.ReduceOp, offset, n int) {
	for i := 0; i < n; i++ {
		acc := op.Identity()
		for _, in := range inputs {
			acc = op.Combine(acc, in.data[offset+i])
		}
		out.Set(i, op.Finish(acc, len(inputs)))
	}
}
