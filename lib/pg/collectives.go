package pg

import (
	"context"
	"time"

	"github.com/ValentinKolb/dCCL/lib/ccl"
	"github.com/ValentinKolb/dCCL/lib/device"
)

// --------------------------------------------------------------------------
// Options
// --------------------------------------------------------------------------

// CollectiveOptions are accepted by every collective
type CollectiveOptions struct {
	// Streams whose queued work has to finish before the collective reads
	// its inputs. Streams of devices the collective does not use are ignored.
	Streams []*device.Stream

	// Timeout overrides the group timeout for this collective
	Timeout time.Duration
}

type AllReduceOptions struct {
	CollectiveOptions
	ReduceOp ccl.ReduceOp
}

type BroadcastOptions struct {
	CollectiveOptions
	RootRank   int
	RootTensor int
}

type ReduceOptions struct {
	CollectiveOptions
	ReduceOp   ccl.ReduceOp
	RootRank   int
	RootTensor int
}

type AllGatherOptions struct {
	CollectiveOptions
}

type ReduceScatterOptions struct {
	CollectiveOptions
	ReduceOp ccl.ReduceOp
}

type BarrierOptions struct {
	CollectiveOptions
	// Devices defaults to all devices of the library
	Devices []int
}

// launchFunc enqueues the part of a collective that runs on device i of c
type launchFunc func(i int, c *Communicator) error

// collective resolves the communicator for devices, launches the operation
// on every device and returns a work that completes with all devices.
func (pg *ProcessGroup) collective(op OpType, devices []int, copts CollectiveOptions, outputs []*device.Tensor, launch launchFunc) (*Work, error) {
	if err := pg.checkOpen(); err != nil {
		return nil, err
	}
	timeout := pg.opTimeout(copts.Timeout)
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	comm, err := pg.getComm(ctx, devices)
	if err != nil {
		return nil, err
	}

	comm.launchMu.Lock()
	defer comm.launchMu.Unlock()

	seq := pg.seq.Add(1)
	syncStreams(comm, copts.Streams)
	for i := range devices {
		if err := launch(i, comm); err != nil {
			e := newError(ErrCOperation, err, "%s seq %d: launch on device %d failed", op, seq, devices[i])
			// peers may already run the devices launched before
			pg.abortCommunicator(comm, e)
			return nil, e
		}
	}

	events := make([]*device.Event, len(devices))
	for i, s := range comm.streams {
		events[i] = s.Record()
	}
	w := pg.newWork(op, seq, comm, events, timeout)
	w.outputs = outputs
	pg.watchdog.track(w)
	return w, nil
}

// syncStreams orders the communicator streams after the caller streams
func syncStreams(comm *Communicator, callerStreams []*device.Stream) {
	for _, s := range comm.streams {
		for _, cs := range callerStreams {
			if cs != nil && cs.Device() == s.Device() {
				s.WaitStream(cs)
			}
		}
	}
}

// --------------------------------------------------------------------------
// Collectives
// --------------------------------------------------------------------------

// AllReduce reduces the tensors of all devices of all ranks in place.
func (pg *ProcessGroup) AllReduce(tensors []*device.Tensor, opts AllReduceOptions) (*Work, error) {
	devices, err := pg.checkTensors(tensors)
	if err != nil {
		return nil, err
	}
	return pg.collective(OpAllReduce, devices, opts.CollectiveOptions, tensors, func(i int, c *Communicator) error {
		return c.comms[i].AllReduce(tensors[i], tensors[i], opts.ReduceOp, c.streams[i])
	})
}

// Broadcast copies tensor RootTensor of rank RootRank into all tensors.
func (pg *ProcessGroup) Broadcast(tensors []*device.Tensor, opts BroadcastOptions) (*Work, error) {
	devices, err := pg.checkTensors(tensors)
	if err != nil {
		return nil, err
	}
	if err := pg.checkRoot(opts.RootRank, opts.RootTensor, len(tensors)); err != nil {
		return nil, err
	}
	root := opts.RootRank*len(tensors) + opts.RootTensor
	return pg.collective(OpBroadcast, devices, opts.CollectiveOptions, tensors, func(i int, c *Communicator) error {
		return c.comms[i].Broadcast(tensors[i], tensors[i], root, c.streams[i])
	})
}

// Reduce stores the reduction of all tensors in tensor RootTensor of rank
// RootRank. The other tensors hold unspecified values afterwards.
func (pg *ProcessGroup) Reduce(tensors []*device.Tensor, opts ReduceOptions) (*Work, error) {
	devices, err := pg.checkTensors(tensors)
	if err != nil {
		return nil, err
	}
	if err := pg.checkRoot(opts.RootRank, opts.RootTensor, len(tensors)); err != nil {
		return nil, err
	}
	root := opts.RootRank*len(tensors) + opts.RootTensor
	return pg.collective(OpReduce, devices, opts.CollectiveOptions, tensors, func(i int, c *Communicator) error {
		return c.comms[i].Reduce(tensors[i], tensors[i], opts.ReduceOp, root, c.streams[i])
	})
}

// AllGather gathers the input of every participant into outputs. outputs[i]
// holds one tensor per participant for device i, ordered by rank and device.
func (pg *ProcessGroup) AllGather(outputs [][]*device.Tensor, inputs []*device.Tensor, opts AllGatherOptions) (*Work, error) {
	devices, err := pg.checkTensors(inputs)
	if err != nil {
		return nil, err
	}
	if err := pg.checkOutputs("output", outputs, inputs); err != nil {
		return nil, err
	}

	flat := make([]*device.Tensor, len(inputs))
	var all []*device.Tensor
	for i, in := range inputs {
		flat[i] = device.NewTensor(in.Device(), in.DType(), len(outputs[i])*in.Numel())
		all = append(all, outputs[i]...)
	}
	return pg.collective(OpAllGather, devices, opts.CollectiveOptions, all, func(i int, c *Communicator) error {
		comm, stream := c.comms[i], c.streams[i]
		if err := comm.AllGather(inputs[i], flat[i], stream); err != nil {
			return err
		}
		numel := inputs[i].Numel()
		return c.launchHost(i, func() error {
			for j, out := range outputs[i] {
				block, err := flat[i].View(j*numel, numel)
				if err != nil {
					return err
				}
				if err := out.CopyFrom(block); err != nil {
					return err
				}
			}
			return nil
		})
	})
}

// AllGatherBase gathers input of every rank into output, ordered by rank.
// Every rank contributes exactly one tensor.
func (pg *ProcessGroup) AllGatherBase(output, input *device.Tensor, opts AllGatherOptions) (*Work, error) {
	if err := pg.checkBase(output, input, "output tensor", "input tensor"); err != nil {
		return nil, err
	}
	return pg.collective(OpAllGatherBase, []int{input.Device()}, opts.CollectiveOptions, []*device.Tensor{output}, func(_ int, c *Communicator) error {
		return c.comms[0].AllGather(input, output, c.streams[0])
	})
}

// ReduceScatter reduces inputs[i][p] over all ranks into the output of
// participant p. inputs[i] holds one tensor per participant for device i.
func (pg *ProcessGroup) ReduceScatter(outputs []*device.Tensor, inputs [][]*device.Tensor, opts ReduceScatterOptions) (*Work, error) {
	devices, err := pg.checkTensors(outputs)
	if err != nil {
		return nil, err
	}
	if err := pg.checkOutputs("input", inputs, outputs); err != nil {
		return nil, err
	}

	flat := make([]*device.Tensor, len(outputs))
	for i, out := range outputs {
		flat[i] = device.NewTensor(out.Device(), out.DType(), len(inputs[i])*out.Numel())
	}
	return pg.collective(OpReduceScatter, devices, opts.CollectiveOptions, outputs, func(i int, c *Communicator) error {
		comm, stream := c.comms[i], c.streams[i]
		numel := outputs[i].Numel()
		err := c.launchHost(i, func() error {
			for j, in := range inputs[i] {
				block, err := flat[i].View(j*numel, numel)
				if err != nil {
					return err
				}
				if err := block.CopyFrom(in); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
		return comm.ReduceScatter(flat[i], outputs[i], opts.ReduceOp, stream)
	})
}

// ReduceScatterBase reduces input over all ranks and stores block Rank() of
// the result in output. Every rank contributes exactly one tensor.
func (pg *ProcessGroup) ReduceScatterBase(output, input *device.Tensor, opts ReduceScatterOptions) (*Work, error) {
	if err := pg.checkBase(input, output, "input tensor", "output tensor"); err != nil {
		return nil, err
	}
	return pg.collective(OpReduceScatterBase, []int{input.Device()}, opts.CollectiveOptions, []*device.Tensor{output}, func(_ int, c *Communicator) error {
		return c.comms[0].ReduceScatter(input, output, opts.ReduceOp, c.streams[0])
	})
}

// Barrier returns a work that completes once every rank reached the barrier.
func (pg *ProcessGroup) Barrier(opts BarrierOptions) (*Work, error) {
	devices := opts.Devices
	if len(devices) == 0 {
		devices = make([]int, pg.opts.Library.DeviceCount())
		for i := range devices {
			devices[i] = i
		}
	}
	if err := pg.checkDevices(devices); err != nil {
		return nil, err
	}
	tensors := make([]*device.Tensor, len(devices))
	for i, d := range devices {
		tensors[i] = device.NewTensor(d, device.Float32, 1)
	}
	return pg.collective(OpBarrier, devices, opts.CollectiveOptions, nil, func(i int, c *Communicator) error {
		return c.comms[i].AllReduce(tensors[i], tensors[i], ccl.Sum, c.streams[i])
	})
}
