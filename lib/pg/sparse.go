package pg

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/ValentinKolb/dCCL/lib/ccl"
	"github.com/ValentinKolb/dCCL/lib/device"
)

// AllReduceSparse sums row-sparse tensors over all devices of all ranks in
// place. The result holds the union of the row indices of all participants.
//
// The reduction runs in three exchanges: the row counts, the row indices
// padded to the dense row count, and the values aligned to the union of the
// indices. The host computes the union between the exchanges, so the work
// completes through host events rather than stream events.
func (pg *ProcessGroup) AllReduceSparse(tensors []*device.SparseTensor, opts AllReduceOptions) (*Work, error) {
	if opts.ReduceOp != ccl.Sum {
		return nil, newError(ErrCUnsupported, nil, "sparse allreduce supports only %s, got %s", ccl.Sum, opts.ReduceOp)
	}
	devices, err := pg.checkSparse(tensors)
	if err != nil {
		return nil, err
	}
	if err := pg.checkOpen(); err != nil {
		return nil, err
	}

	timeout := pg.opTimeout(opts.Timeout)
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	comm, err := pg.getComm(ctx, devices)
	if err != nil {
		cancel()
		return nil, err
	}

	// held until every exchange is launched, see runSparseAllReduce
	comm.launchMu.Lock()
	seq := pg.seq.Add(1)
	syncStreams(comm, opts.Streams)

	events := make([]*device.Event, len(devices))
	for i := range events {
		events[i] = device.NewEvent()
	}
	w := pg.newWork(OpAllReduceSparse, seq, comm, events, timeout)
	w.sparse = tensors
	pg.watchdog.track(w)

	go func() {
		defer cancel()
		pg.runSparseAllReduce(ctx, w, comm, tensors)
	}()
	return w, nil
}

func (pg *ProcessGroup) checkSparse(tensors []*device.SparseTensor) ([]int, error) {
	if len(tensors) == 0 {
		return nil, newError(ErrCInvalidArgument, nil, "tensor list must not be empty")
	}
	devices := make([]int, len(tensors))
	for i, t := range tensors {
		if t == nil {
			return nil, newError(ErrCInvalidArgument, nil, "tensor %d is nil", i)
		}
		if t.DType() != tensors[0].DType() {
			return nil, newError(ErrCInvalidArgument, nil, "tensors must have identical type, tensor %d is %s, tensor 0 is %s", i, t.DType(), tensors[0].DType())
		}
		if !sameShape(t.Shape(), tensors[0].Shape()) {
			return nil, newError(ErrCInvalidArgument, nil, "tensors must have identical size, tensor %d has shape %v, tensor 0 has %v", i, t.Shape(), tensors[0].Shape())
		}
		devices[i] = t.Device()
	}
	if err := pg.checkDevices(devices); err != nil {
		return nil, newError(ErrCInvalidArgument, err, "tensors must be on distinct valid devices")
	}
	return devices, nil
}

func sameShape(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// runSparseAllReduce runs the exchanges and completes w. It releases the
// launch lock of comm, which the caller acquired.
func (pg *ProcessGroup) runSparseAllReduce(ctx context.Context, w *Work, comm *Communicator, tensors []*device.SparseTensor) {
	unlock := sync.OnceFunc(comm.launchMu.Unlock)
	defer unlock()

	if err := sparseAllReduce(ctx, comm, tensors, unlock); err != nil {
		code := ErrCOperation
		if errors.Is(err, context.DeadlineExceeded) {
			code = ErrCOperationTimeout
		}
		e := newError(code, err, "%s failed", w)
		if w.finish(e) {
			// the exchanges of this rank are incomplete, peers would wait forever
			pg.abortCommunicator(comm, e)
		}
	}
	for _, ev := range w.events {
		ev.Complete()
	}
}

func sparseAllReduce(ctx context.Context, comm *Communicator, tensors []*device.SparseTensor, unlock func()) error {
	world := comm.Size()
	shape := tensors[0].Shape()
	rows, width, dtype := shape[0], tensors[0].RowWidth(), tensors[0].DType()

	// exchange row counts and padded row indices
	gCounts := make([]*device.Tensor, len(tensors))
	gIndices := make([]*device.Tensor, len(tensors))
	for i, t := range tensors {
		dev, stream, dc := t.Device(), comm.streams[i], comm.comms[i]
		counts := device.NewTensor(dev, device.Int64, 1)
		indices := device.NewTensor(dev, device.Int64, rows)
		gCounts[i] = device.NewTensor(dev, device.Int64, world)
		gIndices[i] = device.NewTensor(dev, device.Int64, world*rows)

		err := comm.launchHost(i, func() error {
			counts.Set(0, float64(t.NNZ()))
			indices.Fill(-1)
			for k, idx := range t.Indices() {
				indices.Set(k, float64(idx))
			}
			return nil
		})
		if err != nil {
			return err
		}
		if err := dc.AllGather(counts, gCounts[i], stream); err != nil {
			return err
		}
		if err := dc.AllGather(indices, gIndices[i], stream); err != nil {
			return err
		}
	}
	if err := waitStreams(ctx, comm); err != nil {
		return err
	}

	union, err := unionIndices(gCounts[0], gIndices[0], world, rows)
	if err != nil {
		return err
	}
	position := make(map[int64]int, len(union))
	for k, idx := range union {
		position[idx] = k
	}

	// sum the values aligned to the union
	values := make([]*device.Tensor, len(tensors))
	for i, t := range tensors {
		values[i] = device.NewTensor(t.Device(), dtype, len(union), width)
		err := comm.launchHost(i, func() error {
			src := t.Values().Data()
			dst := values[i].Data()
			for k, idx := range t.Indices() {
				copy(dst[position[idx]*width:(position[idx]+1)*width], src[k*width:(k+1)*width])
			}
			return nil
		})
		if err != nil {
			return err
		}
		if err := comm.comms[i].AllReduce(values[i], values[i], ccl.Sum, comm.streams[i]); err != nil {
			return err
		}
	}
	unlock()
	if err := waitStreams(ctx, comm); err != nil {
		return err
	}

	for i, t := range tensors {
		if err := t.Set(union, values[i]); err != nil {
			return err
		}
	}
	return nil
}

// unionIndices merges the gathered index blocks and checks them against the
// gathered counts
func unionIndices(counts, indices *device.Tensor, world, rows int) ([]int64, error) {
	seen := make(map[int64]bool)
	for p := 0; p < world; p++ {
		valid := 0
		for k := 0; k < rows; k++ {
			idx := int64(indices.At(p*rows + k))
			if idx < 0 {
				continue
			}
			valid++
			seen[idx] = true
		}
		if want := int(counts.At(p)); valid != want {
			return nil, newError(ErrCOperation, nil, "participant %d announced %d rows but sent %d indices", p, want, valid)
		}
	}

	union := make([]int64, 0, len(seen))
	for idx := range seen {
		union = append(union, idx)
	}
	sort.Slice(union, func(a, b int) bool { return union[a] < union[b] })
	return union, nil
}

// waitStreams blocks until everything queued on the streams of comm ran and
// reports asynchronous errors
func waitStreams(ctx context.Context, comm *Communicator) error {
	for _, s := range comm.streams {
		if err := s.Synchronize(ctx); err != nil {
			return err
		}
	}
	return comm.asyncError()
}
