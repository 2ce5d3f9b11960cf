package loopback

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ValentinKolb/dCCL/lib/ccl"
	"github.com/ValentinKolb/dCCL/lib/device"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// initComms creates one communicator per rank, all on device 0
func initComms(t *testing.T, lib *Library, n int) []ccl.IComm {
	t.Helper()
	id, err := lib.GetUniqueID()
	require.NoError(t, err)

	comms := make([]ccl.IComm, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for r := 0; r < n; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			comms[r], errs[r] = lib.InitComm(ctx, n, id, r, 0)
		}()
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}
	return comms
}

func newStreams(n int) []*device.Stream {
	streams := make([]*device.Stream, n)
	for i := range streams {
		streams[i] = device.NewStream(0)
	}
	return streams
}

func syncAll(t *testing.T, streams []*device.Stream) {
	t.Helper()
	for _, s := range streams {
		require.NoError(t, s.Synchronize(context.Background()))
	}
}

func TestInitCommValidation(t *testing.T) {
	lib := NewLibrary(WithDevices(2))
	id, err := lib.GetUniqueID()
	require.NoError(t, err)

	_, err = lib.InitComm(context.Background(), 4, id, -1, 0)
	assert.Equal(t, ccl.InvalidArgument, ccl.ResultOf(err))
	_, err = lib.InitComm(context.Background(), 4, id, 4, 0)
	assert.Equal(t, ccl.InvalidArgument, ccl.ResultOf(err))
	_, err = lib.InitComm(context.Background(), 4, id, 0, 2)
	assert.Equal(t, ccl.InvalidArgument, ccl.ResultOf(err))
	_, err = lib.InitComm(context.Background(), 0, id, 0, 0)
	assert.Equal(t, ccl.InvalidArgument, ccl.ResultOf(err))
}

func TestInitCommTimeout(t *testing.T) {
	lib := NewLibrary()
	id, err := lib.GetUniqueID()
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err = lib.InitComm(ctx, 2, id, 0, 0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
	assert.Equal(t, 0, lib.PendingCliques())
}

func TestInitCommDuplicateRank(t *testing.T) {
	lib := NewLibrary()
	id, err := lib.GetUniqueID()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = lib.InitComm(ctx, 2, id, 0, 0)
	}()

	require.Eventually(t, func() bool { return lib.PendingCliques() == 1 }, time.Second, time.Millisecond)
	_, err = lib.InitComm(context.Background(), 2, id, 0, 0)
	assert.Equal(t, ccl.InvalidUsage, ccl.ResultOf(err))
	cancel()
	<-done
}

func TestCollectives(t *testing.T) {
	const n = 4
	lib := NewLibrary()
	comms := initComms(t, lib, n)
	streams := newStreams(n)

	t.Run("allreduce", func(t *testing.T) {
		tensors := make([]*device.Tensor, n)
		for r := range tensors {
			tensors[r] = device.NewTensor(0, device.Float32, 3).Fill(float64(r))
			require.NoError(t, comms[r].AllReduce(tensors[r], tensors[r], ccl.Sum, streams[r]))
		}
		syncAll(t, streams)
		for _, x := range tensors {
			assert.Equal(t, []float64{6, 6, 6}, x.Data())
		}
	})

	t.Run("allreduce ops", func(t *testing.T) {
		for op, want := range map[ccl.ReduceOp]float64{ccl.Product: 24, ccl.Min: 1, ccl.Max: 4, ccl.Avg: 2.5} {
			tensors := make([]*device.Tensor, n)
			for r := range tensors {
				tensors[r] = device.NewTensor(0, device.Float64, 2).Fill(float64(r + 1))
				require.NoError(t, comms[r].AllReduce(tensors[r], tensors[r], op, streams[r]))
			}
			syncAll(t, streams)
			for _, x := range tensors {
				assert.Equal(t, want, x.At(0), op.String())
			}
		}
	})

	t.Run("broadcast", func(t *testing.T) {
		for root := 0; root < n; root++ {
			tensors := make([]*device.Tensor, n)
			for r := range tensors {
				tensors[r] = device.NewTensor(0, device.Float32, 2).Fill(float64(r * 10))
				require.NoError(t, comms[r].Broadcast(tensors[r], tensors[r], root, streams[r]))
			}
			syncAll(t, streams)
			for _, x := range tensors {
				assert.Equal(t, float64(root*10), x.At(1))
			}
		}
	})

	t.Run("reduce", func(t *testing.T) {
		tensors := make([]*device.Tensor, n)
		for r := range tensors {
			tensors[r] = device.NewTensor(0, device.Float32, 1).Fill(float64(r))
			require.NoError(t, comms[r].Reduce(tensors[r], tensors[r], ccl.Sum, 2, streams[r]))
		}
		syncAll(t, streams)
		assert.Equal(t, 6.0, tensors[2].At(0))
		assert.Equal(t, 0.0, tensors[0].At(0))
	})

	t.Run("allgather", func(t *testing.T) {
		outs := make([]*device.Tensor, n)
		for r := range outs {
			in := device.NewTensor(0, device.Float32, 2).Fill(float64(r))
			outs[r] = device.NewTensor(0, device.Float32, 2*n)
			require.NoError(t, comms[r].AllGather(in, outs[r], streams[r]))
		}
		syncAll(t, streams)
		for _, out := range outs {
			assert.Equal(t, []float64{0, 0, 1, 1, 2, 2, 3, 3}, out.Data())
		}
	})

	t.Run("reducescatter", func(t *testing.T) {
		outs := make([]*device.Tensor, n)
		for r := range outs {
			in := device.NewTensor(0, device.Float32, n)
			for i := 0; i < n; i++ {
				in.Set(i, float64(r*n+i))
			}
			outs[r] = device.NewTensor(0, device.Float32, 1)
			require.NoError(t, comms[r].ReduceScatter(in, outs[r], ccl.Sum, streams[r]))
		}
		syncAll(t, streams)
		for r, out := range outs {
			// sum over q of q*n + r
			assert.Equal(t, float64(n*(n-1)/2*n+n*r), out.At(0))
		}
	})

	t.Run("argument errors", func(t *testing.T) {
		a := device.NewTensor(0, device.Float32, 2)
		b := device.NewTensor(0, device.Float32, 3)
		assert.Error(t, comms[0].AllReduce(a, b, ccl.Sum, streams[0]))
		assert.Error(t, comms[0].Broadcast(a, a, n, streams[0]))
		assert.Error(t, comms[0].AllGather(a, a, streams[0]))
		assert.Error(t, comms[0].AllReduce(device.NewTensor(1, device.Float32, 2), a, ccl.Sum, streams[0]))
		assert.Error(t, comms[0].AllReduce(a, a, ccl.Sum, nil))
	})
}

func TestMismatchedCallsFail(t *testing.T) {
	lib := NewLibrary()
	comms := initComms(t, lib, 2)
	streams := newStreams(2)

	x0 := device.NewTensor(0, device.Float32, 2)
	x1 := device.NewTensor(0, device.Float32, 3)
	require.NoError(t, comms[0].AllReduce(x0, x0, ccl.Sum, streams[0]))
	require.NoError(t, comms[1].AllReduce(x1, x1, ccl.Sum, streams[1]))
	syncAll(t, streams)

	for _, c := range comms {
		assert.Equal(t, ccl.InvalidUsage, ccl.ResultOf(c.GetAsyncError()))
	}
}

func TestFaultHook(t *testing.T) {
	boom := errors.New("injected")
	lib := NewLibrary(WithFaultHook(func(op OpInfo) error {
		if op.Rank == 1 && op.Op == "allreduce" {
			return boom
		}
		return nil
	}))
	comms := initComms(t, lib, 2)
	streams := newStreams(2)

	xs := []*device.Tensor{device.NewTensor(0, device.Float32, 1).Fill(1), device.NewTensor(0, device.Float32, 1).Fill(2)}
	for r := range comms {
		require.NoError(t, comms[r].AllReduce(xs[r], xs[r], ccl.Sum, streams[r]))
	}
	syncAll(t, streams)

	assert.NoError(t, comms[0].GetAsyncError())
	assert.Equal(t, 3.0, xs[0].At(0))
	assert.ErrorIs(t, comms[1].GetAsyncError(), boom)
	assert.Equal(t, 2.0, xs[1].At(0))
}

func TestAbortUnblocksPeers(t *testing.T) {
	lib := NewLibrary()
	comms := initComms(t, lib, 2)
	streams := newStreams(2)

	x := device.NewTensor(0, device.Float32, 1)
	require.NoError(t, comms[0].AllReduce(x, x, ccl.Sum, streams[0]))
	ev := streams[0].Record()
	assert.False(t, ev.Query())

	require.NoError(t, comms[1].Abort())
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, ev.Wait(ctx))
	assert.Equal(t, ccl.RemoteError, ccl.ResultOf(comms[0].GetAsyncError()))
	assert.Error(t, comms[1].AllReduce(x, x, ccl.Sum, streams[1]))
}

func TestSplit(t *testing.T) {
	const n = 4
	lib := NewLibrary()
	comms := initComms(t, lib, n)

	// ranks 0 and 2 form color 0 in reverse order, rank 1 color 1, rank 3 opts out
	colors := []int{0, 1, 0, ccl.SplitNoColor}
	keys := []int{5, 0, 1, 0}
	children := make([]ccl.IComm, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for r := 0; r < n; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			children[r], errs[r] = comms[r].Split(context.Background(), colors[r], keys[r])
		}()
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}

	require.Nil(t, children[3])
	assert.Equal(t, 2, children[0].Size())
	assert.Equal(t, 1, children[0].Rank())
	assert.Equal(t, 0, children[2].Rank())
	assert.Equal(t, 1, children[1].Size())

	streams := newStreams(2)
	a := device.NewTensor(0, device.Float32, 1).Fill(3)
	b := device.NewTensor(0, device.Float32, 1).Fill(4)
	require.NoError(t, children[0].AllReduce(a, a, ccl.Sum, streams[0]))
	require.NoError(t, children[2].AllReduce(b, b, ccl.Sum, streams[1]))
	syncAll(t, streams)
	assert.Equal(t, 7.0, a.At(0))
	assert.Equal(t, 7.0, b.At(0))
}

func TestSplitUnsupported(t *testing.T) {
	lib := NewLibrary(WithoutSplit())
	comms := initComms(t, lib, 1)
	assert.False(t, lib.SupportsSplit())
	_, err := comms[0].Split(context.Background(), 0, 0)
	assert.Equal(t, ccl.InvalidUsage, ccl.ResultOf(err))
}
