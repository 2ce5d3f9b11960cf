package pg

import (
	"testing"
	"time"

	"github.com/ValentinKolb/dCCL/lib/ccl"
	"github.com/ValentinKolb/dCCL/lib/device"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testSize    = 2
	testDevices = 2
)

func TestAllReduce(t *testing.T) {
	env := newTestEnv(testDevices)
	groups := env.newGroups(t, testSize, nil)
	participants := testSize * testDevices

	forEachRank(t, testSize, func(rank int) error {
		// the fill is queued behind a sleep, the collective has to wait for it
		streams := env.callerStreams(t, 50*time.Millisecond)
		tensors := env.tensors(func(int) float64 { return -1 }, 3, 3)
		for i, s := range streams {
			s.Launch(func() { tensors[i].Fill(float64(rank*testDevices + i)) })
		}

		work, err := groups[rank].AllReduce(tensors, AllReduceOptions{CollectiveOptions: CollectiveOptions{Streams: streams}})
		if err != nil {
			return err
		}
		if err := work.Wait(0); err != nil {
			return err
		}

		want := float64(participants * (participants - 1) / 2)
		outputs, err := work.Result()
		if err != nil {
			return err
		}
		for _, out := range outputs {
			for k := 0; k < out.Numel(); k++ {
				assert.Equal(t, want, out.At(k))
			}
		}
		return nil
	})
}

func TestBroadcast(t *testing.T) {
	env := newTestEnv(testDevices)
	groups := env.newGroups(t, testSize, nil)

	for rootRank := 0; rootRank < testSize; rootRank++ {
		for rootTensor := 0; rootTensor < testDevices; rootTensor++ {
			forEachRank(t, testSize, func(rank int) error {
				tensors := env.tensors(func(i int) float64 { return float64(rank*testDevices + i) }, 4)
				work, err := groups[rank].Broadcast(tensors, BroadcastOptions{RootRank: rootRank, RootTensor: rootTensor})
				if err != nil {
					return err
				}
				if err := work.Wait(0); err != nil {
					return err
				}
				for _, out := range tensors {
					assert.Equal(t, float64(rootRank*testDevices+rootTensor), out.At(3))
				}
				return nil
			})
		}
	}
}

func TestReduce(t *testing.T) {
	env := newTestEnv(testDevices)
	groups := env.newGroups(t, testSize, nil)
	participants := testSize * testDevices

	for rootRank := 0; rootRank < testSize; rootRank++ {
		for rootTensor := 0; rootTensor < testDevices; rootTensor++ {
			forEachRank(t, testSize, func(rank int) error {
				tensors := env.tensors(func(i int) float64 { return float64(rank*testDevices + i) }, 2)
				work, err := groups[rank].Reduce(tensors, ReduceOptions{RootRank: rootRank, RootTensor: rootTensor})
				if err != nil {
					return err
				}
				if err := work.Wait(0); err != nil {
					return err
				}
				if rank == rootRank {
					assert.Equal(t, float64(participants*(participants-1)/2), tensors[rootTensor].At(0))
				}
				return nil
			})
		}
	}
}

func TestAllGather(t *testing.T) {
	env := newTestEnv(testDevices)
	groups := env.newGroups(t, testSize, nil)
	participants := testSize * testDevices

	forEachRank(t, testSize, func(rank int) error {
		inputs := env.tensors(func(i int) float64 { return float64(rank*testDevices + i) }, 2, 2)
		outputs := make([][]*device.Tensor, testDevices)
		for i := range outputs {
			for j := 0; j < participants; j++ {
				outputs[i] = append(outputs[i], device.NewTensor(i, device.Float32, 2, 2))
			}
		}

		work, err := groups[rank].AllGather(outputs, inputs, AllGatherOptions{})
		if err != nil {
			return err
		}
		if err := work.Wait(0); err != nil {
			return err
		}
		for i := range outputs {
			for j, out := range outputs[i] {
				assert.Equal(t, float64(j), out.At(3), "device %d output %d", i, j)
			}
		}
		return nil
	})
}

func TestAllGatherBase(t *testing.T) {
	env := newTestEnv(testDevices)
	groups := env.newGroups(t, testSize, nil)
	const numel = 6

	forEachRank(t, testSize, func(rank int) error {
		input := device.NewTensor(0, device.Float32, numel).Fill(float64(rank * testDevices))
		output := device.NewTensor(0, device.Float32, testSize*numel)

		work, err := groups[rank].AllGatherBase(output, input, AllGatherOptions{})
		if err != nil {
			return err
		}
		if err := work.Wait(0); err != nil {
			return err
		}
		for k := 0; k < output.Numel(); k++ {
			assert.Equal(t, float64((k/numel)*testDevices), output.At(k))
		}
		return nil
	})
}

func TestReduceScatter(t *testing.T) {
	env := newTestEnv(testDevices)
	groups := env.newGroups(t, testSize, nil)
	participants := testSize * testDevices

	forEachRank(t, testSize, func(rank int) error {
		outputs := env.tensors(func(int) float64 { return -1 }, 3)
		inputs := make([][]*device.Tensor, testDevices)
		for i := range inputs {
			p := rank*testDevices + i
			for j := 0; j < participants; j++ {
				inputs[i] = append(inputs[i], device.NewTensor(i, device.Float32, 3).Fill(float64(p*participants+j)))
			}
		}

		work, err := groups[rank].ReduceScatter(outputs, inputs, ReduceScatterOptions{})
		if err != nil {
			return err
		}
		if err := work.Wait(0); err != nil {
			return err
		}
		for i, out := range outputs {
			p := rank*testDevices + i
			want := float64(participants*participants*(participants-1)/2 + participants*p)
			assert.Equal(t, want, out.At(2), "device %d", i)
		}
		return nil
	})
}

func TestReduceScatterBase(t *testing.T) {
	env := newTestEnv(testDevices)
	groups := env.newGroups(t, testSize, nil)
	const numel = 4

	forEachRank(t, testSize, func(rank int) error {
		input := device.NewTensor(0, device.Float32, testSize*numel)
		for k := 0; k < input.Numel(); k++ {
			input.Set(k, float64(rank+k/numel))
		}
		output := device.NewTensor(0, device.Float32, numel)

		work, err := groups[rank].ReduceScatterBase(output, input, ReduceScatterOptions{})
		if err != nil {
			return err
		}
		if err := work.Wait(0); err != nil {
			return err
		}
		want := float64(testSize*(testSize-1)/2 + testSize*rank)
		for k := 0; k < numel; k++ {
			assert.Equal(t, want, output.At(k))
		}
		return nil
	})
}

func TestReduceOps(t *testing.T) {
	env := newTestEnv(1)
	groups := env.newGroups(t, 3, nil)

	for op, want := range map[ccl.ReduceOp]float64{ccl.Sum: 6, ccl.Product: 6, ccl.Min: 1, ccl.Max: 3, ccl.Avg: 2} {
		forEachRank(t, 3, func(rank int) error {
			tensors := env.tensors(func(int) float64 { return float64(rank + 1) }, 1)
			work, err := groups[rank].AllReduce(tensors, AllReduceOptions{ReduceOp: op})
			if err != nil {
				return err
			}
			if err := work.Wait(0); err != nil {
				return err
			}
			assert.Equal(t, want, tensors[0].At(0), op.String())
			return nil
		})
	}
}

func TestBarrier(t *testing.T) {
	env := newTestEnv(testDevices)
	groups := env.newGroups(t, testSize, nil)

	forEachRank(t, testSize, func(rank int) error {
		work, err := groups[rank].Barrier(BarrierOptions{})
		if err != nil {
			return err
		}
		return work.Wait(0)
	})
}

func TestCollectiveValidation(t *testing.T) {
	env := newTestEnv(testDevices)
	opts := env.options()
	group, err := NewProcessGroup(env.store, 0, testSize, opts)
	require.NoError(t, err)
	defer group.Shutdown()

	f32 := func(dev int, shape ...int) *device.Tensor { return device.NewTensor(dev, device.Float32, shape...) }

	tests := []struct {
		name string
		call func() error
		code ErrCode
	}{
		{"empty tensor list", func() error {
			_, err := group.AllReduce(nil, AllReduceOptions{})
			return err
		}, ErrCInvalidArgument},
		{"mixed dtypes", func() error {
			_, err := group.AllReduce([]*device.Tensor{f32(0, 2), device.NewTensor(1, device.Float64, 2)}, AllReduceOptions{})
			return err
		}, ErrCInvalidArgument},
		{"mixed shapes", func() error {
			_, err := group.AllReduce([]*device.Tensor{f32(0, 2), f32(1, 3)}, AllReduceOptions{})
			return err
		}, ErrCInvalidArgument},
		{"same device twice", func() error {
			_, err := group.AllReduce([]*device.Tensor{f32(0, 2), f32(0, 2)}, AllReduceOptions{})
			return err
		}, ErrCInvalidArgument},
		{"unknown device", func() error {
			_, err := group.AllReduce([]*device.Tensor{f32(testDevices, 2)}, AllReduceOptions{})
			return err
		}, ErrCInvalidArgument},
		{"root rank out of range", func() error {
			_, err := group.Broadcast([]*device.Tensor{f32(0, 2)}, BroadcastOptions{RootRank: testSize})
			return err
		}, ErrCInvalidArgument},
		{"root tensor out of range", func() error {
			_, err := group.Reduce([]*device.Tensor{f32(0, 2)}, ReduceOptions{RootTensor: 1})
			return err
		}, ErrCInvalidArgument},
		{"allgather output count", func() error {
			_, err := group.AllGather([][]*device.Tensor{{f32(0, 2)}}, []*device.Tensor{f32(0, 2)}, AllGatherOptions{})
			return err
		}, ErrCInvalidArgument},
		{"allgather base output size", func() error {
			_, err := group.AllGatherBase(f32(0, 3), f32(0, 2), AllGatherOptions{})
			return err
		}, ErrCInvalidArgument},
		{"reduce scatter base input size", func() error {
			_, err := group.ReduceScatterBase(f32(0, 2), f32(0, 2), ReduceScatterOptions{})
			return err
		}, ErrCInvalidArgument},
		{"barrier device", func() error {
			_, err := group.Barrier(BarrierOptions{Devices: []int{-1}})
			return err
		}, ErrCConfig},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start := time.Now()
			err := tt.call()
			require.Error(t, err)
			assert.Equal(t, tt.code, CodeOf(err))
			assert.Less(t, time.Since(start), time.Second)
		})
	}
	assert.Zero(t, group.SequenceNumberForGroup())
}

func TestSequenceNumberCountsCollectives(t *testing.T) {
	env := newTestEnv(1)
	groups := env.newGroups(t, 1, nil)
	group := groups[0]

	for i := 1; i <= 3; i++ {
		work, err := group.AllReduce(env.tensors(func(int) float64 { return 1 }, 1), AllReduceOptions{})
		require.NoError(t, err)
		require.NoError(t, work.Wait(0))
		assert.Equal(t, uint64(i), work.SequenceNumber())
		assert.Equal(t, uint64(i), group.SequenceNumberForGroup())
		assert.Equal(t, OpAllReduce, work.OpType())
	}
}
