package pg

import (
	"sync"
	"testing"
	"time"

	"github.com/ValentinKolb/dCCL/lib/ccl/loopback"
	"github.com/ValentinKolb/dCCL/lib/device"
	"github.com/ValentinKolb/dCCL/lib/rendezvous"
	"github.com/ValentinKolb/dCCL/lib/rendezvous/memstore"
	"github.com/stretchr/testify/require"
)

const testTimeout = 10 * time.Second

// testEnv is the shared state of all ranks of one test
type testEnv struct {
	lib     *loopback.Library
	store   rendezvous.IStore
	devices int
}

func newTestEnv(devices int, opts ...loopback.Option) *testEnv {
	return &testEnv{
		lib:     loopback.NewLibrary(append([]loopback.Option{loopback.WithDevices(devices)}, opts...)...),
		store:   memstore.New(),
		devices: devices,
	}
}

func (e *testEnv) options() *Options {
	opts := DefaultOptions(e.lib)
	opts.Timeout = testTimeout
	opts.WatchdogInterval = 10 * time.Millisecond
	return opts
}

// forEachRank runs fn for every rank concurrently and fails on any error
func forEachRank(t *testing.T, size int, fn func(rank int) error) {
	t.Helper()
	errs := make([]error, size)
	var wg sync.WaitGroup
	for r := 0; r < size; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[r] = fn(r)
		}()
	}
	wg.Wait()
	for r, err := range errs {
		require.NoError(t, err, "rank %d", r)
	}
}

// newGroups creates a group on every rank, mod may adjust the options
func (e *testEnv) newGroups(t *testing.T, size int, mod func(rank int, opts *Options)) []*ProcessGroup {
	t.Helper()
	groups := make([]*ProcessGroup, size)
	forEachRank(t, size, func(rank int) error {
		opts := e.options()
		if mod != nil {
			mod(rank, opts)
		}
		g, err := NewProcessGroup(e.store, rank, size, opts)
		groups[rank] = g
		return err
	})
	t.Cleanup(func() {
		for _, g := range groups {
			if g != nil {
				g.Shutdown()
			}
		}
	})
	return groups
}

// tensors returns one tensor per device filled with fill(i)
func (e *testEnv) tensors(fill func(i int) float64, shape ...int) []*device.Tensor {
	out := make([]*device.Tensor, e.devices)
	for i := range out {
		out[i] = device.NewTensor(i, device.Float32, shape...).Fill(fill(i))
	}
	return out
}

// callerStreams returns one busy stream per device, closed at the end of the test
func (e *testEnv) callerStreams(t *testing.T, busy time.Duration) []*device.Stream {
	streams := make([]*device.Stream, e.devices)
	for i := range streams {
		streams[i] = device.NewStream(i)
		streams[i].Sleep(busy)
	}
	t.Cleanup(func() {
		for _, s := range streams {
			s.Close()
		}
	})
	return streams
}
