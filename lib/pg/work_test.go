package pg

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ValentinKolb/dCCL/lib/ccl/loopback"
	"github.com/ValentinKolb/dCCL/lib/device"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// allReduceOn issues a one element all-reduce on a single device
func allReduceOn(g *ProcessGroup, dev int, copts CollectiveOptions) (*Work, error) {
	t := device.NewTensor(dev, device.Float32, 1).Fill(1)
	return g.AllReduce([]*device.Tensor{t}, AllReduceOptions{CollectiveOptions: copts})
}

// warmUp creates the communicator for dev on every rank
func warmUp(t *testing.T, groups []*ProcessGroup, dev int) {
	forEachRank(t, len(groups), func(rank int) error {
		w, err := allReduceOn(groups[rank], dev, CollectiveOptions{})
		if err != nil {
			return err
		}
		return w.Wait(0)
	})
}

func TestWorkResultBeforeCompletion(t *testing.T) {
	env := newTestEnv(1)
	groups := env.newGroups(t, 1, nil)

	streams := env.callerStreams(t, 300*time.Millisecond)
	work, err := allReduceOn(groups[0], 0, CollectiveOptions{Streams: streams})
	require.NoError(t, err)

	assert.False(t, work.IsCompleted())
	assert.Equal(t, WorkPending, work.State())
	_, err = work.Result()
	assert.ErrorIs(t, err, ErrInvalidState)

	require.NoError(t, work.Wait(0))
	assert.True(t, work.IsSuccess())
	out, err := work.Result()
	require.NoError(t, err)
	assert.Equal(t, float64(1), out[0].At(0))
}

func TestWorkSynchronize(t *testing.T) {
	env := newTestEnv(1)
	groups := env.newGroups(t, 1, nil)

	streams := env.callerStreams(t, 100*time.Millisecond)
	input := device.NewTensor(0, device.Float32, 1)
	streams[0].Launch(func() { input.Fill(5) })

	work, err := groups[0].AllReduce([]*device.Tensor{input}, AllReduceOptions{CollectiveOptions: CollectiveOptions{Streams: streams}})
	require.NoError(t, err)

	consumer := device.NewStream(0)
	defer consumer.Close()
	work.Synchronize(consumer)
	var seen atomic.Value
	consumer.Launch(func() { seen.Store(input.At(0)) })

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	require.NoError(t, consumer.Synchronize(ctx))
	assert.Equal(t, float64(5), seen.Load())
	assert.True(t, work.IsSuccess())
}

func TestWaitTimeoutBlockingWait(t *testing.T) {
	env := newTestEnv(1)
	groups := env.newGroups(t, 2, func(_ int, opts *Options) { opts.BlockingWait = true })
	warmUp(t, groups, 0)

	// rank 1 never joins
	work, err := allReduceOn(groups[0], 0, CollectiveOptions{})
	require.NoError(t, err)

	start := time.Now()
	err = work.Wait(50 * time.Millisecond)
	assert.Less(t, time.Since(start), time.Second)
	require.ErrorIs(t, err, ErrOperationTimeout)
	assert.True(t, IsTimeout(err))
	assert.True(t, work.IsCompleted())
	assert.False(t, work.IsSuccess())

	_, err = work.Result()
	assert.ErrorIs(t, err, ErrInvalidState)

	_, ok := groups[0].pool.lookup(groups[0].keyFor([]int{0}))
	assert.False(t, ok, "communicator must be aborted in blocking wait mode")
}

func TestWaitTimeoutKeepsCommunicator(t *testing.T) {
	env := newTestEnv(1)
	groups := env.newGroups(t, 2, nil)
	warmUp(t, groups, 0)

	work, err := allReduceOn(groups[0], 0, CollectiveOptions{})
	require.NoError(t, err)
	require.ErrorIs(t, work.Wait(20*time.Millisecond), ErrOperationTimeout)

	_, ok := groups[0].pool.lookup(groups[0].keyFor([]int{0}))
	assert.True(t, ok)
}

func TestWatchdogAbortsAfterWaitTimeout(t *testing.T) {
	env := newTestEnv(1)
	groups := env.newGroups(t, 2, func(_ int, opts *Options) { opts.Timeout = 300 * time.Millisecond })
	warmUp(t, groups, 0)
	key := groups[0].keyFor([]int{0})

	// rank 1 never joins, the allreduce stays queued after Wait gave up
	work, err := allReduceOn(groups[0], 0, CollectiveOptions{})
	require.NoError(t, err)
	require.ErrorIs(t, work.Wait(20*time.Millisecond), ErrOperationTimeout)

	comm, ok := groups[0].pool.lookup(key)
	require.True(t, ok, "communicator must survive until the group timeout")
	assert.False(t, comm.IsAborted())

	require.Eventually(t, comm.IsAborted, 5*time.Second, 10*time.Millisecond)
	assert.Contains(t, comm.AbortReason().Error(), "Watchdog caught collective operation timeout")
	_, ok = groups[0].pool.lookup(key)
	assert.False(t, ok)
	assert.Eventually(t, func() bool { return groups[0].OutstandingWorks() == 0 }, 5*time.Second, 10*time.Millisecond)

	// the work keeps the error Wait reported
	assert.Contains(t, work.Exception().Error(), "in wait")
}

func TestWatchdogAbortsTimedOutWork(t *testing.T) {
	env := newTestEnv(2)
	groups := env.newGroups(t, 2, nil)
	warmUp(t, groups, 0)

	work, err := allReduceOn(groups[0], 0, CollectiveOptions{Timeout: 100 * time.Millisecond})
	require.NoError(t, err)

	require.Eventually(t, work.IsCompleted, 5*time.Second, 10*time.Millisecond)
	err = work.Exception()
	require.ErrorIs(t, err, ErrOperationTimeout)
	assert.Contains(t, err.Error(), "Watchdog caught collective operation timeout")
	assert.Contains(t, err.Error(), "OpType=allreduce")
	assert.Contains(t, err.Error(), "Timeout(ms)=100")

	_, ok := groups[0].pool.lookup(groups[0].keyFor([]int{0}))
	assert.False(t, ok)
	assert.Eventually(t, func() bool { return groups[0].OutstandingWorks() == 0 }, 5*time.Second, 10*time.Millisecond)

	// communicators of other device sets stay usable
	warmUp(t, groups, 1)
}

func TestAsyncErrorEvictsCommunicator(t *testing.T) {
	var failing atomic.Bool
	env := newTestEnv(1, loopback.WithFaultHook(func(op loopback.OpInfo) error {
		if failing.Load() && op.Rank == 1 && op.Op == "allreduce" {
			return errors.New("injected fault")
		}
		return nil
	}))
	groups := env.newGroups(t, 2, nil)
	warmUp(t, groups, 0)

	failing.Store(true)
	errs := make([]error, 2)
	forEachRank(t, 2, func(rank int) error {
		w, err := allReduceOn(groups[rank], 0, CollectiveOptions{})
		if err != nil {
			return err
		}
		errs[rank] = w.Wait(0)
		return nil
	})

	require.ErrorIs(t, errs[1], ErrOperation)
	assert.Contains(t, errs[1].Error(), "injected fault")
	assert.Eventually(t, func() bool {
		_, ok := groups[1].pool.lookup(groups[1].keyFor([]int{0}))
		return !ok
	}, 5*time.Second, 10*time.Millisecond)
}

func TestHostStepErrorFailsWork(t *testing.T) {
	env := newTestEnv(1)
	groups := env.newGroups(t, 1, nil)
	warmUp(t, groups, 0)
	key := groups[0].keyFor([]int{0})
	comm, ok := groups[0].pool.lookup(key)
	require.True(t, ok)

	release := make(chan struct{})
	require.NoError(t, comm.launchHost(0, func() error {
		<-release
		return errors.New("copy failed")
	}))
	work, err := allReduceOn(groups[0], 0, CollectiveOptions{})
	require.NoError(t, err)
	close(release)
	err = work.Wait(0)
	require.ErrorIs(t, err, ErrOperation)
	assert.Contains(t, err.Error(), "copy failed")

	require.Eventually(t, comm.IsAborted, 5*time.Second, 10*time.Millisecond)
	_, ok = groups[0].pool.lookup(key)
	assert.False(t, ok)

	// closed streams reject host steps
	assert.Error(t, comm.launchHost(0, func() error { return nil }))
}

func TestAbortFailsOutstandingWork(t *testing.T) {
	env := newTestEnv(1)
	groups := env.newGroups(t, 2, nil)
	warmUp(t, groups, 0)

	work, err := allReduceOn(groups[0], 0, CollectiveOptions{})
	require.NoError(t, err)
	groups[0].Abort()

	err = work.Wait(0)
	require.Error(t, err)
	assert.False(t, IsTimeout(err))

	_, err = allReduceOn(groups[0], 0, CollectiveOptions{})
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestShutdownRejectsCollectives(t *testing.T) {
	env := newTestEnv(1)
	groups := env.newGroups(t, 1, nil)
	warmUp(t, groups, 0)

	groups[0].Shutdown()
	groups[0].Shutdown()

	_, err := allReduceOn(groups[0], 0, CollectiveOptions{})
	assert.ErrorIs(t, err, ErrInvalidState)
	assert.ErrorIs(t, groups[0].SetSequenceNumberForGroup(), ErrInvalidState)
	assert.Empty(t, groups[0].pool.all())
}
