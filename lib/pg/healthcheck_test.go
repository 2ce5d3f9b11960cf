package pg

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthCheckSucceeds(t *testing.T) {
	env := newTestEnv(testDevices)
	groups := env.newGroups(t, testSize, func(_ int, opts *Options) { opts.EnableHealthCheck = true })

	// the health check communicator is not kept
	for _, g := range groups {
		assert.Empty(t, g.pool.all())
	}
	warmUp(t, groups, 1)
}

func TestHealthCheckInvalidRank(t *testing.T) {
	env := newTestEnv(testDevices)
	opts := env.options()
	opts.EnableHealthCheck = true
	opts.Timeout = 3 * time.Second

	start := time.Now()
	_, err := NewProcessGroup(env.store, -1, 4, opts)
	require.ErrorIs(t, err, ErrConfig)
	assert.Contains(t, err.Error(), "Invalid rank -1")
	assert.False(t, IsTimeout(err))
	assert.Less(t, time.Since(start), time.Second)
}

func TestHealthCheckTimeout(t *testing.T) {
	env := newTestEnv(testDevices)
	const size = 4
	const timeout = 200 * time.Millisecond

	// every thread claims rank 0 and draws its own unique id, so no
	// communicator ever completes
	errs := make([]error, size)
	elapsed := make([]time.Duration, size)
	done := make(chan int, size)
	for i := 0; i < size; i++ {
		go func() {
			opts := env.options()
			opts.EnableHealthCheck = true
			opts.Timeout = timeout
			start := time.Now()
			_, errs[i] = NewProcessGroup(env.store, 0, size, opts)
			elapsed[i] = time.Since(start)
			done <- i
		}()
	}
	for i := 0; i < size; i++ {
		<-done
	}

	for i, err := range errs {
		require.Error(t, err, "thread %d", i)
		assert.ErrorIs(t, err, ErrCommInit)
		assert.Contains(t, err.Error(), "Failed to initialize communicator on rank 0")
		assert.True(t, IsTimeout(err))
		assert.GreaterOrEqual(t, elapsed[i], timeout)
		assert.Less(t, elapsed[i], 5*time.Second)
	}
}

func TestHealthCheckSkippedForSplit(t *testing.T) {
	env := newTestEnv(1)
	parents := env.newGroups(t, 1, nil)

	opts := env.options()
	opts.EnableHealthCheck = true
	opts.SplitFrom = parents[0]
	child, err := NewProcessGroup(nil, 0, 1, opts)
	require.NoError(t, err)
	defer child.Shutdown()
	assert.Zero(t, parents[0].CommSplitCounter())
}
