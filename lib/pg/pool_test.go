package pg

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolCreatesOncePerKey(t *testing.T) {
	pool := newCommPool()
	key := newCommKey([]int{0})
	var calls atomic.Int32

	create := func(context.Context) (*Communicator, error) {
		calls.Add(1)
		time.Sleep(20 * time.Millisecond)
		return newCommunicator(key, []int{0}, nil), nil
	}

	var wg sync.WaitGroup
	results := make([]*Communicator, 16)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c, err := pool.getOrCreate(context.Background(), key, create)
			assert.NoError(t, err)
			results[i] = c
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for _, c := range results {
		assert.Same(t, results[0], c)
	}
}

func TestPoolKeysAreIndependent(t *testing.T) {
	pool := newCommPool()
	a, b := newCommKey([]int{0}), newCommKey([]int{1})

	release := make(chan struct{})
	go func() {
		_, _ = pool.getOrCreate(context.Background(), a, func(context.Context) (*Communicator, error) {
			<-release
			return newCommunicator(a, []int{0}, nil), nil
		})
	}()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	c, err := pool.getOrCreate(ctx, b, func(context.Context) (*Communicator, error) {
		return newCommunicator(b, []int{1}, nil), nil
	})
	require.NoError(t, err)
	assert.Equal(t, b, c.key)
}

func TestPoolFailedCreateIsNotCached(t *testing.T) {
	pool := newCommPool()
	key := newCommKey([]int{0})

	_, err := pool.getOrCreate(context.Background(), key, func(context.Context) (*Communicator, error) {
		return nil, errors.New("boom")
	})
	require.ErrorIs(t, err, ErrCommInit)

	c, err := pool.getOrCreate(context.Background(), key, func(context.Context) (*Communicator, error) {
		return newCommunicator(key, []int{0}, nil), nil
	})
	require.NoError(t, err)
	assert.NotNil(t, c)
}

func TestPoolEvict(t *testing.T) {
	pool := newCommPool()
	key := newCommKey([]int{0})
	old, err := pool.getOrCreate(context.Background(), key, func(context.Context) (*Communicator, error) {
		return newCommunicator(key, []int{0}, nil), nil
	})
	require.NoError(t, err)

	old.abort(errors.New("gone"))
	_, ok := pool.lookup(key)
	assert.False(t, ok, "aborted communicators are not returned")

	fresh, err := pool.getOrCreate(context.Background(), key, func(context.Context) (*Communicator, error) {
		return newCommunicator(key, []int{0}, nil), nil
	})
	require.NoError(t, err)

	// evicting the stale communicator leaves its replacement alone
	assert.False(t, pool.evict(old))
	assert.True(t, pool.evict(fresh))
	assert.Empty(t, pool.all())
}

func TestCommKeyString(t *testing.T) {
	key := newCommKey([]int{0, 2})
	assert.Equal(t, "0,2", key.String())
	key.parent, key.color = "uid", 1
	assert.Equal(t, "0,2|parent=uid|color=1", key.String())
}
