package device

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamRunsInOrder(t *testing.T) {
	s := NewStream(0)
	defer s.Close()

	var got []int
	for i := 0; i < 100; i++ {
		s.Launch(func() { got = append(got, i) })
	}
	require.NoError(t, s.Synchronize(context.Background()))

	require.Len(t, got, 100)
	for i, v := range got {
		assert.Equal(t, i, v)
	}
}

func TestEventQueryAfterSleep(t *testing.T) {
	s := NewStream(0)
	defer s.Close()

	s.Sleep(50 * time.Millisecond)
	ev := s.Record()
	assert.False(t, ev.Query())
	assert.True(t, ev.CompletedAt().IsZero())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, ev.Wait(ctx))
	assert.True(t, ev.Query())
	assert.False(t, ev.CompletedAt().IsZero())
}

func TestEventWaitTimeout(t *testing.T) {
	s := NewStream(0)
	defer s.Close()

	s.Sleep(200 * time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, s.Record().Wait(ctx), context.DeadlineExceeded)
}

func TestStreamWaitStream(t *testing.T) {
	producer := NewStream(0)
	consumer := NewStream(0)
	defer producer.Close()
	defer consumer.Close()

	x := NewTensor(0, Float32, 4)
	producer.Sleep(30 * time.Millisecond)
	producer.Launch(func() { x.Fill(7) })

	consumer.WaitStream(producer)
	var seen float64
	consumer.Launch(func() { seen = x.At(0) })
	require.NoError(t, consumer.Synchronize(context.Background()))
	assert.Equal(t, 7.0, seen)
}

func TestStreamConcurrentProducers(t *testing.T) {
	s := NewStream(0)
	defer s.Close()

	var mu sync.Mutex
	count := 0
	var wg sync.WaitGroup
	for p := 0; p < 8; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				s.Launch(func() {
					mu.Lock()
					count++
					mu.Unlock()
				})
			}
		}()
	}
	wg.Wait()
	require.NoError(t, s.Synchronize(context.Background()))
	assert.Equal(t, 4000, count)
}

func TestStreamClose(t *testing.T) {
	s := NewStream(2)
	ran := make(chan struct{})
	s.Launch(func() { close(ran) })
	s.Close()

	<-ran
	assert.False(t, s.Launch(func() {}))
	assert.True(t, s.Record().Query())
	assert.Equal(t, 2, s.Device())
}
