package device

import (
	"context"
	"sync/atomic"
	"time"
)

var streamIDs atomic.Uint64

// Stream executes queued work for one device in FIFO order.
type Stream struct {
	device  int
	id      uint64
	queue   *taskQueue[func()]
	stopped chan struct{}
}

// NewStream creates a stream for the given device and starts its executor.
func NewStream(device int) *Stream {
	s := &Stream{
		device:  device,
		id:      streamIDs.Add(1),
		queue:   newTaskQueue[func()](),
		stopped: make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *Stream) run() {
	defer close(s.stopped)
	for task := range s.queue.recv() {
		(*task)()
	}
}

func (s *Stream) Device() int { return s.device }
func (s *Stream) ID() uint64  { return s.id }

// Pending returns the number of queued tasks that have not started yet
func (s *Stream) Pending() int { return s.queue.len() }

// Launch enqueues fn. It returns false if the stream is closed, in which
// case fn never runs.
func (s *Stream) Launch(fn func()) bool {
	return s.queue.push(&fn)
}

// Record enqueues an event. On a closed stream the returned event is
// already complete since nothing is left to wait for.
func (s *Stream) Record() *Event {
	ev := NewEvent()
	if !s.Launch(ev.Complete) {
		<-s.stopped
		ev.Complete()
	}
	return ev
}

// WaitEvent makes all work queued after this call wait until ev completes.
// The host does not block.
func (s *Stream) WaitEvent(ev *Event) {
	s.Launch(func() { <-ev.Done() })
}

// WaitStream orders s after everything currently queued on other
func (s *Stream) WaitStream(other *Stream) {
	if other == s {
		return
	}
	s.WaitEvent(other.Record())
}

// Sleep keeps the stream busy for d
func (s *Stream) Sleep(d time.Duration) {
	s.Launch(func() { time.Sleep(d) })
}

// Synchronize blocks until all currently queued work has run or ctx is done.
func (s *Stream) Synchronize(ctx context.Context) error {
	return s.Record().Wait(ctx)
}

// Close stops accepting work. Queued work still runs.
func (s *Stream) Close() {
	s.queue.close()
}
