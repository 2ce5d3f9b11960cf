package device

import (
	"context"
	"sync"
	"time"
)

// Event marks a point in a stream. It completes once the stream has executed
// everything queued before it.
type Event struct {
	done        chan struct{}
	once        sync.Once
	completedAt time.Time
}

// NewEvent creates an event that is completed by the host through Complete.
// Operations that finish on the host rather than on a single stream use it
// to expose the same completion signal as stream work.
func NewEvent() *Event {
	return &Event{done: make(chan struct{})}
}

// Complete marks the event as reached. Calling it more than once is a no-op.
func (e *Event) Complete() {
	e.once.Do(func() {
		e.completedAt = time.Now()
		close(e.done)
	})
}

// Query reports whether the event has completed without blocking
func (e *Event) Query() bool {
	select {
	case <-e.done:
		return true
	default:
		return false
	}
}

// Done returns a channel that is closed once the event completes
func (e *Event) Done() <-chan struct{} {
	return e.done
}

// Wait blocks until the event completes or ctx is done.
func (e *Event) Wait(ctx context.Context) error {
	select {
	case <-e.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CompletedAt returns the completion time, or the zero time while pending
func (e *Event) CompletedAt() time.Time {
	if !e.Query() {
		return time.Time{}
	}
	return e.completedAt
}
