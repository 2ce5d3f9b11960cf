package device

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// node is a single element of the task queue
type node[T any] struct {
	value *T
	next  atomic.Pointer[node[T]]
}

// taskQueue is an unbounded lock-free multi-producer single-consumer queue.
// Items pushed by one producer are delivered in the order they were pushed.
// Across producers the order is the order in which the pushes linked their
// node into the list.
type taskQueue[T any] struct {
	head     atomic.Pointer[node[T]]
	tail     atomic.Pointer[node[T]]
	out      chan *T
	consumer sync.WaitGroup
	closed   atomic.Bool

	mu   sync.Mutex
	cond *sync.Cond
}

func newTaskQueue[T any]() *taskQueue[T] {
	sentinel := &node[T]{}

	q := &taskQueue[T]{
		out: make(chan *T),
	}
	q.cond = sync.NewCond(&q.mu)
	q.head.Store(sentinel)
	q.tail.Store(sentinel)

	q.consumer.Add(1)
	go q.consume()

	return q
}

// push appends an item. Returns false if the queue is closed.
func (q *taskQueue[T]) push(value *T) bool {
	if value == nil || q.closed.Load() {
		return false
	}

	newNode := &node[T]{value: value}
	var backoff uint8

	for {
		tailNode := q.tail.Load()
		next := tailNode.next.Load()
		if next == nil {
			if tailNode.next.CompareAndSwap(nil, newNode) {
				// another producer may already have moved the tail, that is fine
				q.tail.CompareAndSwap(tailNode, newNode)

				// signal under the lock, the consumer checks for work while holding it
				q.mu.Lock()
				q.cond.Signal()
				q.mu.Unlock()
				return true
			}
		} else {
			q.tail.CompareAndSwap(tailNode, next)
		}

		if backoff < 10 {
			backoff++
			for i := 0; i < 1<<backoff; i++ {
				runtime.Gosched()
			}
		}
		runtime.Gosched()
	}
}

// consume forwards items to the out channel until the queue is closed and drained
func (q *taskQueue[T]) consume() {
	defer q.consumer.Done()
	defer close(q.out)

	for {
		hasItems := false
		for {
			head := q.head.Load()
			next := head.next.Load()
			if next == nil {
				break
			}
			hasItems = true

			value := next.value
			q.head.Store(next)
			q.out <- value
			next.value = nil
		}

		if !hasItems && q.closed.Load() {
			return
		}

		if !hasItems {
			q.mu.Lock()
			if q.head.Load().next.Load() == nil && !q.closed.Load() {
				q.cond.Wait()
			}
			q.mu.Unlock()
		}
	}
}

func (q *taskQueue[T]) recv() <-chan *T {
	return q.out
}

// close stops accepting items. Queued items are still delivered.
func (q *taskQueue[T]) close() {
	q.closed.Store(true)
	q.mu.Lock()
	q.cond.Signal()
	q.mu.Unlock()
}

// len is O(n), only meant for diagnostics
func (q *taskQueue[T]) len() int {
	count := 0
	current := q.head.Load()
	for {
		next := current.next.Load()
		if next == nil {
			return count
		}
		count++
		current = next
	}
}
