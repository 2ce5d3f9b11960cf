package pg

import (
	"context"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
)

// watchdog polls the outstanding works and the communicators of a group.
// Works older than their timeout are failed and their communicator is
// aborted. Communicators that report an asynchronous error are aborted.
type watchdog struct {
	pg       *ProcessGroup
	interval time.Duration
	works    *xsync.MapOf[uint64, *Work]

	stopOnce sync.Once
	stop     chan struct{}
	stopped  chan struct{}
}

func newWatchdog(pg *ProcessGroup, interval time.Duration) *watchdog {
	return &watchdog{
		pg:       pg,
		interval: interval,
		works:    xsync.NewMapOf[uint64, *Work](),
		stop:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
}

func (wd *watchdog) start() {
	go wd.run()
}

func (wd *watchdog) track(w *Work) {
	wd.works.Store(w.id, w)
}

// outstanding returns the number of works not yet seen completed
func (wd *watchdog) outstanding() int {
	return wd.works.Size()
}

func (wd *watchdog) run() {
	defer close(wd.stopped)
	ticker := time.NewTicker(wd.interval)
	defer ticker.Stop()

	for {
		select {
		case <-wd.stop:
			return
		case now := <-ticker.C:
			wd.check(now)
		}
	}
}

func (wd *watchdog) check(now time.Time) {
	wd.works.Range(func(id uint64, w *Work) bool {
		w.poll()
		elapsed := now.Sub(w.start)
		if w.IsCompleted() {
			err := w.Exception()
			switch CodeOf(err) {
			case ErrCOperation:
				wd.pg.abortCommunicator(w.comm, err)
			case ErrCOperationTimeout:
				// failed by Wait, the collective itself may still be queued
				if w.comm.IsAborted() || w.eventsDone() {
					break
				}
				if elapsed <= w.timeout {
					return true
				}
				watchdogTimeoutsTotal.Inc()
				wd.pg.abortCommunicator(w.comm, wd.timeoutError(w, elapsed))
			}
			wd.works.Delete(id)
			return true
		}

		if elapsed > w.timeout {
			err := wd.timeoutError(w, elapsed)
			if w.finish(err) {
				watchdogTimeoutsTotal.Inc()
			}
			wd.pg.abortCommunicator(w.comm, err)
			wd.works.Delete(id)
		}
		return true
	})

	for _, c := range wd.pg.pool.all() {
		if err := c.asyncError(); err != nil {
			wd.pg.abortCommunicator(c, newError(ErrCOperation, err, "asynchronous error on communicator %s", c.key))
		}
	}
}

func (wd *watchdog) timeoutError(w *Work, elapsed time.Duration) error {
	return newError(ErrCOperationTimeout, context.DeadlineExceeded,
		"Watchdog caught collective operation timeout: %s ran for %d milliseconds before timing out", w, elapsed.Milliseconds())
}

func (wd *watchdog) shutdown() {
	wd.stopOnce.Do(func() {
		close(wd.stop)
	})
	<-wd.stopped
}
