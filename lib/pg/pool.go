package pg

import (
	"context"
	"errors"

	"github.com/ValentinKolb/dCCL/lib/lockmgr"
	"github.com/ValentinKolb/dCCL/lib/rendezvous/memstore"
	"github.com/puzpuzpuz/xsync/v3"
)

// commPool owns the communicators of one group. Creation is serialised per
// key, different keys are created independently.
type commPool struct {
	entries *xsync.MapOf[commKey, *Communicator]
	locks   lockmgr.ILockManager
}

func newCommPool() *commPool {
	return &commPool{
		entries: xsync.NewMapOf[commKey, *Communicator](),
		// private store, the locks must not be shared with other groups
		locks: lockmgr.NewLockManager(memstore.New()),
	}
}

// lookup returns the live communicator for key
func (p *commPool) lookup(key commKey) (*Communicator, bool) {
	c, ok := p.entries.Load(key)
	if !ok || c.IsAborted() {
		return nil, false
	}
	return c, true
}

// getOrCreate returns the communicator for key, calling create if there is
// none. create runs at most once at a time per key. A nil communicator
// returned by create is passed through without being cached.
func (p *commPool) getOrCreate(ctx context.Context, key commKey, create func(ctx context.Context) (*Communicator, error)) (*Communicator, error) {
	if c, ok := p.lookup(key); ok {
		return c, nil
	}

	ownerID, err := p.locks.AcquireLockWait(ctx, key.String())
	if err != nil {
		return nil, newError(ErrCCommInit, err, "waiting for concurrent creation of communicator %s", key)
	}
	defer func() {
		if _, err := p.locks.ReleaseLock(key.String(), ownerID); err != nil {
			plog.Errorf("release creation lock of %s: %v", key, err)
		}
	}()

	// another caller may have created it while we waited
	if c, ok := p.lookup(key); ok {
		return c, nil
	}

	c, err := create(ctx)
	if err != nil {
		var pgErr *Error
		if !errors.As(err, &pgErr) {
			err = newError(ErrCCommInit, err, "create communicator %s", key)
		}
		commInitFailedTotal.Inc()
		return nil, err
	}
	if c == nil {
		return nil, nil
	}

	p.entries.Store(key, c)
	commInitTotal.Inc()
	return c, nil
}

// evict removes c if it is still the entry for its key
func (p *commPool) evict(c *Communicator) bool {
	evicted := false
	p.entries.Compute(c.key, func(old *Communicator, loaded bool) (*Communicator, bool) {
		if loaded && old == c {
			evicted = true
			return nil, true
		}
		return old, !loaded
	})
	return evicted
}

// all returns the current communicators
func (p *commPool) all() []*Communicator {
	out := make([]*Communicator, 0, p.entries.Size())
	p.entries.Range(func(_ commKey, c *Communicator) bool {
		out = append(out, c)
		return true
	})
	return out
}

// clear removes and returns all communicators
func (p *commPool) clear() []*Communicator {
	out := p.all()
	p.entries.Clear()
	return out
}
