package pg

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/dCCL/lib/ccl"
	"github.com/ValentinKolb/dCCL/lib/rendezvous"
	"github.com/ValentinKolb/dCCL/lib/rendezvous/prefixstore"
	"github.com/google/uuid"
	"github.com/lni/dragonboat/v4/logger"
	"golang.org/x/sync/errgroup"
)

var plog = logger.GetLogger("pg")

// BackendName is the name of the backend reported by BackendName
const BackendName = "dccl"

// ProcessGroup is the rank-local view of a group of ranks that run
// collectives together. All methods are safe for concurrent use, but every
// rank has to issue the same collectives in the same order.
type ProcessGroup struct {
	uid   string
	rank  int
	size  int
	store rendezvous.IStore
	opts  Options

	pool     *commPool
	watchdog *watchdog

	seq         atomic.Uint64 // sequence number of the last issued collective
	commCounter atomic.Uint64 // number of communicators bootstrapped through the store
	seqEpoch    atomic.Uint64 // number of SetSequenceNumberForGroup calls
	workIDs     atomic.Uint64
	splits      atomic.Int64 // child device communicators split from this group
	closed      atomic.Bool
}

// NewProcessGroup creates the group on this rank. The rank and size are
// validated locally. With EnableHealthCheck set the call blocks until a test
// communicator over all devices of the library was created and used, which
// requires all ranks to construct the group.
func NewProcessGroup(store rendezvous.IStore, rank, size int, options *Options) (*ProcessGroup, error) {
	if options == nil {
		return nil, newError(ErrCConfig, nil, "options must not be nil")
	}
	opts := *options
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if store == nil && opts.SplitFrom == nil {
		return nil, newError(ErrCConfig, nil, "a rendezvous store is required")
	}
	if size < 1 {
		return nil, newError(ErrCConfig, nil, "Invalid size %d, size must be at least 1", size)
	}
	if rank < 0 || rank >= size {
		return nil, newError(ErrCConfig, nil, "Invalid rank %d, rank must be in [0, %d)", rank, size)
	}
	if opts.SplitFrom != nil {
		if opts.SplitColor < 0 {
			return nil, newError(ErrCConfig, nil, "split color must not be negative, use PerformNoColorSplit to opt out")
		}
		// keep the store keys of parent and child apart
		if opts.GroupName == opts.SplitFrom.opts.GroupName {
			opts.GroupName = fmt.Sprintf("%s/split_%d", opts.GroupName, opts.SplitColor)
		}
	}

	pg := &ProcessGroup{
		uid:  uuid.NewString(),
		rank: rank,
		size: size,
		opts: opts,
		pool: newCommPool(),
	}
	if store != nil {
		pg.store = prefixstore.New(opts.GroupName, store)
	}
	pg.watchdog = newWatchdog(pg, opts.WatchdogInterval)
	pg.watchdog.start()

	plog.Infof("rank %d/%d created process group %s (%s)", rank, size, pg.uid, opts.String())

	if opts.EnableHealthCheck {
		if err := pg.runHealthCheck(); err != nil {
			healthCheckFailed.Inc()
			pg.Shutdown()
			return nil, err
		}
	}
	return pg, nil
}

// --------------------------------------------------------------------------
// Accessors
// --------------------------------------------------------------------------

func (pg *ProcessGroup) Rank() int   { return pg.rank }
func (pg *ProcessGroup) Size() int   { return pg.size }
func (pg *ProcessGroup) UID() string { return pg.uid }

// Options returns a copy of the options the group was created with
func (pg *ProcessGroup) Options() Options { return pg.opts }

// BackendName returns the name of the backend
func (pg *ProcessGroup) BackendName() string { return BackendName }

// CommSplitCounter returns the number of child device communicators split
// from communicators of this group, including ones aborted since.
func (pg *ProcessGroup) CommSplitCounter() int64 {
	return pg.splits.Load()
}

// SequenceNumberForGroup returns the sequence number of the last collective
func (pg *ProcessGroup) SequenceNumberForGroup() uint64 {
	return pg.seq.Load()
}

// SetSequenceNumberForGroup makes all ranks agree on a common start value
// for the sequence number. Rank 0 draws the value and publishes it through
// the store, every rank has to call it.
func (pg *ProcessGroup) SetSequenceNumberForGroup() error {
	if err := pg.checkOpen(); err != nil {
		return err
	}
	if pg.store == nil {
		return newError(ErrCInvalidState, nil, "group %s has no rendezvous store", pg.uid)
	}
	key := "seq/" + strconv.FormatUint(pg.seqEpoch.Add(1)-1, 10)

	if pg.rank == 0 {
		var b [8]byte
		if _, err := rand.Read(b[:]); err != nil {
			return newError(ErrCInvalidState, err, "draw sequence number")
		}
		// leave room before overflow
		start := binary.LittleEndian.Uint64(b[:]) >> 16
		binary.LittleEndian.PutUint64(b[:], start)
		if err := pg.store.Set(key, b[:]); err != nil {
			return newError(ErrCInvalidState, err, "publish sequence number")
		}
		pg.seq.Store(start)
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), pg.opts.Timeout)
	defer cancel()
	raw, err := pg.store.Get(ctx, key)
	if err != nil {
		if rendezvous.IsTimeout(err) {
			return newError(ErrCRendezvousTimeout, err, "rank %d waiting for sequence number %q", pg.rank, key)
		}
		return newError(ErrCInvalidState, err, "fetch sequence number")
	}
	if len(raw) != 8 {
		return newError(ErrCInvalidState, nil, "malformed sequence number of %d bytes", len(raw))
	}
	pg.seq.Store(binary.LittleEndian.Uint64(raw))
	return nil
}

// OutstandingWorks returns the number of works the watchdog still tracks
func (pg *ProcessGroup) OutstandingWorks() int {
	return pg.watchdog.outstanding()
}

// --------------------------------------------------------------------------
// Communicators
// --------------------------------------------------------------------------

func (pg *ProcessGroup) keyFor(devices []int) commKey {
	key := newCommKey(devices)
	if pg.opts.SplitFrom != nil {
		key.parent = pg.opts.SplitFrom.uid
		key.color = pg.opts.SplitColor
	}
	return key
}

// getComm returns the communicator for devices, creating it on first use
func (pg *ProcessGroup) getComm(ctx context.Context, devices []int) (*Communicator, error) {
	key := pg.keyFor(devices)
	return pg.pool.getOrCreate(ctx, key, func(ctx context.Context) (*Communicator, error) {
		if pg.opts.SplitFrom != nil {
			return pg.splitFromParent(ctx, key, devices)
		}
		return pg.createCommunicator(ctx, key, devices)
	})
}

// createCommunicator bootstraps a communicator through the store: rank 0
// publishes a fresh unique id, all ranks then join it on every device.
func (pg *ProcessGroup) createCommunicator(ctx context.Context, key commKey, devices []int) (*Communicator, error) {
	lib := pg.opts.Library
	storeKey := "comm/" + strconv.FormatUint(pg.commCounter.Add(1)-1, 10)

	var id ccl.UniqueID
	if pg.rank == 0 {
		var err error
		if id, err = lib.GetUniqueID(); err != nil {
			return nil, newError(ErrCCommInit, err, "rank %d: create unique id", pg.rank)
		}
		if err := pg.store.Set(storeKey, id[:]); err != nil {
			return nil, newError(ErrCCommInit, err, "rank %d: publish unique id under %q", pg.rank, storeKey)
		}
	} else {
		raw, err := pg.store.Get(ctx, storeKey)
		if err != nil {
			if rendezvous.IsTimeout(err) {
				return nil, newError(ErrCRendezvousTimeout, err, "rank %d timed out waiting for the unique id %q of rank 0", pg.rank, storeKey)
			}
			return nil, newError(ErrCCommInit, err, "rank %d: fetch unique id %q", pg.rank, storeKey)
		}
		if len(raw) != ccl.UniqueIDBytes {
			return nil, newError(ErrCCommInit, nil, "rank %d: unique id %q has %d bytes, want %d", pg.rank, storeKey, len(raw), ccl.UniqueIDBytes)
		}
		copy(id[:], raw)
	}

	nranks := pg.size * len(devices)
	comms := make([]ccl.IComm, len(devices))

	// init is collective, the devices of one rank have to join concurrently
	g, gctx := errgroup.WithContext(ctx)
	for i, dev := range devices {
		g.Go(func() error {
			c, err := lib.InitComm(gctx, nranks, id, pg.rank*len(devices)+i, dev)
			comms[i] = c
			return err
		})
	}
	if err := g.Wait(); err != nil {
		for _, c := range comms {
			if c != nil {
				_ = c.Abort()
			}
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, newError(ErrCCommInit, err, "Failed to initialize communicator on rank %d: peers did not join %s within the timeout", pg.rank, key)
		}
		return nil, newError(ErrCCommInit, err, "Failed to initialize communicator on rank %d for devices %v", pg.rank, devices)
	}

	plog.Infof("rank %d created communicator %s with %d participants via %q", pg.rank, key, nranks, storeKey)
	return newCommunicator(key, devices, comms), nil
}

// abortCommunicator aborts c and removes it from the pool. Other
// communicators of the group stay usable.
func (pg *ProcessGroup) abortCommunicator(c *Communicator, reason error) {
	if c == nil || !c.abort(reason) {
		return
	}
	commAbortTotal.Inc()
	pg.pool.evict(c)
	plog.Errorf("rank %d aborted communicator %s: %v", pg.rank, c.key, reason)
}

// --------------------------------------------------------------------------
// Lifecycle
// --------------------------------------------------------------------------

func (pg *ProcessGroup) checkOpen() error {
	if pg.closed.Load() {
		return newError(ErrCInvalidState, nil, "process group %s was shut down", pg.uid)
	}
	return nil
}

// Abort aborts every communicator of the group and shuts it down.
func (pg *ProcessGroup) Abort() {
	reason := newError(ErrCInvalidState, nil, "process group %s aborted by rank %d", pg.uid, pg.rank)
	for _, c := range pg.pool.all() {
		pg.abortCommunicator(c, reason)
	}
	pg.Shutdown()
}

// Shutdown stops the watchdog and releases all communicators. Collectives
// issued afterwards fail with ErrCInvalidState.
func (pg *ProcessGroup) Shutdown() {
	if !pg.closed.CompareAndSwap(false, true) {
		return
	}
	pg.watchdog.shutdown()
	for _, c := range pg.pool.clear() {
		c.destroy()
	}
	plog.Infof("rank %d shut down process group %s", pg.rank, pg.uid)
}

// opTimeout returns the timeout of a collective
func (pg *ProcessGroup) opTimeout(override time.Duration) time.Duration {
	if override > 0 {
		return override
	}
	return pg.opts.Timeout
}

func (pg *ProcessGroup) String() string {
	return fmt.Sprintf("ProcessGroup(uid=%s, rank=%d, size=%d, backend=%s)", pg.uid, pg.rank, pg.size, BackendName)
}
