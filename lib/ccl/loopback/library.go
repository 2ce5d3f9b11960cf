package loopback

import (
	"context"
	"sync/atomic"

	"github.com/ValentinKolb/dCCL/lib/ccl"
	"github.com/google/uuid"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/pkg/errors"
	"github.com/puzpuzpuz/xsync/v3"
)

var plog = logger.GetLogger("ccl")

// Name of the library as reported by ILibrary.Name
const Name = "loopback"

// OpInfo describes an operation passed to a FaultHook
type OpInfo struct {
	Op     string
	Rank   int
	Size   int
	Device int
	Seq    uint64
}

// FaultHook decides whether an operation fails. A nil return lets it run.
type FaultHook func(op OpInfo) error

// Option configures a Library
type Option func(*Library)

// WithDevices sets the number of devices per rank (default 1)
func WithDevices(n int) Option {
	return func(l *Library) { l.devices = n }
}

// WithoutSplit simulates a library version without communicator splitting
func WithoutSplit() Option {
	return func(l *Library) { l.split = false }
}

// WithVersion overrides the reported version
func WithVersion(v ccl.Version) Option {
	return func(l *Library) { l.version = v }
}

// WithFaultHook installs a fault hook
func WithFaultHook(h FaultHook) Option {
	return func(l *Library) { l.SetFaultHook(h) }
}

// Library is an in-process collective library. All ranks of a communicator
// must use the same Library value.
type Library struct {
	devices int
	split   bool
	version ccl.Version
	faults  atomic.Pointer[FaultHook]
	cliques *xsync.MapOf[ccl.UniqueID, *clique]
}

// NewLibrary creates a library with the given options applied.
func NewLibrary(opts ...Option) *Library {
	l := &Library{
		devices: 1,
		split:   true,
		version: ccl.Version{Major: 2, Minor: 18, Patch: 0},
		cliques: xsync.NewMapOf[ccl.UniqueID, *clique](),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// SetFaultHook replaces the fault hook, nil removes it.
func (l *Library) SetFaultHook(h FaultHook) {
	if h == nil {
		l.faults.Store(nil)
		return
	}
	l.faults.Store(&h)
}

func (l *Library) faultHook() FaultHook {
	if h := l.faults.Load(); h != nil {
		return *h
	}
	return nil
}

func (l *Library) Name() string         { return Name }
func (l *Library) Version() ccl.Version { return l.version }
func (l *Library) DeviceCount() int     { return l.devices }
func (l *Library) SupportsSplit() bool  { return l.split }

// GetUniqueID returns a random id
func (l *Library) GetUniqueID() (ccl.UniqueID, error) {
	return newUniqueID()
}

func newUniqueID() (ccl.UniqueID, error) {
	var id ccl.UniqueID
	u, err := uuid.NewRandom()
	if err != nil {
		return id, errors.Wrap(err, "generate unique id")
	}
	copy(id[:], Name)
	copy(id[len(Name):], u[:])
	return id, nil
}

// PendingCliques returns the number of communicators still waiting for ranks
func (l *Library) PendingCliques() int {
	return l.cliques.Size()
}

// InitComm joins the clique identified by id and blocks until it is complete.
func (l *Library) InitComm(ctx context.Context, nranks int, id ccl.UniqueID, rank int, dev int) (ccl.IComm, error) {
	if nranks < 1 {
		return nil, ccl.NewError(ccl.InvalidArgument, "invalid number of ranks %d", nranks)
	}
	if rank < 0 || rank >= nranks {
		return nil, ccl.NewError(ccl.InvalidArgument, "invalid rank requested : %d/%d", rank, nranks)
	}
	if dev < 0 || dev >= l.devices {
		return nil, ccl.NewError(ccl.InvalidArgument, "invalid device %d, library drives %d devices", dev, l.devices)
	}

	cl, _ := l.cliques.LoadOrCompute(id, func() *clique {
		return newClique(l, id, nranks)
	})
	if cl.nranks != nranks {
		return nil, ccl.NewError(ccl.InvalidUsage, "rank %d joins with %d ranks, communicator has %d", rank, nranks, cl.nranks)
	}

	c := &comm{lib: l, cl: cl, rank: rank, dev: dev}
	if err := cl.join(c); err != nil {
		return nil, err
	}
	plog.Debugf("rank %d/%d on device %d joined communicator %s", rank, nranks, dev, cl.name())

	select {
	case <-cl.ready:
		return c, nil
	case <-ctx.Done():
		if cl.leave(c) {
			return nil, errors.Wrapf(ctx.Err(), "rank %d of %d gave up waiting for peers (%d joined)", rank, nranks, cl.joinedCount())
		}
		// the last rank joined concurrently
		return c, nil
	}
}
