package ccl

import (
	"context"
	"fmt"

	"github.com/ValentinKolb/dCCL/lib/device"
)

// UniqueIDBytes is the size of a unique id in bytes
const UniqueIDBytes = 128

// UniqueID identifies one communicator bootstrap. Rank 0 creates it and every
// other rank receives it out of band before calling InitComm.
type UniqueID [UniqueIDBytes]byte

// SplitNoColor is the color a rank passes to Split when it does not want to
// be part of any child communicator.
const SplitNoColor = -1

// Version of a collective library
type Version struct {
	Major, Minor, Patch int
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// --------------------------------------------------------------------------
// Interface Definition
// --------------------------------------------------------------------------

// ILibrary is the entry point of a collective library.
type ILibrary interface {
	// Name returns the name of the library
	Name() string

	// Version returns the version of the library
	Version() Version

	// DeviceCount returns the number of devices one rank can drive
	DeviceCount() int

	// SupportsSplit reports whether IComm.Split is available
	SupportsSplit() bool

	// GetUniqueID creates a new id for bootstrapping a communicator
	GetUniqueID() (UniqueID, error)

	// InitComm joins the communicator identified by id as the given rank.
	// The call blocks until all nranks ranks have joined or ctx is done.
	InitComm(ctx context.Context, nranks int, id UniqueID, rank int, dev int) (IComm, error)
}

// IComm is a communicator bound to one device.
//
// Collective methods validate their arguments, enqueue the operation onto
// stream and return. A non-nil error means nothing was enqueued. Errors that
// happen while the enqueued work runs are reported through GetAsyncError.
// Every rank of the communicator has to issue the same collectives in the
// same order.
type IComm interface {
	Rank() int
	Size() int
	Device() int

	// AllReduce reduces send across all ranks and stores the result in recv
	// on every rank. send and recv may be the same tensor.
	AllReduce(send, recv *device.Tensor, op ReduceOp, stream *device.Stream) error

	// Broadcast copies send of rank root into recv of every rank.
	Broadcast(send, recv *device.Tensor, root int, stream *device.Stream) error

	// Reduce stores the reduction of send across all ranks in recv of rank root.
	Reduce(send, recv *device.Tensor, op ReduceOp, root int, stream *device.Stream) error

	// AllGather concatenates send of every rank ordered by rank into recv.
	// recv must hold Size() times the elements of send.
	AllGather(send, recv *device.Tensor, stream *device.Stream) error

	// ReduceScatter reduces send across all ranks and stores block Rank()
	// of the result in recv. send must hold Size() times the elements of recv.
	ReduceScatter(send, recv *device.Tensor, op ReduceOp, stream *device.Stream) error

	// Split creates a child communicator from all ranks passing the same
	// color. Ranks in the child are ordered by key, ties by parent rank.
	// A rank passing a negative color takes part in the call but receives a
	// nil communicator. The call blocks until every rank of the parent has
	// called Split or ctx is done.
	Split(ctx context.Context, color int, key int) (IComm, error)

	// GetAsyncError returns the first error of enqueued work, if any
	GetAsyncError() error

	// Abort tears the communicator down. Pending and future operations fail.
	Abort() error

	// Destroy releases the communicator after all enqueued work has finished
	Destroy() error
}
