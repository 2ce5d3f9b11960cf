package pg

import (
	"context"

	"github.com/ValentinKolb/dCCL/lib/ccl"
	"golang.org/x/sync/errgroup"
)

// splitFromParent derives the communicator for key from the communicator of
// the parent group on the same devices. All ranks of the parent have to take
// part, ranks outside this group through PerformNoColorSplit.
func (pg *ProcessGroup) splitFromParent(ctx context.Context, key commKey, devices []int) (*Communicator, error) {
	parent := pg.opts.SplitFrom
	if err := parent.checkSplitSupport(); err != nil {
		return nil, err
	}
	if err := parent.checkOpen(); err != nil {
		return nil, err
	}

	parentComm, err := parent.getComm(ctx, devices)
	if err != nil {
		return nil, err
	}
	child, err := parent.splitComm(ctx, parentComm, pg.opts.SplitColor, key)
	if err != nil {
		return nil, err
	}

	// the child has to line up with the rank and size of this group
	if want := pg.size * len(devices); child.Size() != want {
		child.abort(nil)
		return nil, newError(ErrCConfig, nil, "split with color %d produced %d participants, group of size %d on %d devices needs %d",
			pg.opts.SplitColor, child.Size(), pg.size, len(devices), want)
	}
	for i, dc := range child.comms {
		if want := pg.rank*len(devices) + i; dc.Rank() != want {
			child.abort(nil)
			return nil, newError(ErrCConfig, nil, "rank %d device %d became participant %d of the split communicator, want %d",
				pg.rank, devices[i], dc.Rank(), want)
		}
	}
	return child, nil
}

func (pg *ProcessGroup) checkSplitSupport() error {
	lib := pg.opts.Library
	if !lib.SupportsSplit() {
		return newError(ErrCUnsupported, nil, "communicator splitting is not supported by %s %s", lib.Name(), lib.Version())
	}
	return nil
}

// splitComm splits every device communicator of parent by color. Ranks are
// ordered by their position in parent. It returns nil for a negative color.
// Each device communicator that produced a child counts the split.
func (pg *ProcessGroup) splitComm(ctx context.Context, parent *Communicator, color int, key commKey) (*Communicator, error) {
	if err := pg.checkSplitSupport(); err != nil {
		return nil, err
	}
	if parent.IsAborted() {
		return nil, newError(ErrCInvalidState, parent.AbortReason(), "cannot split aborted communicator %s", parent.key)
	}

	children := make([]ccl.IComm, len(parent.comms))

	// split is collective, the devices of one rank have to join concurrently
	g, gctx := errgroup.WithContext(ctx)
	for i, dc := range parent.comms {
		g.Go(func() error {
			c, err := dc.Split(gctx, color, dc.Rank())
			children[i] = c
			return err
		})
	}
	if err := g.Wait(); err != nil {
		for _, c := range children {
			if c != nil {
				_ = c.Abort()
			}
		}
		return nil, newError(ErrCCommInit, err, "rank %d: split of communicator %s with color %d failed", pg.rank, parent.key, color)
	}

	if color < 0 {
		plog.Debugf("rank %d opted out of split of communicator %s", pg.rank, parent.key)
		return nil, nil
	}
	for _, dc := range parent.comms {
		dc.splits.Add(1)
	}
	owner := pg
	if pg.opts.SplitFrom != nil {
		owner = pg.opts.SplitFrom
	}
	owner.splits.Add(int64(len(parent.comms)))
	commSplitTotal.Inc()
	plog.Infof("rank %d split communicator %s into %s", pg.rank, parent.key, key)
	return newCommunicator(key, parent.devices, children), nil
}

// PerformNoColorSplit takes part in a split of the communicator for devices
// without joining any child. Ranks that are not members of a group created
// with SplitFrom set to this group call it, so that the collective split
// completes on the members.
func (pg *ProcessGroup) PerformNoColorSplit(devices []int) error {
	if err := pg.checkOpen(); err != nil {
		return err
	}
	if err := pg.checkSplitSupport(); err != nil {
		return err
	}
	if err := pg.checkDevices(devices); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), pg.opts.Timeout)
	defer cancel()
	parent, err := pg.getComm(ctx, devices)
	if err != nil {
		return err
	}
	_, err = pg.splitComm(ctx, parent, ccl.SplitNoColor, commKey{})
	return err
}
