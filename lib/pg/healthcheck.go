package pg

import (
	"context"
	"errors"

	"github.com/ValentinKolb/dCCL/lib/ccl"
	"github.com/ValentinKolb/dCCL/lib/device"
)

// runHealthCheck creates a communicator over all devices of the library and
// runs a one element all-reduce on it. The check runs on its own goroutine
// and is bounded by the group timeout, a check that does not finish in time
// is reported as an initialization failure caused by the deadline.
func (pg *ProcessGroup) runHealthCheck() error {
	if pg.opts.SplitFrom != nil {
		plog.Debugf("rank %d skips the health check, split communicators derive from the parent", pg.rank)
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), pg.opts.Timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- pg.healthCheck(ctx)
	}()

	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}
	if err == nil {
		plog.Infof("rank %d passed the health check", pg.rank)
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
		return newError(ErrCCommInit, context.DeadlineExceeded,
			"Failed to initialize communicator on rank %d: health check did not complete within %s", pg.rank, pg.opts.Timeout)
	}
	var pgErr *Error
	if errors.As(err, &pgErr) {
		return err
	}
	return newError(ErrCCommInit, err, "Failed to initialize communicator on rank %d", pg.rank)
}

func (pg *ProcessGroup) healthCheck(ctx context.Context) error {
	devices := make([]int, pg.opts.Library.DeviceCount())
	for i := range devices {
		devices[i] = i
	}
	key := newCommKey(devices)
	key.tag = "healthcheck"

	comm, err := pg.createCommunicator(ctx, key, devices)
	if err != nil {
		return err
	}
	defer comm.destroy()

	events := make([]*device.Event, len(devices))
	for i, dc := range comm.comms {
		t := device.NewTensor(devices[i], device.Float32, 1)
		if err := dc.AllReduce(t, t, ccl.Sum, comm.streams[i]); err != nil {
			return err
		}
		events[i] = comm.streams[i].Record()
	}
	for _, ev := range events {
		if err := ev.Wait(ctx); err != nil {
			comm.abort(err)
			return err
		}
	}
	return comm.asyncError()
}
