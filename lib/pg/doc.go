// Package pg implements a process group: the rank-local entry point for
// running collectives (all-reduce, broadcast, reduce, all-gather,
// reduce-scatter, their flattened variants and sparse all-reduce) over a
// collective library described by package ccl.
//
// Core Components:
//
//   - ProcessGroup: binds rank, size, rendezvous store and Options and exposes
//     one method per collective. Every method validates its tensors locally,
//     resolves the communicator for the devices of the tensors, launches the
//     operation on the per-device streams owned by the group and returns a
//     Work immediately.
//
//   - Communicator pool: one Communicator per key (device set, split parent
//     and color). The first use of a key bootstraps it: rank 0 publishes a
//     unique id in the store, all ranks join it. Creation is serialised per
//     key through lockmgr, different keys are created independently.
//
//   - Work: future of a dispatched collective with Wait, IsCompleted and
//     Result. A work fails with ErrCOperationTimeout when it does not finish
//     in time and with ErrCOperation when the library reports an
//     asynchronous error.
//
//   - Watchdog: one goroutine per group that fails works running longer
//     than their timeout and aborts communicators with asynchronous errors.
//     An aborted communicator is evicted from the pool; the next collective
//     on the same devices bootstraps a new one. Other keys are unaffected.
//
//   - Health check: optional test communicator at construction that
//     separates local misconfiguration (ErrCConfig, "Invalid rank") from
//     peers that never show up (ErrCCommInit caused by
//     context.DeadlineExceeded, "Failed to initialize communicator on rank").
//
//   - Split: a group created with Options.SplitFrom derives its
//     communicators from the parent group through the library's split
//     primitive instead of the store. The parent counts every child it
//     produced, see CommSplitCounter.
//
// Participants:
//
//	A rank that drives d devices contributes d participants. Participant
//	rank*d+i is device i of rank, which fixes the order of all-gather
//	outputs and reduce-scatter inputs. All ranks of a group must use the
//	same number of devices per collective.
//
// Usage Example:
//
//	opts, _ := pg.OptionsFromEnv(loopback.NewLibrary(loopback.WithDevices(2)))
//	group, err := pg.NewProcessGroup(store, rank, size, opts)
//	if err != nil {
//	    // errors.Is(err, pg.ErrConfig) or pg.IsTimeout(err)
//	}
//	defer group.Shutdown()
//
//	work, err := group.AllReduce(tensors, pg.AllReduceOptions{})
//	if err != nil {
//	    return err
//	}
//	if err := work.Wait(0); err != nil {
//	    return err
//	}
package pg
