// Package lockmgr implements named locks on top of a rendezvous.IStore.
//
// The lock manager only ever stores in the provided IStore and has no other
// internal state. It is therefore safe to create it multiple times on the
// same store; all instances see the same locks.
//
// Implementation Approach:
//
//   - Lock Acquisition: CompareSet with an empty expected value, which only
//     succeeds if the key does not exist. The stored value is a randomly
//     generated owner ID that identifies the lock holder.
//
//   - Waiting: AcquireLockWait retries the acquisition with exponential
//     backoff until the lock is free or the context is done.
//
//   - Safe Release: ReleaseLock verifies that the requester owns the lock by
//     comparing owner IDs before deleting the key.
//
// Scope:
//
//	With a memstore the locks are local to the process. The process group
//	uses a private memstore per group to serialise communicator creation per
//	key. With the rpc store client the same locks coordinate several
//	processes (see `dccl lock`).
//
// Usage Example:
//
//	mgr := lockmgr.NewLockManager(memstore.New())
//
//	ownerID, err := mgr.AcquireLockWait(ctx, "comm:0,1")
//	if err != nil {
//	    // ctx expired
//	}
//	defer mgr.ReleaseLock("comm:0,1", ownerID)
package lockmgr
