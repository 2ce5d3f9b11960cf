package lockmgr

import "context"

// ILockManager defines the interface for a lock provider.
type ILockManager interface {
	// AcquireLock tries once to acquire the lock for key.
	// Returns whether the lock was acquired, the owner ID and an error if any.
	AcquireLock(key string) (ok bool, ownerID []byte, err error)

	// AcquireLockWait blocks until the lock for key is acquired or ctx is done.
	AcquireLockWait(ctx context.Context, key string) (ownerID []byte, err error)

	// ReleaseLock releases the lock for key if it is held by ownerID.
	// Returns whether the lock was released. A missing lock counts as released.
	ReleaseLock(key string, ownerID []byte) (ok bool, err error)
}
