package lockmgr

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/ValentinKolb/dCCL/lib/rendezvous"
)

const (
	minBackoff = 100 * time.Microsecond
	maxBackoff = 20 * time.Millisecond
)

type lockMgrImpl struct {
	store rendezvous.IStore
}

func NewLockManager(store rendezvous.IStore) ILockManager {
	return &lockMgrImpl{
		store: store,
	}
}

func (lm *lockMgrImpl) AcquireLock(key string) (bool, []byte, error) {
	ownerID, err := generateOwnerID()
	if err != nil {
		return false, nil, err
	}

	// the key is only written if it does not exist yet
	current, err := lm.store.CompareSet(key, nil, ownerID)
	if err != nil {
		return false, nil, err
	}

	if bytes.Equal(current, ownerID) {
		return true, ownerID, nil
	}
	return false, nil, nil
}

func (lm *lockMgrImpl) AcquireLockWait(ctx context.Context, key string) ([]byte, error) {
	backoff := minBackoff
	for {
		ok, ownerID, err := lm.AcquireLock(key)
		if err != nil {
			return nil, err
		}
		if ok {
			return ownerID, nil
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("acquire lock %q: %w", key, ctx.Err())
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, maxBackoff)
	}
}

func (lm *lockMgrImpl) ReleaseLock(key string, ownerID []byte) (bool, error) {
	value, ok, err := lm.store.TryGet(key)
	if err != nil || !ok {
		return err == nil, err
	}

	if !bytes.Equal(ownerID, value) {
		return false, nil
	}

	_, err = lm.store.Delete(key)
	return err == nil, err
}
