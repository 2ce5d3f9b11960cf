package lockmgr

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ValentinKolb/dCCL/lib/rendezvous/memstore"
)

func TestAcquireRelease(t *testing.T) {
	mgr := NewLockManager(memstore.New())

	ok, owner, err := mgr.AcquireLock("k")
	if err != nil || !ok {
		t.Fatalf("first AcquireLock = %v, %v", ok, err)
	}

	if ok, _, _ := mgr.AcquireLock("k"); ok {
		t.Error("lock acquired twice")
	}
	if ok, _, _ := mgr.AcquireLock("other"); !ok {
		t.Error("independent key is blocked")
	}

	if released, _ := mgr.ReleaseLock("k", []byte("not the owner")); released {
		t.Error("lock released by a foreign owner")
	}
	if released, err := mgr.ReleaseLock("k", owner); !released || err != nil {
		t.Errorf("ReleaseLock = %v, %v", released, err)
	}
	if released, _ := mgr.ReleaseLock("k", owner); !released {
		t.Error("releasing a missing lock should report true")
	}
}

func TestAcquireLockWaitSerialises(t *testing.T) {
	mgr := NewLockManager(memstore.New())

	var inside atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			owner, err := mgr.AcquireLockWait(context.Background(), "k")
			if err != nil {
				t.Error(err)
				return
			}
			if n := inside.Add(1); n != 1 {
				t.Errorf("%d holders inside the critical section", n)
			}
			time.Sleep(time.Millisecond)
			inside.Add(-1)
			if _, err := mgr.ReleaseLock("k", owner); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()
}

func TestAcquireLockWaitTimeout(t *testing.T) {
	mgr := NewLockManager(memstore.New())
	if ok, _, _ := mgr.AcquireLock("k"); !ok {
		t.Fatal("could not acquire lock")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := mgr.AcquireLockWait(ctx, "k"); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}
