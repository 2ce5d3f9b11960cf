// Package memstore implements rendezvous.IStore in memory. All ranks that
// share one store value see each other's keys, which makes it the store of
// choice when ranks run as goroutines of one process.
package memstore

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/ValentinKolb/dCCL/lib/rendezvous"
	"github.com/puzpuzpuz/xsync/v3"
)

type memStore struct {
	data *xsync.MapOf[string, []byte]

	// changed is closed and replaced on every write
	mu      sync.Mutex
	changed chan struct{}
}

// New creates an empty store.
func New() rendezvous.IStore {
	return &memStore{
		data:    xsync.NewMapOf[string, []byte](),
		changed: make(chan struct{}),
	}
}

func (s *memStore) notify() {
	s.mu.Lock()
	close(s.changed)
	s.changed = make(chan struct{})
	s.mu.Unlock()
}

func (s *memStore) changes() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.changed
}

func (s *memStore) Set(key string, value []byte) error {
	s.data.Store(key, bytes.Clone(value))
	s.notify()
	return nil
}

func (s *memStore) TryGet(key string) ([]byte, bool, error) {
	v, ok := s.data.Load(key)
	return bytes.Clone(v), ok, nil
}

func (s *memStore) Get(ctx context.Context, key string) ([]byte, error) {
	for {
		// subscribe before looking, a write in between closes ch
		ch := s.changes()
		if v, ok := s.data.Load(key); ok {
			return bytes.Clone(v), nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return nil, rendezvous.TimeoutError(ctx, key)
		}
	}
}

func (s *memStore) Add(key string, delta int64) (int64, error) {
	var result int64
	var err error
	s.data.Compute(key, func(old []byte, loaded bool) ([]byte, bool) {
		var cur int64
		if loaded {
			cur, err = strconv.ParseInt(string(old), 10, 64)
			if err != nil {
				err = rendezvous.NewError(rendezvous.RetCInvalidOperation, fmt.Sprintf("value of %q is not an integer", key))
				return old, false
			}
		}
		result = cur + delta
		return []byte(strconv.FormatInt(result, 10)), false
	})
	if err != nil {
		return 0, err
	}
	s.notify()
	return result, nil
}

func (s *memStore) CompareSet(key string, expected, desired []byte) ([]byte, error) {
	var result []byte
	written := false
	s.data.Compute(key, func(old []byte, loaded bool) ([]byte, bool) {
		switch {
		case !loaded && len(expected) == 0, loaded && bytes.Equal(old, expected):
			result = bytes.Clone(desired)
			written = true
			return bytes.Clone(desired), false
		case !loaded:
			result = bytes.Clone(expected)
			return nil, true
		default:
			result = bytes.Clone(old)
			return old, false
		}
	})
	if written {
		s.notify()
	}
	return result, nil
}

func (s *memStore) Check(keys ...string) (bool, error) {
	for _, k := range keys {
		if _, ok := s.data.Load(k); !ok {
			return false, nil
		}
	}
	return true, nil
}

func (s *memStore) Wait(ctx context.Context, keys ...string) error {
	for {
		ch := s.changes()
		if ok, _ := s.Check(keys...); ok {
			return nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return rendezvous.TimeoutError(ctx, keys...)
		}
	}
}

func (s *memStore) Delete(key string) (bool, error) {
	_, deleted := s.data.LoadAndDelete(key)
	if deleted {
		s.notify()
	}
	return deleted, nil
}

func (s *memStore) NumKeys() (int64, error) {
	return int64(s.data.Size()), nil
}
