// Package prefixstore places the keys of a rendezvous store under a common
// prefix, so that several groups can share one store without collisions.
package prefixstore

import (
	"context"

	"github.com/ValentinKolb/dCCL/lib/rendezvous"
)

type prefixStore struct {
	prefix string
	inner  rendezvous.IStore
}

// New returns a store that maps key to "<prefix>/<key>" in inner.
// NumKeys reports the keys of the whole inner store.
func New(prefix string, inner rendezvous.IStore) rendezvous.IStore {
	return &prefixStore{prefix: prefix + "/", inner: inner}
}

func (s *prefixStore) key(k string) string {
	return s.prefix + k
}

func (s *prefixStore) keys(ks []string) []string {
	out := make([]string, len(ks))
	for i, k := range ks {
		out[i] = s.key(k)
	}
	return out
}

func (s *prefixStore) Set(key string, value []byte) error {
	return s.inner.Set(s.key(key), value)
}

func (s *prefixStore) TryGet(key string) ([]byte, bool, error) {
	return s.inner.TryGet(s.key(key))
}

func (s *prefixStore) Get(ctx context.Context, key string) ([]byte, error) {
	return s.inner.Get(ctx, s.key(key))
}

func (s *prefixStore) Add(key string, delta int64) (int64, error) {
	return s.inner.Add(s.key(key), delta)
}

func (s *prefixStore) CompareSet(key string, expected, desired []byte) ([]byte, error) {
	return s.inner.CompareSet(s.key(key), expected, desired)
}

func (s *prefixStore) Check(keys ...string) (bool, error) {
	return s.inner.Check(s.keys(keys)...)
}

func (s *prefixStore) Wait(ctx context.Context, keys ...string) error {
	return s.inner.Wait(ctx, s.keys(keys)...)
}

func (s *prefixStore) Delete(key string) (bool, error) {
	return s.inner.Delete(s.key(key))
}

func (s *prefixStore) NumKeys() (int64, error) {
	return s.inner.NumKeys()
}
