package testing

import (
	"context"
	"strconv"
	"testing"

	"github.com/ValentinKolb/dCCL/lib/rendezvous"
)

// RunStoreBenchmarks runs all benchmarks for a store implementation
func RunStoreBenchmarks(b *testing.B, name string, factory StoreFactory) {
	b.Run(name, func(b *testing.B) {
		b.Run("Set", func(b *testing.B) {
			benchmarkSet(b, factory())
		})

		b.Run("Get", func(b *testing.B) {
			benchmarkGet(b, factory())
		})

		b.Run("Add", func(b *testing.B) {
			benchmarkAdd(b, factory())
		})

		b.Run("CompareSet", func(b *testing.B) {
			benchmarkCompareSet(b, factory())
		})
	})
}

func benchmarkSet(b *testing.B, store rendezvous.IStore) {
	value := make([]byte, 128)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := store.Set(strconv.Itoa(i%1024), value); err != nil {
			b.Fatal(err)
		}
	}
}

func benchmarkGet(b *testing.B, store rendezvous.IStore) {
	if err := store.Set("key", make([]byte, 128)); err != nil {
		b.Fatal(err)
	}
	ctx := context.Background()
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			if _, err := store.Get(ctx, "key"); err != nil {
				b.Fatal(err)
			}
		}
	})
}

func benchmarkAdd(b *testing.B, store rendezvous.IStore) {
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			if _, err := store.Add("counter", 1); err != nil {
				b.Fatal(err)
			}
		}
	})
}

func benchmarkCompareSet(b *testing.B, store rendezvous.IStore) {
	value := []byte("owner")
	for i := 0; i < b.N; i++ {
		key := strconv.Itoa(i % 1024)
		if _, err := store.CompareSet(key, nil, value); err != nil {
			b.Fatal(err)
		}
		if _, err := store.Delete(key); err != nil {
			b.Fatal(err)
		}
	}
}
