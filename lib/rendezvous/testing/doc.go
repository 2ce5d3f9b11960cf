// Package testing provides standardised tests and benchmarks for
// implementations of rendezvous.IStore.
//
// The package contains:
//   - testing: A test suite for the IStore contract, including blocking
//     Get and Wait, the CompareSet rules for missing keys and timeouts
//   - benchmark: Throughput of the operations used during communicator
//     bootstrap
//
// Example usage:
//
//	factory := func() rendezvous.IStore {
//		return memstore.New()
//	}
//
//	storetesting.RunStoreTests(t, "memstore", factory)
//	storetesting.RunStoreBenchmarks(b, "memstore", factory)
package testing
