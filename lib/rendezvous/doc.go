// Package rendezvous defines the key-value store ranks use to exchange
// bootstrap information out of band, before any communicator exists.
//
// The store is small and strongly consistent: a handful of keys per
// communicator, written once by one rank and read by all others. Reads can
// block until a key is published, which is how ranks wait for each other.
//
// Implementations:
//   - memstore: in-process store for ranks running as goroutines
//   - prefixstore: namespaces the keys of another store
//   - rpc/client: store served over the network by `dccl serve`
//
// Values written by Add are decimal strings so that Add and Get can be mixed
// on the same key.
package rendezvous
