// Package rpc provides the rendezvous service used when the ranks of a
// process group do not share memory. A server holds the keys, the ranks
// reach it through a client that implements rendezvous.IStore.
//
// The package is organized into several subpackages:
//
//   - common: The Message protocol, configuration structures and logging.
//
//   - transport: Network communication with pluggable implementations
//     (TCP, Unix sockets, HTTP).
//
//   - serializer: Message serialization (Binary, JSON, GOB).
//
//   - client: rendezvous.IStore over rpc.
//
//   - server: The rendezvous server and its request adapter.
package rpc
