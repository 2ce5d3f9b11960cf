// Package transport defines the interfaces of the transport layer that
// carries serialized rpc messages between the rendezvous client and server.
//
// Every request is addressed to a shard, the server routes it to the store
// registered under that shard id. Implementations live in the tcp, unix and
// http subpackages, tcp and unix share their framing in base.
package transport
