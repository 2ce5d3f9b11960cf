// Package server implements the rendezvous server. It serves one in memory
// rendezvous.IStore per configured shard over any rpc transport, so ranks in
// different processes or on different hosts can bootstrap communicators
// through it.
//
// Key Components:
//
//   - IRPCServerAdapter: Translates a request Message into a call on a
//     rendezvous.IStore and the result back into a response Message.
//
//   - NewRPCServer: Creates a server for the given transport and serializer.
//     Serve blocks until Close is called.
//
// Get requests never block on the server. A key that is not set yet is
// reported as missing and the client polls, which keeps transport workers
// free while ranks wait for each other.
//
// Every handled request increments dccl_rpc_requests_total{type="..."}, with
// ServerConfig.Metrics set the http transport exposes these counters.
//
// Usage Example:
//
//	config := common.ServerConfig{
//	  Shards:        []common.ServerShard{{ShardID: 0}},
//	  TimeoutSecond: 5,
//	  Transport:     common.ServerTransportConf{Endpoint: "0.0.0.0:29500"},
//	  LogLevel:      "info",
//	}
//
//	s := server.NewRPCServer(config, tcp.NewTCPServerTransport(), serializer.NewBinarySerializer())
//	if err := s.Serve(); err != nil {
//	  log.Fatalf("Server error: %v", err)
//	}
package server
