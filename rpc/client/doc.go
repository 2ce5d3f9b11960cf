// Package client implements rendezvous.IStore on top of a rendezvous server
// (see package server). Ranks in different processes use it to share the
// communicator ids and sequence numbers of their process groups.
//
// Blocking operations (Get, Wait) poll the server with growing pauses until
// the key exists or the context ends. An expired context yields a
// *rendezvous.Error with RetCTimeout, the same as with a local store.
//
// Locks across processes need no extra protocol: lockmgr.NewLockManager
// accepts the RPCStore like any other store.
//
// Usage Example:
//
//	config := common.ClientConfig{
//	  TimeoutSecond: 5,
//	  Transport: common.ClientTransportConf{
//	    Endpoints:              []string{"localhost:29500"},
//	    RetryCount:             3,
//	    ConnectionsPerEndpoint: 1,
//	  },
//	}
//
//	store, err := client.NewRPCStore(0, config, tcp.NewTCPClientTransport(), serializer.NewBinarySerializer())
//	if err != nil {
//	  return err
//	}
//	defer store.Close()
//
//	group, err := pg.NewProcessGroup(store, rank, size, opts)
//
// All methods are safe for concurrent use.
package client
