// Package common provides the data structures shared by the rpc client and
// server of the rendezvous store.
//
// Key Components:
//
//   - Message: Core data structure for all RPC communication, used for
//     requests and responses alike. Which fields are set depends on the
//     MessageType. Factory functions exist for every request and response.
//
//   - MessageType: Enumeration of the rendezvous.IStore operations plus the
//     generic success and error types.
//
//   - ServerConfig / ClientConfig: Transport, timeout and logging settings
//     of the server and the client.
//
//   - Logger: Custom implementation of dragonboat's logger.ILogger, so all
//     packages of the module log in one format.
package common
