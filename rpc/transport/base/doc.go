// Package base implements the framing, connection handling and request
// correlation shared by the stream based transports (tcp, unix). The
// protocol specific parts are injected through IClientConnector and
// IServerConnector.
//
// Frame format:
//
//	8 bytes shardID | 8 bytes requestID | 4 bytes length | payload
//
// Key Components:
//
//   - clientTransport: Keeps ConnectionsPerEndpoint connections per endpoint
//     and picks one round robin per request. Responses are matched to
//     requests by their request id, so many requests can be in flight on one
//     connection. Failed sends are retried with exponential backoff, a broken
//     connection fails its pending requests and is dialed again.
//
//   - serverTransport: Accepts connections and runs up to WorkersPerConn
//     handlers per connection concurrently. Read buffers come from a
//     sync.Pool.
//
// All public methods are safe for concurrent use.
package base
