// Package tcp implements the rpc transport over tcp sockets on top of the
// framing of the base package. The socket options of common.SocketConf are
// applied to every accepted and every dialed connection.
//
// The default server buffer size is 512 KB.
package tcp
