package common

import (
	"fmt"
	"strconv"
	"strings"
)

// --------------------------------------------------------------------------
// Socket configuration (shared by server and client)
// --------------------------------------------------------------------------

// SocketConf holds the socket options applied to tcp connections
type SocketConf struct {
	TCPNoDelay      bool
	TCPKeepAliveSec int
	TCPLingerSec    int // negative keeps the os default
	WriteBufferSize int
	ReadBufferSize  int
}

// --------------------------------------------------------------------------
// RPC server configuration struct
// --------------------------------------------------------------------------

// ServerTransportConf configures the listening side of a transport
type ServerTransportConf struct {
	SocketConf
	Endpoint       string
	WorkersPerConn int
	BufferSize     int
}

// ServerShard describes one rendezvous store served under ShardID. Every
// shard is an independent key space.
type ServerShard struct {
	ShardID uint64
}

// ServerConfig holds all configuration parameters of a rendezvous server.
type ServerConfig struct {
	Shards []ServerShard

	// Deadline for reading and writing a single frame
	TimeoutSecond int64

	Transport ServerTransportConf

	// Serve prometheus metrics under /metrics (http transport only)
	Metrics bool

	// Logging configuration
	LogLevel string
}

// String returns a formatted string representation of the configuration
func (c *ServerConfig) String() string {
	var sb strings.Builder

	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	addSection("RPC Server")
	addField("Endpoint", c.Transport.Endpoint)
	addField("Timeout", fmt.Sprintf("%d sec", c.TimeoutSecond))
	addField("Workers Per Conn", strconv.Itoa(c.Transport.WorkersPerConn))
	addField("Metrics", strconv.FormatBool(c.Metrics))

	addSection("Logging")
	addField("Log Level", c.LogLevel)

	addSection("Shards")
	for _, shard := range c.Shards {
		addField(strconv.FormatUint(shard.ShardID, 10), "rendezvous store")
	}
	return sb.String()
}

// --------------------------------------------------------------------------
// RPC client configuration struct
// --------------------------------------------------------------------------

// ClientTransportConf configures the dialing side of a transport
type ClientTransportConf struct {
	SocketConf
	Endpoints              []string
	RetryCount             int
	ConnectionsPerEndpoint int
}

type ClientConfig struct {
	TimeoutSecond int
	Transport     ClientTransportConf
}

// String returns a formatted string representation of the client configuration
func (c *ClientConfig) String() string {
	var sb strings.Builder

	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	addSection("Client Configuration")
	addField("Timeout", fmt.Sprintf("%d sec", c.TimeoutSecond))
	addField("Retry Count", strconv.Itoa(c.Transport.RetryCount))
	addField("Connections Per Endpoint", strconv.Itoa(max(1, c.Transport.ConnectionsPerEndpoint)))

	addSection("Endpoints")
	for i, endpoint := range c.Transport.Endpoints {
		addField(strconv.Itoa(i), endpoint)
	}
	return sb.String()
}
