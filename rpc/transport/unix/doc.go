// Package unix implements the rpc transport over Unix domain sockets, for
// ranks that run on the same host as the rendezvous server. It only adds
// the connectors, framing and worker handling come from the base package.
//
// The default server buffer size is 64 KB.
package unix
