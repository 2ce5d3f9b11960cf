// Package http implements the rpc transport over HTTP. Every request is a
// POST to /{shardId} with the serialized message as body, the response body
// holds the serialized reply.
//
// With ServerConfig.Metrics set, the server also exposes the process metrics
// in prometheus text format under GET /metrics.
//
// The client spreads requests round robin over all endpoints and retries
// failed requests on the next endpoint.
package http
