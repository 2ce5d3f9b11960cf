// Package serializer converts rpc messages to and from bytes. All
// implementations satisfy IRPCSerializer and are stateless, so a single
// instance can be shared by any number of goroutines.
//
// Implementations:
//
//   - Binary: Custom flag based format that only encodes the fields present
//     in a message. Smallest payloads and fastest, the default of the CLI.
//     It is the only format that keeps an empty byte slice apart from a
//     missing one, which the rendezvous store does not rely on.
//
//   - JSON: Human readable, useful when debugging with curl against the
//     http transport.
//
//   - GOB: Go's gob encoding. Larger and slower than both others, kept for
//     comparison in the benchmarks.
//
// Usage:
//
//	serializer := serializer.NewBinarySerializer()
//	data, err := serializer.Serialize(message)
//	// ... send data ...
//	var receivedMsg common.Message
//	err = serializer.Deserialize(receivedData, &receivedMsg)
package serializer
