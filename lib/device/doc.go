// Package device models the accelerator side of a collective: dense and sparse
// tensors that live on a numbered device, and streams that execute queued
// work for one device strictly in order.
//
// The package stands in for a real tensor library and a real device runtime.
// Everything runs on the host, but the execution model is the one collective
// backends are written against:
//
//   - Work is enqueued onto a Stream and returns immediately.
//   - A Stream runs its work in FIFO order on its own goroutine.
//   - Completion is observed through an Event recorded on the stream, which
//     can be polled (Query), waited on (Wait) or used to order another
//     stream (WaitEvent).
//
// Tensor Model:
//
//	A Tensor stores its elements as float64 regardless of DType. The DType
//	decides how values are rounded when written through Set or Fill, so that a
//	Float16 tensor behaves like half precision storage. Tensors are not safe
//	for concurrent mutation; a tensor handed to a collective belongs to that
//	collective until its completion event fires.
//
// Sparse Model:
//
//	SparseTensor is a row-sparse coordinate tensor: a sorted list of unique
//	row indices plus a dense values tensor with one row per index. Rows that
//	are not listed are zero.
//
// Usage Example:
//
//	s := device.NewStream(0)
//	defer s.Close()
//
//	t := device.NewTensor(0, device.Float32, 2, 3).Fill(1)
//	s.Launch(func() { t.Fill(2) })
//	ev := s.Record()
//	_ = ev.Wait(ctx)
package device
