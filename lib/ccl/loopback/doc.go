// Package loopback implements ccl.ILibrary inside a single process. Every
// rank of a communicator is a goroutine that holds a communicator created by
// the same Library value; the ranks meet in a shared clique instead of on a
// network.
//
// Matching:
//
//	Each communicator numbers its calls on the host. The n-th call of every
//	rank meets in the same slot of the clique. A slot completes once all
//	ranks have deposited their contribution; each rank then computes its own
//	output from the deposited inputs on its stream. Ranks that disagree on the
//	kind of call, the element count or the root fail the whole slot with
//	ccl.InvalidUsage.
//
// Faults:
//
//	A FaultHook installed with WithFaultHook or SetFaultHook is consulted for
//	every operation. If it returns an error the operation still takes part in
//	the exchange, so peers are not blocked, but the calling rank records the
//	error as its asynchronous error and leaves its output untouched.
//	Abort on any rank fails all pending and future operations of the clique.
package loopback
