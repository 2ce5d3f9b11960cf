// Package ccl defines the capability surface of a vendor collective
// communication library as the process group consumes it.
//
// A library hands out opaque unique ids, creates communicators from such an
// id (a collective call that blocks until every rank of the communicator has
// joined) and splits existing communicators by color. A communicator issues
// collective operations onto a device stream and returns immediately.
// Failures of enqueued work are not returned to the caller, they are reported
// later through GetAsyncError.
//
// Everything in this package is an interface or a plain value type. The
// loopback sub-package provides an in-process implementation in which the
// ranks of a communicator are goroutines of the same process.
package ccl
