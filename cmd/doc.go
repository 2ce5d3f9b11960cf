// Package cmd implements the dccl command-line interface.
//
// The package is organized into several subpackages:
//
//   - serve: Starts a rendezvous server
//   - store: Operations on a rendezvous store (set, get, add, cas, ...) and a perf tool
//   - lock: Locks on top of a rendezvous store (acquire, release)
//   - run: Runs and verifies every collective on in-process ranks
//   - util: Shared utilities for command-line processing and configuration (internal use)
//
// See dccl -help for a list of all commands.
package cmd
