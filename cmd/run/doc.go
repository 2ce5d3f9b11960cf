// Package run implements `dccl run`, which drives every collective of a
// process group on ranks running as goroutines of one process and verifies
// the results. It doubles as a smoke test for a rendezvous server when run
// with --store=rpc.
package run
