// Package util holds the flag, configuration and connection helpers shared by
// the dccl commands.
package util
