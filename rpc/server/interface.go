package server

import (
	"github.com/ValentinKolb/dCCL/lib/rendezvous"
	"github.com/ValentinKolb/dCCL/rpc/common"
)

// IRPCServerAdapter is the interface for all RPC server adapters
// It is responsible for handling requests and responses
type IRPCServerAdapter interface {
	// Handle runs req against store and returns the response.
	// Errors are reported inside the response, never as a nil response.
	Handle(req *common.Message, store rendezvous.IStore) (resp *common.Message)
}
