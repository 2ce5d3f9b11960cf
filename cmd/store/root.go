package store

import (
	"github.com/ValentinKolb/dCCL/cmd/util"
	"github.com/ValentinKolb/dCCL/rpc/client"
	"github.com/spf13/cobra"
)

var (
	rpcStore *client.RPCStore

	// StoreCommands represents the store command group
	StoreCommands = &cobra.Command{
		Use:                "store",
		Short:              "Inspect and modify a rendezvous store",
		PersistentPreRunE:  setupStoreClient,
		PersistentPostRunE: closeStoreClient,
	}
)

func init() {
	cobra.OnInitialize(util.InitConfig)

	util.SetupRPCClientFlags(StoreCommands)

	StoreCommands.AddCommand(setCmd)
	StoreCommands.AddCommand(getCmd)
	StoreCommands.AddCommand(addCmd)
	StoreCommands.AddCommand(casCmd)
	StoreCommands.AddCommand(checkCmd)
	StoreCommands.AddCommand(waitCmd)
	StoreCommands.AddCommand(delCmd)
	StoreCommands.AddCommand(numKeysCmd)
	StoreCommands.AddCommand(perfTestCmd)
}

// setupStoreClient initializes the RPC store client
func setupStoreClient(cmd *cobra.Command, _ []string) error {
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}

	var err error
	rpcStore, err = util.NewRPCStore()
	return err
}

func closeStoreClient(*cobra.Command, []string) error {
	if rpcStore == nil {
		return nil
	}
	return rpcStore.Close()
}
