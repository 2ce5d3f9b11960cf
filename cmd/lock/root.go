package lock

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/ValentinKolb/dCCL/cmd/util"
	"github.com/ValentinKolb/dCCL/lib/lockmgr"
	"github.com/ValentinKolb/dCCL/rpc/client"
	"github.com/spf13/cobra"
)

var (
	rpcStore    *client.RPCStore
	rpcLockMgr  lockmgr.ILockManager
	acquireWait time.Duration

	// LockCommands represents the lock command group
	LockCommands = &cobra.Command{
		Use:   "lock",
		Short: "Perform lock operations on a rendezvous store",
		Long: util.WrapString("Locks live as keys in the rendezvous store, so processes sharing a " +
			"store can serialise work such as communicator creation across hosts."),
		PersistentPreRunE: setupLockClient,
		PersistentPostRunE: func(*cobra.Command, []string) error {
			if rpcStore == nil {
				return nil
			}
			return rpcStore.Close()
		},
	}

	acquireCmd = &cobra.Command{
		Use:   "acquire [key]",
		Short: "Acquire a lock",
		Args:  cobra.ExactArgs(1),
		RunE:  runAcquire,
	}

	releaseCmd = &cobra.Command{
		Use:   "release [key] [ownerID]",
		Short: "Release a previously acquired lock",
		Long:  "Release a lock using the key and owner ID. The owner ID is the hex string returned by the acquire command.",
		Args:  cobra.ExactArgs(2),
		RunE:  runRelease,
	}
)

func init() {
	cobra.OnInitialize(util.InitConfig)

	LockCommands.AddCommand(acquireCmd)
	LockCommands.AddCommand(releaseCmd)

	util.SetupRPCClientFlags(LockCommands)

	acquireCmd.Flags().DurationVar(&acquireWait, "wait", 0, "How long to wait for a held lock (0 tries once)")
}

// setupLockClient creates a lock manager on top of the rpc store
func setupLockClient(cmd *cobra.Command, _ []string) error {
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}

	var err error
	rpcStore, err = util.NewRPCStore()
	if err != nil {
		return err
	}
	rpcLockMgr = lockmgr.NewLockManager(rpcStore)
	return nil
}

func runAcquire(cmd *cobra.Command, args []string) error {
	key := args[0]

	var ownerID []byte
	var err error
	if acquireWait > 0 {
		ctx, cancel := context.WithTimeout(cmd.Context(), acquireWait)
		defer cancel()
		ownerID, err = rpcLockMgr.AcquireLockWait(ctx, key)
	} else {
		var acquired bool
		acquired, ownerID, err = rpcLockMgr.AcquireLock(key)
		if err == nil && !acquired {
			fmt.Printf("acquired=false\n")
			return nil
		}
	}
	if err != nil {
		return fmt.Errorf("failed to acquire lock: %v", err)
	}

	fmt.Printf("acquired=true, ownerId=%s\n", hex.EncodeToString(ownerID))
	return nil
}

func runRelease(_ *cobra.Command, args []string) error {
	key := args[0]

	ownerID, err := hex.DecodeString(args[1])
	if err != nil {
		return fmt.Errorf("invalid owner ID format: %v", err)
	}

	released, err := rpcLockMgr.ReleaseLock(key, ownerID)
	if err != nil {
		return fmt.Errorf("failed to release lock: %v", err)
	}

	fmt.Printf("released=%v\n", released)
	return nil
}
