package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/ValentinKolb/dCCL/cmd/lock"
	"github.com/ValentinKolb/dCCL/cmd/run"
	"github.com/ValentinKolb/dCCL/cmd/serve"
	"github.com/ValentinKolb/dCCL/cmd/store"
	"github.com/ValentinKolb/dCCL/cmd/util"
	"github.com/ValentinKolb/dCCL/lib/pg"
	"github.com/ValentinKolb/dCCL/rpc/serializer"
	"github.com/spf13/cobra"
)

const (
	Version = "0.3.0"
)

var (
	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "dccl",
		Short: "collective communication for process groups",
		Long: fmt.Sprintf(`dCCL (v%s)

A process group backend written in Go: communicator pooling, work
handles with watchdog and health check, communicator splitting and
the collectives on top, bootstrapped through a rendezvous store.`, Version),
		SilenceUsage: true,
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of dCCL",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("dCCL v%s (backend %s)\n", Version, pg.BackendName)
		},
	}
)

func init() {
	RootCmd.AddCommand(serve.ServeCmd)
	RootCmd.AddCommand(store.StoreCommands)
	RootCmd.AddCommand(lock.LockCommands)
	RootCmd.AddCommand(run.RunCmd)
	RootCmd.AddCommand(versionCmd)

	key := "serializer"
	RootCmd.PersistentFlags().String(key, "binary", util.WrapString(fmt.Sprintf("serializer to use (%s)", strings.Join(serializer.Names(), ", "))))
	key = "transport"
	RootCmd.PersistentFlags().String(key, "tcp", util.WrapString("transport to use (http, tcp, unix)"))
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
