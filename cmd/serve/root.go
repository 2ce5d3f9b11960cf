package serve

import (
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	cmdUtil "github.com/ValentinKolb/dCCL/cmd/util"
	"github.com/ValentinKolb/dCCL/rpc/common"
	"github.com/ValentinKolb/dCCL/rpc/server"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	serveCmdConfig = &common.ServerConfig{}
	ServeCmd       = &cobra.Command{
		Use:     "serve",
		Short:   "Start the rendezvous server",
		Long:    `Start a rendezvous server that ranks in other processes use to bootstrap their process groups. The configuration can be set via command line flags or environment variables. The format of the environment variables is DCCL_<flag> (e.g. DCCL_TIMEOUT=15)`,
		PreRunE: processConfig,
		RunE:    run,
	}
)

func init() {
	cobra.OnInitialize(cmdUtil.InitConfig)

	key := "shards"
	ServeCmd.PersistentFlags().String(key, "0", cmdUtil.WrapString("Comma-separated list of shard IDs to serve. Every shard is an independent store, e.g. one per job"))

	key = "timeout"
	ServeCmd.PersistentFlags().Int64(key, 5, cmdUtil.WrapString("Deadline in seconds for reading and writing a single request"))

	key = "endpoint"
	ServeCmd.PersistentFlags().String(key, "0.0.0.0:29500", cmdUtil.WrapString("The address on which the server will listen (e.g. localhost:29500, /tmp/dccl.sock, ...)"))

	key = "workers-per-conn"
	ServeCmd.PersistentFlags().Int(key, 0, cmdUtil.WrapString("Requests handled concurrently per connection (tcp, unix), 0 uses the transport default"))

	key = "metrics"
	ServeCmd.PersistentFlags().Bool(key, false, cmdUtil.WrapString("Expose prometheus metrics under /metrics (http transport only)"))

	key = "log-level"
	ServeCmd.PersistentFlags().String(key, "info", cmdUtil.WrapString("LogLevel is the level at which logs will be output (debug, info, warning, error)"))
}

// processConfig reads the configuration from the command line flags and environment variables and converts them to the server configuration
func processConfig(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	serveCmdConfig.Shards = []common.ServerShard{}
	for _, raw := range strings.Split(viper.GetString("shards"), ",") {
		shardID, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			return fmt.Errorf("invalid shard ID %q: %v", raw, err)
		}
		serveCmdConfig.Shards = append(serveCmdConfig.Shards, common.ServerShard{ShardID: shardID})
	}

	serveCmdConfig.TimeoutSecond = viper.GetInt64("timeout")
	serveCmdConfig.Transport.Endpoint = viper.GetString("endpoint")
	serveCmdConfig.Transport.WorkersPerConn = viper.GetInt("workers-per-conn")
	serveCmdConfig.Metrics = viper.GetBool("metrics")
	serveCmdConfig.LogLevel = viper.GetString("log-level")

	if serveCmdConfig.Metrics && viper.GetString("transport") != "http" {
		return fmt.Errorf("--metrics requires the http transport")
	}

	return common.InitLoggers(serveCmdConfig.LogLevel)
}

// run starts the server and stops it on SIGINT or SIGTERM
func run(_ *cobra.Command, _ []string) error {
	s, err := cmdUtil.GetSerializer()
	if err != nil {
		return err
	}

	t, err := cmdUtil.GetServerTransport()
	if err != nil {
		return err
	}

	serv := server.NewRPCServer(*serveCmdConfig, t, s)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sig)
	go func() {
		if _, ok := <-sig; ok {
			server.Logger.Infof("shutting down")
			_ = serv.Close()
		}
	}()

	return serv.Serve()
}
