package run

import (
	"fmt"
	"os"
	"strings"

	"github.com/ValentinKolb/dCCL/cmd/util"
	"github.com/ValentinKolb/dCCL/lib/device"
	"github.com/ValentinKolb/dCCL/lib/pg"
	"github.com/ValentinKolb/dCCL/lib/rendezvous"
	"github.com/ValentinKolb/dCCL/rpc/common"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	RunCmd = &cobra.Command{
		Use:   "run",
		Short: "Run and verify every collective on in-process ranks",
		Long: `Creates one process group per rank inside this process, all backed by the loopback library, and runs every collective on them. Each result is verified and the latency of every collective is reported.

Process group options are read from DCCL_TIMEOUT, DCCL_BLOCKING_WAIT, DCCL_ENABLE_HEALTH_CHECK, DCCL_WATCHDOG_INTERVAL and DCCL_GROUP_NAME, flags take precedence. With --store=rpc the ranks bootstrap through a rendezvous server (see dccl serve).`,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := util.BindCommandFlags(cmd); err != nil {
				return err
			}
			return common.InitLoggers(viper.GetString("log-level"))
		},
		RunE: runCmd,
	}
)

func init() {
	cobra.OnInitialize(util.InitConfig)

	util.SetupRPCClientFlags(RunCmd)

	flags := RunCmd.Flags()
	flags.Int("ranks", 2, util.WrapString("Number of ranks, every rank runs in its own goroutine"))
	flags.Int("devices", 2, util.WrapString("Devices per rank"))
	flags.Int("iterations", 10, util.WrapString("How often every collective runs"))
	flags.Int("elements", 1024, util.WrapString("Elements per tensor"))
	flags.String("dtype", device.Float32.String(), util.WrapString("Element type (float32, float64, float16, int32, int64)"))
	flags.String("collectives", "", util.WrapString("Comma-separated collectives to run, all if empty: "+strings.Join(caseNames(), ", ")))
	flags.Duration("op-timeout", 0, util.WrapString("Collective timeout, overrides DCCL_TIMEOUT"))
	flags.Bool("blocking-wait", false, util.WrapString("Abort the communicator when a wait times out, overrides DCCL_BLOCKING_WAIT"))
	flags.Bool("health-check", false, util.WrapString("Run the health check when creating the groups, overrides DCCL_ENABLE_HEALTH_CHECK"))
	flags.String("group-name", "", util.WrapString("Store namespace of the groups, overrides DCCL_GROUP_NAME"))
	flags.String("store", "memory", util.WrapString("Rendezvous store: memory or rpc"))
	flags.String("log-level", "warning", util.WrapString("Log level (debug, info, warning, error)"))
}

func runCmd(cmd *cobra.Command, _ []string) error {
	dtype, err := device.ParseDType(viper.GetString("dtype"))
	if err != nil {
		return err
	}

	opts, err := pg.OptionsFromEnv(nil)
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	if flags.Changed("op-timeout") {
		opts.Timeout = viper.GetDuration("op-timeout")
	}
	if flags.Changed("blocking-wait") {
		opts.BlockingWait = viper.GetBool("blocking-wait")
	}
	if flags.Changed("health-check") {
		opts.EnableHealthCheck = viper.GetBool("health-check")
	}
	if name := viper.GetString("group-name"); name != "" {
		opts.GroupName = name
	}

	var store rendezvous.IStore
	switch viper.GetString("store") {
	case "memory":
	case "rpc":
		rpcStore, err := util.NewRPCStore()
		if err != nil {
			return err
		}
		defer rpcStore.Close()
		store = rpcStore
	default:
		return fmt.Errorf("invalid store %s", viper.GetString("store"))
	}

	var collectives []string
	if raw := viper.GetString("collectives"); raw != "" {
		for _, name := range strings.Split(raw, ",") {
			collectives = append(collectives, strings.TrimSpace(name))
		}
	}

	cfg := Config{
		Ranks:       viper.GetInt("ranks"),
		Devices:     viper.GetInt("devices"),
		Iterations:  viper.GetInt("iterations"),
		Elements:    viper.GetInt("elements"),
		DType:       dtype,
		Collectives: collectives,
		Options:     opts,
		Store:       store,
	}

	fmt.Printf("ranks=%d devices=%d iterations=%d elements=%d dtype=%s\n", cfg.Ranks, cfg.Devices, cfg.Iterations, cfg.Elements, cfg.DType)
	fmt.Printf("options: timeout=%s blocking_wait=%v health_check=%v group=%s\n\n", opts.Timeout, opts.BlockingWait, opts.EnableHealthCheck, opts.GroupName)

	results, err := Run(cmd.Context(), cfg)
	PrintResults(os.Stdout, results)
	if err != nil {
		return err
	}
	fmt.Println("\nall results verified")
	return nil
}
