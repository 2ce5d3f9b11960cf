package pg

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ValentinKolb/dCCL/lib/ccl"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	// DefaultTimeout is the collective timeout used when none is configured
	DefaultTimeout = 30 * time.Minute

	// DefaultWatchdogInterval is the polling interval of the watchdog
	DefaultWatchdogInterval = 100 * time.Millisecond

	// DefaultGroupName namespaces the store keys of a group
	DefaultGroupName = "default_pg"

	// EnvPrefix is the prefix of all environment variables read by OptionsFromEnv
	EnvPrefix = "DCCL"
)

// Options configures a process group. The group copies the options at
// construction, later changes have no effect.
type Options struct {
	// Library is the collective library used to create communicators
	Library ccl.ILibrary

	// Timeout bounds communicator creation, the health check and every collective
	Timeout time.Duration

	// BlockingWait aborts the communicator of a work as soon as Wait times out,
	// instead of leaving that to the watchdog
	BlockingWait bool

	// EnableHealthCheck creates and tests a communicator during construction
	EnableHealthCheck bool

	// WatchdogInterval is the polling interval of the watchdog
	WatchdogInterval time.Duration

	// GroupName namespaces the keys this group writes to the store. Groups
	// sharing a store need distinct names.
	GroupName string

	// SplitFrom derives the communicators of the new group from the ones of
	// this group instead of bootstrapping them through the store
	SplitFrom *ProcessGroup

	// SplitColor selects the child communicator when SplitFrom is set
	SplitColor int
}

// DefaultOptions returns options with default values for library lib.
func DefaultOptions(lib ccl.ILibrary) *Options {
	return &Options{
		Library:          lib,
		Timeout:          DefaultTimeout,
		WatchdogInterval: DefaultWatchdogInterval,
		GroupName:        DefaultGroupName,
	}
}

// OptionsFromEnv returns the default options overridden by environment
// variables and by .env / .env.local in the working directory:
//
//	DCCL_TIMEOUT               collective timeout (duration, e.g. "30s")
//	DCCL_BLOCKING_WAIT         abort on Wait timeout (bool)
//	DCCL_ENABLE_HEALTH_CHECK   health check at construction (bool)
//	DCCL_WATCHDOG_INTERVAL     watchdog polling interval (duration)
//	DCCL_GROUP_NAME            store namespace of the group
func OptionsFromEnv(lib ccl.ILibrary) (*Options, error) {
	// files are optional, existing environment variables take precedence
	_ = godotenv.Load(".env.local")
	_ = godotenv.Load(".env")

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	return optionsFromViper(v, lib)
}

func optionsFromViper(v *viper.Viper, lib ccl.ILibrary) (*Options, error) {
	v.SetDefault("timeout", DefaultTimeout.String())
	v.SetDefault("blocking-wait", false)
	v.SetDefault("enable-health-check", false)
	v.SetDefault("watchdog-interval", DefaultWatchdogInterval.String())
	v.SetDefault("group-name", DefaultGroupName)

	timeout, err := parseDuration(v, "timeout")
	if err != nil {
		return nil, err
	}
	interval, err := parseDuration(v, "watchdog-interval")
	if err != nil {
		return nil, err
	}

	opts := DefaultOptions(lib)
	opts.Timeout = timeout
	opts.WatchdogInterval = interval
	opts.BlockingWait = v.GetBool("blocking-wait")
	opts.EnableHealthCheck = v.GetBool("enable-health-check")
	opts.GroupName = v.GetString("group-name")
	return opts, nil
}

// parseDuration accepts Go durations and plain integers as milliseconds
func parseDuration(v *viper.Viper, key string) (time.Duration, error) {
	raw := v.GetString(key)
	if d, err := time.ParseDuration(raw); err == nil {
		return d, nil
	}
	if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.Duration(ms) * time.Millisecond, nil
	}
	return 0, newError(ErrCConfig, nil, "invalid duration %q for %s_%s", raw, EnvPrefix, strings.ToUpper(strings.ReplaceAll(key, "-", "_")))
}

// validate checks the options and fills in defaults
func (o *Options) validate() error {
	if o.Library == nil {
		return newError(ErrCConfig, nil, "no collective library configured")
	}
	if o.Timeout <= 0 {
		return newError(ErrCConfig, nil, "timeout must be positive, got %s", o.Timeout)
	}
	if o.WatchdogInterval <= 0 {
		o.WatchdogInterval = DefaultWatchdogInterval
	}
	if o.GroupName == "" {
		o.GroupName = DefaultGroupName
	}
	if o.SplitFrom != nil && o.SplitFrom.opts.Library != o.Library {
		return newError(ErrCConfig, nil, "split parent uses library %s, group uses %s", o.SplitFrom.opts.Library.Name(), o.Library.Name())
	}
	return nil
}

func (o *Options) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "library=%s timeout=%s blocking_wait=%v health_check=%v watchdog_interval=%s group=%s",
		o.Library.Name(), o.Timeout, o.BlockingWait, o.EnableHealthCheck, o.WatchdogInterval, o.GroupName)
	if o.SplitFrom != nil {
		fmt.Fprintf(&sb, " split_from=%s split_color=%d", o.SplitFrom.opts.GroupName, o.SplitColor)
	}
	return sb.String()
}
