package store

import (
	"context"
	"encoding/csv"
	"fmt"
	"log"
	"math"
	"os"
	"slices"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/ValentinKolb/dCCL/cmd/util"
	"github.com/ValentinKolb/dCCL/rpc/common"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	perfTestCmd = &cobra.Command{
		Use:     "perf",
		Short:   "Performance testing tool for rendezvous servers",
		Long:    "Runs the store operations used during process group bootstrap against a rendezvous server and reports their throughput",
		RunE:    runPerf,
		PreRunE: processPerfConfig,
	}
	perfKeyPrefix  = "__perf"
	perfNumThreads = 10
	perfKeySpread  = 100
	perfSkip       = make([]string, 0)
)

// perfTest is one benchmark, op runs a single operation on key
type perfTest struct {
	name    string
	prepare bool
	op      func(ctx context.Context, key string, counter int) error
}

var perfTests = []perfTest{
	{name: "set", op: func(_ context.Context, key string, _ int) error {
		return rpcStore.Set(key, []byte("test"))
	}},
	{name: "get", prepare: true, op: func(ctx context.Context, key string, _ int) error {
		_, err := rpcStore.Get(ctx, key)
		return err
	}},
	{name: "add", op: func(_ context.Context, key string, _ int) error {
		_, err := rpcStore.Add(key, 1)
		return err
	}},
	{name: "cas", op: func(_ context.Context, key string, counter int) error {
		_, err := rpcStore.CompareSet(key, nil, []byte(strconv.Itoa(counter)))
		return err
	}},
	{name: "check", prepare: true, op: func(_ context.Context, key string, _ int) error {
		_, err := rpcStore.Check(key)
		return err
	}},
	{name: "mixed", prepare: true, op: func(ctx context.Context, key string, counter int) error {
		var err error
		switch counter % 4 {
		case 0:
			err = rpcStore.Set(key, []byte("test"))
		case 1:
			_, err = rpcStore.Get(ctx, key)
		case 2:
			_, err = rpcStore.Check(key)
		case 3:
			_, err = rpcStore.NumKeys()
		}
		return err
	}},
}

func init() {
	key := "skip"
	perfTestCmd.Flags().String(key, "", util.WrapString("Benchmarks to skip (comma separated - e.g. set,get)"))
	key = "threads"
	perfTestCmd.Flags().Int(key, 10, util.WrapString("Number of threads to use for the benchmark"))
	key = "keys"
	perfTestCmd.Flags().Int(key, 100, util.WrapString("How many different keys to use for the tests"))
	key = "csv"
	perfTestCmd.Flags().String(key, "", util.WrapString("Optional path to save benchmark results as CSV"))
}

func processPerfConfig(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	perfKeySpread = max(viper.GetInt("keys"), 1)
	perfNumThreads = max(viper.GetInt("threads"), 1)
	perfSkip = strings.Split(viper.GetString("skip"), ",")

	return nil
}

func runPerf(_ *cobra.Command, _ []string) error {
	fmt.Println("Performance testing tool for rendezvous servers")

	fmt.Println()
	fmt.Println("Configuration:")
	fmt.Println(util.GetClientConfig().String())
	fmt.Printf("Threads: %d\n", perfNumThreads)
	fmt.Println()

	fmt.Println("starting tests...")

	results := make(map[string]testing.BenchmarkResult)
	for _, test := range perfTests {
		result := testing.Benchmark(func(b *testing.B) {
			if slices.Contains(perfSkip, test.name) {
				return
			}
			runPerfTest(b, test)
		})
		results[test.name] = result
		printResult(test.name, result)
	}

	if csvPath := viper.GetString("csv"); csvPath != "" {
		fmt.Printf("\nExporting results to CSV: %s\n", csvPath)
		if err := writeResultsToCSV(csvPath, results, util.GetClientConfig()); err != nil {
			return fmt.Errorf("failed to export results to CSV: %v", err)
		}
		fmt.Println("Export complete")
	}

	return nil
}

func runPerfTest(b *testing.B, test perfTest) {
	getKey, iter := getKeys(test.name)

	if test.prepare {
		iter(func(k string) {
			if err := rpcStore.Set(k, []byte("test")); err != nil {
				log.Printf("(%s) - error setting key: %v\n", test.name, err)
			}
		})
	}

	b.Cleanup(func() {
		iter(func(k string) {
			if _, err := rpcStore.Delete(k); err != nil {
				log.Printf("(%s) - error deleting key: %v\n", test.name, err)
			}
		})
	})

	b.SetParallelism(perfNumThreads)
	b.ResetTimer()

	b.RunParallel(func(pb *testing.PB) {
		ctx := context.Background()
		counter := 0
		for pb.Next() {
			if err := test.op(ctx, getKey(counter), counter); err != nil {
				log.Printf("(%s) - error: %v\n", test.name, err)
			}
			counter++
		}
	})
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

// creates an array of test keys and functions to work with them
func getKeys(prefix string) (func(int) string, func(func(string))) {
	keys := make([]string, perfKeySpread)
	for i := 0; i < perfKeySpread; i++ {
		keys[i] = fmt.Sprintf("%s/%s-%d", perfKeyPrefix, prefix, i)
	}

	getKey := func(i int) string {
		return keys[i%perfKeySpread]
	}

	iterateKeys := func(fn func(string)) {
		for _, key := range keys {
			fn(key)
		}
	}

	return getKey, iterateKeys
}

// printResult prints the result of a benchmark test in a formatted way
func printResult(test string, result testing.BenchmarkResult) {
	if result.NsPerOp() == 0 {
		fmt.Printf("%-20sskipped\n", test)
		return
	}

	nsPerOp := math.Max(float64(result.NsPerOp()), 1) // prevent division by zero
	opsPerSec := 1.0 / (nsPerOp / 1e9)

	fmt.Printf("%-20s%.0fns/op (%s/op)\t%.0f ops/sec\n", test, nsPerOp, time.Duration(nsPerOp), opsPerSec)
}

// writeResultsToCSV writes benchmark results to a CSV file
func writeResultsToCSV(csvPath string, results map[string]testing.BenchmarkResult, config *common.ClientConfig) error {
	file, err := os.Create(csvPath)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %v", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{
		"Test", "NsPerOp", "DurationPerOp", "OpsPerSec", "Skipped",
		"Endpoints", "TimeoutSec", "RetryCount", "ConnectionsPerEndpoint",
		"ShardID", "Serializer", "Transport",
		"Threads", "Keys Count",
	}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %v", err)
	}

	for test, result := range results {
		var nsPerOp, opsPerSec float64
		skipped := "true"

		if result.NsPerOp() != 0 {
			skipped = "false"
			nsPerOp = math.Max(float64(result.NsPerOp()), 1)
			opsPerSec = 1.0 / (nsPerOp / 1e9)
		}

		row := []string{
			test,
			fmt.Sprintf("%.0f", nsPerOp),
			time.Duration(nsPerOp).String(),
			fmt.Sprintf("%.0f", opsPerSec),
			skipped,
			strings.Join(config.Transport.Endpoints, ";"),
			strconv.Itoa(config.TimeoutSecond),
			strconv.Itoa(config.Transport.RetryCount),
			strconv.Itoa(config.Transport.ConnectionsPerEndpoint),
			strconv.FormatUint(util.GetShardID(), 10),
			viper.GetString("serializer"),
			viper.GetString("transport"),
			strconv.Itoa(perfNumThreads),
			strconv.Itoa(perfKeySpread),
		}

		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write row for test %s: %v", test, err)
		}
	}

	return nil
}
