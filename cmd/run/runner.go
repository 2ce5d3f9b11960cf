package run

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/ValentinKolb/dCCL/lib/ccl/loopback"
	"github.com/ValentinKolb/dCCL/lib/device"
	"github.com/ValentinKolb/dCCL/lib/pg"
	"github.com/ValentinKolb/dCCL/lib/rendezvous"
	"github.com/ValentinKolb/dCCL/lib/rendezvous/memstore"
	"github.com/dustin/go-humanize"
	"github.com/lni/dragonboat/v4/logger"
	gometrics "github.com/rcrowley/go-metrics"
	"golang.org/x/sync/errgroup"
)

var plog = logger.GetLogger("cli")

// Config describes one run
type Config struct {
	Ranks      int
	Devices    int
	Iterations int
	Elements   int
	DType      device.DType
	// Collectives to run, all if empty
	Collectives []string

	// Options is the template for the groups of all ranks, Library is
	// replaced by the loopback library of the run
	Options *pg.Options

	// Store is shared by all ranks, a fresh memstore if nil
	Store rendezvous.IStore
}

// Result holds the measurements of one collective
type Result struct {
	Name  string
	Timer gometrics.Timer
	// Bytes one participant contributes per call
	Bytes int
	// Ranks holds the total time of every rank
	Ranks Stats
}

// Run creates one process group per rank in this process and runs every
// selected collective Iterations times on all ranks. Each result is checked
// against the value the collective must produce.
func Run(ctx context.Context, cfg Config) ([]Result, error) {
	if cfg.Ranks < 1 || cfg.Devices < 1 || cfg.Iterations < 1 || cfg.Elements < 1 {
		return nil, fmt.Errorf("ranks, devices, iterations and elements must be positive")
	}
	selected := cfg.Collectives
	if len(selected) == 0 {
		selected = caseNames()
	}
	runCases := make([]collectiveCase, len(selected))
	for i, name := range selected {
		c, ok := findCase(name)
		if !ok {
			return nil, fmt.Errorf("unknown collective %q, known: %v", name, caseNames())
		}
		runCases[i] = c
	}

	lib := loopback.NewLibrary(loopback.WithDevices(cfg.Devices))
	store := cfg.Store
	if store == nil {
		store = memstore.New()
	}

	groups, err := newGroups(ctx, lib, store, cfg)
	defer func() {
		for _, g := range groups {
			if g != nil {
				g.Shutdown()
			}
		}
	}()
	if err != nil {
		return nil, err
	}

	registry := gometrics.NewRegistry()
	results := make([]Result, 0, len(runCases))
	for _, c := range runCases {
		res, err := runCase(ctx, c, groups, cfg, registry)
		if err != nil {
			return results, err
		}
		results = append(results, res)
	}
	return results, nil
}

func newGroups(ctx context.Context, lib *loopback.Library, store rendezvous.IStore, cfg Config) ([]*pg.ProcessGroup, error) {
	groups := make([]*pg.ProcessGroup, cfg.Ranks)
	eg, _ := errgroup.WithContext(ctx)
	for rank := range groups {
		eg.Go(func() error {
			opts := pg.DefaultOptions(lib)
			if cfg.Options != nil {
				opts = new(pg.Options)
				*opts = *cfg.Options
				opts.Library = lib
			}
			g, err := pg.NewProcessGroup(store, rank, cfg.Ranks, opts)
			groups[rank] = g
			return err
		})
	}
	return groups, eg.Wait()
}

func runCase(ctx context.Context, c collectiveCase, groups []*pg.ProcessGroup, cfg Config, registry gometrics.Registry) (Result, error) {
	timer := gometrics.GetOrRegisterTimer(c.name, registry)
	perRank := make([]time.Duration, len(groups))

	for it := 0; it < cfg.Iterations; it++ {
		eg, _ := errgroup.WithContext(ctx)
		for rank, g := range groups {
			env := caseEnv{rank: rank, size: cfg.Ranks, devices: cfg.Devices, elements: cfg.Elements, dtype: cfg.DType}
			eg.Go(func() error {
				start := time.Now()
				work, verify, err := c.launch(g, env)
				if err != nil {
					return fmt.Errorf("%s on rank %d: %w", c.name, rank, err)
				}
				if err := work.Wait(0); err != nil {
					return fmt.Errorf("%s on rank %d: %w", c.name, rank, err)
				}
				elapsed := time.Since(start)
				timer.Update(elapsed)
				perRank[rank] += elapsed

				if err := verify(); err != nil {
					return fmt.Errorf("%s on rank %d, iteration %d: wrong result: %w", c.name, rank, it, err)
				}
				return nil
			})
		}
		if err := eg.Wait(); err != nil {
			return Result{}, err
		}
	}

	plog.Debugf("%s: %d calls verified", c.name, timer.Count())
	return Result{
		Name:  c.name,
		Timer: timer,
		Bytes: c.bytes(caseEnv{size: cfg.Ranks, devices: cfg.Devices, elements: cfg.Elements, dtype: cfg.DType}),
		Ranks: durationStats(perRank),
	}, nil
}

// PrintResults writes one line per collective
func PrintResults(w io.Writer, results []Result) {
	fmt.Fprintf(w, "%-22s%8s%12s%12s%12s%14s%10s\n", "collective", "calls", "mean", "p50", "p99", "throughput", "balance")
	for _, r := range results {
		mean := time.Duration(r.Timer.Mean())
		throughput := "-"
		if r.Bytes > 0 && mean > 0 {
			perSecond := float64(r.Bytes) / mean.Seconds()
			throughput = humanize.IBytes(uint64(perSecond)) + "/s"
		}
		fmt.Fprintf(w, "%-22s%8s%12s%12s%12s%14s%10.2f\n",
			r.Name,
			humanize.Comma(r.Timer.Count()),
			mean.Round(time.Microsecond),
			time.Duration(r.Timer.Percentile(0.5)).Round(time.Microsecond),
			time.Duration(r.Timer.Percentile(0.99)).Round(time.Microsecond),
			throughput,
			r.Ranks.MinMaxRatio,
		)
	}
}
