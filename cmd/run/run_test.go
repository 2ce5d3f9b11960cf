package run

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/ValentinKolb/dCCL/lib/device"
	"github.com/ValentinKolb/dCCL/lib/pg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(dtype device.DType) Config {
	opts := pg.DefaultOptions(nil)
	opts.Timeout = 10 * time.Second
	opts.WatchdogInterval = 10 * time.Millisecond
	return Config{Ranks: 3, Devices: 2, Iterations: 2, Elements: 8, DType: dtype, Options: opts}
}

func TestRunVerifiesAllCollectives(t *testing.T) {
	for _, dtype := range []device.DType{device.Float32, device.Float16, device.Int64} {
		t.Run(dtype.String(), func(t *testing.T) {
			results, err := Run(context.Background(), testConfig(dtype))
			require.NoError(t, err)
			require.Len(t, results, len(cases))

			for i, r := range results {
				assert.Equal(t, cases[i].name, r.Name)
				assert.Equal(t, int64(3*2), r.Timer.Count(), "one timing per rank and iteration")
				assert.Greater(t, r.Ranks.MinMaxRatio, 0.0)
			}
		})
	}
}

func TestRunSelectedCollectives(t *testing.T) {
	cfg := testConfig(device.Float64)
	cfg.Collectives = []string{"barrier", "allreduce"}
	cfg.Ranks = 1

	results, err := Run(context.Background(), cfg)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "barrier", results[0].Name)

	var out bytes.Buffer
	PrintResults(&out, results)
	assert.Contains(t, out.String(), "allreduce")
	assert.Contains(t, out.String(), "/s", "allreduce moves data and reports a throughput")
}

func TestRunRejectsBadConfig(t *testing.T) {
	cfg := testConfig(device.Float32)
	cfg.Collectives = []string{"alltoall"}
	_, err := Run(context.Background(), cfg)
	assert.ErrorContains(t, err, "unknown collective")

	cfg = testConfig(device.Float32)
	cfg.Ranks = 0
	_, err = Run(context.Background(), cfg)
	assert.Error(t, err)
}

func TestNewStats(t *testing.T) {
	s := NewStats([]float64{2, 4, 4, 4, 5, 5, 7, 9})
	assert.Equal(t, 2.0, s.Min)
	assert.Equal(t, 9.0, s.Max)
	assert.Equal(t, 5.0, s.Mean)
	assert.Equal(t, 2.0, s.StdDeviation)
	assert.InDelta(t, 2.0/9.0, s.MinMaxRatio, 1e-12)

	assert.Equal(t, Stats{}, NewStats(nil))
}
