package run

import (
	"math"
	"time"
)

// Stats summarises per-rank durations of one collective. A MinMaxRatio far
// below one means some ranks waited long for the others.
type Stats struct {
	StdDeviation float64 `json:"std_deviation"`
	Min          float64 `json:"min"`
	Max          float64 `json:"max"`
	Mean         float64 `json:"mean"`
	MinMaxRatio  float64 `json:"min_max_ratio"`
}

// NewStats computes the standard deviation, minimum, and maximum values
// from an array of float64 values.
func NewStats(values []float64) Stats {
	if len(values) == 0 {
		return Stats{}
	}

	lo, hi := values[0], values[0]
	var sum float64
	for _, v := range values {
		sum += v
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	mean := sum / float64(len(values))

	// population standard deviation
	var sumSquaredDiffs float64
	for _, v := range values {
		diff := v - mean
		sumSquaredDiffs += diff * diff
	}
	stdDev := math.Sqrt(sumSquaredDiffs / float64(len(values)))

	minMaxRatio := 1.0
	if hi > 0 {
		minMaxRatio = lo / hi
	}

	return Stats{
		StdDeviation: stdDev,
		Min:          lo,
		Max:          hi,
		Mean:         mean,
		MinMaxRatio:  minMaxRatio,
	}
}

// durationStats converts the durations to seconds before summarising them
func durationStats(durations []time.Duration) Stats {
	values := make([]float64, len(durations))
	for i, d := range durations {
		values[i] = d.Seconds()
	}
	return NewStats(values)
}
